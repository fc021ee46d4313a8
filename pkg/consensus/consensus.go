// Package consensus defines the contract shared by the three consensus
// layers (paxos, async, cache) so they compose: cache wraps async, async
// wraps paxos, and paxos itself satisfies the same interface by talking
// to a quorum of local.Peer-shaped acceptors over Dock.
package consensus

import (
	"context"

	"github.com/cuemby/doughnut/pkg/address"
	"github.com/cuemby/doughnut/pkg/block"
	"github.com/cuemby/doughnut/pkg/silo"
)

// Resolver reconciles a conflicting write: given the block that lost
// (current, already decided) and the block the caller tried to commit
// (attempted), it produces a new block to retry with, typically by
// cloning current, reapplying the caller's intent, and resealing.
type Resolver func(current, attempted block.Block) (block.Block, error)

// Consensus is implemented by Paxos, and by each decorator layered in
// front of it (Async, Cache), so callers (the facade) are indifferent to
// how many layers sit between them and the acceptors.
type Consensus interface {
	// Store commits b at its own address under mode. If a conflicting
	// value was already chosen and resolver is non-nil, Store retries
	// with the resolver's output; a nil resolver surfaces the conflict.
	Store(ctx context.Context, b block.Block, mode silo.Mode, resolver Resolver) error

	// Fetch returns the block at addr, or nil if localVersion matches
	// the version already decided.
	Fetch(ctx context.Context, addr address.Address, localVersion *uint64) (block.Block, error)

	// Remove commits a tombstone for addr authorized by sig.
	Remove(ctx context.Context, addr address.Address, sig block.RemoveSignature) error
}
