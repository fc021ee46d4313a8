package doughnut

import (
	"context"
	"fmt"

	"github.com/cuemby/doughnut/pkg/address"
	"github.com/cuemby/doughnut/pkg/block"
	"github.com/cuemby/doughnut/pkg/consensus"
	"github.com/cuemby/doughnut/pkg/silo"
)

// Insert hands a freshly minted block to the consensus stack in
// insert-only mode. The stack acknowledges once the write is journaled,
// so a clash with a block already at the address is not returned by
// Insert; it is met only when the journal delivers the write.
func (d *Doughnut) Insert(ctx context.Context, b block.Block, resolver consensus.Resolver) error {
	if err := d.consensus.Store(ctx, b, silo.ModeInsertOnly, resolver); err != nil {
		return fmt.Errorf("doughnut: insert %s: %w", b.Address().String(), err)
	}
	return nil
}

// Update commits a new version of an existing mutable block (OKB, ACB,
// GB). A resolver, if non-nil, reconciles a lost race against a
// concurrent updater rather than surfacing the conflict directly.
func (d *Doughnut) Update(ctx context.Context, b block.Block, resolver consensus.Resolver) error {
	if err := d.consensus.Store(ctx, b, silo.ModeUpdateOnly, resolver); err != nil {
		return fmt.Errorf("doughnut: update %s: %w", b.Address().String(), err)
	}
	return nil
}

// Fetch retrieves the block at addr. If localVersion is non-nil and
// already matches the version currently decided, Fetch returns a nil
// block and nil error — the caller's cached copy is still current.
func (d *Doughnut) Fetch(ctx context.Context, addr address.Address, localVersion *uint64) (block.Block, error) {
	b, err := d.consensus.Fetch(ctx, addr, localVersion)
	if err != nil {
		return nil, fmt.Errorf("doughnut: fetch %s: %w", addr.String(), err)
	}
	return b, nil
}

// Remove commits a tombstone for addr, authorized by sig.
func (d *Doughnut) Remove(ctx context.Context, addr address.Address, sig block.RemoveSignature) error {
	if err := d.consensus.Remove(ctx, addr, sig); err != nil {
		return fmt.Errorf("doughnut: remove %s: %w", addr.String(), err)
	}
	return nil
}

// SignRemoval produces the RemoveSignature for b under this node's own
// key, the common case of removing a block this node owns or was
// granted removal rights over.
func (d *Doughnut) SignRemoval(b block.Block) (block.RemoveSignature, error) {
	sig, err := b.SignRemove(d.priv)
	if err != nil {
		return block.RemoveSignature{}, fmt.Errorf("doughnut: sign removal: %w", err)
	}
	return sig, nil
}
