// Package silo implements the content-addressed block store: the
// bottom layer of the Doughnut stack, mapping an address to raw bytes
// with no knowledge of block structure or consensus.
package silo

import (
	"context"

	"github.com/cuemby/doughnut/pkg/address"
	"github.com/cuemby/doughnut/pkg/metrics"
)

// Mode constrains how Set treats an existing value at the key.
type Mode int

const (
	// ModeUpsert succeeds whether or not the key already exists.
	ModeUpsert Mode = iota
	// ModeInsertOnly fails with dnerr.ErrCollision if the key already exists.
	ModeInsertOnly
	// ModeUpdateOnly fails with dnerr.ErrMissingBlock if the key is absent.
	ModeUpdateOnly
)

// Status is the tri-state answer to a presence query, distinct from a
// boolean because some backends can report "unknown" without paying
// the cost of a full read (e.g. a remote peer that timed out).
type Status int

const (
	StatusUnknown Status = iota
	StatusExists
	StatusMissing
)

// Silo maps Address to bytes. Every method is safe for concurrent use.
// Stats satisfies metrics.SiloSource so a Silo can be handed directly
// to metrics.NewCollector.
type Silo interface {
	// Get returns the payload at k, or dnerr.ErrMissingBlock if absent.
	Get(ctx context.Context, k address.Address) ([]byte, error)

	// Set writes v at k according to mode. It returns the signed change
	// in total byte usage the write caused (negative if v is shorter
	// than what it replaced).
	Set(ctx context.Context, k address.Address, v []byte, mode Mode) (delta int64, err error)

	// Erase removes k, or fails with dnerr.ErrMissingBlock if absent.
	Erase(ctx context.Context, k address.Address) error

	// List enumerates every key currently stored.
	List(ctx context.Context) ([]address.Address, error)

	// Status reports whether k is known to exist, known to be absent,
	// or unknown (a backend may return StatusUnknown rather than block).
	Status(ctx context.Context, k address.Address) Status

	// Stats reports current occupancy for metrics and capacity checks.
	Stats() metrics.SiloStats
}
