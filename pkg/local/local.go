// Package local implements the storage node's own block store: a Peer
// backed by a Silo, responsible for validating a block before it is
// ever persisted or removed. Paxos acceptor state shares the same Silo
// under addresses derived from the block's own address.
package local

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/doughnut/pkg/address"
	"github.com/cuemby/doughnut/pkg/block"
	"github.com/cuemby/doughnut/pkg/dnerr"
	"github.com/cuemby/doughnut/pkg/events"
	"github.com/cuemby/doughnut/pkg/silo"
)

// Peer is the local storage endpoint: the thing both the facade and a
// remote caller (via Dock) ultimately talk to for store/fetch/remove.
type Peer struct {
	silo   silo.Silo
	model  block.Model
	broker *events.Broker
}

// New creates a Peer over s, validating blocks against model and
// publishing store/remove events on broker (which may be nil).
func New(s silo.Silo, model block.Model, broker *events.Broker) *Peer {
	return &Peer{silo: s, model: model, broker: broker}
}

// Store validates b and persists it according to mode.
//
//  1. Validate b's own internal consistency.
//  2. If a previous version exists at b's address, check it permits
//     replacement by b; a rejection surfaces as a ConflictError
//     carrying the current block so a resolver can retry.
//  3. Persist via the Silo with the requested insert/update policy.
//  4. Emit EventStore for observers.
func (p *Peer) Store(ctx context.Context, b block.Block, mode silo.Mode) error {
	if err := b.Validate(p.model, true); err != nil {
		return dnerr.NewValidation(err.Error())
	}

	existing, err := p.silo.Get(ctx, b.Address())
	switch {
	case err == nil:
		prev, decErr := block.DecodeBlock(existing)
		if decErr != nil {
			return fmt.Errorf("local: decode existing block: %w", decErr)
		}
		if err := prev.ValidateReplace(p.model, b); err != nil {
			return &dnerr.ConflictError{Current: prev}
		}
	case errors.Is(err, dnerr.ErrMissingBlock):
		// fresh address, nothing to reconcile against
	default:
		return fmt.Errorf("local: read existing block: %w", err)
	}

	wire, err := block.EncodeBlock(b)
	if err != nil {
		return fmt.Errorf("local: encode block: %w", err)
	}
	if _, err := p.silo.Set(ctx, b.Address(), wire, mode); err != nil {
		return err
	}

	p.emit(events.EventStore, b.Address())
	return nil
}

// Fetch returns the block at addr. If localVersion is non-nil and
// matches the stored block's version, Fetch returns (nil, nil) since
// the caller already has the latest copy. Immutable and name-based
// variants have no version and are always returned in full.
func (p *Peer) Fetch(ctx context.Context, addr address.Address, localVersion *uint64) (block.Block, error) {
	data, err := p.silo.Get(ctx, addr)
	if err != nil {
		return nil, err
	}

	b, err := block.DecodeBlock(data)
	if err != nil {
		return nil, fmt.Errorf("local: decode block: %w", err)
	}

	if localVersion != nil {
		if v, ok := block.Version(b); ok && v == *localVersion {
			return nil, nil
		}
	}
	return b, nil
}

// Remove verifies sig against the stored block and erases it.
func (p *Peer) Remove(ctx context.Context, addr address.Address, sig block.RemoveSignature) error {
	data, err := p.silo.Get(ctx, addr)
	if err != nil {
		return err
	}

	b, err := block.DecodeBlock(data)
	if err != nil {
		return fmt.Errorf("local: decode block: %w", err)
	}
	if err := b.ValidateRemove(p.model, sig); err != nil {
		return dnerr.NewValidation(err.Error())
	}
	if err := p.silo.Erase(ctx, addr); err != nil {
		return err
	}

	p.emit(events.EventRemove, addr)
	return nil
}

func (p *Peer) emit(t events.EventType, addr address.Address) {
	if p.broker == nil {
		return
	}
	p.broker.Publish(&events.Event{Type: t, Message: addr.String()})
}
