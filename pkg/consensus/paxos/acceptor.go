package paxos

import (
	"context"
	"errors"
	"sync"

	"github.com/cuemby/doughnut/pkg/address"
	"github.com/cuemby/doughnut/pkg/dnerr"
	"github.com/cuemby/doughnut/pkg/local"
	"github.com/cuemby/doughnut/pkg/silo"
)

// Acceptor is the Paxos acceptor role, implemented by a local
// silo-backed acceptor for this node's own addresses and by a Dock
// connection for a remote node's.
type Acceptor interface {
	// Promise handles phase 1b: if n is higher than any promise this
	// acceptor has made for addr, it records the promise (adopting
	// quorum as the address's quorum if none is recorded yet) and
	// returns the highest-numbered value it has already accepted (if
	// any) alongside the current quorum. promised is false if n is stale.
	Promise(ctx context.Context, quorum Quorum, addr address.Address, n Number) (promised bool, acceptedN Number, acceptedV *Value, currentQuorum Quorum, err error)

	// Accept handles phase 2b: if n is still the highest promise this
	// acceptor has made, it accepts v and returns true.
	Accept(ctx context.Context, quorum Quorum, addr address.Address, n Number, v Value) (accepted bool, currentN Number, err error)

	// FetchState returns addr's current quorum and, if a value has been
	// accepted, that value along with the proposal number it was accepted
	// under — the fetch_paxos RPC. A proposer polling several acceptors
	// compares acceptedN across them the same way Promise's responses are
	// compared, so a stale acceptor that answers first doesn't shadow a
	// more recent value held by another.
	FetchState(ctx context.Context, addr address.Address) (quorum Quorum, value *Value, acceptedN Number, err error)
}

// StateAddress derives the Silo key under which addr's Paxos acceptor
// state is stored, kept disjoint from addr itself by flipping into the
// unused high bit pattern of the flag byte space reserved for internal
// bookkeeping.
func StateAddress(addr address.Address) address.Address {
	derived := addr
	derived[address.Size-1] ^= 0x80
	return derived
}

// LocalAcceptor implements Acceptor over a Silo, used both directly by
// this node's Paxos proposer (for addresses it also acts as an acceptor
// for) and exposed over Dock for remote proposers. Every block value it
// accepts is applied to peer at once, so the address's actual block
// content reflects the accepted value, not just the Paxos bookkeeping;
// it does not wait to learn whether a majority accepted the value too.
type LocalAcceptor struct {
	silo silo.Silo
	peer *local.Peer
	mu   sync.Mutex
}

// NewLocalAcceptor creates an acceptor persisting its Paxos state in s
// and applying decided values to peer.
func NewLocalAcceptor(s silo.Silo, peer *local.Peer) *LocalAcceptor {
	return &LocalAcceptor{silo: s, peer: peer}
}

func (a *LocalAcceptor) load(ctx context.Context, addr address.Address) (State, bool, error) {
	data, err := a.silo.Get(ctx, StateAddress(addr))
	if err != nil {
		if errors.Is(err, dnerr.ErrMissingBlock) {
			return State{}, false, nil
		}
		return State{}, false, err
	}
	st, err := decodeState(data)
	if err != nil {
		return State{}, false, err
	}
	return st, true, nil
}

func (a *LocalAcceptor) save(ctx context.Context, addr address.Address, st State) error {
	data, err := encodeState(st)
	if err != nil {
		return err
	}
	_, err = a.silo.Set(ctx, StateAddress(addr), data, silo.ModeUpsert)
	return err
}

func (a *LocalAcceptor) Promise(ctx context.Context, quorum Quorum, addr address.Address, n Number) (bool, Number, *Value, Quorum, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, _, err := a.load(ctx, addr)
	if err != nil {
		return false, Number{}, nil, Quorum{}, err
	}
	if st.HasPromised && !st.Promised.Less(n) {
		return false, st.Promised, nil, st.Quorum, nil
	}
	if len(st.Quorum.Members) == 0 {
		st.Quorum = quorum
	}

	st.HasPromised = true
	st.Promised = n
	var accepted *Value
	if st.HasAccept {
		v := st.Accepted
		accepted = &v
	}
	current := st.Quorum
	if err := a.save(ctx, addr, st); err != nil {
		return false, Number{}, nil, Quorum{}, err
	}
	return true, st.AcceptedN, accepted, current, nil
}

func (a *LocalAcceptor) Accept(ctx context.Context, quorum Quorum, addr address.Address, n Number, v Value) (bool, Number, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, _, err := a.load(ctx, addr)
	if err != nil {
		return false, Number{}, err
	}
	if st.HasPromised && n.Less(st.Promised) {
		return false, st.Promised, nil
	}
	if len(st.Quorum.Members) == 0 {
		st.Quorum = quorum
	}

	st.HasPromised = true
	st.Promised = n
	st.AcceptedN = n
	st.Accepted = v
	st.HasAccept = true
	if v.Kind == ValueQuorum {
		st.Quorum = v.Reconfig
	}

	if err := a.save(ctx, addr, st); err != nil {
		return false, Number{}, err
	}

	if a.peer != nil && v.Kind == ValueBlock {
		if err := a.apply(ctx, addr, v); err != nil {
			return false, Number{}, err
		}
	}
	return true, n, nil
}

// apply persists an accepted block decree into the acceptor's local
// peer, so a plain fetch RPC against this node sees the latest accepted
// content without repeating a Paxos round. A validation failure here
// (e.g. a stale or malformed proposed value) is surfaced to the
// proposer as an Accept failure rather than left half-applied.
func (a *LocalAcceptor) apply(ctx context.Context, addr address.Address, v Value) error {
	if v.Block != nil {
		if err := a.peer.Store(ctx, v.Block, silo.ModeUpsert); err != nil {
			var conflict *dnerr.ConflictError
			if errors.As(err, &conflict) {
				// the locally-stored copy is already at least as new;
				// nothing to do
				return nil
			}
			return err
		}
		return nil
	}
	if v.RemoveSig != nil {
		if err := a.peer.Remove(ctx, addr, *v.RemoveSig); err != nil && !errors.Is(err, dnerr.ErrMissingBlock) {
			return err
		}
	}
	return nil
}

func (a *LocalAcceptor) FetchState(ctx context.Context, addr address.Address) (Quorum, *Value, Number, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok, err := a.load(ctx, addr)
	if err != nil {
		return Quorum{}, nil, Number{}, err
	}
	if !ok || !st.HasAccept {
		return st.Quorum, nil, Number{}, nil
	}
	v := st.Accepted
	return st.Quorum, &v, st.AcceptedN, nil
}
