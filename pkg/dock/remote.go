package dock

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/doughnut/pkg/address"
	"github.com/cuemby/doughnut/pkg/consensus/paxos"
	"github.com/cuemby/doughnut/pkg/log"
	"github.com/cuemby/doughnut/pkg/overlay"
)

// Remote wraps a Connection to one peer and transparently redials on
// the next call after the underlying channel is observed broken,
// rather than making every paxos.Paxos call site handle reconnection
// itself. It satisfies paxos.Acceptor so Paxos can treat a live
// network peer exactly like its own LocalAcceptor.
type Remote struct {
	loc  overlay.Location
	opts DialOptions

	mu   sync.Mutex
	conn *Connection

	consecutiveFailures int
}

// NewRemote builds a Remote for loc. It does not dial immediately —
// the first call establishes the connection lazily, matching how
// paxos.Dialer is only invoked once a quorum member actually needs
// contacting.
func NewRemote(loc overlay.Location, opts DialOptions) *Remote {
	return &Remote{loc: loc, opts: opts}
}

func (r *Remote) ensure(ctx context.Context) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil && r.conn.State() == StateConnected {
		return r.conn, nil
	}
	if len(r.loc.Endpoints) == 0 {
		return nil, fmt.Errorf("dock: location %s has no endpoints", r.loc.ID)
	}
	var lastErr error
	for _, endpoint := range r.loc.Endpoints {
		conn, err := Dial(ctx, endpoint, r.opts)
		if err != nil {
			lastErr = err
			continue
		}
		r.conn = conn
		r.consecutiveFailures = 0
		return conn, nil
	}
	return nil, fmt.Errorf("dock: dial %s: %w", r.loc.ID, lastErr)
}

func (r *Remote) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		r.consecutiveFailures = 0
		return
	}
	r.consecutiveFailures++
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
	log.WithComponent("dock").Warn().Str("node", r.loc.ID).Int("failures", r.consecutiveFailures).Err(err).Msg("remote call failed")
}

// Location returns the overlay location this Remote dials, used by the
// heartbeat loop to TCP-probe a peer ahead of a full Ping.
func (r *Remote) Location() overlay.Location {
	return r.loc
}

// Failures reports the current consecutive-failure count, used by the
// heartbeat loop to decide when to evict a peer from a PeerCache.
func (r *Remote) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.consecutiveFailures
}

// Close drops the underlying connection, if any.
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}

// Ping exercises the heartbeat RPC, used by the background heartbeat
// loop rather than by Paxos itself.
func (r *Remote) Ping(ctx context.Context) error {
	conn, err := r.ensure(ctx)
	if err != nil {
		r.fail(err)
		return err
	}
	err = conn.Ping(ctx)
	r.fail(err)
	return err
}

func (r *Remote) Promise(ctx context.Context, quorum paxos.Quorum, addr address.Address, n paxos.Number) (bool, paxos.Number, *paxos.Value, paxos.Quorum, error) {
	conn, err := r.ensure(ctx)
	if err != nil {
		r.fail(err)
		return false, paxos.Number{}, nil, paxos.Quorum{}, err
	}
	promised, acceptedN, acceptedV, currentQuorum, err := conn.Promise(ctx, quorum, addr, n)
	r.fail(err)
	return promised, acceptedN, acceptedV, currentQuorum, err
}

func (r *Remote) Accept(ctx context.Context, quorum paxos.Quorum, addr address.Address, n paxos.Number, v paxos.Value) (bool, paxos.Number, error) {
	conn, err := r.ensure(ctx)
	if err != nil {
		r.fail(err)
		return false, paxos.Number{}, err
	}
	accepted, currentN, err := conn.Accept(ctx, quorum, addr, n, v)
	r.fail(err)
	return accepted, currentN, err
}

func (r *Remote) FetchState(ctx context.Context, addr address.Address) (paxos.Quorum, *paxos.Value, paxos.Number, error) {
	conn, err := r.ensure(ctx)
	if err != nil {
		r.fail(err)
		return paxos.Quorum{}, nil, paxos.Number{}, err
	}
	quorum, v, n, err := conn.FetchState(ctx, addr)
	r.fail(err)
	return quorum, v, n, err
}

var _ paxos.Acceptor = (*Remote)(nil)
