package dock

import (
	"context"
	"sync"

	"github.com/cuemby/doughnut/pkg/consensus/paxos"
	"github.com/cuemby/doughnut/pkg/overlay"
)

// PeerCache keeps at most one Remote alive per node id, dialing lazily
// and reusing the same Remote (and its underlying Connection, once
// established) across every paxos.Paxos call that targets that node.
// It implements paxos.Dialer directly so a Paxos instance can be
// constructed with nothing more than a PeerCache and an Identity.
type PeerCache struct {
	opts DialOptions

	mu    sync.Mutex
	peers map[string]*Remote
}

// NewPeerCache builds a PeerCache that dials every peer using opts as
// this node's own identity.
func NewPeerCache(opts DialOptions) *PeerCache {
	return &PeerCache{opts: opts, peers: make(map[string]*Remote)}
}

// Dial implements paxos.Dialer, returning the cached Remote for loc.ID
// or creating one if this is the first time loc has been addressed.
func (c *PeerCache) Dial(ctx context.Context, loc overlay.Location) (paxos.Acceptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.peers[loc.ID]
	if !ok {
		r = NewRemote(loc, c.opts)
		c.peers[loc.ID] = r
	}
	return r, nil
}

// Get returns the cached Remote for id, if one has been dialed.
func (c *PeerCache) Get(id string) (*Remote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.peers[id]
	return r, ok
}

// Snapshot returns a point-in-time copy of the id -> Remote map, used
// by the heartbeat loop to iterate without holding the cache lock
// across network calls.
func (c *PeerCache) Snapshot() map[string]*Remote {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*Remote, len(c.peers))
	for id, r := range c.peers {
		out[id] = r
	}
	return out
}

// Evict closes and drops the cached Remote for id, if any.
func (c *PeerCache) Evict(id string) {
	c.mu.Lock()
	r, ok := c.peers[id]
	delete(c.peers, id)
	c.mu.Unlock()
	if ok {
		_ = r.Close()
	}
}

// Close closes every dialed Remote, used on node shutdown so no
// outbound connections outlive the process.
func (c *PeerCache) Close() error {
	c.mu.Lock()
	peers := c.peers
	c.peers = make(map[string]*Remote)
	c.mu.Unlock()
	var firstErr error
	for _, r := range peers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ paxos.Dialer = (*PeerCache)(nil)
