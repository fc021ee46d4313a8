// Package keychain implements the short-hash-to-public-key bijection
// cache exchanged between two peers over a single Dock connection: once
// a key has been sent in full, later references to it use its 8-byte
// short hash instead, saving 24 bytes per reference at the cost of one
// round trip on first use.
package keychain

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/doughnut/pkg/block"
)

// Keychain caches the mapping from a key's short hash to its full
// value. It is owned by a single dock.Connection and is dropped (and
// garbage collected) along with it — there is no cross-connection
// sharing, since what each side has already seen differs per peer.
type Keychain struct {
	mu      sync.RWMutex
	byHash  map[[block.ShortHashSize]byte]block.PublicKey
	inFlyMu sync.Mutex
	inFly   map[[block.ShortHashSize]byte]*resolution
}

type resolution struct {
	done chan struct{}
	key  block.PublicKey
	err  error
}

// New creates an empty keychain.
func New() *Keychain {
	return &Keychain{
		byHash: make(map[[block.ShortHashSize]byte]block.PublicKey),
		inFly:  make(map[[block.ShortHashSize]byte]*resolution),
	}
}

// Put records a key this side has seen in full, so a later reference by
// short hash (from either direction) resolves locally.
func (k *Keychain) Put(pub block.PublicKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.byHash[block.ShortHash(pub)] = pub
}

// Lookup returns the full key for hash if already known.
func (k *Keychain) Lookup(hash [block.ShortHashSize]byte) (block.PublicKey, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	pub, ok := k.byHash[hash]
	return pub, ok
}

// Fetch is the round-trip a Resolve cache miss performs against the
// peer, typically dock.Connection.KeyHashLookup.
type Fetch func(ctx context.Context, hash [block.ShortHashSize]byte) (block.PublicKey, error)

// Resolve returns the full key for hash, consulting the local cache
// first and falling back to fetch on a miss. Concurrent misses for the
// same hash share a single in-flight fetch.
func (k *Keychain) Resolve(ctx context.Context, hash [block.ShortHashSize]byte, fetch Fetch) (block.PublicKey, error) {
	if pub, ok := k.Lookup(hash); ok {
		return pub, nil
	}

	k.inFlyMu.Lock()
	if r, ok := k.inFly[hash]; ok {
		k.inFlyMu.Unlock()
		select {
		case <-r.done:
			return r.key, r.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	r := &resolution{done: make(chan struct{})}
	k.inFly[hash] = r
	k.inFlyMu.Unlock()

	pub, err := fetch(ctx, hash)
	if err == nil {
		if got := block.ShortHash(pub); got != hash {
			err = fmt.Errorf("keychain: fetched key does not hash to the requested short hash")
		} else {
			k.Put(pub)
		}
	}

	r.key, r.err = pub, err
	close(r.done)

	k.inFlyMu.Lock()
	delete(k.inFly, hash)
	k.inFlyMu.Unlock()

	return pub, err
}

// Len reports how many keys are currently cached, for tests and metrics.
func (k *Keychain) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.byHash)
}
