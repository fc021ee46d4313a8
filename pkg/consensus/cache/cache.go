// Package cache implements the read-through cache consensus layer: an
// in-memory LRU with TTL/invalidation semantics in front of another
// consensus.Consensus (typically an async.Async wrapping paxos.Paxos),
// backed by an optional on-disk cache for immutable (CHB) blocks.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cuemby/doughnut/pkg/address"
	"github.com/cuemby/doughnut/pkg/block"
	"github.com/cuemby/doughnut/pkg/consensus"
	"github.com/cuemby/doughnut/pkg/metrics"
	"github.com/cuemby/doughnut/pkg/silo"
)

// Config tunes the in-memory LRU and the optional disk CHB cache.
type Config struct {
	// Size is the maximum number of blocks held in memory.
	Size int
	// TTL evicts an entry outright once it is older than this, whether
	// or not it has been revalidated. Zero disables TTL eviction.
	TTL time.Duration
	// InvalidationAge triggers a lazy conditional refetch on next
	// access once an entry is older than this but still under TTL.
	// Zero disables lazy invalidation (entries are trusted until TTL).
	InvalidationAge time.Duration
	// DiskCacheDir, if set, additionally caches CHB payloads on disk
	// under a size-capped, mtime-ordered LRU.
	DiskCacheDir string
	// DiskCacheCapacityBytes bounds the disk cache; zero means unbounded.
	DiskCacheCapacityBytes int64
}

func (c *Config) setDefaults() {
	if c.Size <= 0 {
		c.Size = 4096
	}
}

type entry struct {
	block    block.Block
	version  uint64
	hasVer   bool
	cachedAt time.Time
}

func (e *entry) stale(age time.Duration) bool {
	return age > 0 && time.Since(e.cachedAt) > age
}

// call is one in-flight fetch shared by every concurrent caller missing
// the same address, the same per-key barrier shape as keychain.Keychain
// uses for short-hash resolution.
type call struct {
	done  chan struct{}
	block block.Block
	err   error
}

// Cache is a consensus.Consensus decorator. It never originates errors
// of its own beyond what the wrapped consensus or disk I/O produce.
type Cache struct {
	cfg  Config
	next consensus.Consensus
	lru  *lru.Cache[address.Address, *entry]
	disk *diskCache

	barrierMu sync.Mutex
	inFlight  map[address.Address]*call
}

// New builds a Cache in front of next.
func New(cfg Config, next consensus.Consensus) (*Cache, error) {
	cfg.setDefaults()
	l, err := lru.New[address.Address, *entry](cfg.Size)
	if err != nil {
		return nil, fmt.Errorf("cache: new lru: %w", err)
	}
	d, err := newDiskCache(cfg.DiskCacheDir, cfg.DiskCacheCapacityBytes)
	if err != nil {
		return nil, err
	}
	return &Cache{
		cfg:      cfg,
		next:     next,
		lru:      l,
		disk:     d,
		inFlight: make(map[address.Address]*call),
	}, nil
}

// Store invalidates addr's cached slot before delegating, so a failed
// write never leaves a stale entry behind.
func (c *Cache) Store(ctx context.Context, b block.Block, mode silo.Mode, resolver consensus.Resolver) error {
	c.invalidate(b.Address())
	return c.next.Store(ctx, b, mode, resolver)
}

// Remove invalidates addr's cached slot before delegating.
func (c *Cache) Remove(ctx context.Context, addr address.Address, sig block.RemoveSignature) error {
	c.invalidate(addr)
	return c.next.Remove(ctx, addr, sig)
}

func (c *Cache) invalidate(addr address.Address) {
	c.lru.Remove(addr)
	if c.disk != nil {
		c.disk.Remove(addr)
	}
}

// Fetch serves addr from memory if cached and fresh, lazily revalidates
// an entry past InvalidationAge, evicts one past TTL, and otherwise
// delegates through a per-address barrier that coalesces concurrent
// misses into a single round trip to the wrapped consensus (and, for
// CHBs, the disk cache) before any of them see the result.
func (c *Cache) Fetch(ctx context.Context, addr address.Address, localVersion *uint64) (block.Block, error) {
	if e, ok := c.lru.Get(addr); ok {
		if e.stale(c.cfg.TTL) {
			c.lru.Remove(addr)
		} else if e.stale(c.cfg.InvalidationAge) {
			return c.revalidate(ctx, addr, e, localVersion)
		} else {
			metrics.CacheHitsTotal.WithLabelValues("hit").Inc()
			return c.respond(e, localVersion)
		}
	}

	metrics.CacheHitsTotal.WithLabelValues("miss").Inc()
	if c.disk != nil {
		if data, ok := c.disk.Get(addr); ok {
			b, err := block.DecodeBlock(data)
			if err == nil {
				c.insert(addr, b)
				return c.respondFresh(b, localVersion)
			}
		}
	}
	fresh, err := c.fetchThroughBarrier(ctx, addr)
	if err != nil {
		return nil, err
	}
	return c.respondFresh(fresh, localVersion)
}

// revalidate re-fetches addr's current value and compares its version
// against the cached entry: unchanged confirms freshness, different
// replaces it.
func (c *Cache) revalidate(ctx context.Context, addr address.Address, e *entry, localVersion *uint64) (block.Block, error) {
	fresh, err := c.fetchThroughBarrier(ctx, addr)
	if err != nil {
		return nil, err
	}
	if v, ok := block.Version(fresh); e.hasVer && ok && v == e.version {
		// confirmed unchanged; extend the entry's age
		c.lru.Add(addr, &entry{block: e.block, version: e.version, hasVer: e.hasVer, cachedAt: timeNow()})
		metrics.CacheHitsTotal.WithLabelValues("hit").Inc()
		return c.respond(e, localVersion)
	}
	return c.respondFresh(fresh, localVersion)
}

// fetchThroughBarrier coalesces concurrent Fetch calls for the same
// address into a single round trip to the wrapped consensus, always
// requesting the full current block (never forwarding a caller's
// local_version downstream) so the barrier can be shared safely between
// a plain miss and a lazy revalidation without one caller's version
// check leaking into another's result; each caller applies its own
// local_version comparison independently once the shared call returns.
func (c *Cache) fetchThroughBarrier(ctx context.Context, addr address.Address) (block.Block, error) {
	c.barrierMu.Lock()
	if inFlight, ok := c.inFlight[addr]; ok {
		c.barrierMu.Unlock()
		select {
		case <-inFlight.done:
			return inFlight.block, inFlight.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &call{done: make(chan struct{})}
	c.inFlight[addr] = call
	c.barrierMu.Unlock()

	call.block, call.err = c.next.Fetch(ctx, addr, nil)
	close(call.done)

	c.barrierMu.Lock()
	delete(c.inFlight, addr)
	c.barrierMu.Unlock()

	if call.err == nil && call.block != nil {
		c.insert(addr, call.block)
	}
	return call.block, call.err
}

func (c *Cache) insert(addr address.Address, b block.Block) {
	e := &entry{block: b.Clone(), cachedAt: timeNow()}
	if v, ok := block.Version(b); ok {
		e.version, e.hasVer = v, true
	}
	c.lru.Add(addr, e)
	if c.disk != nil && b.Kind() == block.KindCHB {
		if wire, err := block.EncodeBlock(b); err == nil {
			_ = c.disk.Put(addr, wire)
		}
	}
}

func (c *Cache) respond(e *entry, localVersion *uint64) (block.Block, error) {
	if localVersion != nil && e.hasVer && e.version == *localVersion {
		return nil, nil
	}
	return e.block.Clone(), nil
}

func (c *Cache) respondFresh(b block.Block, localVersion *uint64) (block.Block, error) {
	if localVersion != nil {
		if v, ok := block.Version(b); ok && v == *localVersion {
			return nil, nil
		}
	}
	return b, nil
}

// timeNow is a thin indirection so tests could substitute a fake clock;
// production code always uses the real one.
var timeNow = time.Now
