package silo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cuemby/doughnut/pkg/address"
	"github.com/cuemby/doughnut/pkg/dnerr"
	"github.com/cuemby/doughnut/pkg/events"
	"github.com/cuemby/doughnut/pkg/metrics"
)

// FSBackend stores blocks on disk under root/<first-byte-hex>/<33-byte-hex>.
// An in-memory size cache keyed by address avoids a stat() on every
// write, and a capacity limit, if set, is enforced before a write
// reaches the filesystem.
type FSBackend struct {
	root     string
	capacity int64
	broker   *events.Broker

	mu    sync.Mutex
	sizes map[address.Address]int64
	used  int64
}

// NewFSBackend opens (and indexes) a filesystem-backed silo rooted at
// root. capacity of 0 means unlimited. broker may be nil.
func NewFSBackend(root string, capacity int64, broker *events.Broker) (*FSBackend, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("silo: create root: %w", err)
	}

	b := &FSBackend{
		root:     root,
		capacity: capacity,
		broker:   broker,
		sizes:    make(map[address.Address]int64),
	}
	if err := b.reindex(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *FSBackend) path(k address.Address) string {
	return filepath.Join(b.root, k.FirstByteHex(), k.String())
}

func (b *FSBackend) reindex() error {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return fmt.Errorf("silo: read root: %w", err)
	}
	for _, shard := range entries {
		if !shard.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(b.root, shard.Name()))
		if err != nil {
			return fmt.Errorf("silo: read shard %s: %w", shard.Name(), err)
		}
		for _, f := range files {
			info, err := f.Info()
			if err != nil {
				return fmt.Errorf("silo: stat %s: %w", f.Name(), err)
			}
			addr, err := address.ParseString(f.Name())
			if err != nil {
				continue // skip foreign files
			}
			b.sizes[addr] = info.Size()
			b.used += info.Size()
		}
	}
	return nil
}

func (b *FSBackend) Get(ctx context.Context, k address.Address) ([]byte, error) {
	data, err := os.ReadFile(b.path(k))
	if os.IsNotExist(err) {
		return nil, dnerr.ErrMissingBlock
	}
	if err != nil {
		return nil, fmt.Errorf("silo: read %s: %w", k, err)
	}
	return data, nil
}

func (b *FSBackend) Set(ctx context.Context, k address.Address, v []byte, mode Mode) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldSize, existed := b.sizes[k]
	switch mode {
	case ModeInsertOnly:
		if existed {
			return 0, dnerr.ErrCollision
		}
	case ModeUpdateOnly:
		if !existed {
			return 0, dnerr.ErrMissingBlock
		}
	}

	delta := int64(len(v)) - oldSize
	if b.capacity > 0 && b.used+delta > b.capacity {
		return 0, dnerr.ErrInsufficientSpace
	}

	shard := filepath.Join(b.root, k.FirstByteHex())
	if err := os.MkdirAll(shard, 0700); err != nil {
		return 0, fmt.Errorf("silo: create shard: %w", err)
	}
	tmp := filepath.Join(shard, "."+k.String()+".tmp")
	if err := os.WriteFile(tmp, v, 0600); err != nil {
		return 0, fmt.Errorf("silo: write temp file: %w", err)
	}
	if err := os.Rename(tmp, b.path(k)); err != nil {
		return 0, fmt.Errorf("silo: commit write: %w", err)
	}

	b.sizes[k] = int64(len(v))
	b.used += delta
	b.publishMetrics()
	b.emit(events.EventStore, k)
	return delta, nil
}

func (b *FSBackend) Erase(ctx context.Context, k address.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	size, existed := b.sizes[k]
	if !existed {
		return dnerr.ErrMissingBlock
	}
	if err := os.Remove(b.path(k)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("silo: remove %s: %w", k, err)
	}
	delete(b.sizes, k)
	b.used -= size
	b.publishMetrics()
	b.emit(events.EventRemove, k)
	return nil
}

func (b *FSBackend) List(ctx context.Context) ([]address.Address, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]address.Address, 0, len(b.sizes))
	for k := range b.sizes {
		out = append(out, k)
	}
	return out, nil
}

func (b *FSBackend) Status(ctx context.Context, k address.Address) Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.sizes[k]; ok {
		return StatusExists
	}
	return StatusMissing
}

func (b *FSBackend) Stats() metrics.SiloStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return metrics.SiloStats{
		Blocks:        len(b.sizes),
		UsedBytes:     b.used,
		CapacityBytes: b.capacity,
	}
}

// publishMetrics updates the Prometheus gauges under the same lock that
// performed the mutation, so readers never observe a torn update.
func (b *FSBackend) publishMetrics() {
	metrics.SiloBlocksTotal.Set(float64(len(b.sizes)))
	metrics.SiloUsageBytes.Set(float64(b.used))
	metrics.SiloCapacityBytes.Set(float64(b.capacity))
}

func (b *FSBackend) emit(t events.EventType, k address.Address) {
	if b.broker == nil {
		return
	}
	b.broker.Publish(&events.Event{
		Type:    t,
		Message: k.String(),
	})
}
