package silo

import (
	"context"
	"sync"

	"github.com/cuemby/doughnut/pkg/address"
	"github.com/cuemby/doughnut/pkg/dnerr"
	"github.com/cuemby/doughnut/pkg/metrics"
)

// MemoryBackend is an in-memory Silo, used by tests and by standalone
// facade instances that do not need durability.
type MemoryBackend struct {
	capacity int64

	mu   sync.Mutex
	data map[address.Address][]byte
	used int64
}

// NewMemoryBackend creates an empty in-memory silo. capacity of 0 means
// unlimited.
func NewMemoryBackend(capacity int64) *MemoryBackend {
	return &MemoryBackend{
		capacity: capacity,
		data:     make(map[address.Address][]byte),
	}
}

func (m *MemoryBackend) Get(ctx context.Context, k address.Address) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.data[k]
	if !ok {
		return nil, dnerr.ErrMissingBlock
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryBackend) Set(ctx context.Context, k address.Address, v []byte, mode Mode) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, existed := m.data[k]
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

	delta := int64(len(v)) - int64(len(old))
	if m.capacity > 0 && m.used+delta > m.capacity {
		return 0, dnerr.ErrInsufficientSpace
	}

	stored := make([]byte, len(v))
	copy(stored, v)
	m.data[k] = stored
	m.used += delta
	return delta, nil
}

func (m *MemoryBackend) Erase(ctx context.Context, k address.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, existed := m.data[k]
	if !existed {
		return dnerr.ErrMissingBlock
	}
	delete(m.data, k)
	m.used -= int64(len(v))
	return nil
}

func (m *MemoryBackend) List(ctx context.Context) ([]address.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]address.Address, 0, len(m.data))
	for k := range m.data {
		out = append(out, k)
	}
	return out, nil
}

func (m *MemoryBackend) Status(ctx context.Context, k address.Address) Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[k]; ok {
		return StatusExists
	}
	return StatusMissing
}

func (m *MemoryBackend) Stats() metrics.SiloStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return metrics.SiloStats{
		Blocks:        len(m.data),
		UsedBytes:     m.used,
		CapacityBytes: m.capacity,
	}
}
