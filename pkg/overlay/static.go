package overlay

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/doughnut/pkg/address"
	"github.com/cuemby/doughnut/pkg/dnerr"
	"github.com/cuemby/doughnut/pkg/events"
)

// ringPoint is one peer's position on the consistent-hashing ring.
type ringPoint struct {
	hash [32]byte
	loc  Location
}

// Static is a fixed-membership overlay over a configured peer list. It
// exists so the rest of the stack (Paxos, Dock, the facade) is runnable
// and testable without a real topology algorithm: placement for an
// address is purely a function of the address's own bytes and the
// current membership, using consistent hashing so that Allocate and
// Lookup agree and membership churn only reshuffles a small fraction of
// addresses.
type Static struct {
	broker *events.Broker

	mu   sync.RWMutex
	ring []ringPoint
	byID map[string]Location
}

// NewStatic creates a Static overlay seeded with the given peers.
func NewStatic(peers []Location, broker *events.Broker) *Static {
	s := &Static{
		broker: broker,
		byID:   make(map[string]Location),
	}
	for _, p := range peers {
		s.add(p)
	}
	return s
}

func ringHash(id string) [32]byte {
	return sha256.Sum256([]byte(id))
}

func (s *Static) add(loc Location) {
	if loc.ID == "" {
		return
	}
	if _, exists := s.byID[loc.ID]; exists {
		s.byID[loc.ID] = loc
		return
	}
	s.byID[loc.ID] = loc
	s.ring = append(s.ring, ringPoint{hash: ringHash(loc.ID), loc: loc})
	sort.Slice(s.ring, func(i, j int) bool {
		return lessHash(s.ring[i].hash, s.ring[j].hash)
	})
}

func lessHash(a, b [32]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// candidates walks the ring starting from addr's position, returning up
// to n distinct peers in ring order — the standard consistent-hashing
// "walk clockwise" placement rule.
func (s *Static) candidates(addr address.Address, n int) []Location {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.ring) == 0 || n <= 0 {
		return nil
	}

	key := sha256.Sum256(addr.Bytes())
	start := sort.Search(len(s.ring), func(i int) bool {
		return !lessHash(s.ring[i].hash, key)
	})

	if n > len(s.ring) {
		n = len(s.ring)
	}
	out := make([]Location, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, s.ring[(start+i)%len(s.ring)].loc)
	}
	return out
}

func (s *Static) Allocate(ctx context.Context, addr address.Address, n int) ([]Location, error) {
	return s.candidates(addr, n), nil
}

func (s *Static) Lookup(ctx context.Context, addr address.Address, n int, fast bool) ([]Location, error) {
	return s.candidates(addr, n), nil
}

func (s *Static) LookupNode(ctx context.Context, id string) (Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loc, ok := s.byID[id]
	if !ok {
		return Location{}, fmt.Errorf("overlay: %s: %w", id, dnerr.ErrNodeNotFound)
	}
	return loc, nil
}

func (s *Static) Discover(ctx context.Context, seeds []Location) error {
	s.mu.Lock()
	var added []Location
	for _, loc := range seeds {
		if _, exists := s.byID[loc.ID]; !exists {
			added = append(added, loc)
		}
		s.add(loc)
	}
	s.mu.Unlock()

	for _, loc := range added {
		s.emit(events.EventDiscovery, loc.ID)
	}
	return nil
}

func (s *Static) Discovered(id string) (Location, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.byID[id]
	return loc, ok
}

// Remove drops id from the ring and raises on_disappearance. Static has
// no failure detector of its own, and nothing else in the module calls
// Remove: Dock's heartbeat publishes events.EventDisconnected for an
// unreachable peer but leaves the overlay's membership as it is.
func (s *Static) Remove(id string) {
	s.mu.Lock()
	if _, ok := s.byID[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.byID, id)
	filtered := s.ring[:0]
	for _, p := range s.ring {
		if p.loc.ID != id {
			filtered = append(filtered, p)
		}
	}
	s.ring = filtered
	s.mu.Unlock()

	s.emit(events.EventDisappearance, id)
}

func (s *Static) PeerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *Static) Events() *events.Broker {
	return s.broker
}

func (s *Static) emit(t events.EventType, id string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{Type: t, Message: id})
}
