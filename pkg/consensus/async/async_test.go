package async

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/doughnut/pkg/address"
	"github.com/cuemby/doughnut/pkg/block"
	"github.com/cuemby/doughnut/pkg/dnerr"
	"github.com/cuemby/doughnut/pkg/silo"
)

// gatedConsensus is a consensus.Consensus double whose Store blocks on
// gate until the test releases it, letting tests observe Async's
// acknowledge-before-delivery behavior deterministically.
type gatedConsensus struct {
	gate chan struct{}

	mu      sync.Mutex
	stored  map[address.Address]block.Block
	removed map[address.Address]bool
}

func newGatedConsensus() *gatedConsensus {
	return &gatedConsensus{
		gate:    make(chan struct{}),
		stored:  make(map[address.Address]block.Block),
		removed: make(map[address.Address]bool),
	}
}

func (g *gatedConsensus) release() { close(g.gate) }

func (g *gatedConsensus) Store(ctx context.Context, b block.Block, mode silo.Mode, resolver Resolver) error {
	<-g.gate
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stored[b.Address()] = b
	return nil
}

func (g *gatedConsensus) Fetch(ctx context.Context, addr address.Address, localVersion *uint64) (block.Block, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.removed[addr] {
		return nil, dnerr.ErrMissingBlock
	}
	b, ok := g.stored[addr]
	if !ok {
		return nil, dnerr.ErrMissingBlock
	}
	return b, nil
}

func (g *gatedConsensus) Remove(ctx context.Context, addr address.Address, sig block.RemoveSignature) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.stored[addr]; !ok {
		return dnerr.ErrMissingBlock
	}
	delete(g.stored, addr)
	g.removed[addr] = true
	return nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestAsyncStoreAcknowledgesBeforeDelivery(t *testing.T) {
	dir := t.TempDir()
	wrapped := newGatedConsensus()
	a, err := New(Config{JournalDir: dir}, wrapped)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()

	chb := block.NewCHB([]byte("payload"), nil)
	if err := a.Store(ctx, chb, silo.ModeInsertOnly, nil); err != nil {
		t.Fatalf("store: %v", err)
	}

	// Delivery is gated, so the wrapped consensus has not seen it yet,
	// but Fetch is served from the pending set.
	fetched, err := a.Fetch(ctx, chb.Address(), nil)
	if err != nil {
		t.Fatalf("fetch pending: %v", err)
	}
	if string(fetched.Payload()) != "payload" {
		t.Fatalf("unexpected pending payload: %q", fetched.Payload())
	}

	wrapped.release()
	waitFor(t, time.Second, func() bool {
		wrapped.mu.Lock()
		defer wrapped.mu.Unlock()
		_, ok := wrapped.stored[chb.Address()]
		return ok
	})

	fetched, err = a.Fetch(ctx, chb.Address(), nil)
	if err != nil {
		t.Fatalf("fetch after delivery: %v", err)
	}
	if string(fetched.Payload()) != "payload" {
		t.Fatalf("unexpected delivered payload: %q", fetched.Payload())
	}
}

func TestAsyncCoalescesConsecutiveSets(t *testing.T) {
	dir := t.TempDir()
	wrapped := newGatedConsensus()
	a, err := New(Config{JournalDir: dir}, wrapped)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()

	// An entry already being delivered is never coalesced, so occupy the
	// drain goroutine with an unrelated entry first; both Sets below then
	// queue behind it.
	blocker := block.NewCHB([]byte("blocker"), nil)
	if err := a.Store(ctx, blocker, silo.ModeInsertOnly, nil); err != nil {
		t.Fatalf("store blocker: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.hasInFlight
	})

	pub, priv, err := block.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	okb1 := block.NewOKB(pub, []byte("salt"), []byte("v1"))
	if err := okb1.SealAs(priv); err != nil {
		t.Fatalf("seal v1: %v", err)
	}
	if err := a.Store(ctx, okb1, silo.ModeUpsert, nil); err != nil {
		t.Fatalf("store v1: %v", err)
	}

	okb2 := okb1.Clone().(*block.OKB)
	okb2.SetPayload([]byte("v2"))
	if err := okb2.SealAs(priv); err != nil {
		t.Fatalf("seal v2: %v", err)
	}
	if err := a.Store(ctx, okb2, silo.ModeUpsert, nil); err != nil {
		t.Fatalf("store v2: %v", err)
	}

	// The first Set should have been coalesced away: only the blocker's
	// and the second Set's journal files are left on disk, and Fetch
	// reflects only the latest payload.
	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read journal dir: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 journal files (blocker and coalesced Set), got %d", len(files))
	}

	fetched, err := a.Fetch(ctx, okb1.Address(), nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(fetched.Payload()) != "v2" {
		t.Fatalf("expected coalesced payload v2, got %q", fetched.Payload())
	}

	wrapped.release()
	waitFor(t, time.Second, func() bool {
		wrapped.mu.Lock()
		defer wrapped.mu.Unlock()
		b, ok := wrapped.stored[okb1.Address()]
		return ok && string(b.Payload()) == "v2"
	})
}

func TestAsyncRemoveDoesNotCoalesce(t *testing.T) {
	dir := t.TempDir()
	wrapped := newGatedConsensus()
	a, err := New(Config{JournalDir: dir}, wrapped)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()

	chb := block.NewCHB([]byte("payload"), nil)
	if err := a.Store(ctx, chb, silo.ModeInsertOnly, nil); err != nil {
		t.Fatalf("store: %v", err)
	}
	sig, _ := chb.SignRemove(nil)
	if err := a.Remove(ctx, chb.Address(), sig); err != nil {
		t.Fatalf("remove: %v", err)
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read journal dir: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected store and remove to stay separate entries, got %d files", len(files))
	}

	if _, err := a.Fetch(ctx, chb.Address(), nil); !errors.Is(err, dnerr.ErrMissingBlock) {
		t.Fatalf("expected ErrMissingBlock from pending remove, got %v", err)
	}
}

func TestAsyncReplaysJournalAfterRestart(t *testing.T) {
	dir := t.TempDir()
	paused := newGatedConsensus() // never released: simulates a down wrapped consensus
	a, err := New(Config{JournalDir: dir}, paused)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()

	chb := block.NewCHB([]byte("crash payload"), nil)
	if err := a.Store(ctx, chb, silo.ModeInsertOnly, nil); err != nil {
		t.Fatalf("store: %v", err)
	}

	// Simulate a crash: the entry is durable on disk, but never reached
	// the wrapped consensus because paused.Store is permanently gated.
	entryPath := filepath.Join(dir, "0")
	if _, err := os.Stat(entryPath); err != nil {
		t.Fatalf("expected journal file at index 0: %v", err)
	}

	wrapped := newGatedConsensus()
	wrapped.release()
	restarted, err := New(Config{JournalDir: dir}, wrapped)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		wrapped.mu.Lock()
		defer wrapped.mu.Unlock()
		_, ok := wrapped.stored[chb.Address()]
		return ok
	})

	fetched, err := restarted.Fetch(ctx, chb.Address(), nil)
	if err != nil {
		t.Fatalf("fetch after replay: %v", err)
	}
	if string(fetched.Payload()) != "crash payload" {
		t.Fatalf("unexpected replayed payload: %q", fetched.Payload())
	}
}
