package paxos

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuemby/doughnut/pkg/address"
	"github.com/cuemby/doughnut/pkg/block"
	"github.com/cuemby/doughnut/pkg/dnerr"
	"github.com/cuemby/doughnut/pkg/local"
	"github.com/cuemby/doughnut/pkg/overlay"
	"github.com/cuemby/doughnut/pkg/silo"
)

type fixedModel struct {
	self block.PublicKey
}

func (m *fixedModel) Self() block.PublicKey { return m.self }
func (m *fixedModel) ResolveKey(address.Address) (block.PublicKey, bool) {
	return nil, false
}

type testDialer struct {
	acceptors map[string]Acceptor
}

func (d *testDialer) Dial(_ context.Context, loc overlay.Location) (Acceptor, error) {
	acc, ok := d.acceptors[loc.ID]
	if !ok {
		return nil, errors.New("no such node")
	}
	return acc, nil
}

// cluster wires three nodes' LocalAcceptors together behind an in-memory
// Dialer and a Static overlay, returning a Paxos proposer rooted at
// node-a along with the raw acceptors for assertions.
func newCluster(t *testing.T, self block.PublicKey) (*Paxos, map[string]*LocalAcceptor) {
	t.Helper()
	ids := []string{"node-a", "node-b", "node-c"}
	locs := make([]overlay.Location, 0, len(ids))
	acceptors := make(map[string]Acceptor)
	raw := make(map[string]*LocalAcceptor)

	model := &fixedModel{self: self}
	for _, id := range ids {
		s := silo.NewMemoryBackend(1 << 20)
		peer := local.New(s, model, nil)
		acc := NewLocalAcceptor(s, peer)
		acceptors[id] = acc
		raw[id] = acc
		locs = append(locs, overlay.Location{ID: id, Endpoints: []string{id + ":4433"}})
	}

	ov := overlay.NewStatic(locs, nil)
	dialer := &testDialer{acceptors: acceptors}

	cfg := DefaultConfig()
	cfg.ProposerID = "node-a"
	cfg.BackoffBase = time.Millisecond
	p := New(cfg, ov, dialer, "node-a", acceptors["node-a"])
	return p, raw
}

func TestPaxosStoreAndFetch(t *testing.T) {
	pub, priv, err := block.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	p, _ := newCluster(t, pub)
	ctx := context.Background()

	okb := block.NewOKB(pub, []byte("salt"), []byte("v1"))
	if err := okb.SealAs(priv); err != nil {
		t.Fatalf("seal: %v", err)
	}

	if err := p.Store(ctx, okb, silo.ModeUpsert, nil); err != nil {
		t.Fatalf("store: %v", err)
	}

	fetched, err := p.Fetch(ctx, okb.Address(), nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if fetched == nil || string(fetched.Payload()) != "v1" {
		t.Fatalf("unexpected fetched block: %+v", fetched)
	}
}

func TestPaxosConcurrentUpdateConflicts(t *testing.T) {
	pub, priv, err := block.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	p, _ := newCluster(t, pub)
	ctx := context.Background()

	base := block.NewOKB(pub, []byte("salt"), []byte("v1"))
	if err := base.SealAs(priv); err != nil {
		t.Fatalf("seal base: %v", err)
	}
	if err := p.Store(ctx, base, silo.ModeUpsert, nil); err != nil {
		t.Fatalf("store base: %v", err)
	}

	clientA := base.Clone().(*block.OKB)
	clientA.SetPayload([]byte("from A"))
	if err := clientA.SealAs(priv); err != nil {
		t.Fatalf("seal A: %v", err)
	}
	clientB := base.Clone().(*block.OKB)
	clientB.SetPayload([]byte("from B"))
	if err := clientB.SealAs(priv); err != nil {
		t.Fatalf("seal B: %v", err)
	}

	if err := p.Store(ctx, clientA, silo.ModeUpsert, nil); err != nil {
		t.Fatalf("expected A to win, got %v", err)
	}

	err = p.Store(ctx, clientB, silo.ModeUpsert, nil)
	if err == nil {
		t.Fatal("expected B to conflict")
	}
	var conflict *dnerr.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v (%T)", err, err)
	}
}

// TestPaxosFetchPrefersHighestAcceptedN simulates two acceptors that
// disagree about addr's value — one holding a stale accept from an
// earlier proposal round, one holding a fresher accept from a later
// round — and confirms Fetch returns the value accepted under the
// higher proposal number rather than whichever acceptor answers first,
// mirroring decree's own Promise-phase comparison.
func TestPaxosFetchPrefersHighestAcceptedN(t *testing.T) {
	pub, priv, err := block.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	p, raw := newCluster(t, pub)
	ctx := context.Background()

	salt := []byte("salt")
	stale := block.NewOKB(pub, salt, []byte("stale"))
	stale.Version = 1
	if err := stale.SealAs(priv); err != nil {
		t.Fatalf("seal stale: %v", err)
	}
	fresh := block.NewOKB(pub, salt, []byte("fresh"))
	fresh.Version = 2
	if err := fresh.SealAs(priv); err != nil {
		t.Fatalf("seal fresh: %v", err)
	}
	if stale.Address() != fresh.Address() {
		t.Fatalf("fixture bug: stale and fresh addresses differ")
	}
	addr := stale.Address()

	seedAccepted := func(id string, n Number, v block.Block) {
		t.Helper()
		acc := raw[id]
		st, _, err := acc.load(ctx, addr)
		if err != nil {
			t.Fatalf("load %s: %v", id, err)
		}
		st.HasAccept = true
		st.AcceptedN = n
		st.Accepted = Value{Kind: ValueBlock, Block: v}
		st.HasPromised = true
		st.Promised = n
		if err := acc.save(ctx, addr, st); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	// node-b answers first in iteration order but only holds the stale
	// round-1 accept; node-c holds the fresher round-2 accept.
	seedAccepted("node-b", Number{Round: 1, ProposerID: "node-a"}, stale)
	seedAccepted("node-c", Number{Round: 2, ProposerID: "node-a"}, fresh)

	fetched, err := p.Fetch(ctx, addr, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if fetched == nil || string(fetched.Payload()) != "fresh" {
		t.Fatalf("Fetch returned %+v, want the round-2 fresh value", fetched)
	}
}

func TestPaxosRemoveThenFetchMissing(t *testing.T) {
	pub, priv, err := block.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	p, _ := newCluster(t, pub)
	ctx := context.Background()

	chb := block.NewCHB([]byte("immutable payload"), nil)
	if err := p.Store(ctx, chb, silo.ModeInsertOnly, nil); err != nil {
		t.Fatalf("store: %v", err)
	}

	sig, err := chb.SignRemove(priv)
	if err != nil {
		t.Fatalf("sign remove: %v", err)
	}
	if err := p.Remove(ctx, chb.Address(), sig); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if _, err := p.Fetch(ctx, chb.Address(), nil); !errors.Is(err, dnerr.ErrMissingBlock) {
		t.Fatalf("expected ErrMissingBlock after remove, got %v", err)
	}
}
