package local

import (
	"context"
	"errors"
	"testing"

	"github.com/cuemby/doughnut/pkg/address"
	"github.com/cuemby/doughnut/pkg/block"
	"github.com/cuemby/doughnut/pkg/dnerr"
	"github.com/cuemby/doughnut/pkg/silo"
)

// fixedModel is a block.Model over a fixed set of known keys, enough to
// resolve owner/editor addresses in tests without a real keychain.
type fixedModel struct {
	self  block.PublicKey
	known map[address.Address]block.PublicKey
}

func (m *fixedModel) Self() block.PublicKey { return m.self }

func (m *fixedModel) ResolveKey(addr address.Address) (block.PublicKey, bool) {
	k, ok := m.known[addr]
	return k, ok
}

func newPeer(t *testing.T, capacity int64) (*Peer, block.PublicKey, block.PrivateKey) {
	t.Helper()
	pub, priv, err := block.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	model := &fixedModel{self: pub, known: map[address.Address]block.PublicKey{}}
	return New(silo.NewMemoryBackend(capacity), model, nil), pub, priv
}

func TestPeerStoreFetchRemoveCHB(t *testing.T) {
	peer, _, priv := newPeer(t, 1<<20)
	ctx := context.Background()

	chb := block.NewCHB([]byte("hello doughnut"), nil)

	if err := peer.Store(ctx, chb, silo.ModeInsertOnly); err != nil {
		t.Fatalf("store: %v", err)
	}

	fetched, err := peer.Fetch(ctx, chb.Address(), nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if fetched == nil || string(fetched.Payload()) != "hello doughnut" {
		t.Fatalf("unexpected fetched block: %+v", fetched)
	}

	sig, err := chb.SignRemove(priv)
	if err != nil {
		t.Fatalf("sign remove: %v", err)
	}
	if err := peer.Remove(ctx, chb.Address(), sig); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := peer.Fetch(ctx, chb.Address(), nil); !errors.Is(err, dnerr.ErrMissingBlock) {
		t.Fatalf("expected ErrMissingBlock after remove, got %v", err)
	}
}

func TestPeerStoreRejectsInvalidBlock(t *testing.T) {
	peer, owner, _ := newPeer(t, 1<<20)
	ctx := context.Background()

	okb := block.NewOKB(owner, []byte("salt"), []byte("v0"))
	// Never sealed: no signature, so Validate must fail.
	if err := peer.Store(ctx, okb, silo.ModeUpsert); err == nil {
		t.Fatal("expected store of unsealed OKB to fail validation")
	}
}

func TestPeerUpdateConflictOnConcurrentWrite(t *testing.T) {
	peer, owner, priv := newPeer(t, 1<<20)
	ctx := context.Background()

	okb := block.NewOKB(owner, []byte("salt"), []byte("v1"))
	if err := okb.SealAs(priv); err != nil {
		t.Fatalf("seal v1: %v", err)
	}
	if err := peer.Store(ctx, okb, silo.ModeInsertOnly); err != nil {
		t.Fatalf("store v1: %v", err)
	}

	// Two clients both start from version 1 (the version after the first
	// seal) and race to publish version 2.
	clientA := okb.Clone().(*block.OKB)
	clientA.SetPayload([]byte("from A"))
	if err := clientA.SealAs(priv); err != nil {
		t.Fatalf("seal A: %v", err)
	}

	clientB := okb.Clone().(*block.OKB)
	clientB.SetPayload([]byte("from B"))
	if err := clientB.SealAs(priv); err != nil {
		t.Fatalf("seal B: %v", err)
	}

	if err := peer.Store(ctx, clientA, silo.ModeUpsert); err != nil {
		t.Fatalf("expected A's update to succeed, got %v", err)
	}

	err := peer.Store(ctx, clientB, silo.ModeUpsert)
	if err == nil {
		t.Fatal("expected B's update to conflict")
	}
	var conflict *dnerr.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v (%T)", err, err)
	}
	current, ok := conflict.Current.(*block.OKB)
	if !ok || string(current.Payload()) == "" {
		t.Fatalf("expected conflict to carry current OKB, got %+v", conflict.Current)
	}
}

func TestPeerFetchShortCircuitsOnMatchingVersion(t *testing.T) {
	peer, owner, priv := newPeer(t, 1<<20)
	ctx := context.Background()

	okb := block.NewOKB(owner, []byte("salt"), []byte("v1"))
	if err := okb.SealAs(priv); err != nil {
		t.Fatalf("seal: %v", err)
	}
	if err := peer.Store(ctx, okb, silo.ModeInsertOnly); err != nil {
		t.Fatalf("store: %v", err)
	}

	v := okb.Version
	fetched, err := peer.Fetch(ctx, okb.Address(), &v)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if fetched != nil {
		t.Fatalf("expected nil block for matching local_version, got %+v", fetched)
	}

	stale := v - 1
	fetched, err = peer.Fetch(ctx, okb.Address(), &stale)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if fetched == nil {
		t.Fatal("expected full block for stale local_version")
	}
}
