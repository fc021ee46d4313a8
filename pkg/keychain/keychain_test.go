package keychain

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cuemby/doughnut/pkg/block"
)

func TestKeychainPutAndLookup(t *testing.T) {
	pub, _, err := block.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	k := New()
	hash := block.ShortHash(pub)

	if _, ok := k.Lookup(hash); ok {
		t.Fatal("expected miss before Put")
	}
	k.Put(pub)

	got, ok := k.Lookup(hash)
	if !ok || !got.Equal(pub) {
		t.Fatalf("expected to resolve locally after Put, got %v %v", got, ok)
	}
}

func TestKeychainResolveFetchesOnMiss(t *testing.T) {
	pub, _, err := block.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	hash := block.ShortHash(pub)

	var calls int32
	k := New()
	fetch := func(ctx context.Context, h [block.ShortHashSize]byte) (block.PublicKey, error) {
		atomic.AddInt32(&calls, 1)
		return pub, nil
	}

	got, err := k.Resolve(context.Background(), hash, fetch)
	if err != nil || !got.Equal(pub) {
		t.Fatalf("resolve = %v, %v", got, err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one fetch, got %d", calls)
	}

	// A second resolve for the same hash should hit the cache, not fetch again.
	if _, err := k.Resolve(context.Background(), hash, fetch); err != nil {
		t.Fatalf("resolve after cache warm: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected cached resolve not to call fetch again, got %d calls", calls)
	}
}

func TestKeychainResolveDedupesConcurrentMisses(t *testing.T) {
	pub, _, err := block.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	hash := block.ShortHash(pub)

	var calls int32
	release := make(chan struct{})
	k := New()
	fetch := func(ctx context.Context, h [block.ShortHashSize]byte) (block.PublicKey, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return pub, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := k.Resolve(context.Background(), hash, fetch); err != nil {
				t.Errorf("resolve: %v", err)
			}
		}()
	}

	close(release)
	wg.Wait()

	if calls != 1 {
		t.Fatalf("expected concurrent misses to share one fetch, got %d calls", calls)
	}
}

func TestKeychainResolveRejectsMismatchedKey(t *testing.T) {
	wrongPub, _, _ := block.GenerateKeyPair()
	realPub, _, _ := block.GenerateKeyPair()
	hash := block.ShortHash(realPub)

	k := New()
	fetch := func(ctx context.Context, h [block.ShortHashSize]byte) (block.PublicKey, error) {
		return wrongPub, nil
	}

	if _, err := k.Resolve(context.Background(), hash, fetch); err == nil {
		t.Fatal("expected mismatched key to be rejected")
	}
}
