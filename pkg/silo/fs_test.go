package silo

import (
	"context"
	"errors"
	"testing"

	"github.com/cuemby/doughnut/pkg/dnerr"
)

func TestFSBackendSetGetErase(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b, err := NewFSBackend(dir, 0, nil)
	if err != nil {
		t.Fatalf("new fs backend: %v", err)
	}

	k := testAddress(1)
	if _, err := b.Set(ctx, k, []byte("payload"), ModeUpsert); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := b.Get(ctx, k)
	if err != nil || string(got) != "payload" {
		t.Fatalf("get = %q, %v", got, err)
	}

	if err := b.Erase(ctx, k); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if _, err := b.Get(ctx, k); !errors.Is(err, dnerr.ErrMissingBlock) {
		t.Fatalf("expected ErrMissingBlock after erase, got %v", err)
	}
}

func TestFSBackendReindexesOnReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	k := testAddress(2)

	b1, err := NewFSBackend(dir, 0, nil)
	if err != nil {
		t.Fatalf("new fs backend: %v", err)
	}
	if _, err := b1.Set(ctx, k, []byte("durable"), ModeUpsert); err != nil {
		t.Fatalf("set: %v", err)
	}

	b2, err := NewFSBackend(dir, 0, nil)
	if err != nil {
		t.Fatalf("reopen fs backend: %v", err)
	}

	got, err := b2.Get(ctx, k)
	if err != nil || string(got) != "durable" {
		t.Fatalf("get after reopen = %q, %v", got, err)
	}

	stats := b2.Stats()
	if stats.Blocks != 1 || stats.UsedBytes != int64(len("durable")) {
		t.Fatalf("unexpected stats after reindex: %+v", stats)
	}
}

func TestFSBackendCapacityEnforced(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	k := testAddress(3)

	b, err := NewFSBackend(dir, 4, nil)
	if err != nil {
		t.Fatalf("new fs backend: %v", err)
	}

	if _, err := b.Set(ctx, k, []byte("12345"), ModeUpsert); !errors.Is(err, dnerr.ErrInsufficientSpace) {
		t.Fatalf("expected ErrInsufficientSpace, got %v", err)
	}
	if stats := b.Stats(); stats.UsedBytes != 0 {
		t.Fatalf("a failed write must not change byte usage, got %d", stats.UsedBytes)
	}
}
