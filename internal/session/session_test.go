package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, 10*time.Minute), mr
}

func TestGetMissing(t *testing.T) {
	s, _ := setupTestStore(t)
	if _, err := s.Get(context.Background(), 1); !errors.Is(err, ErrNoSession) {
		t.Errorf("Get = %v, want ErrNoSession", err)
	}
}

func TestSaveAndGet(t *testing.T) {
	s, mr := setupTestStore(t)
	ctx := context.Background()

	want := &State{Flow: "newalert", Step: "threshold", Kind: "price", AssetMint: "BONK", Operator: "gt"}
	if err := s.Save(ctx, 7, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Get(ctx, 7)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if *got != *want {
		t.Errorf("Get = %+v, want %+v", got, want)
	}
	if ttl := mr.TTL("session:7"); ttl != 10*time.Minute {
		t.Errorf("TTL = %v, want 10m", ttl)
	}
}

func TestSessionExpires(t *testing.T) {
	s, mr := setupTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, 8, &State{Flow: "newalert", Step: "kind"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	mr.FastForward(11 * time.Minute)
	if _, err := s.Get(ctx, 8); !errors.Is(err, ErrNoSession) {
		t.Errorf("Get after expiry = %v, want ErrNoSession", err)
	}
}

func TestClear(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, 9, &State{Flow: "newalert", Step: "kind"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Clear(ctx, 9); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := s.Get(ctx, 9); !errors.Is(err, ErrNoSession) {
		t.Errorf("Get after Clear = %v, want ErrNoSession", err)
	}
	if err := s.Clear(ctx, 9); err != nil {
		t.Errorf("Clear of absent session: %v", err)
	}
}

func TestCorruptEntryIsDropped(t *testing.T) {
	s, mr := setupTestStore(t)
	if err := mr.Set("session:10", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := s.Get(context.Background(), 10); !errors.Is(err, ErrNoSession) {
		t.Errorf("Get = %v, want ErrNoSession", err)
	}
	if mr.Exists("session:10") {
		t.Error("corrupt entry should be deleted")
	}
}
