package client

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Set(ctx, "k", []byte(`{"info":null}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	data, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != `{"info":null}` {
		t.Fatalf("unexpected data: %q", data)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestMemoryStoreCopiesData(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	original := []byte("record")
	if err := s.Set(ctx, "k", original); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	original[0] = 'X'

	data, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != "record" {
		t.Fatalf("stored data must be isolated from the caller, got %q", data)
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	testStore(t, NewRedisStore(rdb))
}

func TestConfigNormalize(t *testing.T) {
	cfg := Config{}
	if err := cfg.normalize(); err == nil {
		t.Fatal("expected an error without an endpoint")
	}

	cfg = Config{Endpoint: "ftp://example.test"}
	if err := cfg.normalize(); err == nil {
		t.Fatal("expected an error for a non-http endpoint")
	}

	cfg = Config{Endpoint: "https://auth.example.test/"}
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if cfg.Endpoint != "https://auth.example.test" {
		t.Fatalf("trailing slash must be trimmed, got %q", cfg.Endpoint)
	}
	if cfg.EntryPath != "/.webfront" {
		t.Fatalf("unexpected entry path: %q", cfg.EntryPath)
	}
	if cfg.HTTPClient == nil {
		t.Fatal("expected a default HTTP client")
	}
	if cfg.MaxTimerInterval != defaultMaxTimerInterval {
		t.Fatalf("unexpected timer cap: %v", cfg.MaxTimerInterval)
	}
}
