package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryGetSet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.Get(ctx, "missing"); err != ErrCacheMiss {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}

	if err := m.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("expected v, got %q", got)
	}
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Set(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := m.Get(ctx, "k"); err != ErrCacheMiss {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestMemoryDelAndClose(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_ = m.Set(ctx, "a", []byte("1"), 0)
	_ = m.Set(ctx, "b", []byte("2"), 0)
	if err := m.Del(ctx, "a"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, err := m.Get(ctx, "a"); err != ErrCacheMiss {
		t.Fatalf("expected miss after delete, got %v", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if m.Len() != 0 {
		t.Fatalf("expected empty cache after close, got %d entries", m.Len())
	}
}

func TestKeyStableAcrossParamOrder(t *testing.T) {
	a := Key("search_logs", map[string]string{"query": "timeout", "window": "1h"})
	b := Key("search_logs", map[string]string{"window": "1h", "query": "timeout"})
	if a != b {
		t.Fatalf("expected identical keys, got %q and %q", a, b)
	}

	c := Key("search_logs", map[string]string{"query": "timeout", "window": "2h"})
	if a == c {
		t.Fatalf("expected different keys for different params")
	}

	d := Key("error_histogram", map[string]string{"query": "timeout", "window": "1h"})
	if a == d {
		t.Fatalf("expected query type to distinguish keys")
	}
}
