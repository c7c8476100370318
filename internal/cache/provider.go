package cache

import (
	"context"
	"errors"
	"time"
)

// Provider defines the minimal cache operations needed by the query layer.
// Implementations must be safe for concurrent use; the provider is the only
// process-wide shared state between investigations.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss signals that a cache key was not found.
var ErrCacheMiss = errors.New("cache miss")

// DefaultTTL is the query-result expiry applied when the configuration does
// not override it.
const DefaultTTL = 60 * time.Second

// NoopProvider implements Provider but never stores data. Used when caching
// is disabled and as the deterministic substitute in tests.
type NoopProvider struct{}

// Get always returns ErrCacheMiss.
func (NoopProvider) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

// Set discards the value and returns nil.
func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

// Del is a no-op for the noop cache.
func (NoopProvider) Del(context.Context, string) error { return nil }

// Close is a no-op.
func (NoopProvider) Close() error { return nil }
