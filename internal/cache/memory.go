package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Provider with per-entry expiry. Expired entries
// are dropped lazily on read and swept opportunistically on write.
type Memory struct {
	mu   sync.RWMutex
	data map[string]entry
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]entry)}
}

// Get returns the cached bytes for key, or ErrCacheMiss when absent or expired.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	it, ok := m.data[key]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrCacheMiss
	}
	if !it.expiresAt.IsZero() && time.Now().After(it.expiresAt) {
		m.mu.Lock()
		delete(m.data, key)
		m.mu.Unlock()
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), it.value...), nil
}

// Set stores a copy of value under key. A non-positive ttl stores the entry
// without expiry.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}

	m.mu.Lock()
	m.data[key] = entry{value: append([]byte(nil), value...), expiresAt: expires}
	if len(m.data)%64 == 0 {
		m.sweepLocked()
	}
	m.mu.Unlock()
	return nil
}

// Del removes an entry.
func (m *Memory) Del(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// Close discards all entries.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.data = make(map[string]entry)
	m.mu.Unlock()
	return nil
}

// Len reports the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *Memory) sweepLocked() {
	now := time.Now()
	for key, it := range m.data {
		if !it.expiresAt.IsZero() && now.After(it.expiresAt) {
			delete(m.data, key)
		}
	}
}
