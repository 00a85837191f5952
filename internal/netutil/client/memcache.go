package client

import (
	"context"
	"sync"
	"time"
)

// MemCache is an in-process, time-expiring HTTP response cache satisfying
// Wrapper's Cache interface. Expired entries are never returned by Get;
// they stay in the map until Set overwrites the same key.
type MemCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value   []byte
	expires time.Time
}

// NewMemCache returns an empty MemCache. No goroutine or call path removes
// stale entries.
func NewMemCache() *MemCache {
	return &MemCache{entries: make(map[string]cacheEntry)}
}

// Get returns the cached value for key if present and unexpired.
func (c *MemCache) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expires) {
		return nil, false
	}
	return entry.value, true
}

// Set stores value under key for ttl.
func (c *MemCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expires: time.Now().Add(ttl)}
}

// Len reports the number of entries, including expired ones, for
// diagnostics.
func (c *MemCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
