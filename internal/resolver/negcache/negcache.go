// Package negcache implements the resolver's negative cache: tickers that
// yielded no ISIN after the full resolution cascade are remembered for a
// short TTL so repeated lookups skip network work entirely. Backed by Redis
// when the config's redis_addr is set, falling back to an in-process TTL map
// otherwise.
package negcache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache records and checks negative resolution results.
type Cache interface {
	// IsNegative reports whether ticker is currently within its negative-TTL
	// window.
	IsNegative(ctx context.Context, ticker string) (bool, error)
	// MarkNegative records that ticker failed to resolve, effective for ttl.
	MarkNegative(ctx context.Context, ticker string, ttl time.Duration) error
}

// memEntry is one in-process negative cache record.
type memEntry struct {
	expires time.Time
}

// MemCache is the in-process TTL-map fallback used when no Redis address is
// configured.
type MemCache struct {
	mu      sync.RWMutex
	entries map[string]memEntry
}

// NewMemCache creates an empty in-process negative cache.
func NewMemCache() *MemCache {
	return &MemCache{entries: make(map[string]memEntry)}
}

// IsNegative reports whether ticker has an unexpired negative entry.
func (c *MemCache) IsNegative(ctx context.Context, ticker string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[ticker]
	if !ok {
		return false, nil
	}
	if time.Now().After(e.expires) {
		return false, nil
	}
	return true, nil
}

// MarkNegative records ticker as unresolved for ttl.
func (c *MemCache) MarkNegative(ctx context.Context, ticker string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[ticker] = memEntry{expires: time.Now().Add(ttl)}
	return nil
}

// Len returns the number of entries currently tracked, expired or not;
// useful for tests and metrics.
func (c *MemCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

const keyPrefix = "prism:negcache:"

// RedisCache is the Redis-backed negative cache, used when multiple process
// instances should share resolution state.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing Redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// IsNegative reports whether ticker has an unexpired negative entry in Redis.
func (c *RedisCache) IsNegative(ctx context.Context, ticker string) (bool, error) {
	n, err := c.client.Exists(ctx, keyPrefix+ticker).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkNegative writes a negative entry with the given TTL via SET ... EX.
func (c *RedisCache) MarkNegative(ctx context.Context, ticker string, ttl time.Duration) error {
	return c.client.Set(ctx, keyPrefix+ticker, "1", ttl).Err()
}

// NewFromEnv builds a RedisCache from addr if non-empty, otherwise returns a
// MemCache. This is the constructor the resolver uses at startup.
func NewFromEnv(addr string) Cache {
	if addr == "" {
		return NewMemCache()
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	return NewRedisCache(client)
}
