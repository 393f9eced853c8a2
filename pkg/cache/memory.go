package cache

import (
	"context"
	"fmt"
	"path"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jonboulle/clockwork"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is a process-local Cache for single-instance deployments and
// tests. The LRU bounds memory and enforces maxTTL; per-entry TTLs shorter
// than that are checked on read against the clock.
type MemoryCache struct {
	entries *lru.LRU[string, memoryEntry]
	clock   clockwork.Clock
	maxTTL  time.Duration
}

// NewMemoryCache creates a cache holding at most size entries for at most maxTTL.
func NewMemoryCache(size int, maxTTL time.Duration, clock clockwork.Clock) *MemoryCache {
	if size <= 0 {
		size = 10000
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryCache{
		entries: lru.NewLRU[string, memoryEntry](size, nil, maxTTL),
		clock:   clock,
		maxTTL:  maxTTL,
	}
}

func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	if !entry.expiresAt.IsZero() && !c.clock.Now().Before(entry.expiresAt) {
		c.entries.Remove(key)
		return nil, ErrCacheMiss
	}
	return entry.value, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 || (c.maxTTL > 0 && ttl > c.maxTTL) {
		ttl = c.maxTTL
	}
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = c.clock.Now().Add(ttl)
	}
	c.entries.Add(key, entry)
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		c.entries.Remove(key)
	}
	return nil
}

// DeletePattern removes every key matching the glob pattern.
func (c *MemoryCache) DeletePattern(ctx context.Context, pattern string) error {
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	for _, key := range c.entries.Keys() {
		if ok, _ := path.Match(pattern, key); ok {
			c.entries.Remove(key)
		}
	}
	return nil
}

// Len reports the number of live entries.
func (c *MemoryCache) Len() int {
	return c.entries.Len()
}

// NoopCache never stores anything. It is used when caching is disabled so
// every read goes through the computation path.
type NoopCache struct{}

func (NoopCache) Get(ctx context.Context, key string) ([]byte, error) { return nil, ErrCacheMiss }

func (NoopCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

func (NoopCache) Delete(ctx context.Context, keys ...string) error { return nil }
