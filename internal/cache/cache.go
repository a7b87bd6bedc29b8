// Package cache is a TTL request cache keyed by string.
//
// An entry is valid while now-ts < ttl. Expired entries are logically absent
// and are evicted by the read that finds them. Memory is additionally bounded
// by an LRU so keys that are never read again cannot accumulate.
package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultTTL        = 5 * time.Minute
	DefaultMaxEntries = 1024
)

type entry[T any] struct {
	value T
	ts    time.Time
}

// Options configures a Cache. Zero values take the defaults.
type Options struct {
	TTL        time.Duration
	MaxEntries int
	Now        func() time.Time
}

// Cache is safe for concurrent use.
type Cache[T any] struct {
	mu  sync.RWMutex
	ttl time.Duration
	now func() time.Time

	// wmu orders writes against expiry eviction.
	wmu     sync.Mutex
	entries *lru.Cache[string, entry[T]]

	hits   func(key string)
	misses func(key string)
}

// New creates a cache with the given options.
func New[T any](opts Options) *Cache[T] {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	// lru.New only fails for a non-positive size.
	entries, _ := lru.New[string, entry[T]](opts.MaxEntries)
	return &Cache[T]{
		ttl:     opts.TTL,
		now:     opts.Now,
		entries: entries,
	}
}

// OnAccess installs hit and miss callbacks (either may be nil).
func (c *Cache[T]) OnAccess(hit, miss func(key string)) {
	c.mu.Lock()
	c.hits, c.misses = hit, miss
	c.mu.Unlock()
}

// Get returns the value for key if present and not expired.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	ttl, now, hit, miss := c.ttl, c.now(), c.hits, c.misses
	c.mu.RUnlock()

	e, ok := c.entries.Get(key)
	if ok && now.Sub(e.ts) < ttl {
		if hit != nil {
			hit(key)
		}
		return e.value, true
	}
	if ok {
		c.evictStale(key, e.ts)
	}
	if miss != nil {
		miss(key)
	}
	var zero T
	return zero, false
}

// Set stores value under key, replacing any previous value and timestamp.
func (c *Cache[T]) Set(key string, value T) {
	c.mu.RLock()
	now := c.now()
	c.mu.RUnlock()
	c.wmu.Lock()
	c.entries.Add(key, entry[T]{value: value, ts: now})
	c.wmu.Unlock()
}

// evictStale removes key only if it still holds the entry stamped ts, so a
// Set that raced the expired read survives.
func (c *Cache[T]) evictStale(key string, ts time.Time) bool {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	cur, ok := c.entries.Peek(key)
	if !ok || !cur.ts.Equal(ts) {
		return false
	}
	c.entries.Remove(key)
	return true
}

// Delete removes key.
func (c *Cache[T]) Delete(key string) {
	c.entries.Remove(key)
}

// Clear removes every entry.
func (c *Cache[T]) Clear() {
	c.entries.Purge()
}

// Len counts physically present entries, expired or not.
func (c *Cache[T]) Len() int {
	return c.entries.Len()
}

// TTL returns the current time-to-live.
func (c *Cache[T]) TTL() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ttl
}

// SetTTL changes the time-to-live. It applies to existing entries too.
func (c *Cache[T]) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.ttl = ttl
	c.mu.Unlock()
}

// Prune evicts every expired entry and returns how many were removed.
func (c *Cache[T]) Prune() int {
	c.mu.RLock()
	ttl, now := c.ttl, c.now()
	c.mu.RUnlock()

	removed := 0
	for _, key := range c.entries.Keys() {
		e, ok := c.entries.Peek(key)
		if ok && now.Sub(e.ts) >= ttl && c.evictStale(key, e.ts) {
			removed++
		}
	}
	return removed
}

// GetOrLoad returns the cached value for key, or calls load and caches its
// result. Load errors are returned and nothing is stored.
func (c *Cache[T]) GetOrLoad(ctx context.Context, key string, load func(context.Context) (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	c.Set(key, v)
	return v, nil
}
