package matcher

import (
	"sync"
	"time"
)

// ttlCache is a process-lifetime in-memory cache with per-entry TTL, keyed
// by the composite platform:id post key. It is distinct from the caller's
// durable storage.
type ttlCache[T any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	nowFn   func() time.Time
	entries map[string]cacheEntry[T]
}

type cacheEntry[T any] struct {
	value    T
	cachedAt time.Time
}

func newTTLCache[T any](ttl time.Duration, nowFn func() time.Time) *ttlCache[T] {
	return &ttlCache[T]{ttl: ttl, nowFn: nowFn, entries: map[string]cacheEntry[T]{}}
}

func (c *ttlCache[T]) get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.nowFn().Sub(e.cachedAt) > c.ttl {
		var zero T
		return zero, false
	}
	return e.value, true
}

func (c *ttlCache[T]) set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry[T]{value: value, cachedAt: c.nowFn()}
}

func (c *ttlCache[T]) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]cacheEntry[T]{}
}
