// Package cache provides a small thread-safe TTL cache. The authorization
// service uses it to memoize bearer-token resolution, which otherwise costs a
// store read plus a directory lookup per request.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value      V
	expiration time.Time
}

// TTLCache maps string keys to values that expire.
type TTLCache[V any] struct {
	mu    sync.RWMutex
	items map[string]entry[V]
}

// New returns an empty cache.
func New[V any]() *TTLCache[V] {
	return &TTLCache[V]{items: make(map[string]entry[V])}
}

// Get returns the value for key if present and unexpired. Expired entries
// are evicted on access so the map does not grow with dead tokens.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if time.Now().After(e.expiration) {
		delete(c.items, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key for ttl. Non-positive ttl stores nothing.
func (c *TTLCache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry[V]{value: value, expiration: time.Now().Add(ttl)}
}

// Delete removes key.
func (c *TTLCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// DeleteFunc removes every entry whose value matches pred. Expired entries
// encountered during the walk are dropped as well.
func (c *TTLCache[V]) DeleteFunc(pred func(V) bool) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.items {
		if now.After(e.expiration) || pred(e.value) {
			delete(c.items, k)
		}
	}
}
