package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCachebasic(t *testing.T) {
	c := New[string]()

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("k", "v", time.Minute)
	got, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", got)

	c.Delete("k")
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestTTLCacheExpiry(t *testing.T) {
	c := New[int]()

	c.Set("k", 1, 10*time.Millisecond)
	_, ok := c.Get("k")
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestTTLCacheNonPositiveTTL(t *testing.T) {
	c := New[int]()

	c.Set("k", 1, 0)
	_, ok := c.Get("k")
	assert.False(t, ok)

	c.Set("k", 1, -time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestTTLCacheExpiredEntryEvictedOnGet(t *testing.T) {
	c := New[int]()

	c.Set("dead", 2, time.Nanosecond)
	time.Sleep(time.Millisecond)

	_, ok := c.Get("dead")
	assert.False(t, ok)
	assert.Empty(t, c.items)
}

func TestTTLCacheDeleteFunc(t *testing.T) {
	c := New[int]()

	c.Set("odd", 1, time.Minute)
	c.Set("even", 2, time.Minute)
	c.Set("dead", 4, time.Nanosecond)
	time.Sleep(time.Millisecond)

	c.DeleteFunc(func(v int) bool { return v%2 == 0 })

	_, ok := c.Get("odd")
	assert.True(t, ok)
	_, ok = c.Get("even")
	assert.False(t, ok)
	assert.Len(t, c.items, 1)
}
