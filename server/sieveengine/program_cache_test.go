package sieveengine

import (
	"testing"
	"time"

	"github.com/migadu/sora-sieve/sieve/interp"
	"github.com/stretchr/testify/assert"
)

func TestProgramCacheLRU(t *testing.T) {
	c := NewProgramCache(2, 0)
	a, b, d := &interp.Program{}, &interp.Program{}, &interp.Program{}

	c.Set("a", a)
	c.Set("b", b)
	got, ok := c.Get("a")
	assert.True(t, ok)
	assert.Same(t, a, got)

	c.Set("d", d)
	assert.Equal(t, 2, c.Len())
	_, ok = c.Get("b")
	assert.False(t, ok, "least recently used entry must be evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("d")
	assert.True(t, ok)

	hits, misses := c.Stats()
	assert.Equal(t, uint64(3), hits)
	assert.Equal(t, uint64(1), misses)
}

func TestProgramCacheTTL(t *testing.T) {
	c := NewProgramCache(10, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("k", &interp.Program{})
	_, ok := c.Get("k")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestProgramCacheReplaceAndInvalidate(t *testing.T) {
	c := NewProgramCache(0, 0)
	first, second := &interp.Program{}, &interp.Program{}

	c.Set("k", first)
	c.Set("k", second)
	assert.Equal(t, 1, c.Len())
	got, _ := c.Get("k")
	assert.Same(t, second, got)

	c.Invalidate("k")
	c.Invalidate("missing")
	_, ok := c.Get("k")
	assert.False(t, ok)
}
