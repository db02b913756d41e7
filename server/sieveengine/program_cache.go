package sieveengine

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/migadu/sora-sieve/pkg/metrics"
	"github.com/migadu/sora-sieve/sieve/interp"
)

type programEntry struct {
	key       string
	prog      *interp.Program
	expiresAt time.Time
}

// ProgramCache keeps loaded programs in memory, least recently used first
// out. Entries also expire after a TTL; zero disables expiry.
type ProgramCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
	maxSize int
	ttl     time.Duration
	now     func() time.Time

	hits   uint64
	misses uint64
}

// NewProgramCache creates a cache holding at most maxSize programs.
func NewProgramCache(maxSize int, ttl time.Duration) *ProgramCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &ProgramCache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the program cached under key.
func (c *ProgramCache) Get(key string) (*interp.Program, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		atomic.AddUint64(&c.misses, 1)
		metrics.BinaryCacheOperations.WithLabelValues("memory_get", "miss").Inc()
		return nil, false
	}
	entry := el.Value.(*programEntry)
	if c.ttl > 0 && c.now().After(entry.expiresAt) {
		c.removeElement(el)
		atomic.AddUint64(&c.misses, 1)
		metrics.BinaryCacheOperations.WithLabelValues("memory_get", "expired").Inc()
		return nil, false
	}
	c.order.MoveToFront(el)
	atomic.AddUint64(&c.hits, 1)
	metrics.BinaryCacheOperations.WithLabelValues("memory_get", "hit").Inc()
	return entry.prog, true
}

// Set stores prog under key, evicting the least recently used entry when
// full.
func (c *ProgramCache) Set(key string, prog *interp.Program) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)
	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*programEntry)
		entry.prog = prog
		entry.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return
	}
	for c.order.Len() >= c.maxSize {
		c.removeElement(c.order.Back())
		metrics.BinaryCacheOperations.WithLabelValues("memory_evict", "success").Inc()
	}
	c.entries[key] = c.order.PushFront(&programEntry{key: key, prog: prog, expiresAt: expiresAt})
}

// Invalidate drops key.
func (c *ProgramCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeElement(el)
	}
}

// Len returns the number of cached programs, expired ones included until
// they are looked up.
func (c *ProgramCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns the hit and miss counters.
func (c *ProgramCache) Stats() (hits, misses uint64) {
	return atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses)
}

func (c *ProgramCache) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.entries, el.Value.(*programEntry).key)
}
