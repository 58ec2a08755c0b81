// Package cache implements a byte-bounded TTL+LRU memoization cache. It
// never persists; dropping it loses nothing but recomputation time.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/marketscout/crawler/internal/pipeline"
)

type entry struct {
	key        string
	value      []byte
	insertedAt time.Time
	ttl        time.Duration
	size       int64
	hits       int64
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries   int
	SizeBytes int64
	MaxBytes  int64
	Hits      int64
	Misses    int64
	Evictions int64
	Expired   int64
}

// Cache is a concurrency-safe bounded cache. The access-ordered list is
// updated on every Get and Put; oldest entries are evicted first.
type Cache struct {
	mu         sync.Mutex
	maxBytes   int64
	defaultTTL time.Duration
	size       int64
	order      *list.List // front = most recently used
	items      map[string]*list.Element
	clock      pipeline.Clock

	hits      int64
	misses    int64
	evictions int64
	expired   int64
}

// New builds a cache capped at maxBytes. defaultTTL applies when Put is
// called with ttl <= 0.
func New(maxBytes int64, defaultTTL time.Duration, clock pipeline.Clock) *Cache {
	if clock == nil {
		clock = pipeline.SystemClock{}
	}
	return &Cache{
		maxBytes:   maxBytes,
		defaultTTL: defaultTTL,
		order:      list.New(),
		items:      make(map[string]*list.Element),
		clock:      clock,
	}
}

// Get returns the cached value and whether it was present. An entry past its
// TTL is removed and reported as a miss.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	e := elem.Value.(*entry)
	if e.ttl > 0 && c.clock.Now().Sub(e.insertedAt) > e.ttl {
		c.removeLocked(elem)
		c.expired++
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(elem)
	e.hits++
	c.hits++
	return e.value, true
}

// Put stores a value, evicting least-recently-used entries until it fits.
// A value larger than the whole cache is rejected outright.
func (c *Cache) Put(key string, value []byte, ttl time.Duration) bool {
	size := int64(len(key) + len(value))
	if size > c.maxBytes {
		return false
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeLocked(elem)
	}
	for c.size+size > c.maxBytes {
		oldest := c.order.Back()
		if oldest == nil {
			return false
		}
		c.removeLocked(oldest)
		c.evictions++
	}

	e := &entry{
		key:        key,
		value:      value,
		insertedAt: c.clock.Now(),
		ttl:        ttl,
		size:       size,
	}
	c.items[key] = c.order.PushFront(e)
	c.size += size
	return true
}

// Invalidate drops a single key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.removeLocked(elem)
	}
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   len(c.items),
		SizeBytes: c.size,
		MaxBytes:  c.maxBytes,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Expired:   c.expired,
	}
}

func (c *Cache) removeLocked(elem *list.Element) {
	e := elem.Value.(*entry)
	c.order.Remove(elem)
	delete(c.items, e.key)
	c.size -= e.size
}
