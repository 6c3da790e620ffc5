package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// LRU is a bounded least-recently-used cache with per-entry TTL.
// It is safe for concurrent use.
type LRU[V any] struct {
	mu        sync.Mutex
	capacity  int
	ttl       time.Duration
	items     map[string]*list.Element
	evictList *list.List

	// now is swappable for tests.
	now func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// NewLRU creates a cache holding at most capacity entries, each valid for
// ttl. A ttl of zero disables expiry.
func NewLRU[V any](capacity int, ttl time.Duration) *LRU[V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &LRU[V]{
		capacity:  capacity,
		ttl:       ttl,
		items:     make(map[string]*list.Element),
		evictList: list.New(),
		now:       time.Now,
	}
}

// Get returns the cached value for key, if present and unexpired.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	ent, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return zero, false
	}

	e := ent.Value.(*entry[V])
	if c.ttl > 0 && c.now().After(e.expiresAt) {
		c.removeElement(ent)
		c.misses.Add(1)
		return zero, false
	}

	c.hits.Add(1)
	c.evictList.MoveToFront(ent)
	return e.value, true
}

// Set stores value under key, evicting the least recently used entry when
// the cache is full.
func (c *LRU[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)

	if ent, ok := c.items[key]; ok {
		c.evictList.MoveToFront(ent)
		e := ent.Value.(*entry[V])
		e.value = value
		e.expiresAt = expiresAt
		return
	}

	ent := c.evictList.PushFront(&entry[V]{key: key, value: value, expiresAt: expiresAt})
	c.items[key] = ent

	if c.evictList.Len() > c.capacity {
		oldest := c.evictList.Back()
		if oldest != nil {
			c.removeElement(oldest)
		}
	}
}

// Delete removes key from the cache.
func (c *LRU[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		c.removeElement(ent)
	}
}

// Purge removes all entries.
func (c *LRU[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.evictList.Init()
}

// Len returns the number of entries currently cached, including entries
// that have expired but not yet been evicted.
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

// Stats returns hit/miss counters.
func (c *LRU[V]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *LRU[V]) removeElement(ent *list.Element) {
	c.evictList.Remove(ent)
	e := ent.Value.(*entry[V])
	delete(c.items, e.key)
}
