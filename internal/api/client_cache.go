package api

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// lruCache is a thread-safe LRU cache of response bodies with a freshness window
type lruCache struct {
	capacity int
	ttl      time.Duration
	cache    map[string]*list.Element
	lru      *list.List
	mu       sync.Mutex
	now      func() time.Time
}

type cacheEntry struct {
	key      string
	body     []byte
	storedAt time.Time
}

func newLRUCache(capacity int, ttl time.Duration) *lruCache {
	return &lruCache{
		capacity: capacity,
		ttl:      ttl,
		cache:    make(map[string]*list.Element),
		lru:      list.New(),
		now:      time.Now,
	}
}

// Get returns a fresh body for key. Expired entries are evicted on access.
func (c *lruCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.cache[key]
	if !exists {
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if c.ttl > 0 && c.now().Sub(entry.storedAt) > c.ttl {
		c.lru.Remove(elem)
		delete(c.cache, key)
		return nil, false
	}

	c.lru.MoveToFront(elem)
	return entry.body, true
}

// Put adds or refreshes a body
func (c *lruCache) Put(key string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.cache[key]; exists {
		c.lru.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.body = body
		entry.storedAt = c.now()
		return
	}

	if c.lru.Len() >= c.capacity {
		if oldest := c.lru.Back(); oldest != nil {
			c.lru.Remove(oldest)
			delete(c.cache, oldest.Value.(*cacheEntry).key)
		}
	}

	elem := c.lru.PushFront(&cacheEntry{key: key, body: body, storedAt: c.now()})
	c.cache[key] = elem
}

// RemovePrefix evicts every key starting with prefix and returns how many were dropped
func (c *lruCache) RemovePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, elem := range c.cache {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(elem)
			delete(c.cache, key)
			removed++
		}
	}
	return removed
}

// Len returns the current number of items in the cache
func (c *lruCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
