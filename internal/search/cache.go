package search

import (
	"sync"
	"time"
)

// DefaultCacheTTL bounds how stale a cached response may get even without an
// explicit invalidation.
const DefaultCacheTTL = time.Minute

// Cache is a TTL cache for search responses keyed by normalized request. The
// scheduler drops the whole cache whenever any job reaches a terminal state,
// so entries never outlive an index change by more than the invalidation.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	resp    *Response
	expires time.Time
}

// NewCache creates a cache with the given TTL; ttl <= 0 uses DefaultCacheTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached response for key if present and unexpired.
func (c *Cache) Get(key string) (*Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return e.resp, true
}

// Put stores a response under key.
func (c *Cache) Put(key string, resp *Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{resp: resp, expires: c.now().Add(c.ttl)}
}

// Invalidate drops every entry. Implements the scheduler's cache hook.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Len reports the live entry count, expired entries included until touched.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
