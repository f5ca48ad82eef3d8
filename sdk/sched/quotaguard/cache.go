package quotaguard

import (
	"sync"
	"time"
)

type cacheEntry struct {
	summary   Summary
	fetchedAt time.Time
}

// Cache is a per-account TTL cache over quota summaries. Entries are evicted
// lazily on read once they age past the TTL. Concurrent preflight checks for
// the same account may both miss and fetch twice; the fetch is idempotent and
// the cache keeps the last write.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[int]cacheEntry
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock overrides the time source, for deterministic TTL tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCache constructs a Cache with the given TTL.
func NewCache(ttl time.Duration, opts ...CacheOption) *Cache {
	c := &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[int]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached summary when its age is within the TTL, evicting
// and reporting a miss otherwise.
func (c *Cache) Get(accountIndex int) (Summary, bool) {
	if c == nil {
		return Summary{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[accountIndex]
	if !ok {
		return Summary{}, false
	}
	if c.now().Sub(e.fetchedAt) > c.ttl {
		delete(c.entries, accountIndex)
		return Summary{}, false
	}
	return e.summary, true
}

// Set stores a fresh summary for an account.
func (c *Cache) Set(accountIndex int, summary Summary) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[accountIndex] = cacheEntry{summary: summary, fetchedAt: c.now()}
}

// Invalidate drops the cached summary for one account.
func (c *Cache) Invalidate(accountIndex int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, accountIndex)
}

// Clear drops every cached summary.
func (c *Cache) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[int]cacheEntry)
}
