package authz

import (
	"fmt"
	"sync"
	"time"
)

type cacheEntry struct {
	outcome   Outcome
	expiresAt time.Time
}

// Cache is a TTL-bounded authorization decision cache keyed by
// (tenant_id, actor_id, room_id, source). On reaching maxEntries it drops
// every entry rather than tracking per-entry recency — the simplest
// policy that still bounds memory use.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]cacheEntry
	maxEntries int
}

// NewCache returns an empty cache bounded at maxEntries.
func NewCache(maxEntries int) *Cache {
	return &Cache{entries: make(map[string]cacheEntry), maxEntries: maxEntries}
}

// CacheKey builds the composite cache key for a request.
func CacheKey(req Request) string {
	return fmt.Sprintf("%s\x00%s\x00%s\x00%s", req.TenantID, req.ActorID, req.RoomID, req.Source)
}

// Get returns the cached outcome for key if present and unexpired.
func (c *Cache) Get(key string) (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Outcome{}, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return Outcome{}, false
	}
	return e.outcome, true
}

// Set stores outcome under key with the given ttl, dropping the entire
// cache first if it is already at capacity.
func (c *Cache) Set(key string, outcome Outcome, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.entries = make(map[string]cacheEntry, c.maxEntries)
	}
	c.entries[key] = cacheEntry{outcome: outcome, expiresAt: time.Now().Add(ttl)}
}
