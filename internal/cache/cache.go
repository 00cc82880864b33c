package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// DefaultTTL is how long a normalized response stays fresh.
const DefaultTTL = 300 * time.Second

// Cache defines the interface for response caching implementations.
// Values are encoded normalized documents. Get returns cached data if present
// and not expired, Set stores data with TTL.
type Cache interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error
}

// InMemoryCache implements Cache using a mutex-guarded map with TTL-based
// expiration. Expired entries are removed on access; nothing else evicts, so
// the map grows with the number of distinct keys seen within a process lifetime.
type InMemoryCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
	now  func() time.Time
}

// cacheEntry stores a cached value with the time it was written.
type cacheEntry struct {
	value    json.RawMessage
	storedAt time.Time
	ttl      time.Duration
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return NewInMemoryCacheWithClock(time.Now)
}

// NewInMemoryCacheWithClock creates an in-memory cache reading time from now.
func NewInMemoryCacheWithClock(now func() time.Time) *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
		now:  now,
	}
}

// Get retrieves the cached value for key while now - storedAt < ttl.
// Returns (value, true, nil) on hit, (nil, false, nil) on miss or expiration.
// Expired entries are deleted.
func (c *InMemoryCache) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}
	if c.now().Sub(entry.storedAt) >= entry.ttl {
		delete(c.data, key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set stores value under key stamped with the current time, replacing any
// previous entry.
func (c *InMemoryCache) Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = cacheEntry{
		value:    value,
		storedAt: c.now(),
		ttl:      ttl,
	}
	return nil
}

// Len returns the number of stored entries, expired ones included until
// their next lookup.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
