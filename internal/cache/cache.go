package cache

import (
	"context"
	"sync"
	"time"

	"github.com/mholloway/skycast/internal/models"
)

// Cache defines the interface for forecast caching implementations.
// Get returns cached data if present and not expired. GetStale returns
// expired entries whose fetch time is still within maxStaleAge, used as a
// fallback when the upstream API is unavailable. Set stores data with TTL.
type Cache interface {
	Get(ctx context.Context, key string) (models.ForecastSeries, bool, error)
	GetStale(ctx context.Context, key string, maxStaleAge time.Duration) (models.ForecastSeries, bool, error)
	Set(ctx context.Context, key string, value models.ForecastSeries, ttl time.Duration) error
}

// InMemoryCache implements Cache using an in-memory map with TTL-based
// expiration. Expired entries are retained past their TTL so GetStale can
// serve them; they are removed once older than the stale window requested.
// Safe for concurrent use.
type InMemoryCache struct {
	mu   sync.RWMutex
	data map[string]cacheEntry
}

// cacheEntry stores a cached forecast with its expiration timestamp.
type cacheEntry struct {
	value     models.ForecastSeries
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
	}
}

// Get retrieves a cached forecast for the key if present and not expired.
// Returns (data, true, nil) on cache hit, (zero, false, nil) on miss or
// expiration. Expired entries are left in place for GetStale.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.ForecastSeries, bool, error) {
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return models.ForecastSeries{}, false, nil
	}

	if time.Now().After(entry.expiresAt) {
		return models.ForecastSeries{}, false, nil
	}

	return entry.value, true, nil
}

// GetStale retrieves a cached forecast even if expired, as long as it was
// fetched within maxStaleAge. Entries older than maxStaleAge are removed.
func (c *InMemoryCache) GetStale(ctx context.Context, key string, maxStaleAge time.Duration) (models.ForecastSeries, bool, error) {
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return models.ForecastSeries{}, false, nil
	}

	if time.Since(entry.value.FetchedAt) > maxStaleAge {
		c.mu.Lock()
		delete(c.data, key)
		c.mu.Unlock()
		return models.ForecastSeries{}, false, nil
	}

	return entry.value, true, nil
}

// Set stores a forecast in cache with the specified TTL duration.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.ForecastSeries, ttl time.Duration) error {
	c.mu.Lock()
	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	c.mu.Unlock()
	return nil
}
