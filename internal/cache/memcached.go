package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/mholloway/skycast/internal/models"
)

const keyPrefix = "skycast:"

// memcachedEnvelope wraps a cached forecast with its freshness deadline so
// Get can distinguish fresh entries from stale ones still held for fallback.
type memcachedEnvelope struct {
	Value     models.ForecastSeries `json:"value"`
	ExpiresAt time.Time             `json:"expiresAt"`
}

// MemcachedCache implements Cache using memcached. Entries are stored past
// their freshness TTL by staleWindow so GetStale can serve them when the
// upstream API is down.
type MemcachedCache struct {
	client      *memcache.Client
	staleWindow time.Duration
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero. staleWindow extends
// the memcached expiration beyond the freshness TTL to retain stale entries.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int, staleWindow time.Duration) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client, staleWindow: staleWindow}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (c *MemcachedCache) key(k string) string {
	return keyPrefix + k
}

// Get implements Cache.Get. Returns false, nil on cache miss; false, err on error.
func (c *MemcachedCache) Get(ctx context.Context, key string) (models.ForecastSeries, bool, error) {
	env, ok, err := c.fetch(ctx, key)
	if err != nil || !ok {
		return models.ForecastSeries{}, false, err
	}
	if time.Now().After(env.ExpiresAt) {
		return models.ForecastSeries{}, false, nil
	}
	return env.Value, true, nil
}

// GetStale implements Cache.GetStale. Entries past the freshness deadline are
// returned as long as they were fetched within maxStaleAge.
func (c *MemcachedCache) GetStale(ctx context.Context, key string, maxStaleAge time.Duration) (models.ForecastSeries, bool, error) {
	env, ok, err := c.fetch(ctx, key)
	if err != nil || !ok {
		return models.ForecastSeries{}, false, err
	}
	if time.Since(env.Value.FetchedAt) > maxStaleAge {
		return models.ForecastSeries{}, false, nil
	}
	return env.Value, true, nil
}

func (c *MemcachedCache) fetch(ctx context.Context, key string) (memcachedEnvelope, bool, error) {
	if ctx.Err() != nil {
		return memcachedEnvelope{}, false, ctx.Err()
	}
	item, err := c.client.Get(c.key(key))
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return memcachedEnvelope{}, false, nil
		}
		return memcachedEnvelope{}, false, err
	}
	var env memcachedEnvelope
	if err := json.Unmarshal(item.Value, &env); err != nil {
		return memcachedEnvelope{}, false, err
	}
	return env, true, nil
}

// Set implements Cache.Set. The memcached expiration covers the freshness TTL
// plus the stale window.
func (c *MemcachedCache) Set(ctx context.Context, key string, value models.ForecastSeries, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(memcachedEnvelope{
		Value:     value,
		ExpiresAt: time.Now().Add(ttl),
	})
	if err != nil {
		return err
	}
	expSec := int32((ttl + c.staleWindow).Seconds())
	const maxRelativeExp = 30 * 24 * 60 * 60 // 30 days
	if expSec <= 0 || expSec > maxRelativeExp {
		expSec = 3600 // fallback 1h if invalid
	}
	return c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      raw,
		Expiration: expSec,
	})
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
