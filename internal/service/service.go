package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mholloway/skycast/internal/cache"
	"github.com/mholloway/skycast/internal/cities"
	"github.com/mholloway/skycast/internal/client"
	"github.com/mholloway/skycast/internal/models"
	"github.com/mholloway/skycast/internal/observability"
	"github.com/mholloway/skycast/internal/sky"
)

// ForecastService orchestrates forecast retrieval with a cache-aside pattern
// and composes live conditions with the sky renderer. Current conditions are
// kept in an in-process store refreshed by the background poller; cache misses
// there fall back to an on-demand upstream fetch.
type ForecastService struct {
	client          client.ForecastClient
	cache           cache.Cache
	registry        *cities.Registry
	ttl             time.Duration
	staleCacheTTL   time.Duration // Maximum age for stale cache fallback (0 = disabled)
	stampedeTracker *stampedeTracker
	coalescer       *requestCoalescer // Optional request coalescing (nil if disabled)

	condMu     sync.RWMutex
	conditions map[string]models.CurrentConditions

	rendMu    sync.Mutex
	renderers map[string]*sky.Renderer // per-city so the single-entry memo does not thrash
}

// NewForecastService creates a ForecastService with the provided dependencies.
// ttl specifies the forecast cache expiration; staleCacheTTL the maximum age
// for stale cache fallback (0 = disabled). coalesceEnabled and coalesceTimeout
// configure request coalescing (disabled if timeout 0).
func NewForecastService(cl client.ForecastClient, c cache.Cache, registry *cities.Registry, ttl, staleCacheTTL time.Duration, coalesceEnabled bool, coalesceTimeout time.Duration) *ForecastService {
	var coalescer *requestCoalescer
	if coalesceEnabled && coalesceTimeout > 0 {
		coalescer = newRequestCoalescer(coalesceTimeout)
	}
	return &ForecastService{
		client:          cl,
		cache:           c,
		registry:        registry,
		ttl:             ttl,
		staleCacheTTL:   staleCacheTTL,
		stampedeTracker: newStampedeTracker(),
		coalescer:       coalescer,
		conditions:      make(map[string]models.CurrentConditions),
		renderers:       make(map[string]*sky.Renderer),
	}
}

// loggerFromContext extracts a zap.Logger from request context if present.
// Returns nil if logger is not found or context is invalid.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return nil
}

// Cities lists the configured cities sorted by slug.
func (s *ForecastService) Cities() []cities.City {
	return s.registry.All()
}

// GetForecast retrieves an hourly forecast for the city using the cache-aside
// pattern: cache first, upstream on miss, cache populated on success, stale
// cache as a last resort when the upstream is unavailable.
func (s *ForecastService) GetForecast(ctx context.Context, slug string, metrics []string, hours int, units string) (models.ForecastSeries, error) {
	city, err := s.registry.Get(slug)
	if err != nil {
		return models.ForecastSeries{}, err
	}
	key := forecastKey(city.Slug, metrics, hours, units)
	start := time.Now()
	logger := loggerFromContext(ctx)

	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
	} else if ok {
		observability.CacheHitsTotal.WithLabelValues("forecast").Inc()
		if logger != nil {
			logger.Debug("cache hit", zap.String("city", city.Slug))
			logger.Debug("forecast served", zap.String("city", city.Slug), zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
		}
		return cached, nil
	}

	concurrentMisses := s.stampedeTracker.RecordMiss(key)
	defer s.stampedeTracker.RecordHit(key)

	if logger != nil {
		logger.Debug("cache miss, fetching upstream", zap.String("city", city.Slug))
		if concurrentMisses > 1 {
			logger.Warn("cache stampede", zap.String("city", city.Slug), zap.Int("concurrentMisses", concurrentMisses))
		}
	}

	fetch := func() (models.ForecastSeries, error) {
		series, err := s.client.GetHourlyForecast(ctx, city.Latitude, city.Longitude, metrics, hours, units)
		if err != nil {
			return models.ForecastSeries{}, err
		}
		series.City = city.Slug
		return series, nil
	}

	// Use coalescer if enabled to prevent concurrent upstream calls for same key
	var data models.ForecastSeries
	var upstreamErr error
	if s.coalescer != nil {
		data, upstreamErr = s.coalescer.GetOrDo(ctx, key, fetch)
	} else {
		data, upstreamErr = fetch()
	}
	if upstreamErr != nil {
		// Upstream failed - try stale cache if enabled
		if s.staleCacheTTL > 0 {
			stale, ok, staleErr := s.cache.GetStale(ctx, key, s.staleCacheTTL)
			if staleErr == nil && ok {
				observability.StaleCacheServesTotal.WithLabelValues("forecast").Inc()
				stale.Stale = true
				if logger != nil {
					logger.Info("serving stale cache", zap.String("city", city.Slug), zap.Duration("age", time.Since(stale.FetchedAt)))
				}
				return stale, nil
			}
		}
		return models.ForecastSeries{}, fmt.Errorf("fetch forecast for %s: %w", city.Slug, upstreamErr)
	}

	if setErr := s.cache.Set(ctx, key, data, s.ttl); setErr != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(setErr)).Inc()
		if logger != nil {
			logger.Warn("cache set failed", zap.String("city", city.Slug), zap.Error(setErr))
		}
	}
	if logger != nil {
		logger.Debug("forecast served", zap.String("city", city.Slug), zap.Bool("cached", false), zap.Duration("duration", time.Since(start)))
	}
	return data, nil
}

// UpdateConditions stores a freshly polled live snapshot for a city.
// Called by the background poller.
func (s *ForecastService) UpdateConditions(slug string, cond models.CurrentConditions) {
	s.condMu.Lock()
	s.conditions[slug] = cond
	s.condMu.Unlock()
}

// Conditions returns the stored live snapshot for a city, if any.
func (s *ForecastService) Conditions(slug string) (models.CurrentConditions, bool) {
	s.condMu.RLock()
	cond, ok := s.conditions[slug]
	s.condMu.RUnlock()
	return cond, ok
}

// ComputeSky renders the sky state for a city. The live snapshot comes from
// the poller-fed store; if the poller has not run yet for this city, the
// snapshot is fetched on demand and stored. hovered, when non-nil, overrides
// live fields one by one.
func (s *ForecastService) ComputeSky(ctx context.Context, slug string, hovered *models.HoveredPoint) (sky.RenderedState, models.CurrentConditions, error) {
	city, err := s.registry.Get(slug)
	if err != nil {
		return sky.RenderedState{}, models.CurrentConditions{}, err
	}

	live, ok := s.Conditions(city.Slug)
	if !ok {
		fetched, fetchErr := s.client.GetCurrentConditions(ctx, city.Latitude, city.Longitude)
		if fetchErr != nil {
			return sky.RenderedState{}, models.CurrentConditions{}, fmt.Errorf("fetch conditions for %s: %w", city.Slug, fetchErr)
		}
		s.UpdateConditions(city.Slug, fetched)
		live = fetched
	}

	state, memoHit := s.rendererFor(city.Slug).Render(sky.Inputs{
		Live:        live,
		Hovered:     hovered,
		LatitudeDeg: city.Latitude,
		Now:         time.Now().In(city.Location()),
	})
	observability.SkyRendersTotal.Inc()
	observability.SkyRendersByCityTotal.WithLabelValues(observability.MetricCityLabel(city.Slug)).Inc()
	if memoHit {
		observability.SkyMemoHitsTotal.Inc()
	}

	if logger := loggerFromContext(ctx); logger != nil {
		logger.Debug("sky rendered",
			zap.String("city", city.Slug),
			zap.String("condition", string(state.Condition)),
			zap.Float64("skyPhase", state.Solar.SkyPhase),
			zap.Bool("memoHit", memoHit))
	}
	return state, live, nil
}

func (s *ForecastService) rendererFor(slug string) *sky.Renderer {
	s.rendMu.Lock()
	defer s.rendMu.Unlock()
	r, ok := s.renderers[slug]
	if !ok {
		r = sky.NewRenderer()
		s.renderers[slug] = r
	}
	return r
}

// forecastKey builds a deterministic cache key from the request shape.
// Metrics are sorted so equivalent requests share an entry.
func forecastKey(slug string, metrics []string, hours int, units string) string {
	sorted := make([]string, len(metrics))
	copy(sorted, metrics)
	sort.Strings(sorted)
	return fmt.Sprintf("%s|%s|%d|%s", slug, units, hours, strings.Join(sorted, ","))
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}
