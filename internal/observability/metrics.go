package observability

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Open-Meteo API call rate by outcome. Watch for: error vs success ratio.
	ForecastAPICallsTotal *prometheus.CounterVec

	// Upstream latency per call. Watch for: p95 > 2s (upstream degradation).
	ForecastAPIDuration *prometheus.HistogramVec

	// Retry attempts against the forecast API. High retries = unstable upstream.
	ForecastAPIRetriesTotal prometheus.Counter

	// Circuit breaker state transitions for the forecast API.
	BreakerTransitionsTotal *prometheus.CounterVec

	// Current breaker state: 0 closed, 1 half-open, 2 open.
	BreakerStateGauge *prometheus.GaugeVec

	// Cache hits by payload kind (forecast, conditions).
	CacheHitsTotal *prometheus.CounterVec

	// Cache operation failures by operation and category.
	CacheErrorsTotal *prometheus.CounterVec

	// Stale cache fallback serves when upstream is down.
	StaleCacheServesTotal *prometheus.CounterVec

	// Sky state computations. Rate approximates hover/scrub activity plus polls.
	SkyRendersTotal prometheus.Counter

	// Renders answered from the renderer memo without recomputation.
	SkyMemoHitsTotal prometheus.Counter

	// Per-city sky renders (allow-list; others go to "other").
	SkyRendersByCityTotal *prometheus.CounterVec

	// Live-conditions poll cycles by outcome.
	ConditionsPollsTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// In-flight requests remaining at shutdown drain.
	ShutdownInFlight prometheus.Gauge

	// trackedCities is built from config; used to bound metric label cardinality.
	trackedCitiesMu sync.RWMutex
	trackedCities   map[string]struct{}
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	ForecastAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastApiCallsTotal",
			Help: "Total Open-Meteo API calls by outcome",
		},
		[]string{"outcome"},
	)
	ForecastAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forecastApiDurationSeconds",
			Help:    "Open-Meteo API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	ForecastAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forecastApiRetriesTotal",
			Help: "Total retry attempts against the forecast API",
		},
	)
	BreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	BreakerStateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"component"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Cache hits by payload kind",
		},
		[]string{"kind"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache operation failures",
		},
		[]string{"operation", "category"},
	)
	StaleCacheServesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staleCacheServesTotal",
			Help: "Responses served from stale cache during upstream failure",
		},
		[]string{"kind"},
	)
	SkyRendersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skyRendersTotal",
			Help: "Total sky state computations",
		},
	)
	SkyMemoHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skyMemoHitsTotal",
			Help: "Sky renders answered from the input-tuple memo",
		},
	)
	SkyRendersByCityTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyRendersByCityTotal",
			Help: "Sky renders per tracked city",
		},
		[]string{"city"},
	)
	ConditionsPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conditionsPollsTotal",
			Help: "Live-conditions poll cycles by outcome",
		},
		[]string{"outcome"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Requests denied by the rate limiter",
		},
	)
	ShutdownInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shutdownInFlightRequests",
			Help: "In-flight requests observed when shutdown began",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPRequestsInFlight,
		ForecastAPICallsTotal,
		ForecastAPIDuration,
		ForecastAPIRetriesTotal,
		BreakerTransitionsTotal,
		BreakerStateGauge,
		CacheHitsTotal,
		CacheErrorsTotal,
		StaleCacheServesTotal,
		SkyRendersTotal,
		SkyMemoHitsTotal,
		SkyRendersByCityTotal,
		ConditionsPollsTotal,
		RateLimitDeniedTotal,
		ShutdownInFlight,
	)
}

// MetricsHandler returns the Prometheus scrape handler for the private registry.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// SetTrackedCities installs the allow-list used by MetricCityLabel.
func SetTrackedCities(cities []string) {
	m := make(map[string]struct{}, len(cities))
	for _, c := range cities {
		m[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}
	trackedCitiesMu.Lock()
	trackedCities = m
	trackedCitiesMu.Unlock()
}

// MetricCityLabel returns the city slug if tracked, "other" otherwise.
// Bounds label cardinality against arbitrary client input.
func MetricCityLabel(city string) string {
	key := strings.ToLower(strings.TrimSpace(city))
	trackedCitiesMu.RLock()
	defer trackedCitiesMu.RUnlock()
	if _, ok := trackedCities[key]; ok {
		return key
	}
	return "other"
}

// RecordShutdownInFlight records the in-flight count at shutdown start.
func RecordShutdownInFlight(n int64) {
	ShutdownInFlight.Set(float64(n))
}
