package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mholloway/skycast/internal/cache"
	"github.com/mholloway/skycast/internal/cities"
	"github.com/mholloway/skycast/internal/client"
	"github.com/mholloway/skycast/internal/config"
	httphandler "github.com/mholloway/skycast/internal/http"
	"github.com/mholloway/skycast/internal/lifecycle"
	"github.com/mholloway/skycast/internal/observability"
	"github.com/mholloway/skycast/internal/poller"
	"github.com/mholloway/skycast/internal/service"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	registry, err := cities.Load(cfg.CitiesFile)
	if err != nil {
		logger.Fatal("city registry", zap.Error(err))
	}
	logger.Info("city registry loaded", zap.Int("cities", len(registry.All())))

	forecastClient, err := client.NewOpenMeteoClient(
		cfg.ForecastAPIURL,
		cfg.ForecastAPITimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
		client.BreakerSettings{
			MaxRequests: cfg.BreakerMaxRequests,
			Interval:    cfg.BreakerInterval,
			Timeout:     cfg.BreakerTimeout,
		},
	)
	if err != nil {
		logger.Fatal("forecast client", zap.Error(err))
	}

	var cacheSvc cache.Cache
	var memcacheCloser *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, cfg.StaleCacheTTL)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcacheCloser = mc
		cacheSvc = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		cacheSvc = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}
	forecastService := service.NewForecastService(forecastClient, cacheSvc, registry, cfg.CacheTTL, cfg.StaleCacheTTL, cfg.CoalesceEnabled, cfg.CoalesceTimeout)

	tracked := trackedCities(registry, cfg.TrackedCities, logger)
	slugs := make([]string, len(tracked))
	for i, c := range tracked {
		slugs[i] = c.Slug
	}
	observability.SetTrackedCities(slugs)

	pollCtx, pollCancel := context.WithCancel(context.Background())
	defer pollCancel()
	conditionsPoller := poller.NewConditionsPoller(forecastClient, forecastService, tracked, 30*time.Second, logger)
	if err := conditionsPoller.Start(pollCtx, cfg.PollSchedule); err != nil {
		logger.Fatal("conditions poller", zap.Error(err))
	}
	logger.Info("conditions poller started", zap.String("schedule", cfg.PollSchedule), zap.Int("cities", len(tracked)))

	healthConfig := &httphandler.HealthConfig{
		OverloadWindow:         cfg.OverloadWindow,
		OverloadThresholdPct:   cfg.OverloadThresholdPct,
		RateLimitRPS:           cfg.RateLimitRPS,
		RateLimitBurst:         cfg.RateLimitBurst,
		DegradedWindow:         cfg.DegradedWindow,
		DegradedErrorPct:       cfg.DegradedErrorPct,
		IdleWindow:             cfg.IdleWindow,
		IdleThresholdReqPerMin: cfg.IdleThresholdReqPerMin,
		MinimumLifespan:        cfg.MinimumLifespan,
		StartTime:              time.Now(),
	}
	if memcacheCloser != nil {
		healthConfig.CachePing = memcacheCloser.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(forecastService, healthConfig, logger, limiter)

	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())
	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(httphandler.RateLimitMiddleware(limiter))
	apiRouter.Use(httphandler.TimeoutMiddleware(cfg.RequestTimeout))
	apiRouter.HandleFunc("/cities", handler.GetCities).Methods("GET")
	apiRouter.HandleFunc("/forecast/{city}", handler.GetForecast).Methods("GET")
	apiRouter.HandleFunc("/sky/{city}", handler.GetSky).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	pollCancel()
	conditionsPoller.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	observability.RecordShutdownInFlight(inFlight)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

// trackedCities resolves the configured tracked slugs against the registry.
// An empty list tracks every registered city; unknown slugs are skipped with
// a warning.
func trackedCities(registry *cities.Registry, slugs []string, logger *zap.Logger) []cities.City {
	if len(slugs) == 0 {
		return registry.All()
	}
	out := make([]cities.City, 0, len(slugs))
	for _, slug := range slugs {
		c, err := registry.Get(slug)
		if err != nil {
			logger.Warn("tracked city not in registry", zap.String("slug", slug))
			continue
		}
		out = append(out, c)
	}
	return out
}
