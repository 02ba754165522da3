package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mholloway/skycast/internal/cities"
	"github.com/mholloway/skycast/internal/models"
	"github.com/mholloway/skycast/internal/observability"
)

// ConditionsFetcher fetches the live snapshot for a coordinate pair.
// Implemented by the Open-Meteo client; declared here to avoid a dependency
// on the client package.
type ConditionsFetcher interface {
	GetCurrentConditions(ctx context.Context, lat, lon float64) (models.CurrentConditions, error)
}

// ConditionsStore receives polled snapshots. Implemented by the service layer.
type ConditionsStore interface {
	UpdateConditions(slug string, cond models.CurrentConditions)
}

// ConditionsPoller refreshes live conditions for the tracked cities on a cron
// schedule so sky renders never block on the upstream API.
type ConditionsPoller struct {
	fetcher ConditionsFetcher
	store   ConditionsStore
	cities  []cities.City
	timeout time.Duration
	logger  *zap.Logger
	cron    *cron.Cron
}

// NewConditionsPoller creates a ConditionsPoller covering the given cities.
// timeout bounds each poll cycle.
func NewConditionsPoller(fetcher ConditionsFetcher, store ConditionsStore, tracked []cities.City, timeout time.Duration, logger *zap.Logger) *ConditionsPoller {
	return &ConditionsPoller{
		fetcher: fetcher,
		store:   store,
		cities:  tracked,
		timeout: timeout,
		logger:  logger,
	}
}

// Poll fetches current conditions for every tracked city concurrently and
// stores the results. Cities that fail keep their previous snapshot.
// Returns an aggregated error if any city failed.
func (p *ConditionsPoller) Poll(ctx context.Context) error {
	start := time.Now()
	if p.logger != nil {
		p.logger.Info("polling conditions", zap.Int("cities", len(p.cities)))
	}
	var wg sync.WaitGroup
	errCh := make(chan error, len(p.cities))
	for _, city := range p.cities {
		city := city
		wg.Add(1)
		go func() {
			defer wg.Done()
			cond, err := p.fetcher.GetCurrentConditions(ctx, city.Latitude, city.Longitude)
			if err != nil {
				errCh <- fmt.Errorf("poll %s: %w", city.Slug, err)
				return
			}
			p.store.UpdateConditions(city.Slug, cond)
		}()
	}
	wg.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}

	outcome := "success"
	switch {
	case len(errs) == len(p.cities) && len(p.cities) > 0:
		outcome = "error"
	case len(errs) > 0:
		outcome = "partial"
	}
	observability.ConditionsPollsTotal.WithLabelValues(outcome).Inc()
	if p.logger != nil {
		p.logger.Info("conditions poll complete",
			zap.Int("cities", len(p.cities)),
			zap.Int("errors", len(errs)),
			zap.Duration("duration", time.Since(start)))
	}
	if len(errs) > 0 {
		return fmt.Errorf("conditions poll: %v", errs)
	}
	return nil
}

// Start runs an initial poll, then schedules recurring polls with the given
// cron spec (standard 5-field or descriptors like "@every 10m"). The initial
// poll runs in the background so startup is not blocked by the upstream API.
func (p *ConditionsPoller) Start(ctx context.Context, schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		pollCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		if err := p.Poll(pollCtx); err != nil && p.logger != nil {
			p.logger.Warn("scheduled conditions poll failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid poll schedule %q: %w", schedule, err)
	}
	p.cron = c

	go func() {
		pollCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		if err := p.Poll(pollCtx); err != nil && p.logger != nil {
			p.logger.Warn("initial conditions poll failed", zap.Error(err))
		}
	}()

	c.Start()
	return nil
}

// Stop halts the schedule and waits for a running poll to finish.
func (p *ConditionsPoller) Stop() {
	if p.cron != nil {
		<-p.cron.Stop().Done()
	}
}
