package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mholloway/skycast/internal/models"
	"github.com/mholloway/skycast/internal/observability"
)

// ForecastClient fetches weather data for a coordinate pair.
type ForecastClient interface {
	GetHourlyForecast(ctx context.Context, lat, lon float64, metrics []string, hours int, units string) (models.ForecastSeries, error)
	GetCurrentConditions(ctx context.Context, lat, lon float64) (models.CurrentConditions, error)
}

var (
	ErrBadCoordinates  = errors.New("bad coordinates")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrBreakerOpen     = errors.New("circuit breaker open")
)

// metricParams maps API metric names to Open-Meteo hourly variable names.
var metricParams = map[string]string{
	"temperature":   "temperature_2m",
	"precipitation": "precipitation",
	"cloudCover":    "cloud_cover",
	"windSpeed":     "wind_speed_10m",
	"humidity":      "relative_humidity_2m",
	"weatherCode":   "weather_code",
}

// OpenMeteoClient talks to the Open-Meteo forecast API. Open-Meteo is keyless,
// so construction only needs the base URL and timing knobs. All calls go
// through a circuit breaker and bounded exponential backoff.
type OpenMeteoClient struct {
	baseURL        string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *gobreaker.CircuitBreaker
}

// BreakerSettings configures the upstream circuit breaker.
type BreakerSettings struct {
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
}

// NewOpenMeteoClient builds a client with retry and circuit-breaker wiring.
// State transitions are exported through the breaker metrics.
func NewOpenMeteoClient(baseURL string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration, bs BreakerSettings) (*OpenMeteoClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if retryAttempts <= 0 {
		retryAttempts = 1
	}

	c := &OpenMeteoClient{
		baseURL:        baseURL,
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		client: &http.Client{
			Timeout: timeout,
		},
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "forecast_api",
		MaxRequests: bs.MaxRequests,
		Interval:    bs.Interval,
		Timeout:     bs.Timeout,
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.BreakerTransitionsTotal.WithLabelValues(name, from.String(), to.String()).Inc()
			observability.BreakerStateGauge.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})
	observability.BreakerStateGauge.WithLabelValues("forecast_api").Set(breakerStateValue(gobreaker.StateClosed))
	return c, nil
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

type hourlyResponse struct {
	Hourly map[string]json.RawMessage `json:"hourly"`
}

type currentResponse struct {
	Current struct {
		Time          string   `json:"time"`
		WeatherCode   *int     `json:"weather_code"`
		Precipitation *float64 `json:"precipitation"`
		CloudCover    *float64 `json:"cloud_cover"`
	} `json:"current"`
}

// GetHourlyForecast fetches the hourly series for the requested metrics,
// window, and unit system. Times come back in UTC.
func (c *OpenMeteoClient) GetHourlyForecast(ctx context.Context, lat, lon float64, metrics []string, hours int, units string) (models.ForecastSeries, error) {
	vars := make([]string, 0, len(metrics))
	for _, m := range metrics {
		p, ok := metricParams[m]
		if !ok {
			return models.ForecastSeries{}, fmt.Errorf("unmapped metric %q", m)
		}
		vars = append(vars, p)
	}

	q := url.Values{}
	q.Set("latitude", formatCoord(lat))
	q.Set("longitude", formatCoord(lon))
	q.Set("hourly", strings.Join(vars, ","))
	q.Set("forecast_hours", strconv.Itoa(hours))
	q.Set("timezone", "UTC")
	applyUnits(q, units)

	body, err := c.call(ctx, q)
	if err != nil {
		return models.ForecastSeries{}, err
	}

	var hr hourlyResponse
	if err := json.Unmarshal(body, &hr); err != nil {
		return models.ForecastSeries{}, fmt.Errorf("parse forecast response: %w", err)
	}

	var rawTimes []string
	if raw, ok := hr.Hourly["time"]; ok {
		if err := json.Unmarshal(raw, &rawTimes); err != nil {
			return models.ForecastSeries{}, fmt.Errorf("parse forecast times: %w", err)
		}
	}
	times := make([]time.Time, 0, len(rawTimes))
	for _, s := range rawTimes {
		t, err := time.Parse("2006-01-02T15:04", s)
		if err != nil {
			return models.ForecastSeries{}, fmt.Errorf("parse forecast time %q: %w", s, err)
		}
		times = append(times, t.UTC())
	}

	series := models.ForecastSeries{
		Units:     units,
		Times:     times,
		Metrics:   make(map[string][]float64, len(metrics)),
		FetchedAt: time.Now().UTC(),
	}
	for i, m := range metrics {
		raw, ok := hr.Hourly[vars[i]]
		if !ok {
			return models.ForecastSeries{}, fmt.Errorf("forecast response missing series %q", vars[i])
		}
		var values []float64
		if err := json.Unmarshal(raw, &values); err != nil {
			return models.ForecastSeries{}, fmt.Errorf("parse series %q: %w", vars[i], err)
		}
		if len(values) != len(times) {
			return models.ForecastSeries{}, fmt.Errorf("series %q length %d does not match %d times", vars[i], len(values), len(times))
		}
		series.Metrics[m] = values
	}
	return series, nil
}

// GetCurrentConditions fetches the live snapshot feeding the sky renderer.
func (c *OpenMeteoClient) GetCurrentConditions(ctx context.Context, lat, lon float64) (models.CurrentConditions, error) {
	q := url.Values{}
	q.Set("latitude", formatCoord(lat))
	q.Set("longitude", formatCoord(lon))
	q.Set("current", "weather_code,precipitation,cloud_cover")
	q.Set("timezone", "UTC")

	body, err := c.call(ctx, q)
	if err != nil {
		return models.CurrentConditions{}, err
	}

	var cr currentResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return models.CurrentConditions{}, fmt.Errorf("parse current conditions: %w", err)
	}

	cond := models.CurrentConditions{
		WeatherCode:     cr.Current.WeatherCode,
		PrecipitationMm: cr.Current.Precipitation,
		CloudCoverPct:   cr.Current.CloudCover,
		ObservedAt:      time.Now().UTC(),
	}
	if t, err := time.Parse("2006-01-02T15:04", cr.Current.Time); err == nil {
		cond.ObservedAt = t.UTC()
	}
	return cond, nil
}

// call runs one logical upstream request: circuit breaker outside, bounded
// exponential backoff with jitter inside. Non-retryable failures (4xx) return
// immediately.
func (c *OpenMeteoClient) call(ctx context.Context, q url.Values) ([]byte, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		var lastErr error
		for attempt := 0; attempt < c.retryAttempts; attempt++ {
			if attempt > 0 {
				observability.ForecastAPIRetriesTotal.Inc()
				delay := c.calculateBackoff(attempt)
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(delay):
				}
			}

			body, err := c.doRequest(ctx, q)
			if err == nil {
				return body, nil
			}
			lastErr = err
			if !isRetryable(err) {
				return nil, err
			}
		}
		return nil, fmt.Errorf("exhausted retries: %w", lastErr)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrBreakerOpen, err)
		}
		return nil, err
	}
	return result.([]byte), nil
}

func (c *OpenMeteoClient) doRequest(ctx context.Context, q url.Values) ([]byte, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		observability.ForecastAPICallsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}
	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.ForecastAPICallsTotal.WithLabelValues("error").Inc()
		observability.ForecastAPIDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		observability.ForecastAPICallsTotal.WithLabelValues("error").Inc()
		observability.ForecastAPIDuration.WithLabelValues("error").Observe(duration)
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		observability.ForecastAPICallsTotal.WithLabelValues("success").Inc()
		observability.ForecastAPIDuration.WithLabelValues("success").Observe(duration)
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		observability.ForecastAPICallsTotal.WithLabelValues("error").Inc()
		observability.ForecastAPIDuration.WithLabelValues("error").Observe(duration)
		return nil, fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		observability.ForecastAPICallsTotal.WithLabelValues("error").Inc()
		observability.ForecastAPIDuration.WithLabelValues("error").Observe(duration)
		return nil, fmt.Errorf("%w: status %d: %s", ErrBadCoordinates, resp.StatusCode, truncate(body, 200))
	default:
		observability.ForecastAPICallsTotal.WithLabelValues("error").Inc()
		observability.ForecastAPIDuration.WithLabelValues("error").Observe(duration)
		return nil, fmt.Errorf("%w: status %d", ErrUpstreamFailure, resp.StatusCode)
	}
}

// calculateBackoff returns base*2^(attempt-1) capped at the max delay, with
// up to 25% jitter to avoid thundering herds.
func (c *OpenMeteoClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}
	jitter := delay * 0.25 * rand.Float64()
	return time.Duration(delay + jitter)
}

// isRetryable reports whether a failed call is worth retrying: 5xx, rate
// limiting, timeouts and transport errors are; client errors are not.
func isRetryable(err error) bool {
	if errors.Is(err, ErrBadCoordinates) {
		return false
	}
	if errors.Is(err, ErrUpstreamFailure) || errors.Is(err, ErrRateLimited) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "http request failed")
}

// applyUnits sets the Open-Meteo unit parameters for the imperial system.
// Metric is the upstream default and needs no parameters.
func applyUnits(q url.Values, units string) {
	if units != "imperial" {
		return
	}
	q.Set("temperature_unit", "fahrenheit")
	q.Set("wind_speed_unit", "mph")
	q.Set("precipitation_unit", "inch")
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// extractCorrelationID pulls the request correlation ID from context if the
// middleware put one there.
func extractCorrelationID(ctx context.Context) string {
	if v := ctx.Value("correlation_id"); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
