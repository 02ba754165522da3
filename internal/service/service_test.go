package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mholloway/skycast/internal/cities"
	"github.com/mholloway/skycast/internal/models"
	"github.com/mholloway/skycast/internal/sky"
)

// mockClient implements client.ForecastClient for service tests.
type mockClient struct {
	mu             sync.Mutex
	forecast       models.ForecastSeries
	forecastErr    error
	conditions     models.CurrentConditions
	conditionsErr  error
	forecastCalls  int
	conditionCalls int
}

func (m *mockClient) GetHourlyForecast(ctx context.Context, lat, lon float64, metrics []string, hours int, units string) (models.ForecastSeries, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forecastCalls++
	if m.forecastErr != nil {
		return models.ForecastSeries{}, m.forecastErr
	}
	return m.forecast, nil
}

func (m *mockClient) GetCurrentConditions(ctx context.Context, lat, lon float64) (models.CurrentConditions, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conditionCalls++
	if m.conditionsErr != nil {
		return models.CurrentConditions{}, m.conditionsErr
	}
	return m.conditions, nil
}

// mockCache implements cache.Cache with separate fresh and stale stores.
type mockCache struct {
	mu        sync.Mutex
	data      map[string]models.ForecastSeries
	staleData map[string]models.ForecastSeries // expired but within the stale window
	setCalls  int
	getErr    error
}

func newMockCache() *mockCache {
	return &mockCache{
		data:      make(map[string]models.ForecastSeries),
		staleData: make(map[string]models.ForecastSeries),
	}
}

func (m *mockCache) Get(ctx context.Context, key string) (models.ForecastSeries, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return models.ForecastSeries{}, false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mockCache) GetStale(ctx context.Context, key string, maxStaleAge time.Duration) (models.ForecastSeries, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.staleData[key]; ok && time.Since(v.FetchedAt) <= maxStaleAge {
		return v, true, nil
	}
	return models.ForecastSeries{}, false, nil
}

func (m *mockCache) Set(ctx context.Context, key string, value models.ForecastSeries, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls++
	m.data[key] = value
	return nil
}

func testRegistry(t *testing.T) *cities.Registry {
	t.Helper()
	reg, err := cities.Parse([]byte(`
cities:
  - slug: seattle
    name: Seattle
    latitude: 47.6
    longitude: -122.33
    timezone: America/Los_Angeles
  - slug: oslo
    name: Oslo
    latitude: 59.91
    longitude: 10.75
    timezone: Europe/Oslo
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return reg
}

// TestGetForecast_CacheMiss_FetchesAndCaches verifies the cache-aside flow:
// miss, upstream fetch, cache populate, city slug stamped on the result.
func TestGetForecast_CacheMiss_FetchesAndCaches(t *testing.T) {
	mc := &mockClient{forecast: models.ForecastSeries{
		Units:     "metric",
		Metrics:   map[string][]float64{"temperature": {11.2}},
		FetchedAt: time.Now(),
	}}
	cache := newMockCache()
	svc := NewForecastService(mc, cache, testRegistry(t), 5*time.Minute, 0, false, 0)

	got, err := svc.GetForecast(context.Background(), "seattle", []string{"temperature"}, 48, "metric")
	if err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	if got.City != "seattle" {
		t.Errorf("City = %q, want %q", got.City, "seattle")
	}
	if mc.forecastCalls != 1 {
		t.Errorf("forecast calls = %d, want 1", mc.forecastCalls)
	}
	if cache.setCalls != 1 {
		t.Errorf("cache Set calls = %d, want 1", cache.setCalls)
	}

	// Second call is a cache hit, no extra upstream call.
	_, err = svc.GetForecast(context.Background(), "seattle", []string{"temperature"}, 48, "metric")
	if err != nil {
		t.Fatalf("GetForecast() second call error = %v", err)
	}
	if mc.forecastCalls != 1 {
		t.Errorf("forecast calls after cache hit = %d, want 1", mc.forecastCalls)
	}
}

// TestGetForecast_UnknownCity verifies that unknown slugs fail before any
// upstream or cache access.
func TestGetForecast_UnknownCity(t *testing.T) {
	mc := &mockClient{}
	svc := NewForecastService(mc, newMockCache(), testRegistry(t), time.Minute, 0, false, 0)

	_, err := svc.GetForecast(context.Background(), "atlantis", []string{"temperature"}, 48, "metric")
	if !errors.Is(err, cities.ErrCityNotFound) {
		t.Fatalf("GetForecast() error = %v, want ErrCityNotFound", err)
	}
	if mc.forecastCalls != 0 {
		t.Errorf("forecast calls = %d, want 0 for unknown city", mc.forecastCalls)
	}
}

// TestGetForecast_StaleCacheFallback verifies that stale cache is served when
// the upstream fails and the entry is within the stale window.
func TestGetForecast_StaleCacheFallback(t *testing.T) {
	mc := &mockClient{forecastErr: errors.New("upstream down")}
	cache := newMockCache()
	key := forecastKey("seattle", []string{"temperature"}, 48, "metric")
	cache.staleData[key] = models.ForecastSeries{
		City:      "seattle",
		Metrics:   map[string][]float64{"temperature": {9.9}},
		FetchedAt: time.Now().Add(-20 * time.Minute),
	}
	svc := NewForecastService(mc, cache, testRegistry(t), 5*time.Minute, time.Hour, false, 0)

	got, err := svc.GetForecast(context.Background(), "seattle", []string{"temperature"}, 48, "metric")
	if err != nil {
		t.Fatalf("GetForecast() error = %v, want nil (stale cache served)", err)
	}
	if !got.Stale {
		t.Error("Stale = false, want true for stale cache serve")
	}
}

// TestGetForecast_UpstreamError_NoStale verifies the error surfaces when
// upstream fails and no stale entry exists.
func TestGetForecast_UpstreamError_NoStale(t *testing.T) {
	upstreamErr := errors.New("upstream down")
	mc := &mockClient{forecastErr: upstreamErr}
	svc := NewForecastService(mc, newMockCache(), testRegistry(t), 5*time.Minute, time.Hour, false, 0)

	_, err := svc.GetForecast(context.Background(), "seattle", []string{"temperature"}, 48, "metric")
	if !errors.Is(err, upstreamErr) {
		t.Fatalf("GetForecast() error = %v, want wrapped upstream error", err)
	}
}

// TestGetForecast_KeyIncludesRequestShape verifies that units, hours and
// metrics all partition the cache.
func TestGetForecast_KeyIncludesRequestShape(t *testing.T) {
	a := forecastKey("seattle", []string{"temperature", "precipitation"}, 48, "metric")
	b := forecastKey("seattle", []string{"precipitation", "temperature"}, 48, "metric")
	if a != b {
		t.Errorf("metric order should not change the key: %q vs %q", a, b)
	}
	c := forecastKey("seattle", []string{"temperature"}, 48, "imperial")
	if a == c {
		t.Error("units should partition the cache key")
	}
	d := forecastKey("seattle", []string{"temperature", "precipitation"}, 24, "metric")
	if a == d {
		t.Error("hours should partition the cache key")
	}
}

// TestComputeSky_UsesPolledConditions verifies that a poller-fed snapshot is
// used without an on-demand fetch.
func TestComputeSky_UsesPolledConditions(t *testing.T) {
	mc := &mockClient{}
	svc := NewForecastService(mc, newMockCache(), testRegistry(t), time.Minute, 0, false, 0)
	svc.UpdateConditions("seattle", models.CurrentConditions{
		WeatherCode:     models.IntPtr(61),
		PrecipitationMm: models.FloatPtr(1.2),
		CloudCoverPct:   models.FloatPtr(90),
		ObservedAt:      time.Now(),
	})

	state, live, err := svc.ComputeSky(context.Background(), "seattle", nil)
	if err != nil {
		t.Fatalf("ComputeSky() error = %v", err)
	}
	if mc.conditionCalls != 0 {
		t.Errorf("condition calls = %d, want 0 when store is populated", mc.conditionCalls)
	}
	if state.Condition != sky.ConditionRain {
		t.Errorf("Condition = %q, want %q", state.Condition, sky.ConditionRain)
	}
	if live.WeatherCode == nil || *live.WeatherCode != 61 {
		t.Errorf("live.WeatherCode = %v, want 61", live.WeatherCode)
	}
}

// TestComputeSky_FetchesOnDemandWhenStoreEmpty verifies the on-demand fetch
// path and that the result is stored for subsequent renders.
func TestComputeSky_FetchesOnDemandWhenStoreEmpty(t *testing.T) {
	mc := &mockClient{conditions: models.CurrentConditions{
		WeatherCode:   models.IntPtr(0),
		CloudCoverPct: models.FloatPtr(5),
		ObservedAt:    time.Now(),
	}}
	svc := NewForecastService(mc, newMockCache(), testRegistry(t), time.Minute, 0, false, 0)

	if _, _, err := svc.ComputeSky(context.Background(), "oslo", nil); err != nil {
		t.Fatalf("ComputeSky() error = %v", err)
	}
	if mc.conditionCalls != 1 {
		t.Fatalf("condition calls = %d, want 1", mc.conditionCalls)
	}

	// Store now populated; no further upstream calls.
	if _, _, err := svc.ComputeSky(context.Background(), "oslo", nil); err != nil {
		t.Fatalf("ComputeSky() second call error = %v", err)
	}
	if mc.conditionCalls != 1 {
		t.Errorf("condition calls = %d, want 1 after store populated", mc.conditionCalls)
	}
}

// TestComputeSky_HoverOverride verifies that a hovered sample overrides the
// live snapshot field by field.
func TestComputeSky_HoverOverride(t *testing.T) {
	mc := &mockClient{}
	svc := NewForecastService(mc, newMockCache(), testRegistry(t), time.Minute, 0, false, 0)
	svc.UpdateConditions("seattle", models.CurrentConditions{
		WeatherCode:   models.IntPtr(0),
		CloudCoverPct: models.FloatPtr(0),
		ObservedAt:    time.Now(),
	})

	hovered := &models.HoveredPoint{
		WeatherCode:     models.IntPtr(95),
		Hour:            models.FloatPtr(14.0),
		PrecipitationMm: models.FloatPtr(6.0),
	}
	state, _, err := svc.ComputeSky(context.Background(), "seattle", hovered)
	if err != nil {
		t.Fatalf("ComputeSky() error = %v", err)
	}
	if state.Condition != sky.ConditionThunder {
		t.Errorf("Condition = %q, want %q with hovered code 95", state.Condition, sky.ConditionThunder)
	}
	if state.TransitionMs != sky.TransitionHoverMs {
		t.Errorf("TransitionMs = %d, want %d for hover", state.TransitionMs, sky.TransitionHoverMs)
	}
}

// TestComputeSky_UnknownCity verifies registry errors propagate.
func TestComputeSky_UnknownCity(t *testing.T) {
	svc := NewForecastService(&mockClient{}, newMockCache(), testRegistry(t), time.Minute, 0, false, 0)
	_, _, err := svc.ComputeSky(context.Background(), "atlantis", nil)
	if !errors.Is(err, cities.ErrCityNotFound) {
		t.Fatalf("ComputeSky() error = %v, want ErrCityNotFound", err)
	}
}

// TestComputeSky_ConditionsFetchError verifies on-demand fetch failures surface.
func TestComputeSky_ConditionsFetchError(t *testing.T) {
	fetchErr := errors.New("upstream down")
	svc := NewForecastService(&mockClient{conditionsErr: fetchErr}, newMockCache(), testRegistry(t), time.Minute, 0, false, 0)
	_, _, err := svc.ComputeSky(context.Background(), "seattle", nil)
	if !errors.Is(err, fetchErr) {
		t.Fatalf("ComputeSky() error = %v, want wrapped fetch error", err)
	}
}

// TestCities_SortedBySlug verifies the registry passthrough keeps ordering.
func TestCities_SortedBySlug(t *testing.T) {
	svc := NewForecastService(&mockClient{}, newMockCache(), testRegistry(t), time.Minute, 0, false, 0)
	all := svc.Cities()
	if len(all) != 2 {
		t.Fatalf("Cities() returned %d entries, want 2", len(all))
	}
	if all[0].Slug != "oslo" || all[1].Slug != "seattle" {
		t.Errorf("Cities() order = [%s %s], want [oslo seattle]", all[0].Slug, all[1].Slug)
	}
}
