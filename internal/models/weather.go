package models

import "time"

// CurrentConditions is the live observed snapshot for a city, refreshed by
// polling the upstream forecast API. Optional fields are pointers so a missing
// value can be told apart from zero; the sky renderer substitutes documented
// fallbacks rather than defaults baked in here.
type CurrentConditions struct {
	WeatherCode     *int      `json:"weatherCode,omitempty"`
	PrecipitationMm *float64  `json:"precipitationMm,omitempty"`
	CloudCoverPct   *float64  `json:"cloudCoverPct,omitempty"`
	ObservedAt      time.Time `json:"observedAt"`
	Stale           bool      `json:"stale,omitempty"` // Indicates data served from stale cache
}

// HoveredPoint is a sample the user picked from the time-series chart.
// When present it overrides the live snapshot field by field; a nil field
// falls back to the live value for that field, never to a default.
type HoveredPoint struct {
	WeatherCode     *int     `json:"weatherCode,omitempty"`
	Hour            *float64 `json:"hour,omitempty"`
	PrecipitationMm *float64 `json:"precipitationMm,omitempty"`
	CloudCoverPct   *float64 `json:"cloudCoverPct,omitempty"`
}

// ForecastSeries is an hourly forecast window for one city, one value series
// per requested metric. Times and values are index-aligned.
type ForecastSeries struct {
	City      string               `json:"city"`
	Units     string               `json:"units"`
	Times     []time.Time          `json:"times"`
	Metrics   map[string][]float64 `json:"metrics"`
	FetchedAt time.Time            `json:"fetchedAt"`
	Stale     bool                 `json:"stale,omitempty"`
}

// IntPtr returns a pointer to v. Convenience for optional fields.
func IntPtr(v int) *int { return &v }

// FloatPtr returns a pointer to v. Convenience for optional fields.
func FloatPtr(v float64) *float64 { return &v }
