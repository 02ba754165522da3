package astro

import (
	"math"
	"time"
)

// SolarState is the derived solar geometry for one instant. Ephemeral:
// recomputed on every input change, never persisted.
type SolarState struct {
	AltitudeDeg      float64 `json:"altitudeDeg"`
	SkyPhase         float64 `json:"skyPhase"`         // 0 deep night .. 1 full day
	SunHorizontalPct float64 `json:"sunHorizontalPct"` // 0..100 across the sky band
	SunVerticalPct   float64 `json:"sunVerticalPct"`   // 10 at the horizon, up to 90
}

// DayOfYear returns the ordinal day within t's calendar year (1..366).
func DayOfYear(t time.Time) int {
	return t.YearDay()
}

// HourFloat returns t's time of day as a fractional hour (14:30 -> 14.5).
func HourFloat(t time.Time) float64 {
	return float64(t.Hour()) + float64(t.Minute())/60 + float64(t.Second())/3600
}

// SolarAltitudeDeg computes the sun's altitude above the horizon in degrees
// from latitude, ordinal day and fractional local hour. Declination uses the
// 23.45 sin approximation with the day-81 equinox offset; the hour angle is
// 15 degrees per hour from solar noon. Total over all numeric inputs: the
// asin argument is clamped against floating-point overshoot, and out-of-range
// hours are used as-is.
func SolarAltitudeDeg(latitudeDeg float64, dayOfYear int, hour float64) float64 {
	declDeg := 23.45 * math.Sin(2*math.Pi/365*(float64(dayOfYear)-81))
	hourAngleDeg := (hour - 12) * 15

	lat := latitudeDeg * math.Pi / 180
	decl := declDeg * math.Pi / 180
	ha := hourAngleDeg * math.Pi / 180

	sinAlt := math.Sin(lat)*math.Sin(decl) + math.Cos(lat)*math.Cos(decl)*math.Cos(ha)
	sinAlt = clamp(sinAlt, -1, 1)
	return math.Asin(sinAlt) * 180 / math.Pi
}

// SkyPhase remaps solar altitude onto [0,1]: -12 degrees and below is deep
// night, 30 and above full day, linear in between.
func SkyPhase(altitudeDeg float64) float64 {
	if altitudeDeg <= -12 {
		return 0
	}
	if altitudeDeg >= 30 {
		return 1
	}
	return (altitudeDeg + 12) / 42
}

// SunHorizontalFraction maps the hour onto [0,1] across the 4am-8pm window,
// clamped outside it.
func SunHorizontalFraction(hour float64) float64 {
	return clamp((hour-4)/16, 0, 1)
}

// SunVerticalPercent places the sun vertically: 10 at or below the horizon,
// rising to 90 as altitude approaches 70 degrees.
func SunVerticalPercent(altitudeDeg float64) float64 {
	if altitudeDeg <= 0 {
		return 10
	}
	return 10 + math.Min(altitudeDeg, 70)/70*80
}

// Compute derives the full solar state for a latitude, ordinal day and
// fractional local hour.
func Compute(latitudeDeg float64, dayOfYear int, hour float64) SolarState {
	alt := SolarAltitudeDeg(latitudeDeg, dayOfYear, hour)
	return SolarState{
		AltitudeDeg:      alt,
		SkyPhase:         SkyPhase(alt),
		SunHorizontalPct: SunHorizontalFraction(hour) * 100,
		SunVerticalPct:   SunVerticalPercent(alt),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
