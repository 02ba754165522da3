package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrCityEmpty is returned when the city slug is empty after trim.
var ErrCityEmpty = errors.New("city is required")

// ErrCityTooLong is returned when the slug exceeds the maximum length.
var ErrCityTooLong = errors.New("city too long")

// ErrCityInvalidChars is returned when the slug contains disallowed characters.
var ErrCityInvalidChars = errors.New("city contains invalid characters")

// ErrUnknownMetric is returned for a metric outside the allow-list.
var ErrUnknownMetric = errors.New("unknown metric")

// ErrInvalidUnits is returned for a unit system other than metric/imperial.
var ErrInvalidUnits = errors.New("units must be metric or imperial")

// ErrInvalidHours is returned for a forecast window outside [1,168].
var ErrInvalidHours = errors.New("hours must be between 1 and 168")

// ErrInvalidHour is returned for an hour-of-day outside [0,24).
var ErrInvalidHour = errors.New("hour must be in [0,24)")

const maxCityLen = 64

// Metrics the forecast endpoint can serve, in API naming. The client layer
// owns the mapping to upstream parameter names.
var allowedMetrics = map[string]struct{}{
	"temperature":   {},
	"precipitation": {},
	"cloudCover":    {},
	"windSpeed":     {},
	"humidity":      {},
	"weatherCode":   {},
}

// DefaultMetrics is the series set used when the request names none.
var DefaultMetrics = []string{"temperature", "precipitation"}

// ValidateCitySlug trims the input and restricts it to letters, digits and
// hyphens, the shape of registry slugs. Returns the trimmed slug or an error
// suitable for a 400 INVALID_CITY response. Lookup against the registry is
// the service layer's job.
func ValidateCitySlug(input string) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrCityEmpty
	}
	if len(r) > maxCityLen {
		return "", ErrCityTooLong
	}
	for _, c := range r {
		if !isAllowedSlugRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

func isAllowedSlugRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r) || r == '-'
}

// ValidateMetrics splits a comma-separated metric list, rejects unknown
// names, and returns the cleaned list. An empty input yields DefaultMetrics.
func ValidateMetrics(input string) ([]string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		out := make([]string, len(DefaultMetrics))
		copy(out, DefaultMetrics)
		return out, nil
	}
	parts := strings.Split(input, ",")
	seen := make(map[string]struct{}, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		m := strings.TrimSpace(p)
		if m == "" {
			continue
		}
		if _, ok := allowedMetrics[m]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownMetric, m)
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	if len(out) == 0 {
		out = append(out, DefaultMetrics...)
	}
	return out, nil
}

// ValidateUnits normalizes the unit system. Empty defaults to metric.
func ValidateUnits(input string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "", "metric":
		return "metric", nil
	case "imperial":
		return "imperial", nil
	default:
		return "", ErrInvalidUnits
	}
}

// ValidateHours bounds the forecast window. Zero means the 48h default.
func ValidateHours(hours int) (int, error) {
	if hours == 0 {
		return 48, nil
	}
	if hours < 1 || hours > 168 {
		return 0, ErrInvalidHours
	}
	return hours, nil
}

// ValidateHourOfDay bounds a fractional hover hour to [0,24).
func ValidateHourOfDay(hour float64) error {
	if hour < 0 || hour >= 24 {
		return ErrInvalidHour
	}
	return nil
}
