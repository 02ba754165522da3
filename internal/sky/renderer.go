package sky

import (
	"sync"
	"time"

	"github.com/mholloway/skycast/internal/astro"
	"github.com/mholloway/skycast/internal/models"
)

// Transition durations handed to the presentation layer. Hover scrubbing gets
// fast feedback; ambient drift stays slow and non-distracting.
const (
	TransitionHoverMs   = 300
	TransitionAmbientMs = 2000
)

// Inputs is the full argument tuple for one sky computation: the live
// snapshot, the optional hovered chart point, the city latitude, and the
// wall-clock instant in the city's local time.
type Inputs struct {
	Live        models.CurrentConditions
	Hovered     *models.HoveredPoint
	LatitudeDeg float64
	Now         time.Time
}

// Scatter describes the radial atmospheric-scatter overlay: a soft glow whose
// position, color and strength follow the sun.
type Scatter struct {
	CenterXPct float64 `json:"centerXPct"`
	CenterYPct float64 `json:"centerYPct"`
	Color      RGB     `json:"color"`
	Opacity    float64 `json:"opacity"`
}

// RenderedState is the declarative visual description one computation emits.
// Immutable per computation; the presentation layer owns its lifecycle.
type RenderedState struct {
	Condition    Condition        `json:"condition"`
	Solar        astro.SolarState `json:"solar"`
	Gradient     Gradient         `json:"gradient"`
	GradientCSS  string           `json:"gradientCss"`
	Scatter      Scatter          `json:"scatter"`
	Overlays     Overlays         `json:"overlays"`
	Rain         RainAnimation    `json:"rain"`
	TransitionMs int              `json:"transitionMs"`
}

// memoKey is the resolved, comparable input tuple a computation depends on.
// The effective hour is quantized to hundredths (36s of wall clock) so that
// ambient re-renders within the same slice reuse the previous result.
type memoKey struct {
	hasCode       bool
	weatherCode   int
	hourCenti     int
	cloudCoverPct float64
	precipMm      float64
	latitudeDeg   float64
	dayOfYear     int
	hovered       bool
}

// Renderer composes the solar calculator, classifier, palette engine and
// effect resolver into sky computations. Stateless for correctness; the only
// state is a single-entry memo of the last computation, safe for concurrent
// use.
type Renderer struct {
	mu      sync.Mutex
	lastKey memoKey
	lastVal RenderedState
	lastOK  bool
}

// NewRenderer returns a Renderer with an empty memo.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render resolves the effective inputs (hover strictly overrides live, field
// by field), recomputes solar state, gradient, overlays and scatter, and
// returns the declarative visual state. The second return reports whether the
// result came from the memo; a changed input tuple always produces a fresh
// computation, so a newer input can never surface a stale result.
func (r *Renderer) Render(in Inputs) (RenderedState, bool) {
	code := in.Live.WeatherCode
	if in.Hovered != nil && in.Hovered.WeatherCode != nil {
		code = in.Hovered.WeatherCode
	}

	// A missing hovered hour falls back to wall-clock time, not a default.
	hour := astro.HourFloat(in.Now)
	if in.Hovered != nil && in.Hovered.Hour != nil {
		hour = *in.Hovered.Hour
	}

	cloudCover := 0.0
	if in.Live.CloudCoverPct != nil {
		cloudCover = *in.Live.CloudCoverPct
	}
	if in.Hovered != nil && in.Hovered.CloudCoverPct != nil {
		cloudCover = *in.Hovered.CloudCoverPct
	}

	precip := 0.0
	if in.Live.PrecipitationMm != nil {
		precip = *in.Live.PrecipitationMm
	}
	if in.Hovered != nil && in.Hovered.PrecipitationMm != nil {
		precip = *in.Hovered.PrecipitationMm
	}

	key := memoKey{
		hasCode:       code != nil,
		hourCenti:     int(hour * 100),
		cloudCoverPct: cloudCover,
		precipMm:      precip,
		latitudeDeg:   in.LatitudeDeg,
		dayOfYear:     astro.DayOfYear(in.Now),
		hovered:       in.Hovered != nil,
	}
	if code != nil {
		key.weatherCode = *code
	}

	r.mu.Lock()
	if r.lastOK && r.lastKey == key {
		val := r.lastVal
		r.mu.Unlock()
		return val, true
	}
	r.mu.Unlock()

	condition := AdjustByCloudCover(Classify(code), cloudCover)
	solar := astro.Compute(in.LatitudeDeg, key.dayOfYear, hour)
	gradient := GradientFor(condition, solar.SkyPhase)

	state := RenderedState{
		Condition:    condition,
		Solar:        solar,
		Gradient:     gradient,
		GradientCSS:  gradient.CSS(),
		Scatter:      scatterFor(solar),
		Overlays:     OverlaysFor(condition, solar.SkyPhase, precip),
		Rain:         RainSpeed(precip),
		TransitionMs: TransitionAmbientMs,
	}
	if in.Hovered != nil {
		state.TransitionMs = TransitionHoverMs
	}

	r.mu.Lock()
	r.lastKey = key
	r.lastVal = state
	r.lastOK = true
	r.mu.Unlock()
	return state, false
}

// Scatter tuning. Warmth peaks while the sun sits below warmAltitudeFullDeg
// and decays to the daytime baseline by warmAltitudeBaseDeg.
const (
	nightScatterPhase    = 0.02
	warmAltitudeFullDeg  = 10.0
	warmAltitudeBaseDeg  = 25.0
	scatterBaseOpacity   = 0.3
	scatterHorizonBoost  = 0.4
	nightScatterOpacity  = 0.25
)

var (
	nightScatterColor   = RGB{R: 96, G: 124, B: 176}
	horizonScatterColor = RGB{R: 255, G: 160, B: 90}
	daylightScatterCol  = RGB{R: 255, G: 228, B: 180}
)

// scatterFor derives the atmospheric-scatter overlay from solar geometry.
// Deep night pins a cool bluish glow to an upper corner; once the sun is up
// the glow tracks the sun's position, warm and strong near the horizon and
// settling to a pale baseline by 25 degrees altitude.
func scatterFor(s astro.SolarState) Scatter {
	if s.SkyPhase <= nightScatterPhase {
		return Scatter{
			CenterXPct: 82,
			CenterYPct: 12,
			Color:      nightScatterColor,
			Opacity:    nightScatterOpacity,
		}
	}

	warmth := 1.0
	switch {
	case s.AltitudeDeg >= warmAltitudeBaseDeg:
		warmth = 0
	case s.AltitudeDeg > warmAltitudeFullDeg:
		warmth = 1 - (s.AltitudeDeg-warmAltitudeFullDeg)/(warmAltitudeBaseDeg-warmAltitudeFullDeg)
	}

	return Scatter{
		CenterXPct: s.SunHorizontalPct,
		CenterYPct: s.SunVerticalPct,
		Color:      lerpRGB(daylightScatterCol, horizonScatterColor, warmth),
		Opacity:    scatterBaseOpacity + scatterHorizonBoost*warmth,
	}
}
