package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mholloway/skycast/internal/cities"
	"github.com/mholloway/skycast/internal/lifecycle"
	"github.com/mholloway/skycast/internal/models"
	"github.com/mholloway/skycast/internal/service"
	"github.com/mholloway/skycast/internal/sky"
	"github.com/mholloway/skycast/internal/traffic"
	"github.com/mholloway/skycast/internal/validation"
)

// HealthConfig holds lifecycle thresholds for the health handler.
type HealthConfig struct {
	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	RateLimitRPS           int
	RateLimitBurst         int // 0 when rate limiter disabled
	DegradedWindow         time.Duration
	DegradedErrorPct       int
	IdleWindow             time.Duration
	IdleThresholdReqPerMin int
	MinimumLifespan        time.Duration
	StartTime              time.Time
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	svc              *service.ForecastService
	healthConfig     *HealthConfig
	logger           *zap.Logger
	rateLimiter      *rate.Limiter
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(svc *service.ForecastService, healthConfig *HealthConfig, logger *zap.Logger, rateLimiter *rate.Limiter) *Handler {
	return &Handler{
		svc:          svc,
		healthConfig: healthConfig,
		logger:       logger,
		rateLimiter:  rateLimiter,
	}
}

// GetCities handles GET /api/cities.
func (h *Handler) GetCities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cities": h.svc.Cities(),
	})
}

// GetForecast handles GET /api/forecast/{city}?metrics=&hours=&units=.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	slug, err := validation.ValidateCitySlug(mux.Vars(r)["city"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}

	q := r.URL.Query()
	metrics, err := validation.ValidateMetrics(q.Get("metrics"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_METRICS", err.Error())
		return
	}
	units, err := validation.ValidateUnits(q.Get("units"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_UNITS", err.Error())
		return
	}
	hours := 0
	if raw := strings.TrimSpace(q.Get("hours")); raw != "" {
		hours, err = strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_HOURS", "hours must be an integer")
			return
		}
	}
	hours, err = validation.ValidateHours(hours)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_HOURS", err.Error())
		return
	}

	result, err := h.svc.GetForecast(r.Context(), slug, metrics, hours, units)
	if err != nil {
		if errors.Is(err, cities.ErrCityNotFound) {
			writeError(w, r, http.StatusNotFound, "CITY_NOT_FOUND", "unknown city: "+slug)
			return
		}
		traffic.RecordError()
		writeServiceError(w, r, err)
		return
	}
	traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, result)
}

// skyResponse is the GET /api/sky payload: the live snapshot the render was
// based on plus the declarative visual state.
type skyResponse struct {
	City       string                   `json:"city"`
	Conditions models.CurrentConditions `json:"conditions"`
	Sky        sky.RenderedState        `json:"sky"`
}

// GetSky handles GET /api/sky/{city}?hour=&weatherCode=&precipitation=&cloudCover=.
// The optional query parameters form a hovered chart point that overrides the
// live snapshot field by field.
func (h *Handler) GetSky(w http.ResponseWriter, r *http.Request) {
	slug, err := validation.ValidateCitySlug(mux.Vars(r)["city"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}

	hovered, err := parseHoveredPoint(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_HOVER", err.Error())
		return
	}

	state, live, err := h.svc.ComputeSky(r.Context(), slug, hovered)
	if err != nil {
		if errors.Is(err, cities.ErrCityNotFound) {
			writeError(w, r, http.StatusNotFound, "CITY_NOT_FOUND", "unknown city: "+slug)
			return
		}
		traffic.RecordError()
		writeServiceError(w, r, err)
		return
	}
	traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, skyResponse{City: slug, Conditions: live, Sky: state})
}

// parseHoveredPoint builds a HoveredPoint from query parameters. Returns nil
// when no hover parameter is present so ambient renders stay distinguishable
// from hover renders.
func parseHoveredPoint(r *http.Request) (*models.HoveredPoint, error) {
	q := r.URL.Query()
	var hp models.HoveredPoint
	any := false

	if raw := strings.TrimSpace(q.Get("hour")); raw != "" {
		hour, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errors.New("hour must be a number")
		}
		if err := validation.ValidateHourOfDay(hour); err != nil {
			return nil, err
		}
		hp.Hour = &hour
		any = true
	}
	if raw := strings.TrimSpace(q.Get("weatherCode")); raw != "" {
		code, err := strconv.Atoi(raw)
		if err != nil || code < 0 {
			return nil, errors.New("weatherCode must be a non-negative integer")
		}
		hp.WeatherCode = &code
		any = true
	}
	if raw := strings.TrimSpace(q.Get("precipitation")); raw != "" {
		precip, err := strconv.ParseFloat(raw, 64)
		if err != nil || precip < 0 {
			return nil, errors.New("precipitation must be a non-negative number")
		}
		hp.PrecipitationMm = &precip
		any = true
	}
	if raw := strings.TrimSpace(q.Get("cloudCover")); raw != "" {
		cover, err := strconv.ParseFloat(raw, 64)
		if err != nil || cover < 0 || cover > 100 {
			return nil, errors.New("cloudCover must be between 0 and 100")
		}
		hp.CloudCoverPct = &cover
		any = true
	}

	if !any {
		return nil, nil
	}
	return &hp, nil
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.status == "degraded" {
		checks["forecastApi"] = "unhealthy"
	} else {
		checks["forecastApi"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "skycast",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}

// computeHealthStatus determines the current health status by evaluating
// conditions in priority order: shutting-down > overloaded > idle > degraded >
// healthy. Each condition is evaluated only if previous conditions are not met.
func (h *Handler) computeHealthStatus() healthResult {
	// Priority 1: Check if service is shutting down
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	// Priority 2: Check overload threshold (rate limit denials exceed configured percentage)
	threshold := float64(h.healthConfig.RateLimitRPS) * h.healthConfig.OverloadWindow.Seconds() * float64(h.healthConfig.OverloadThresholdPct) / 100
	if float64(traffic.RequestCount(h.healthConfig.OverloadWindow)) > threshold && threshold > 0 {
		return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
	}
	// Priority 3: Check idle conditions (only if uptime exceeds minimum lifespan)
	if h.healthConfig.IdleWindow > 0 && h.healthConfig.MinimumLifespan > 0 && time.Since(h.healthConfig.StartTime) >= h.healthConfig.MinimumLifespan {
		if traffic.RequestCount(h.healthConfig.IdleWindow) < h.healthConfig.IdleThresholdReqPerMin {
			return healthResult{"idle", http.StatusOK, "low_traffic"}
		}
	}
	// Priority 4: Check degraded state (error rate exceeds configured threshold)
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errorCount, total := traffic.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 {
			pct := float64(errorCount) * 100 / float64(total)
			if pct >= float64(h.healthConfig.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	// Default: All checks passed, service is healthy
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
// Sets Content-Type header to application/json and encodes the provided value.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeServiceError writes a 503 Service Unavailable error response for upstream failures.
// Logs the underlying error at DEBUG level if logger is available in request context.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data")
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Debug("upstream error", zap.Error(err))
	}
}
