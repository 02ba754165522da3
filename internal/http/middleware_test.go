package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mholloway/skycast/internal/models"
	"github.com/mholloway/skycast/internal/service"
)

func newMiddlewareRouter(t *testing.T, client *mockForecastClient, limiter *rate.Limiter, timeout time.Duration) *mux.Router {
	t.Helper()
	svc := service.NewForecastService(client, &mockCache{data: make(map[string]models.ForecastSeries)}, testRegistry(t), 5*time.Minute, 0, false, 0)
	logger, _ := zap.NewDevelopment()
	handler := NewHandler(svc, nil, logger, nil)

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	if limiter != nil {
		router.Use(RateLimitMiddleware(limiter))
	}
	if timeout > 0 {
		router.Use(TimeoutMiddleware(timeout))
	}
	router.HandleFunc("/api/forecast/{city}", handler.GetForecast)
	router.HandleFunc("/health", handler.GetHealth)
	return router
}

func TestMiddleware_ThroughHandler(t *testing.T) {
	client := &mockForecastClient{forecast: models.ForecastSeries{
		Metrics:   map[string][]float64{"temperature": {12.0}},
		FetchedAt: time.Now(),
	}}
	router := newMiddlewareRouter(t, client, nil, 0)

	req := httptest.NewRequest("GET", "/api/forecast/seattle", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get("X-Correlation-ID") == "" {
		t.Error("X-Correlation-ID header missing")
	}
}

func TestMiddleware_CorrelationIDPropagated(t *testing.T) {
	router := newMiddlewareRouter(t, &mockForecastClient{}, nil, 0)

	req := httptest.NewRequest("GET", "/api/forecast/seattle", nil)
	req.Header.Set("X-Correlation-ID", "client-provided-id")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Correlation-ID"); got != "client-provided-id" {
		t.Errorf("X-Correlation-ID = %q, want client-provided-id", got)
	}
}

func TestMiddleware_HealthThroughChain(t *testing.T) {
	router := newMiddlewareRouter(t, &mockForecastClient{}, nil, 0)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRateLimitMiddleware_Returns429WhenExceeded(t *testing.T) {
	client := &mockForecastClient{forecast: models.ForecastSeries{
		Metrics:   map[string][]float64{"temperature": {10.0}},
		FetchedAt: time.Now(),
	}}
	limiter := rate.NewLimiter(1, 2)
	router := newMiddlewareRouter(t, client, limiter, 0)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/api/forecast/seattle", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if i < 2 {
			if w.Code != http.StatusOK {
				t.Errorf("request %d: status = %d, want 200", i, w.Code)
			}
		} else {
			if w.Code != http.StatusTooManyRequests {
				t.Errorf("request %d: status = %d, want 429", i, w.Code)
			}
			var errResp struct {
				Error struct {
					Code      string `json:"code"`
					Message   string `json:"message"`
					RequestID string `json:"requestId"`
				} `json:"error"`
			}
			if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
				t.Fatalf("decode 429 response: %v", err)
			}
			if errResp.Error.Code != "RATE_LIMITED" {
				t.Errorf("error.code = %q, want RATE_LIMITED", errResp.Error.Code)
			}
			if errResp.Error.RequestID == "" {
				t.Error("error.requestId is empty, want correlation ID")
			}
		}
	}
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	client := &mockForecastClient{forecast: models.ForecastSeries{
		Metrics:   map[string][]float64{"temperature": {10.0}},
		FetchedAt: time.Now(),
	}}
	router := newMiddlewareRouter(t, client, nil, 0)

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest("GET", "/api/forecast/seattle", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200 with no limiter", i, w.Code)
		}
	}
}

func TestGetRoute_Normalization(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{path: "/health", want: "/health"},
		{path: "/metrics", want: "/metrics"},
		{path: "/api/cities", want: "/api/cities"},
		{path: "/api/forecast/seattle", want: "/api/forecast/{city}"},
		{path: "/api/sky/oslo", want: "/api/sky/{city}"},
		{path: "/unknown", want: "/unknown"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", tt.path, nil)
		if got := getRoute(req); got != tt.want {
			t.Errorf("getRoute(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestStatusCodeString(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{404, "4xx"},
		{503, "5xx"},
	}
	for _, tt := range tests {
		if got := statusCodeString(tt.code); got != tt.want {
			t.Errorf("statusCodeString(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}
