package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-search-widget/internal/client"
	"github.com/kjstillabower/weather-search-widget/internal/lifecycle"
	"github.com/kjstillabower/weather-search-widget/internal/observability"
	"github.com/kjstillabower/weather-search-widget/internal/service"
	"github.com/kjstillabower/weather-search-widget/internal/traffic"
	"github.com/kjstillabower/weather-search-widget/internal/validation"
	"github.com/kjstillabower/weather-search-widget/internal/widget"
)

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	// Window is the sliding window both percentages are computed over.
	Window               time.Duration
	DegradedErrorPct     int
	OverloadThresholdPct int
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
	// BreakerState, when set, reports the upstream circuit breaker state.
	BreakerState func() string
}

// LocationBounds are the rune-length limits applied to city names and suggestion queries.
type LocationBounds struct {
	Min int
	Max int
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weatherService   *service.WeatherService
	client           client.WeatherClient
	healthConfig     *HealthConfig
	logger           *zap.Logger
	bounds           LocationBounds
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(
	weatherService *service.WeatherService,
	client client.WeatherClient,
	healthConfig *HealthConfig,
	logger *zap.Logger,
	bounds LocationBounds,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		weatherService: weatherService,
		client:         client,
		healthConfig:   healthConfig,
		logger:         logger,
		bounds:         bounds,
	}
}

// GetWeather handles GET /weather/{city}.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	city, err := validation.ValidateLocation(mux.Vars(r)["city"], h.bounds.Min, h.bounds.Max)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return
	}

	view, err := h.weatherService.GetWeather(r.Context(), city)
	if err != nil {
		if errors.Is(err, client.ErrLocationNotFound) {
			traffic.Record(traffic.Success)
			writeError(w, r, http.StatusNotFound, "CITY_NOT_FOUND", widget.ErrorMessage)
			return
		}
		traffic.Record(traffic.Failure)
		writeServiceError(w, r, err)
		return
	}
	traffic.Record(traffic.Success)
	writeJSON(w, http.StatusOK, view)
}

type suggestionsResponse struct {
	Query       string   `json:"query"`
	Suggestions []string `json:"suggestions"`
}

// GetSuggestions handles GET /suggestions?q=. It always answers 200: lookup failures
// are logged and reported as an empty list, the same way the widget treats them.
func (h *Handler) GetSuggestions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	resp := suggestionsResponse{Query: query, Suggestions: []string{}}

	trimmed := strings.TrimSpace(query)
	if utf8.RuneCountInString(trimmed) < h.weatherService.SuggestionMinLength() {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	if _, err := validation.ValidateLocation(trimmed, 0, h.bounds.Max); err != nil {
		observability.SuggestionLookupsTotal.WithLabelValues("rejected").Inc()
		writeJSON(w, http.StatusOK, resp)
		return
	}

	names, err := h.weatherService.Suggest(r.Context(), trimmed)
	if err != nil {
		traffic.Record(traffic.Failure)
		observability.LoggerFromContext(r.Context()).Warn("error fetching city suggestions",
			zap.String("query", trimmed), zap.Error(err))
		writeJSON(w, http.StatusOK, resp)
		return
	}
	traffic.Record(traffic.Success)
	resp.Suggestions = names
	writeJSON(w, http.StatusOK, resp)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

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

	checks := map[string]string{"weatherApi": "healthy"}
	if result.reason == "api_key_invalid" {
		checks["weatherApi"] = "unhealthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	if h.healthConfig != nil && h.healthConfig.BreakerState != nil {
		checks["circuitBreaker"] = h.healthConfig.BreakerState()
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "weather-search-widget",
		"version":   "dev",
		"phase":     lifecycle.Current().String(),
		"uptime":    lifecycle.Uptime().Round(time.Second).String(),
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if result.reason != "" {
		resp["reason"] = result.reason
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > API key invalid > overloaded > degraded > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	// Only a rejected key counts here; an unreachable upstream shows up in the error rate.
	if err := h.client.ValidateAPIKey(ctx); errors.Is(err, client.ErrInvalidAPIKey) {
		return healthResult{"degraded", http.StatusServiceUnavailable, "api_key_invalid"}
	}
	if h.healthConfig == nil || h.healthConfig.Window <= 0 {
		return healthResult{"healthy", http.StatusOK, ""}
	}

	counts := traffic.Snapshot(h.healthConfig.Window)
	if pct := h.healthConfig.OverloadThresholdPct; pct > 0 && counts.Denied > 0 && counts.DeniedPct() >= float64(pct) {
		return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
	}
	if pct := h.healthConfig.DegradedErrorPct; pct > 0 && counts.Failures > 0 && counts.ErrorPct() >= float64(pct) {
		return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error envelope with code, message and the
// request's correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationIDFromContext(r.Context()),
		},
	})
}

// writeServiceError writes a 503 for upstream failures and logs the cause at DEBUG.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data")
	observability.LoggerFromContext(r.Context()).Debug("upstream error",
		zap.String("category", string(client.CategorizeError(err))), zap.Error(err))
}
