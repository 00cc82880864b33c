package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-proxy/internal/client"
	"github.com/kjstillabower/weather-proxy/internal/degraded"
	"github.com/kjstillabower/weather-proxy/internal/lifecycle"
	"github.com/kjstillabower/weather-proxy/internal/observability"
	"github.com/kjstillabower/weather-proxy/internal/service"
	"github.com/kjstillabower/weather-proxy/internal/validation"
)

// HealthConfig holds the probes and thresholds behind GET /health.
type HealthConfig struct {
	Version  string
	Degraded degraded.Policy
	// APIKeyConfigured reports whether the upstream credential is present.
	APIKeyConfigured func() bool
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
	// CircuitState, when set, returns the upstream circuit breaker state name.
	CircuitState func() string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weatherService   *service.WeatherService
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(weatherService *service.WeatherService, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if healthConfig == nil {
		healthConfig = &HealthConfig{}
	}
	return &Handler{
		weatherService: weatherService,
		healthConfig:   healthConfig,
		logger:         logger,
	}
}

// GetWeather handles GET /api/weather?city=.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	city, err := validation.ValidateCity(r.URL.Query().Get("city"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.weatherService.CurrentByCity(r.Context(), city)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	degraded.RecordOutcome(http.StatusOK)
	writeJSON(w, http.StatusOK, result)
}

// GetWeatherByCoords handles GET /api/weather/coords?lat=&lon=.
func (h *Handler) GetWeatherByCoords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, lon, err := validation.ValidateCoords(q.Get("lat"), q.Get("lon"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.weatherService.CurrentByCoords(r.Context(), lat, lon)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	degraded.RecordOutcome(http.StatusOK)
	writeJSON(w, http.StatusOK, result)
}

// GetForecast handles GET /api/forecast?city=.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	city, err := validation.ValidateCity(r.URL.Query().Get("city"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.weatherService.ForecastByCity(r.Context(), city)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	degraded.RecordOutcome(http.StatusOK)
	writeJSON(w, http.StatusOK, result)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result, checks := h.computeHealthStatus(r.Context())

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

	version := h.healthConfig.Version
	if version == "" {
		version = "dev"
	}
	resp := map[string]interface{}{
		"status":        result.status,
		"service":       observability.ServiceName,
		"version":       version,
		"checks":        checks,
		"uptimeSeconds": int64(lifecycle.Uptime().Seconds()),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	}
	if result.reason != "" {
		resp["reason"] = result.reason
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > api key missing > cache unreachable > circuit open >
// error rate breach > healthy. Every probe still fills checks.
func (h *Handler) computeHealthStatus(ctx context.Context) (healthResult, map[string]string) {
	cfg := h.healthConfig
	checks := make(map[string]string)
	var reasons []string

	if cfg.APIKeyConfigured != nil && !cfg.APIKeyConfigured() {
		checks["weatherApiKey"] = "missing"
		reasons = append(reasons, "api_key_missing")
	} else {
		checks["weatherApiKey"] = "configured"
	}

	if cfg.CachePing != nil {
		if err := cfg.CachePing(); err != nil {
			checks["cache"] = "unhealthy"
			reasons = append(reasons, "cache_unreachable")
			observability.LoggerFromContext(ctx).Debug("cache ping failed", zap.Error(err))
		} else {
			checks["cache"] = "healthy"
		}
	}

	if cfg.CircuitState != nil {
		state := cfg.CircuitState()
		checks["circuitBreaker"] = state
		if state == "open" {
			reasons = append(reasons, "circuit_open")
		}
	}

	if cfg.Degraded.Breached() {
		checks["weatherApi"] = "unhealthy"
		reasons = append(reasons, "error_rate_breach")
	} else {
		checks["weatherApi"] = "healthy"
	}

	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}, checks
	}
	if len(reasons) > 0 {
		return healthResult{"degraded", http.StatusServiceUnavailable, reasons[0]}, checks
	}
	return healthResult{"healthy", http.StatusOK, ""}, checks
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"error": message}.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, client.ErrorBody{Error: message})
}

// writeServiceError relays a fetch or normalize failure with the status and
// body chosen by client.ErrorResponse, and feeds the degraded tracker.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := client.ErrorResponse(err)
	degraded.RecordOutcome(status)

	logger := observability.LoggerFromContext(r.Context())
	fields := []zap.Field{
		zap.Int("status", status),
		zap.String("category", string(client.CategorizeError(err))),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		logger.Warn("weather request failed", fields...)
	} else {
		logger.Debug("upstream rejected request", fields...)
	}
	writeJSON(w, status, body)
}
