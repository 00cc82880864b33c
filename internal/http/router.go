package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-proxy/internal/observability"
)

// NewRouter wires middleware and routes. Every response carries
// X-Correlation-ID and is counted in the HTTP metrics.
func NewRouter(h *Handler, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	router.HandleFunc("/api/weather", h.GetWeather).Methods(http.MethodGet)
	router.HandleFunc("/api/weather/coords", h.GetWeatherByCoords).Methods(http.MethodGet)
	router.HandleFunc("/api/forecast", h.GetForecast).Methods(http.MethodGet)

	router.NotFoundHandler = wrapUnmatched(logger, http.NotFoundHandler())
	router.MethodNotAllowedHandler = wrapUnmatched(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))

	return router
}

// wrapUnmatched applies the router middleware to fallback handlers, which
// mux would otherwise serve without it.
func wrapUnmatched(logger *zap.Logger, h http.Handler) http.Handler {
	return CorrelationIDMiddleware(logger)(MetricsMiddleware(h))
}
