package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-proxy/internal/cache"
	"github.com/kjstillabower/weather-proxy/internal/circuitbreaker"
	"github.com/kjstillabower/weather-proxy/internal/client"
	"github.com/kjstillabower/weather-proxy/internal/config"
	httphandler "github.com/kjstillabower/weather-proxy/internal/http"
	"github.com/kjstillabower/weather-proxy/internal/lifecycle"
	"github.com/kjstillabower/weather-proxy/internal/observability"
	"github.com/kjstillabower/weather-proxy/internal/service"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const upstreamComponent = "weather_api"

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	shutdownTracing, err := observability.InitTracing(context.Background(), observability.TracingConfig{
		Enabled:     cfg.TracingEnabled,
		Exporter:    cfg.TracingExporter,
		SampleRatio: cfg.TracingSampleRatio,
		ServiceName: observability.ServiceName,
		Version:     version,
	})
	if err != nil {
		logger.Fatal("tracing", zap.Error(err))
	}

	weatherClient := client.NewOpenWeatherClient(cfg.WeatherAPIKey, cfg.WeatherAPIURL, cfg.WeatherAPITimeout)
	if !weatherClient.Configured() {
		logger.Warn("WEATHER_API_KEY not set; weather endpoints will answer 500")
	}

	var breaker *circuitbreaker.CircuitBreaker
	if cfg.CircuitBreakerEnabled {
		breaker = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			MaxRequests:      cfg.CircuitBreakerMaxRequests,
			Timeout:          cfg.CircuitBreakerTimeout,
			Component:        upstreamComponent,
			IsFailure:        client.CountsAsFailure,
			OnStateChange: func(from, to circuitbreaker.State) {
				component := breaker.Component()
				observability.RecordCircuitBreakerTransition(component, from.String(), to.String(), int(to))
				logger.Warn("circuit breaker state change",
					zap.String("component", component),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
		weatherClient.SetCircuitBreaker(breaker)
		observability.CircuitBreakerState.WithLabelValues(breaker.Component()).Set(0)
		logger.Info("circuit breaker enabled",
			zap.String("component", breaker.Component()),
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	var store cache.Cache
	var memcached *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		if err := mc.Ping(); err != nil {
			logger.Warn("memcached not reachable at startup; requests fall through to upstream", zap.Error(err))
		}
		memcached = mc
		store = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		mem := cache.NewInMemoryCache()
		observability.RegisterCacheEntriesGauge(mem.Len)
		store = mem
		logger.Info("cache backend: in_memory")
	}

	weatherService := service.NewWeatherService(weatherClient, store, cfg.CacheTTL, service.Options{
		Coalesce:        cfg.CoalesceEnabled,
		CoalesceTimeout: cfg.CoalesceTimeout,
	})

	warmer := cache.NewCacheWarmer(weatherService, logger, cfg.WeatherAPITimeout*2)
	if len(cfg.WarmCities) > 0 && weatherClient.Configured() {
		warmCtx, warmCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := warmer.Warm(warmCtx, cfg.WarmCities); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()
		if err := warmer.Start(cfg.WarmCities, cfg.WarmInterval); err != nil {
			logger.Error("cache warming schedule", zap.Error(err))
		}
	}

	healthConfig := &httphandler.HealthConfig{
		Version:          version,
		APIKeyConfigured: weatherClient.Configured,
	}
	healthConfig.Degraded.Window = cfg.DegradedWindow
	healthConfig.Degraded.ErrorPct = cfg.DegradedErrorPct
	if memcached != nil {
		healthConfig.CachePing = memcached.Ping
	}
	if breaker != nil {
		healthConfig.CircuitState = func() string { return breaker.State().String() }
	}

	handler := httphandler.NewHandler(weatherService, healthConfig, logger)
	router := httphandler.NewRouter(handler, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.WeatherAPITimeout + 5*time.Second,
	}

	lifecycle.MarkStarted(time.Now())
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	warmer.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.InFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.InFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := observability.FlushTelemetry(flushCtx, logger, shutdownTracing); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if memcached != nil {
		if err := memcached.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
