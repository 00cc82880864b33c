package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-proxy/internal/cache"
	"github.com/kjstillabower/weather-proxy/internal/client"
	"github.com/kjstillabower/weather-proxy/internal/models"
	"github.com/kjstillabower/weather-proxy/internal/normalize"
	"github.com/kjstillabower/weather-proxy/internal/observability"
)

// Query kinds, used as metric labels.
const (
	KindWeather       = "weather"
	KindWeatherCoords = "weather_coords"
	KindForecast      = "forecast"
)

// Options tunes optional service behavior.
type Options struct {
	// Coalesce collapses concurrent misses on one key into a single upstream call.
	Coalesce bool
	// CoalesceTimeout bounds how long a caller waits on a shared call.
	CoalesceTimeout time.Duration
}

// WeatherService orchestrates weather data retrieval using cache-aside pattern
// with upstream API fallback. Failed fetches are never cached.
type WeatherService struct {
	client          client.WeatherClient
	cache           cache.Cache
	ttl             time.Duration
	stampedeTracker *stampedeTracker
	coalescer       *requestCoalescer // nil if disabled
}

// NewWeatherService creates a new WeatherService with the provided dependencies.
// A ttl of zero uses cache.DefaultTTL.
func NewWeatherService(c client.WeatherClient, store cache.Cache, ttl time.Duration, opts Options) *WeatherService {
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	var coalescer *requestCoalescer
	if opts.Coalesce {
		coalescer = newRequestCoalescer(opts.CoalesceTimeout)
	}
	return &WeatherService{
		client:          c,
		cache:           store,
		ttl:             ttl,
		stampedeTracker: newStampedeTracker(),
		coalescer:       coalescer,
	}
}

// CurrentByCity returns normalized current weather for a city name.
func (s *WeatherService) CurrentByCity(ctx context.Context, city string) (models.CurrentWeather, error) {
	city = strings.TrimSpace(city)
	return fetchCached(ctx, s, KindWeather, cache.WeatherKey(city), "weather",
		url.Values{"q": {city}}, normalize.CurrentWeather, false)
}

// RefreshCurrent fetches current weather for city and overwrites its cache
// entry even when the entry is still fresh.
func (s *WeatherService) RefreshCurrent(ctx context.Context, city string) (models.CurrentWeather, error) {
	city = strings.TrimSpace(city)
	return fetchCached(ctx, s, KindWeather, cache.WeatherKey(city), "weather",
		url.Values{"q": {city}}, normalize.CurrentWeather, true)
}

// CurrentByCoords returns normalized current weather for a coordinate pair.
// The cache key rounds to two decimals; the upstream query uses the exact values.
func (s *WeatherService) CurrentByCoords(ctx context.Context, lat, lon float64) (models.CurrentWeather, error) {
	params := url.Values{
		"lat": {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon": {strconv.FormatFloat(lon, 'f', -1, 64)},
	}
	return fetchCached(ctx, s, KindWeatherCoords, cache.CoordsKey(lat, lon), "weather",
		params, normalize.CurrentWeather, false)
}

// ForecastByCity returns the normalized 5-day/3-hour forecast for a city name.
func (s *WeatherService) ForecastByCity(ctx context.Context, city string) (models.Forecast, error) {
	city = strings.TrimSpace(city)
	return fetchCached(ctx, s, KindForecast, cache.ForecastKey(city), "forecast",
		url.Values{"q": {city}}, normalize.Forecast, false)
}

// RefreshForecast is ForecastByCity without the cache read.
func (s *WeatherService) RefreshForecast(ctx context.Context, city string) (models.Forecast, error) {
	city = strings.TrimSpace(city)
	return fetchCached(ctx, s, KindForecast, cache.ForecastKey(city), "forecast",
		url.Values{"q": {city}}, normalize.Forecast, true)
}

// fetchCached serves key from cache or fetches endpoint, normalizes the body
// and stores the result for s.ttl. Cache errors degrade to a miss. refresh
// skips the cache read so a fresh entry is replaced.
func fetchCached[T any](
	ctx context.Context,
	s *WeatherService,
	kind, key, endpoint string,
	params url.Values,
	normalizeFn func(json.RawMessage) (T, error),
	refresh bool,
) (T, error) {
	var zero T
	start := time.Now()
	logger := observability.LoggerFromContext(ctx)
	observability.WeatherQueriesTotal.WithLabelValues(kind).Inc()

	if refresh {
		logger.Debug("refreshing cache entry", zap.String("key", key))
	} else if cached, ok := s.lookup(ctx, logger, kind, key); ok {
		var out T
		if err := json.Unmarshal(cached, &out); err == nil {
			logger.Debug("weather served", zap.String("key", key), zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
			return out, nil
		}
		logger.Warn("cached entry undecodable, refetching", zap.String("key", key))
	}

	concurrentMisses, done := s.stampedeTracker.Begin(key)
	defer done()
	if concurrentMisses > 1 {
		observability.CacheStampedeDetectedTotal.WithLabelValues(kind).Inc()
	}

	logger.Debug("cache miss, fetching upstream", zap.String("key", key), zap.String("endpoint", endpoint))

	fetch := func(ctx context.Context) (json.RawMessage, error) {
		raw, err := s.client.Fetch(ctx, endpoint, params)
		if err != nil {
			return nil, err
		}
		doc, err := normalizeFn(raw)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", kind, err)
		}
		s.store(ctx, logger, key, encoded)
		return encoded, nil
	}

	var encoded json.RawMessage
	var err error
	if s.coalescer != nil {
		var joined bool
		encoded, joined, err = s.coalescer.Do(ctx, key, fetch)
		if joined && err == nil {
			observability.RequestCoalescingHitsTotal.WithLabelValues(kind).Inc()
		}
	} else {
		encoded, err = fetch(ctx)
	}
	if err != nil {
		logger.Debug("weather fetch failed", zap.String("key", key), zap.Error(err))
		return zero, fmt.Errorf("fetch %s: %w", kind, err)
	}

	var out T
	if err := json.Unmarshal(encoded, &out); err != nil {
		return zero, fmt.Errorf("decode %s: %w", kind, err)
	}
	logger.Debug("weather served", zap.String("key", key), zap.Bool("cached", false), zap.Duration("duration", time.Since(start)))
	return out, nil
}

func (s *WeatherService) lookup(ctx context.Context, logger *zap.Logger, kind, key string) (json.RawMessage, bool) {
	getStart := time.Now()
	cached, ok, err := s.cache.Get(ctx, key)
	getDuration := time.Since(getStart).Seconds()
	switch {
	case err != nil:
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(getDuration)
		logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		observability.CacheMissesTotal.WithLabelValues(kind).Inc()
		return nil, false
	case ok:
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(getDuration)
		observability.CacheHitsTotal.WithLabelValues(kind).Inc()
		logger.Debug("cache hit", zap.String("key", key))
		return cached, true
	default:
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(getDuration)
		observability.CacheMissesTotal.WithLabelValues(kind).Inc()
		return nil, false
	}
}

func (s *WeatherService) store(ctx context.Context, logger *zap.Logger, key string, value json.RawMessage) {
	setStart := time.Now()
	if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(setStart).Seconds())
		logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		return
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(setStart).Seconds())
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}
