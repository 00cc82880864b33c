package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-proxy/internal/models"
	"github.com/kjstillabower/weather-proxy/internal/observability"
)

// WeatherFetcher is implemented by the service layer. Each call bypasses the
// cache read and overwrites the entry, so a run refreshes entries that are
// still fresh. Declared here to avoid a circular dependency on the
// service package.
type WeatherFetcher interface {
	RefreshCurrent(ctx context.Context, city string) (models.CurrentWeather, error)
	RefreshForecast(ctx context.Context, city string) (models.Forecast, error)
}

// CacheWarmer prefetches current weather and forecasts for a fixed city list.
type CacheWarmer struct {
	fetcher   WeatherFetcher
	logger    *zap.Logger
	timeout   time.Duration
	scheduler *gocron.Scheduler
}

// NewCacheWarmer creates a CacheWarmer. timeout bounds each warming run.
func NewCacheWarmer(fetcher WeatherFetcher, logger *zap.Logger, timeout time.Duration) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CacheWarmer{fetcher: fetcher, logger: logger, timeout: timeout}
}

// Warm fetches current weather and forecast for each city concurrently.
// Returns the joined errors of all failed fetches.
func (w *CacheWarmer) Warm(ctx context.Context, cities []string) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("cities", len(cities)))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}
	for _, city := range cities {
		city := city
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := w.fetcher.RefreshCurrent(ctx, city); err != nil {
				record(fmt.Errorf("warm weather %s: %w", city, err))
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := w.fetcher.RefreshForecast(ctx, city); err != nil {
				record(fmt.Errorf("warm forecast %s: %w", city, err))
			}
		}()
	}
	wg.Wait()

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("cache warming complete", zap.Int("cities", len(cities)), zap.Int("errors", len(errs)), zap.Float64("duration_seconds", duration))
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// Start schedules Warm every interval. The first scheduled run happens one
// interval from now; call Warm directly for an immediate pass.
func (w *CacheWarmer) Start(cities []string, interval time.Duration) error {
	if len(cities) == 0 || interval <= 0 {
		return nil
	}
	s := gocron.NewScheduler(time.UTC)
	_, err := s.Every(interval).WaitForSchedule().SingletonMode().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		if err := w.Warm(ctx, cities); err != nil {
			w.logger.Warn("periodic cache warm failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule cache warming: %w", err)
	}
	s.StartAsync()
	w.scheduler = s
	return nil
}

// Stop cancels future warming runs.
func (w *CacheWarmer) Stop() {
	if w.scheduler != nil {
		w.scheduler.Stop()
	}
}
