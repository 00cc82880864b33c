package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/weather-proxy/internal/models"
)

type mockWeatherFetcher struct {
	mu        sync.Mutex
	current   []string
	forecasts []string
	err       error
}

func (m *mockWeatherFetcher) RefreshCurrent(ctx context.Context, city string) (models.CurrentWeather, error) {
	m.mu.Lock()
	m.current = append(m.current, city)
	m.mu.Unlock()
	if m.err != nil {
		return models.CurrentWeather{}, m.err
	}
	return models.CurrentWeather{City: city}, nil
}

func (m *mockWeatherFetcher) RefreshForecast(ctx context.Context, city string) (models.Forecast, error) {
	m.mu.Lock()
	m.forecasts = append(m.forecasts, city)
	m.mu.Unlock()
	if m.err != nil {
		return models.Forecast{}, m.err
	}
	return models.Forecast{City: city}, nil
}

func TestCacheWarmer_Warm_Success(t *testing.T) {
	fetcher := &mockWeatherFetcher{}
	warmer := NewCacheWarmer(fetcher, nil, time.Second)

	if err := warmer.Warm(context.Background(), []string{"Seattle", "Boston"}); err != nil {
		t.Fatalf("Warm() error = %v, want nil", err)
	}
	if len(fetcher.current) != 2 || len(fetcher.forecasts) != 2 {
		t.Errorf("fetches = %d current, %d forecast; want 2 each", len(fetcher.current), len(fetcher.forecasts))
	}
}

func TestCacheWarmer_Warm_EmptyCities(t *testing.T) {
	warmer := NewCacheWarmer(&mockWeatherFetcher{}, nil, time.Second)

	if err := warmer.Warm(context.Background(), nil); err != nil {
		t.Fatalf("Warm() with nil cities error = %v, want nil", err)
	}
}

func TestCacheWarmer_Warm_FetcherError(t *testing.T) {
	warmer := NewCacheWarmer(&mockWeatherFetcher{err: errors.New("api down")}, nil, time.Second)

	err := warmer.Warm(context.Background(), []string{"seattle"})
	if err == nil {
		t.Fatal("Warm() error = nil, want non-nil")
	}
	for _, want := range []string{"warm weather seattle", "warm forecast seattle", "api down"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Warm() error = %q, want it to contain %q", err.Error(), want)
		}
	}
}

func TestCacheWarmer_StartDisabled(t *testing.T) {
	warmer := NewCacheWarmer(&mockWeatherFetcher{}, nil, time.Second)
	if err := warmer.Start(nil, time.Minute); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := warmer.Start([]string{"seattle"}, 0); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	warmer.Stop()
}
