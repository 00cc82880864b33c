//go:build integration
// +build integration

// Package testhelpers builds live-upstream fixtures for integration tests.
package testhelpers

import (
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/weather-proxy/internal/cache"
	"github.com/kjstillabower/weather-proxy/internal/client"
	"github.com/kjstillabower/weather-proxy/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey        string
	APIURL        string
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test if WEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("WEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}

	apiURL := os.Getenv("WEATHER_API_URL")
	if apiURL == "" {
		apiURL = client.DefaultBaseURL
	}
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}

	return IntegrationTestConfig{
		APIKey:        apiKey,
		APIURL:        apiURL,
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
	}
}

// SetupIntegrationService wires a live client, the configured cache backend
// and a WeatherService. Memcached falls back to in-memory when unreachable.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.WeatherService, *client.OpenWeatherClient) {
	t.Helper()
	weatherClient := client.NewOpenWeatherClient(cfg.APIKey, cfg.APIURL, 10*time.Second)

	var store cache.Cache = cache.NewInMemoryCache()
	if cfg.CacheBackend == "memcached" {
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err == nil && mc.Ping() == nil {
			store = mc
			t.Cleanup(func() { _ = mc.Close() })
			t.Logf("using memcached at %s", cfg.MemcachedAddr)
		} else {
			t.Logf("memcached not available, using in-memory cache")
		}
	}

	svc := service.NewWeatherService(weatherClient, store, cache.DefaultTTL, service.Options{})
	return svc, weatherClient
}
