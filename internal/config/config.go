package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from .env, YAML and env.
type Config struct {
	ServerPort string `validate:"required,numeric"`

	// WeatherAPIKey may be empty; weather endpoints then answer 500.
	WeatherAPIKey     string
	WeatherAPIURL     string        `validate:"required,url"`
	WeatherAPITimeout time.Duration `validate:"gt=0"`

	CacheTTL     time.Duration `validate:"gt=0"`
	CacheBackend string        `validate:"oneof=in_memory memcached"`

	MemcachedAddrs        string        `validate:"required_if=CacheBackend memcached"`
	MemcachedTimeout      time.Duration `validate:"gt=0"`
	MemcachedMaxIdleConns int           `validate:"gte=1"`

	CoalesceEnabled bool
	CoalesceTimeout time.Duration `validate:"gt=0"`

	WarmCities   []string      `validate:"dive,required"`
	WarmInterval time.Duration `validate:"gte=0"`

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int           `validate:"gte=1"`
	CircuitBreakerTimeout          time.Duration `validate:"gt=0"`
	CircuitBreakerMaxRequests      int           `validate:"gte=1"`

	TracingEnabled     bool
	TracingExporter    string  `validate:"oneof=stdout otlp none"`
	TracingSampleRatio float64 `validate:"gte=0,lte=1"`

	ShutdownTimeout       time.Duration `validate:"gt=0"`
	InFlightTimeout       time.Duration `validate:"gt=0"`
	InFlightCheckInterval time.Duration `validate:"gt=0"`

	DegradedWindow   time.Duration `validate:"gt=0"`
	DegradedErrorPct int           `validate:"gte=1,lte=100"`
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Coalesce struct {
			Enabled bool   `yaml:"enabled"`
			Timeout string `yaml:"timeout"`
		} `yaml:"coalesce"`
		Warm struct {
			Cities   []string `yaml:"cities"`
			Interval string   `yaml:"interval"`
		} `yaml:"warm"`
	} `yaml:"cache"`

	CircuitBreaker struct {
		Enabled          bool   `yaml:"enabled"`
		FailureThreshold int    `yaml:"failure_threshold"`
		Timeout          string `yaml:"timeout"`
		MaxRequests      int    `yaml:"max_requests"`
	} `yaml:"circuit_breaker"`

	Tracing struct {
		Enabled     bool     `yaml:"enabled"`
		Exporter    string   `yaml:"exporter"`
		SampleRatio *float64 `yaml:"sample_ratio"`
	} `yaml:"tracing"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Health struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
}

var validate = validator.New()

// Load reads .env (if present), config/{ENV_NAME}.yaml (default dev) and
// config/secrets.yaml, then applies env overrides. Missing files mean
// defaults. The API key comes from WEATHER_API_KEY env or the secrets file
// and may be absent. Call from project root.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}

	var fc fileConfig
	configPath := filepath.Join(cwd, "config", env+".yaml")
	if err := readYAML(configPath, &fc); err != nil {
		return nil, err
	}

	cfg := &Config{}

	cfg.ServerPort = strings.TrimSpace(os.Getenv("PORT"))
	if cfg.ServerPort == "" {
		cfg.ServerPort = fc.Server.Port
	}
	if cfg.ServerPort == "" {
		cfg.ServerPort = "5000"
	}

	cfg.WeatherAPIKey = strings.TrimSpace(os.Getenv("WEATHER_API_KEY"))
	if cfg.WeatherAPIKey == "" {
		var sec secretsFile
		if err := readYAML(filepath.Join(cwd, "config", "secrets.yaml"), &sec); err != nil {
			return nil, err
		}
		cfg.WeatherAPIKey = strings.TrimSpace(sec.WeatherAPIKey)
	}

	cfg.WeatherAPIURL = strings.TrimSpace(fc.WeatherAPI.URL)
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "https://api.openweathermap.org/data/2.5"
	}
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 10*time.Second)

	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 5*time.Minute)
	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" && cfg.CacheBackend == "memcached" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.CoalesceEnabled = fc.Cache.Coalesce.Enabled
	cfg.CoalesceTimeout = parseDuration(fc.Cache.Coalesce.Timeout, 15*time.Second)
	for _, c := range fc.Cache.Warm.Cities {
		if c = strings.TrimSpace(c); c != "" {
			cfg.WarmCities = append(cfg.WarmCities, c)
		}
	}
	cfg.WarmInterval = parseDurationOrZero(fc.Cache.Warm.Interval, 0)

	cfg.CircuitBreakerEnabled = fc.CircuitBreaker.Enabled
	cfg.CircuitBreakerFailureThreshold = fc.CircuitBreaker.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerTimeout = parseDuration(fc.CircuitBreaker.Timeout, 30*time.Second)
	cfg.CircuitBreakerMaxRequests = fc.CircuitBreaker.MaxRequests
	if cfg.CircuitBreakerMaxRequests <= 0 {
		cfg.CircuitBreakerMaxRequests = 1
	}

	cfg.TracingEnabled = fc.Tracing.Enabled
	cfg.TracingExporter = strings.TrimSpace(strings.ToLower(fc.Tracing.Exporter))
	if cfg.TracingExporter == "" {
		cfg.TracingExporter = "stdout"
	}
	cfg.TracingSampleRatio = 1
	if fc.Tracing.SampleRatio != nil {
		cfg.TracingSampleRatio = *fc.Tracing.SampleRatio
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.InFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.InFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 5
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// readYAML unmarshals path into v. A missing file leaves v untouched.
func readYAML(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse config file %s: %w", filepath.Base(path), err)
	}
	return nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}
