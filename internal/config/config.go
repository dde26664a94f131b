// Package config loads AirPulse settings from .env, an optional YAML file
// and the environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/airpulse/airpulse/internal/airquality"
)

// ConfigPathEnv names the variable holding the YAML config path.
const ConfigPathEnv = "AIRPULSE_CONFIG"

// Provider names accepted in Providers.Order.
const (
	ProviderOpenWeatherMap = "openweathermap"
	ProviderIQAir          = "iqair"
	ProviderOpenMeteo      = "openmeteo"
)

// History backends.
const (
	HistoryMemory   = "memory"
	HistoryPostgres = "postgres"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all AirPulse settings.
type Config struct {
	Env      string `yaml:"env"`
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	Providers ProvidersConfig `yaml:"providers"`
	Cache     CacheConfig     `yaml:"cache"`
	Synthetic SyntheticConfig `yaml:"synthetic"`
	Weather   WeatherConfig   `yaml:"weather"`
	History   HistoryConfig   `yaml:"history"`
	Worker    WorkerConfig    `yaml:"worker"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
}

// ProvidersConfig selects and tunes the upstream providers.
type ProvidersConfig struct {
	// Order lists providers by priority. Providers missing credentials are
	// skipped at startup. An empty list runs the service offline.
	Order      []string      `yaml:"order"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries uint64        `yaml:"maxRetries"`

	OpenWeatherMap APIProviderConfig `yaml:"openweathermap"`
	IQAir          APIProviderConfig `yaml:"iqair"`
	OpenMeteo      APIProviderConfig `yaml:"openmeteo"`
}

// APIProviderConfig holds per-provider endpoint settings.
type APIProviderConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseUrl"`
}

// CacheConfig holds freshness windows and the lookup radius.
type CacheConfig struct {
	CurrentFreshness  time.Duration `yaml:"currentFreshness"`
	ForecastFreshness time.Duration `yaml:"forecastFreshness"`
	RadiusKm          float64       `yaml:"radiusKm"`
}

// SyntheticConfig tunes the fallback generator.
type SyntheticConfig struct {
	NoiseFraction float64          `yaml:"noiseFraction"`
	Locations     []LocationConfig `yaml:"locations"`
}

// LocationConfig is a reference location in the YAML file.
type LocationConfig struct {
	Name     string  `yaml:"name"`
	Lat      float64 `yaml:"lat"`
	Lon      float64 `yaml:"lon"`
	Baseline float64 `yaml:"baseline"`
}

// WeatherConfig enables wind and rain adjustment of forecasts. It uses the
// OpenWeatherMap API key.
type WeatherConfig struct {
	Enrichment bool   `yaml:"enrichment"`
	OneCallURL string `yaml:"oneCallUrl"`
}

// HistoryConfig selects the history backend.
type HistoryConfig struct {
	Backend   string        `yaml:"backend"`
	Retention time.Duration `yaml:"retention"`
}

// WorkerConfig holds background refresh settings.
type WorkerConfig struct {
	RefreshInterval    time.Duration `yaml:"refreshInterval"`
	Concurrency        int           `yaml:"concurrency"`
	ForecastHours      int           `yaml:"forecastHours"`
	PubSubProject      string        `yaml:"pubsubProject"`
	PubSubSubscription string        `yaml:"pubsubSubscription"`
}

// TelemetryConfig holds OpenTelemetry exporter settings.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sampleRatio"`
}

// RateLimitConfig holds per-client HTTP limits.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Env:      "development",
		Port:     "8080",
		LogLevel: "info",
		Providers: ProvidersConfig{
			Order:      []string{ProviderOpenWeatherMap, ProviderIQAir},
			Timeout:    10 * time.Second,
			MaxRetries: 2,
		},
		Cache: CacheConfig{
			CurrentFreshness:  airquality.CurrentFreshness,
			ForecastFreshness: airquality.ForecastFreshness,
			RadiusKm:          2,
		},
		Synthetic: SyntheticConfig{NoiseFraction: 0.15},
		History: HistoryConfig{
			Backend:   HistoryMemory,
			Retention: 7 * 24 * time.Hour,
		},
		Worker: WorkerConfig{
			RefreshInterval: 30 * time.Minute,
			Concurrency:     3,
			ForecastHours:   48,
		},
		Telemetry: TelemetryConfig{Endpoint: "localhost:4317", SampleRatio: 1},
		RateLimit: RateLimitConfig{RequestsPerMinute: 120},
	}
}

// Load reads .env (if present), the YAML file named by AIRPULSE_CONFIG (if
// set) and environment overrides, then validates the result.
func Load() (Config, error) {
	// a missing .env file is normal outside local development
	_ = godotenv.Load()

	cfg := Default()

	if path := os.Getenv(ConfigPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for _, name := range c.Providers.Order {
		switch name {
		case ProviderOpenWeatherMap, ProviderIQAir, ProviderOpenMeteo:
		default:
			return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, name)
		}
		if seen[name] {
			return fmt.Errorf("%w: provider %q listed twice", ErrInvalidConfig, name)
		}
		seen[name] = true
	}

	switch {
	case c.Providers.Timeout <= 0:
		return fmt.Errorf("%w: provider timeout must be positive", ErrInvalidConfig)
	case c.Cache.CurrentFreshness <= 0 || c.Cache.ForecastFreshness <= 0:
		return fmt.Errorf("%w: freshness windows must be positive", ErrInvalidConfig)
	case c.Cache.RadiusKm < 0:
		return fmt.Errorf("%w: cache radius must not be negative", ErrInvalidConfig)
	case c.History.Backend != HistoryMemory && c.History.Backend != HistoryPostgres:
		return fmt.Errorf("%w: unknown history backend %q", ErrInvalidConfig, c.History.Backend)
	case c.Worker.ForecastHours < 1 || c.Worker.ForecastHours > airquality.MaxForecastHours:
		return fmt.Errorf("%w: worker forecast hours must be 1..%d", ErrInvalidConfig, airquality.MaxForecastHours)
	}

	for _, loc := range c.Synthetic.Locations {
		coord := airquality.Coordinate{Lat: loc.Lat, Lon: loc.Lon}
		if err := coord.Validate(); err != nil {
			return fmt.Errorf("%w: synthetic location %q: %w", ErrInvalidConfig, loc.Name, err)
		}
		if loc.Baseline <= 0 || loc.Baseline > airquality.MaxIndex {
			return fmt.Errorf("%w: synthetic location %q baseline out of range", ErrInvalidConfig, loc.Name)
		}
	}
	return nil
}

// ReferenceLocations returns the configured synthetic anchors, or nil to
// use the built-in set.
func (c *Config) ReferenceLocations() []airquality.ReferenceLocation {
	if len(c.Synthetic.Locations) == 0 {
		return nil
	}
	out := make([]airquality.ReferenceLocation, 0, len(c.Synthetic.Locations))
	for _, loc := range c.Synthetic.Locations {
		out = append(out, airquality.ReferenceLocation{
			Name:          loc.Name,
			Coordinate:    airquality.Coordinate{Lat: loc.Lat, Lon: loc.Lon},
			BaselineIndex: loc.Baseline,
		})
	}
	return out
}

func (c *Config) applyEnvOverrides() error {
	setString(&c.Env, "APP_ENV")
	setString(&c.Port, "APP_PORT")
	setString(&c.LogLevel, "LOG_LEVEL")

	setString(&c.Providers.OpenWeatherMap.APIKey, "OPENWEATHER_API_KEY")
	setString(&c.Providers.OpenWeatherMap.BaseURL, "OPENWEATHER_BASE_URL")
	setString(&c.Providers.IQAir.APIKey, "IQAIR_API_KEY")
	setString(&c.Providers.IQAir.BaseURL, "IQAIR_BASE_URL")
	setString(&c.Providers.OpenMeteo.BaseURL, "OPENMETEO_BASE_URL")
	setString(&c.History.Backend, "HISTORY_BACKEND")
	setString(&c.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&c.Worker.PubSubProject, "PUBSUB_PROJECT_ID")
	setString(&c.Worker.PubSubSubscription, "PUBSUB_SUBSCRIPTION")

	if v, ok := os.LookupEnv("PROVIDER_ORDER"); ok {
		c.Providers.Order = splitList(v)
	}
	if v := os.Getenv("OPENMETEO_ENABLED"); v == "true" && !slices.Contains(c.Providers.Order, ProviderOpenMeteo) {
		c.Providers.Order = append(c.Providers.Order, ProviderOpenMeteo)
	}
	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true"
	}
	if v := os.Getenv("WEATHER_ENRICHMENT"); v != "" {
		c.Weather.Enrichment = v == "true"
	}
	setString(&c.Weather.OneCallURL, "OPENWEATHER_ONECALL_URL")

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"PROVIDER_TIMEOUT", &c.Providers.Timeout},
		{"CACHE_CURRENT_FRESHNESS", &c.Cache.CurrentFreshness},
		{"CACHE_FORECAST_FRESHNESS", &c.Cache.ForecastFreshness},
		{"HISTORY_RETENTION", &c.History.Retention},
		{"REFRESH_INTERVAL", &c.Worker.RefreshInterval},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.key); err != nil {
			return err
		}
	}

	floats := []struct {
		key string
		dst *float64
	}{
		{"CACHE_RADIUS_KM", &c.Cache.RadiusKm},
		{"OTEL_SAMPLE_RATIO", &c.Telemetry.SampleRatio},
	}
	for _, f := range floats {
		if v := os.Getenv(f.key); v != "" {
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, f.key, err)
			}
			*f.dst = n
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"REFRESH_CONCURRENCY", &c.Worker.Concurrency},
		{"REFRESH_FORECAST_HOURS", &c.Worker.ForecastHours},
		{"RATE_LIMIT_PER_MINUTE", &c.RateLimit.RequestsPerMinute},
	}
	for _, i := range ints {
		if v := os.Getenv(i.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, i.key, err)
			}
			*i.dst = n
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, key, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(strings.ToLower(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

