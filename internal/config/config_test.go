package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airpulse/airpulse/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "airpulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, []string{"openweathermap", "iqair"}, cfg.Providers.Order)
	assert.Equal(t, 10*time.Second, cfg.Providers.Timeout)
	assert.Equal(t, time.Hour, cfg.Cache.CurrentFreshness)
	assert.Equal(t, 3*time.Hour, cfg.Cache.ForecastFreshness)
	assert.Equal(t, config.HistoryMemory, cfg.History.Backend)
	assert.Nil(t, cfg.ReferenceLocations())
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeConfig(t, `
port: "9090"
providers:
  order: [iqair, openmeteo]
  timeout: 4s
  iqair:
    apiKey: from-file
cache:
  currentFreshness: 30m
  radiusKm: 5
synthetic:
  locations:
    - name: Patna
      lat: 25.5941
      lon: 85.1376
      baseline: 170
history:
  backend: postgres
  retention: 72h
`)
	t.Setenv(config.ConfigPathEnv, path)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, []string{"iqair", "openmeteo"}, cfg.Providers.Order)
	assert.Equal(t, 4*time.Second, cfg.Providers.Timeout)
	assert.Equal(t, "from-file", cfg.Providers.IQAir.APIKey)
	assert.Equal(t, 30*time.Minute, cfg.Cache.CurrentFreshness)
	assert.Equal(t, 3*time.Hour, cfg.Cache.ForecastFreshness, "unset keys keep defaults")
	assert.Equal(t, 5.0, cfg.Cache.RadiusKm)
	assert.Equal(t, config.HistoryPostgres, cfg.History.Backend)
	assert.Equal(t, 72*time.Hour, cfg.History.Retention)

	locations := cfg.ReferenceLocations()
	require.Len(t, locations, 1)
	assert.Equal(t, "Patna", locations[0].Name)
	assert.Equal(t, 170.0, locations[0].BaselineIndex)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
providers:
  order: [openweathermap]
  openweathermap:
    apiKey: from-file
`)
	t.Setenv(config.ConfigPathEnv, path)
	t.Setenv("OPENWEATHER_API_KEY", "from-env")
	t.Setenv("PROVIDER_TIMEOUT", "2s")
	t.Setenv("OPENMETEO_ENABLED", "true")
	t.Setenv("CACHE_RADIUS_KM", "1.5")
	t.Setenv("REFRESH_CONCURRENCY", "8")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("OTEL_SAMPLE_RATIO", "0.2")
	t.Setenv("WEATHER_ENRICHMENT", "true")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Providers.OpenWeatherMap.APIKey)
	assert.Equal(t, 2*time.Second, cfg.Providers.Timeout)
	assert.Equal(t, []string{"openweathermap", "openmeteo"}, cfg.Providers.Order)
	assert.Equal(t, 1.5, cfg.Cache.RadiusKm)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 0.2, cfg.Telemetry.SampleRatio)
	assert.True(t, cfg.Weather.Enrichment)
}

func TestLoad_ProviderOrderEnv(t *testing.T) {
	t.Setenv("PROVIDER_ORDER", " IQAir , openweathermap ")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"iqair", "openweathermap"}, cfg.Providers.Order)

	t.Setenv("PROVIDER_ORDER", "")
	cfg, err = config.Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.Providers.Order, "empty order runs offline")
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown provider", env: map[string]string{"PROVIDER_ORDER": "openaq"}},
		{name: "duplicate provider", env: map[string]string{"PROVIDER_ORDER": "iqair,iqair"}},
		{name: "bad duration", env: map[string]string{"PROVIDER_TIMEOUT": "soon"}},
		{name: "zero timeout", env: map[string]string{"PROVIDER_TIMEOUT": "0s"}},
		{name: "bad radius", env: map[string]string{"CACHE_RADIUS_KM": "near"}},
		{name: "bad sample ratio", env: map[string]string{"OTEL_SAMPLE_RATIO": "most"}},
		{name: "negative radius", env: map[string]string{"CACHE_RADIUS_KM": "-1"}},
		{name: "unknown backend", env: map[string]string{"HISTORY_BACKEND": "redis"}},
		{name: "forecast hours", env: map[string]string{"REFRESH_FORECAST_HOURS": "120"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.Load()
			assert.ErrorIs(t, err, config.ErrInvalidConfig)
		})
	}
}

func TestLoad_BadFile(t *testing.T) {
	t.Setenv(config.ConfigPathEnv, filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := config.Load()
	assert.Error(t, err)

	t.Setenv(config.ConfigPathEnv, writeConfig(t, "providers: [unclosed"))
	_, err = config.Load()
	assert.Error(t, err)
}

func TestValidate_SyntheticLocation(t *testing.T) {
	cfg := config.Default()
	cfg.Synthetic.Locations = []config.LocationConfig{{Name: "Nowhere", Lat: 120, Lon: 0, Baseline: 50}}
	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidConfig)

	cfg.Synthetic.Locations = []config.LocationConfig{{Name: "Hot", Lat: 10, Lon: 10, Baseline: 800}}
	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidConfig)
}
