// Package app assembles the air quality pipeline from configuration. It is
// shared by the API server, the worker and the CLI.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/airpulse/airpulse/internal/airquality"
	"github.com/airpulse/airpulse/internal/airquality/iqair"
	"github.com/airpulse/airpulse/internal/airquality/openmeteo"
	"github.com/airpulse/airpulse/internal/airquality/openweathermap"
	"github.com/airpulse/airpulse/internal/config"
	"github.com/airpulse/airpulse/internal/database"
	"github.com/airpulse/airpulse/internal/history"
	"github.com/airpulse/airpulse/internal/provider/resilience"
	"github.com/airpulse/airpulse/internal/telemetry"
	"github.com/airpulse/airpulse/internal/weather"
	weatherowm "github.com/airpulse/airpulse/internal/weather/openweathermap"
)

// App holds the assembled pipeline.
type App struct {
	Service  *airquality.Service
	Registry *resilience.Registry
	History  history.Repository

	pool *pgxpool.Pool
}

// Options carries dependencies that are not part of the file config.
type Options struct {
	Logger  zerolog.Logger
	Metrics *telemetry.PipelineMetrics

	// Database overrides database.ConfigFromEnv for the postgres backend.
	Database *database.Config
}

// New builds the providers, history repository and service described by cfg.
// Providers whose credentials are missing are skipped with a warning.
func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	registry := resilience.NewRegistry()

	providers := Providers(cfg, registry, logger)
	if len(providers) == 0 {
		logger.Warn().Msg("no air quality provider configured, serving synthetic data only")
	}

	a := &App{Registry: registry}

	switch cfg.History.Backend {
	case config.HistoryPostgres:
		var (
			dbConfig database.Config
			err      error
		)
		if opts.Database != nil {
			dbConfig = *opts.Database
		} else if dbConfig, err = database.ConfigFromEnv(); err != nil {
			return nil, err
		}
		pool, err := database.Connect(ctx, dbConfig, logger)
		if err != nil {
			return nil, fmt.Errorf("connect history database: %w", err)
		}
		logger.Info().
			Str("database", dbConfig.Redacted()).
			Msg("database connected")
		a.pool = pool
		a.History = history.NewPostgresRepository(pool)
	default:
		a.History = history.NewInMemoryRepository(cfg.History.Retention)
	}

	svc, err := airquality.NewService(airquality.ServiceConfig{
		Providers: providers,
		Synthetic: airquality.NewSyntheticGenerator(airquality.SyntheticConfig{
			Locations:     cfg.ReferenceLocations(),
			NoiseFraction: cfg.Synthetic.NoiseFraction,
		}),
		History:           a.History,
		Enricher:          Enricher(cfg, registry, logger),
		Registry:          registry,
		Metrics:           opts.Metrics,
		Logger:            logger,
		ProviderTimeout:   cfg.Providers.Timeout,
		CurrentFreshness:  cfg.Cache.CurrentFreshness,
		ForecastFreshness: cfg.Cache.ForecastFreshness,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Service = svc
	return a, nil
}

// Close releases the database pool, if any.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// Providers builds the configured providers in priority order. Each gets
// its own resilient client registered in registry.
func Providers(cfg config.Config, registry *resilience.Registry, logger zerolog.Logger) []airquality.Provider {
	providers := make([]airquality.Provider, 0, len(cfg.Providers.Order))

	for _, name := range cfg.Providers.Order {
		clientCfg := resilience.DefaultClientConfig(name)
		clientCfg.Timeout = cfg.Providers.Timeout
		clientCfg.MaxRetries = cfg.Providers.MaxRetries
		clientCfg.Logger = logger
		clientCfg.Registry = registry

		switch name {
		case config.ProviderOpenWeatherMap:
			if cfg.Providers.OpenWeatherMap.APIKey == "" {
				logger.Warn().Str("provider", name).Msg("OPENWEATHER_API_KEY not set, provider skipped")
				continue
			}
			providers = append(providers, openweathermap.NewClient(openweathermap.ClientConfig{
				APIKey:     cfg.Providers.OpenWeatherMap.APIKey,
				BaseURL:    cfg.Providers.OpenWeatherMap.BaseURL,
				HTTPClient: resilience.NewClient(clientCfg),
				Logger:     logger,
			}))
		case config.ProviderIQAir:
			if cfg.Providers.IQAir.APIKey == "" {
				logger.Warn().Str("provider", name).Msg("IQAIR_API_KEY not set, provider skipped")
				continue
			}
			providers = append(providers, iqair.NewClient(iqair.ClientConfig{
				APIKey:     cfg.Providers.IQAir.APIKey,
				BaseURL:    cfg.Providers.IQAir.BaseURL,
				HTTPClient: resilience.NewClient(clientCfg),
				Logger:     logger,
			}))
		case config.ProviderOpenMeteo:
			providers = append(providers, openmeteo.NewClient(openmeteo.ClientConfig{
				BaseURL:    cfg.Providers.OpenMeteo.BaseURL,
				HTTPClient: resilience.NewClient(clientCfg),
				Logger:     logger,
			}))
		}

		logger.Info().Str("provider", name).Int("priority", len(providers)-1).Msg("air quality provider enabled")
	}
	return providers
}

// Enricher returns the weather enricher when enrichment is enabled and an
// OpenWeatherMap key is configured. It returns nil otherwise.
func Enricher(cfg config.Config, registry *resilience.Registry, logger zerolog.Logger) airquality.Enricher {
	if !cfg.Weather.Enrichment {
		return nil
	}
	if cfg.Providers.OpenWeatherMap.APIKey == "" {
		logger.Warn().Msg("OPENWEATHER_API_KEY not set, weather enrichment disabled")
		return nil
	}

	clientCfg := resilience.DefaultClientConfig(weatherowm.ProviderName)
	clientCfg.Timeout = cfg.Providers.Timeout
	clientCfg.MaxRetries = cfg.Providers.MaxRetries
	clientCfg.Logger = logger
	clientCfg.Registry = registry

	source := weatherowm.NewClient(weatherowm.ClientConfig{
		APIKey:     cfg.Providers.OpenWeatherMap.APIKey,
		OneCallURL: cfg.Weather.OneCallURL,
		HTTPClient: resilience.NewClient(clientCfg),
		Logger:     logger,
	})
	logger.Info().Str("source", source.Name()).Msg("weather enrichment enabled")

	return weather.NewEnricher(weather.EnricherConfig{Source: source, Logger: logger})
}
