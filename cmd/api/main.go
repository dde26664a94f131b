// Package main provides the entrypoint for the AirPulse API server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/airpulse/airpulse/internal/api"
	"github.com/airpulse/airpulse/internal/api/middleware"
	"github.com/airpulse/airpulse/internal/app"
	"github.com/airpulse/airpulse/internal/config"
	"github.com/airpulse/airpulse/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "airpulse-api"

	cfg, err := config.Load()
	log := app.NewLogger(os.Stdout, serviceName, Version, cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Info().
		Str("build_time", BuildTime).
		Str("env", cfg.Env).
		Msg("starting AirPulse API")

	ctx := context.Background()

	tp, err := telemetry.Init(ctx, app.TelemetryConfig(cfg, serviceName, Version))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if cfg.Telemetry.Enabled {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.Endpoint).
			Float64("sample_ratio", cfg.Telemetry.SampleRatio).
			Msg("OpenTelemetry initialized")
	}

	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}
	pipelineMetrics, err := telemetry.NewPipelineMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize pipeline metrics")
		os.Exit(1)
	}

	pipeline, err := app.New(ctx, cfg, app.Options{
		Logger:  log,
		Metrics: pipelineMetrics,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to assemble air quality pipeline")
	}
	defer pipeline.Close()

	log.Info().
		Strs("providers", pipeline.Service.ProviderNames()).
		Bool("offline", pipeline.Service.Offline()).
		Str("history", cfg.History.Backend).
		Msg("air quality service initialized")

	stopSweep := make(chan struct{})
	defer close(stopSweep)
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				pipeline.Service.SweepCaches()
			case <-stopSweep:
				return
			}
		}
	}()

	router := api.NewRouter(api.RouterConfig{
		Version:         Version,
		BuildTime:       BuildTime,
		Logger:          log,
		Metrics:         metrics,
		Service:         pipeline.Service,
		Registry:        pipeline.Registry,
		DefaultRadiusKm: cfg.Cache.RadiusKm,
		RateLimit:       middleware.PerMinute(cfg.RateLimit.RequestsPerMinute),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}
