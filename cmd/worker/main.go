// Package main provides the entrypoint for the AirPulse refresh worker.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/airpulse/airpulse/internal/api/handler"
	"github.com/airpulse/airpulse/internal/api/middleware"
	"github.com/airpulse/airpulse/internal/api/response"
	"github.com/airpulse/airpulse/internal/app"
	"github.com/airpulse/airpulse/internal/config"
	"github.com/airpulse/airpulse/internal/telemetry"
	"github.com/airpulse/airpulse/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "airpulse-worker"

	cfg, err := config.Load()
	log := app.NewLogger(os.Stdout, serviceName, Version, cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting AirPulse worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := telemetry.Init(ctx, app.TelemetryConfig(cfg, serviceName, Version))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	pipelineMetrics, err := telemetry.NewPipelineMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize pipeline metrics")
	}

	pipeline, err := app.New(ctx, cfg, app.Options{
		Logger:  log,
		Metrics: pipelineMetrics,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to assemble air quality pipeline")
	}
	defer pipeline.Close()

	refreshConfig := app.RefreshConfig(cfg)
	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config:  refreshConfig,
		Logger:  log.With().Str("component", "refresh").Logger(),
		Service: pipeline.Service,
		Pruner:  pipeline.History,
		Sweeper: pipeline.Service,
	})

	scheduler, err := worker.NewScheduler(worker.SchedulerConfig{
		Job:              job,
		Interval:         cfg.Worker.RefreshInterval,
		StartImmediately: true,
		Logger:           log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create refresh scheduler")
	}
	if err := scheduler.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start refresh scheduler")
	}
	log.Info().
		Int("points", refreshConfig.TotalPoints()).
		Time("next_run", scheduler.NextRun()).
		Msg("refresh scheduled")

	if cfg.Worker.PubSubProject != "" && cfg.Worker.PubSubSubscription != "" {
		subscriber, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        cfg.Worker.PubSubProject,
			SubscriptionName: cfg.Worker.PubSubSubscription,
			RefreshJob:       job,
			Logger:           log.With().Str("component", "pubsub").Logger(),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create pubsub handler")
		}
		defer subscriber.Close()

		go func() {
			if err := subscriber.Start(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("pubsub handler stopped")
			}
		}()
	} else {
		log.Info().Msg("pubsub not configured, running on schedule only")
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      healthRouter(log, pipeline, job),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down worker")
	cancel()
	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}

// healthRouter serves the ops endpoints and refresh job counters for the
// platform's health checks.
func healthRouter(log zerolog.Logger, pipeline *app.App, job *worker.RefreshJob) http.Handler {
	ops := handler.NewOpsHandler(Version, BuildTime, pipeline.Service, pipeline.Registry)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.ContentTypeJSON)
	r.Use(middleware.CacheControl(0))

	r.Get("/health", ops.HealthCheck)
	r.Route("/v1/ops", func(r chi.Router) {
		r.Get("/health", ops.HealthCheck)
		r.Get("/ready", ops.ReadinessCheck)
		r.Get("/status", ops.SystemStatus)
		r.Get("/refresh", func(w http.ResponseWriter, r *http.Request) {
			response.JSON(w, r, http.StatusOK, job.MetricsSnapshot())
		})
	})
	return r
}
