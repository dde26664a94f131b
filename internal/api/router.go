// Package api provides the HTTP API for AirPulse.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/airpulse/airpulse/internal/airquality"
	"github.com/airpulse/airpulse/internal/api/handler"
	"github.com/airpulse/airpulse/internal/api/middleware"
	"github.com/airpulse/airpulse/internal/api/response"
	"github.com/airpulse/airpulse/internal/provider/resilience"
)

// readingMaxAge lets shared caches keep readings briefly. It is far below
// the freshness window so a recovered provider shows up quickly.
const readingMaxAge = 5 * time.Minute

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version   string
	BuildTime string
	Logger    zerolog.Logger
	Metrics   *middleware.Metrics

	// Service answers the air quality endpoints. Required.
	Service *airquality.Service

	// Registry feeds /v1/ops/status. Optional.
	Registry *resilience.Registry

	// DefaultRadiusKm applies when a request has no radiusKm.
	DefaultRadiusKm float64

	// RateLimit is the per-IP budget for reading and history endpoints.
	// Forecasts get middleware.ForecastLimit of it. Zero uses
	// middleware.StandardRateLimit.
	RateLimit middleware.RateLimitConfig
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// RealIP runs before the limiter so limits are per client, not per proxy.
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing())
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.ContentTypeJSON)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, r, "no such endpoint")
	})

	var pipeline handler.PipelineStatus
	if cfg.Service != nil {
		pipeline = cfg.Service
	}
	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, pipeline, cfg.Registry)

	limit := cfg.RateLimit
	if limit.RequestLimit <= 0 {
		limit = middleware.StandardRateLimit
	}
	standardRateLimit := middleware.RateLimitByIP(limit)
	forecastRateLimit := middleware.RateLimitByIP(middleware.ForecastLimit(limit))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Use(middleware.CacheControl(0))
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		if cfg.Service == nil {
			return
		}
		aqHandler := handler.NewAirQualityHandler(cfg.Service, cfg.DefaultRadiusKm, cfg.Logger)

		r.Route("/air-quality", func(r chi.Router) {
			r.Use(middleware.CacheControl(readingMaxAge))
			r.With(standardRateLimit).Get("/current", aqHandler.GetCurrent)
			r.With(forecastRateLimit).Get("/forecast", aqHandler.GetForecast)
			r.With(standardRateLimit).Get("/history", aqHandler.GetHistory)
		})
	})

	return r
}
