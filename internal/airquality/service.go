package airquality

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/airpulse/airpulse/internal/provider/resilience"
	"github.com/airpulse/airpulse/internal/telemetry"
)

const tracerName = "github.com/airpulse/airpulse/internal/airquality"

// Provider defines the interface for air quality data providers.
type Provider interface {
	// Name identifies the provider in readings, logs and metrics.
	Name() string

	// FetchCurrent fetches the latest reading for a coordinate.
	FetchCurrent(ctx context.Context, c Coordinate) (*RawReading, error)

	// FetchForecast fetches hourly readings after now. Implementations may
	// return more than hours points.
	FetchForecast(ctx context.Context, c Coordinate, hours int) ([]RawReading, error)
}

// HistoryRepository persists served readings and reads them back.
type HistoryRepository interface {
	Save(ctx context.Context, reading *NormalizedReading) error
	QueryRecent(ctx context.Context, c Coordinate, radiusKm float64, window time.Duration) ([]NormalizedReading, error)
}

// ServiceConfig holds configuration for the air quality service.
type ServiceConfig struct {
	// Providers are tried in order; the first is the primary. An empty list
	// puts the service in offline mode.
	Providers []Provider

	// Synthetic generates fallback data (default: NewSyntheticGenerator
	// with defaults).
	Synthetic *SyntheticGenerator

	// History receives every served reading. Optional.
	History HistoryRepository

	// Registry tracks provider outcomes for the ops surface. Optional.
	Registry *resilience.Registry

	// Metrics records provider calls and cache lookups. Optional.
	Metrics *telemetry.PipelineMetrics

	// Enricher adjusts forecast points after they are built. Optional.
	Enricher Enricher

	// Logger for service operations.
	Logger zerolog.Logger

	// ProviderTimeout bounds each provider call (default: 10 seconds).
	ProviderTimeout time.Duration

	// CurrentFreshness is the cache window for readings (default: 1 hour).
	CurrentFreshness time.Duration

	// ForecastFreshness is the cache window for forecasts (default: 3 hours).
	ForecastFreshness time.Duration

	// Now is the clock (default: time.Now).
	Now func() time.Time
}

// Service produces normalized readings and forecasts by trying providers in
// priority order and falling back to synthetic data.
type Service struct {
	providers       []Provider
	synthetic       *SyntheticGenerator
	history         HistoryRepository
	registry        *resilience.Registry
	metrics         *telemetry.PipelineMetrics
	enricher        Enricher
	logger          zerolog.Logger
	tracer          trace.Tracer
	providerTimeout time.Duration
	now             func() time.Time

	current   *Cache[*NormalizedReading]
	forecasts *Cache[*Forecast]
}

// NewService creates a new air quality service. It fails when the breakpoint
// tables are inconsistent.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := ValidateTables(Tables); err != nil {
		return nil, err
	}

	providerTimeout := cfg.ProviderTimeout
	if providerTimeout == 0 {
		providerTimeout = 10 * time.Second
	}

	currentWindow := cfg.CurrentFreshness
	if currentWindow == 0 {
		currentWindow = CurrentFreshness
	}

	forecastWindow := cfg.ForecastFreshness
	if forecastWindow == 0 {
		forecastWindow = ForecastFreshness
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	synthetic := cfg.Synthetic
	if synthetic == nil {
		synthetic = NewSyntheticGenerator(SyntheticConfig{})
	}

	if cfg.Registry != nil {
		for _, p := range cfg.Providers {
			if cfg.Registry.GetHealth(p.Name()) == nil {
				cfg.Registry.Register(p.Name(), nil)
			}
		}
	}

	return &Service{
		providers:       cfg.Providers,
		synthetic:       synthetic,
		history:         cfg.History,
		registry:        cfg.Registry,
		metrics:         cfg.Metrics,
		enricher:        cfg.Enricher,
		logger:          cfg.Logger,
		tracer:          otel.Tracer(tracerName),
		providerTimeout: providerTimeout,
		now:             now,
		current:         NewCache[*NormalizedReading](CacheConfig{Window: currentWindow, Now: now}),
		forecasts:       NewCache[*Forecast](CacheConfig{Window: forecastWindow, Now: now}),
	}, nil
}

// Offline reports whether no provider is configured.
func (s *Service) Offline() bool {
	return len(s.providers) == 0
}

// ProviderNames returns the configured providers in priority order.
func (s *Service) ProviderNames() []string {
	names := make([]string, 0, len(s.providers))
	for _, p := range s.providers {
		names = append(names, p.Name())
	}
	return names
}

// GetCurrent returns the current reading for c. A fresh cached reading
// stored within radiusKm is served without calling any provider.
//
// The only errors are ErrInvalidCoordinate and the caller's own context
// error; provider failures degrade to synthetic data.
func (s *Service) GetCurrent(ctx context.Context, c Coordinate, radiusKm float64) (*NormalizedReading, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "airquality.GetCurrent", trace.WithAttributes(
		attribute.Float64("geo.lat", c.Lat),
		attribute.Float64("geo.lon", c.Lon),
	))
	defer span.End()

	if reading, ok := s.current.Get(c, radiusKm); ok {
		s.metrics.RecordCacheLookup("current", true)
		span.SetAttributes(attribute.Bool("cache.hit", true))
		s.metrics.RecordServed("current", string(reading.Quality))
		return reading, nil
	}
	s.metrics.RecordCacheLookup("current", false)

	reading, err := s.resolveCurrent(ctx, c)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("airquality.source", reading.SourceID),
		attribute.String("airquality.quality", string(reading.Quality)),
	)
	s.metrics.RecordServed("current", string(reading.Quality))
	return reading, nil
}

// Refresh fetches a new reading for c without consulting the cache and
// stores it. Used by the background warm-up.
func (s *Service) Refresh(ctx context.Context, c Coordinate) (*NormalizedReading, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "airquality.Refresh")
	defer span.End()

	return s.resolveCurrent(ctx, c)
}

// GetHistory returns persisted readings within radiusKm of c observed in the
// last window, newest first.
func (s *Service) GetHistory(ctx context.Context, c Coordinate, radiusKm float64, window time.Duration) ([]NormalizedReading, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if s.history == nil {
		return nil, nil
	}

	readings, err := s.history.QueryRecent(ctx, c, radiusKm, window)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return readings, nil
}

// CacheStats returns statistics for the reading and forecast caches.
func (s *Service) CacheStats() (current, forecast CacheStats) {
	return s.current.Stats(), s.forecasts.Stats()
}

// SweepCaches drops cached readings and forecasts that are past their
// freshness window and returns how many were removed.
func (s *Service) SweepCaches() int {
	removed := s.current.Sweep(s.current.window) + s.forecasts.Sweep(s.forecasts.window)
	if removed > 0 {
		s.logger.Debug().Int("removed", removed).Msg("swept expired cache entries")
	}
	return removed
}

// resolveCurrent runs the provider chain and stores the result.
func (s *Service) resolveCurrent(ctx context.Context, c Coordinate) (*NormalizedReading, error) {
	var reading *NormalizedReading

	if s.Offline() {
		reading = s.syntheticCurrent(c, QualitySyntheticOffline)
	} else {
		for i, p := range s.providers {
			quality := QualityRealSecondary
			if i == 0 {
				quality = QualityRealPrimary
			}

			r, err := s.fetchCurrent(ctx, p, c, quality)
			if err == nil {
				reading = r
				break
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}

		if reading == nil {
			s.logger.Warn().
				Float64("lat", c.Lat).
				Float64("lon", c.Lon).
				Int("providers", len(s.providers)).
				Msg("all air quality providers failed, serving synthetic data")
			reading = s.syntheticCurrent(c, QualitySyntheticDegraded)
		}
	}

	s.store(ctx, reading)
	return reading, nil
}

// fetchCurrent calls one provider under its own timeout and normalizes the
// answer. Every failure is logged and recorded before it is returned.
func (s *Service) fetchCurrent(ctx context.Context, p Provider, c Coordinate, quality DataQuality) (*NormalizedReading, error) {
	name := p.Name()

	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	callCtx, span := s.tracer.Start(callCtx, "airquality.provider.current", trace.WithAttributes(
		attribute.String("provider.name", name),
	))
	defer span.End()

	start := s.now()
	raw, err := p.FetchCurrent(callCtx, c)
	if err == nil && raw != nil {
		var dropped []Pollutant
		if raw, dropped = sanitized(raw); len(dropped) > 0 {
			s.logDropped(name, "current", dropped, 1)
		}
	}
	if err == nil && !raw.Usable() {
		err = Unavailable(ErrCauseMalformed, errors.New("reading has no PM2.5 concentration"))
	}

	var reading *NormalizedReading
	if err == nil {
		reading, err = s.normalize(raw, c, name, quality)
		if err != nil {
			// Sanitized concentrations always match a segment of valid tables.
			s.logger.Error().Err(err).Str("provider", name).Msg("breakpoint conversion failed")
			err = Unavailable(ErrCauseMalformed, err)
		}
	}

	elapsed := s.now().Sub(start)
	if err != nil {
		s.providerFailed(name, "current", elapsed, err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.metrics.RecordProviderCall(name, "current", elapsed, "")
	if s.registry != nil {
		s.registry.RecordSuccess(name)
	}
	return reading, nil
}

// sanitized returns raw without faulty concentrations so one bad pollutant
// does not void the others. raw itself is left untouched.
func sanitized(raw *RawReading) (*RawReading, []Pollutant) {
	clean, dropped := raw.Pollutants.Sanitize()
	if len(dropped) == 0 {
		return raw, nil
	}
	out := *raw
	out.Pollutants = clean
	return &out, dropped
}

func (s *Service) logDropped(name, operation string, dropped []Pollutant, readings int) {
	pollutants := make([]string, len(dropped))
	for i, p := range dropped {
		pollutants[i] = string(p)
	}
	s.logger.Warn().
		Str("provider", name).
		Str("operation", operation).
		Strs("pollutants", pollutants).
		Int("readings", readings).
		Msg("dropped invalid pollutant concentrations")
}

func (s *Service) providerFailed(name, operation string, elapsed time.Duration, err error) {
	cause := FailureCause(err)
	s.logger.Warn().
		Err(err).
		Str("provider", name).
		Str("operation", operation).
		Str("cause", cause).
		Dur("elapsed", elapsed).
		Msg("air quality provider unavailable")
	s.metrics.RecordProviderCall(name, operation, elapsed, cause)
	if s.registry != nil {
		s.registry.RecordFailure(name, cause, err)
	}
}

// normalize converts a raw reading onto the national scale.
func (s *Service) normalize(raw *RawReading, c Coordinate, source string, quality DataQuality) (*NormalizedReading, error) {
	fetchedAt := s.now()

	observedAt := raw.ObservedAt
	if observedAt.IsZero() {
		observedAt = fetchedAt
	}

	reading := &NormalizedReading{
		Coordinate:  c,
		Pollutants:  raw.Pollutants.Clone(),
		SourceID:    source,
		Quality:     quality,
		Approximate: raw.Approximate,
		ObservedAt:  observedAt,
		FetchedAt:   fetchedAt,
	}

	if raw.Pollutants.Has(PollutantPM25) {
		index, dominant, err := OverallIndex(raw.Pollutants)
		if err != nil {
			return nil, err
		}
		reading.Index = index
		reading.DominantPollutant = dominant
	} else {
		reading.Index = ClampIndex(*raw.NativeIndex)
	}
	reading.Category = CategoryFor(reading.Index)

	return reading, nil
}

func (s *Service) syntheticCurrent(c Coordinate, quality DataQuality) *NormalizedReading {
	raw := s.synthetic.Current(c, s.now())
	reading, err := s.normalize(&raw, c, SourceSynthetic, quality)
	if err != nil {
		// Generated concentrations lie inside the tables, so this is a bug.
		s.logger.Error().Err(err).Msg("synthetic reading failed to normalize")
		now := s.now()
		index := ClampIndex(s.synthetic.Reference(c).BaselineIndex)
		reading = &NormalizedReading{
			Coordinate: c,
			Index:      index,
			Category:   CategoryFor(index),
			Pollutants: Concentrations{},
			SourceID:   SourceSynthetic,
			Quality:    quality,
			ObservedAt: now,
			FetchedAt:  now,
		}
	}
	return reading
}

// store caches real readings and hands every reading to the history
// repository. Synthetic readings are not cached so a recovered provider is
// used on the next request.
func (s *Service) store(ctx context.Context, reading *NormalizedReading) {
	if !reading.Quality.IsSynthetic() {
		s.current.Put(reading.Coordinate, reading, reading.ObservedAt)
	}

	if s.history == nil {
		return
	}
	if err := s.history.Save(ctx, reading); err != nil {
		s.logger.Error().
			Err(err).
			Float64("lat", reading.Coordinate.Lat).
			Float64("lon", reading.Coordinate.Lon).
			Msg("failed to persist air quality reading")
	}
}
