package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/airpulse/airpulse/internal/airquality"
)

// Refresher is the part of the air quality service the job drives.
type Refresher interface {
	Refresh(ctx context.Context, c airquality.Coordinate) (*airquality.NormalizedReading, error)
	GetForecast(ctx context.Context, c airquality.Coordinate, hours int) (*airquality.Forecast, error)
}

// Pruner deletes old history.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// CacheSweeper drops expired cache entries.
type CacheSweeper interface {
	SweepCaches() int
}

// RefreshJob warms the caches for every configured point.
type RefreshJob struct {
	config  RefreshConfig
	logger  zerolog.Logger
	service Refresher
	pruner  Pruner
	sweeper CacheSweeper
	now     func() time.Time

	metrics *RefreshMetrics
}

// RefreshMetrics tracks refresh job statistics.
type RefreshMetrics struct {
	mu sync.RWMutex

	TotalRuns         int64
	SuccessfulPoints  int64
	FailedPoints      int64
	DegradedReadings  int64
	ForecastRefreshes int64
	PrunedReadings    int64

	LastRefreshAt       time.Time
	LastRefreshDuration time.Duration
	TotalDuration       time.Duration
}

// RefreshJobConfig holds configuration for creating a RefreshJob.
type RefreshJobConfig struct {
	Config  RefreshConfig
	Logger  zerolog.Logger
	Service Refresher

	// Pruner, when set, removes history older than Config.HistoryRetention.
	Pruner Pruner

	// Sweeper, when set, drops expired cache entries after each run.
	Sweeper CacheSweeper

	// Now is the clock (default: time.Now).
	Now func() time.Time
}

// NewRefreshJob creates a new refresh job.
func NewRefreshJob(cfg RefreshJobConfig) *RefreshJob {
	config := cfg.Config
	if len(config.Targets) == 0 {
		config.Targets = DefaultRefreshTargets()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 3
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.ForecastHours <= 0 || config.ForecastHours > airquality.MaxForecastHours {
		config.ForecastHours = 48
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &RefreshJob{
		config:  config,
		logger:  cfg.Logger,
		service: cfg.Service,
		pruner:  cfg.Pruner,
		sweeper: cfg.Sweeper,
		now:     now,
		metrics: &RefreshMetrics{},
	}
}

// RefreshResult contains the result of a refresh run.
type RefreshResult struct {
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration
	TotalPoints int
	Successful  int
	Failed      int
	Degraded    int
	Pruned      int
	Swept       int
	Errors      []RefreshError
}

// RefreshError represents an error during refresh.
type RefreshError struct {
	Operation string
	Point     airquality.Coordinate
	Error     string
}

// Run refreshes every configured point through a bounded worker pool.
func (j *RefreshJob) Run(ctx context.Context) *RefreshResult {
	return j.run(ctx, j.config.AllPoints())
}

// RunPoints refreshes only the given points.
func (j *RefreshJob) RunPoints(ctx context.Context, points []airquality.Coordinate) *RefreshResult {
	return j.run(ctx, points)
}

func (j *RefreshJob) run(ctx context.Context, points []airquality.Coordinate) *RefreshResult {
	startTime := j.now()
	result := &RefreshResult{
		StartTime:   startTime,
		TotalPoints: len(points),
	}

	j.logger.Info().
		Int("total_points", result.TotalPoints).
		Int("concurrency", j.config.Concurrency).
		Msg("starting air quality refresh")

	pointsChan := make(chan airquality.Coordinate, len(points))
	resultsChan := make(chan pointResult, len(points))

	var wg sync.WaitGroup
	for i := 0; i < j.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.refreshWorker(ctx, pointsChan, resultsChan)
		}()
	}

	for _, p := range points {
		pointsChan <- p
	}
	close(pointsChan)

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	for pr := range resultsChan {
		if pr.success {
			result.Successful++
		} else {
			result.Failed++
		}
		if pr.degraded {
			result.Degraded++
		}
		result.Errors = append(result.Errors, pr.errors...)
	}

	result.Pruned, result.Swept = j.prune(ctx)

	result.EndTime = j.now()
	result.Duration = result.EndTime.Sub(startTime)

	j.updateMetrics(result)

	j.logger.Info().
		Dur("duration", result.Duration).
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Int("degraded", result.Degraded).
		Int("pruned", result.Pruned).
		Int("swept", result.Swept).
		Msg("air quality refresh completed")

	return result
}

type pointResult struct {
	success  bool
	degraded bool
	errors   []RefreshError
}

func (j *RefreshJob) refreshWorker(ctx context.Context, points <-chan airquality.Coordinate, results chan<- pointResult) {
	for point := range points {
		if ctx.Err() != nil {
			results <- pointResult{errors: []RefreshError{{Operation: "current", Point: point, Error: ctx.Err().Error()}}}
			continue
		}
		results <- j.refreshPoint(ctx, point)
	}
}

func (j *RefreshJob) refreshPoint(ctx context.Context, point airquality.Coordinate) pointResult {
	result := pointResult{success: true}

	pointCtx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	reading, err := j.service.Refresh(pointCtx, point)
	if err != nil {
		result.success = false
		result.errors = append(result.errors, RefreshError{Operation: "current", Point: point, Error: err.Error()})
	} else if reading.Quality.IsDegraded() {
		// served, but no provider answered
		result.degraded = true
	}

	if j.config.RefreshForecast {
		if _, err := j.service.GetForecast(pointCtx, point, j.config.ForecastHours); err != nil {
			result.success = false
			result.errors = append(result.errors, RefreshError{Operation: "forecast", Point: point, Error: err.Error()})
		} else {
			j.metrics.mu.Lock()
			j.metrics.ForecastRefreshes++
			j.metrics.mu.Unlock()
		}
	}

	return result
}

// prune removes old history rows and expired cache entries.
func (j *RefreshJob) prune(ctx context.Context) (pruned, swept int) {
	if j.sweeper != nil {
		swept = j.sweeper.SweepCaches()
	}
	if j.pruner == nil || j.config.HistoryRetention <= 0 {
		return 0, swept
	}

	removed, err := j.pruner.Prune(ctx, j.now().Add(-j.config.HistoryRetention))
	if err != nil {
		j.logger.Error().Err(err).Msg("failed to prune reading history")
		return 0, swept
	}
	return removed, swept
}

func (j *RefreshJob) updateMetrics(result *RefreshResult) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.TotalRuns++
	j.metrics.SuccessfulPoints += int64(result.Successful)
	j.metrics.FailedPoints += int64(result.Failed)
	j.metrics.DegradedReadings += int64(result.Degraded)
	j.metrics.PrunedReadings += int64(result.Pruned)
	j.metrics.LastRefreshAt = result.EndTime
	j.metrics.LastRefreshDuration = result.Duration
	j.metrics.TotalDuration += result.Duration
}

// GetMetrics returns a copy of the current metrics.
func (j *RefreshJob) GetMetrics() RefreshMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return RefreshMetrics{
		TotalRuns:           j.metrics.TotalRuns,
		SuccessfulPoints:    j.metrics.SuccessfulPoints,
		FailedPoints:        j.metrics.FailedPoints,
		DegradedReadings:    j.metrics.DegradedReadings,
		ForecastRefreshes:   j.metrics.ForecastRefreshes,
		PrunedReadings:      j.metrics.PrunedReadings,
		LastRefreshAt:       j.metrics.LastRefreshAt,
		LastRefreshDuration: j.metrics.LastRefreshDuration,
		TotalDuration:       j.metrics.TotalDuration,
	}
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (j *RefreshJob) MetricsSnapshot() map[string]interface{} {
	m := j.GetMetrics()
	return map[string]interface{}{
		"total_runs":            m.TotalRuns,
		"successful_points":     m.SuccessfulPoints,
		"failed_points":         m.FailedPoints,
		"degraded_readings":     m.DegradedReadings,
		"forecast_refreshes":    m.ForecastRefreshes,
		"pruned_readings":       m.PrunedReadings,
		"last_refresh_at":       m.LastRefreshAt,
		"last_refresh_duration": m.LastRefreshDuration.String(),
		"total_duration":        m.TotalDuration.String(),
	}
}
