package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airpulse/airpulse/internal/airquality"
	"github.com/airpulse/airpulse/internal/worker"
)

// fakeRefresher records calls and answers with a fixed quality.
type fakeRefresher struct {
	quality       airquality.DataQuality
	failAt        map[airquality.Coordinate]bool
	delay         time.Duration
	refreshCalls  atomic.Int32
	forecastCalls atomic.Int32
	inFlight      atomic.Int32
	maxInFlight   atomic.Int32

	mu     sync.Mutex
	hours  []int
	points []airquality.Coordinate
}

func (f *fakeRefresher) Refresh(ctx context.Context, c airquality.Coordinate) (*airquality.NormalizedReading, error) {
	f.refreshCalls.Add(1)

	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.points = append(f.points, c)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.failAt[c] {
		return nil, airquality.ErrInvalidCoordinate
	}
	quality := f.quality
	if quality == "" {
		quality = airquality.QualityRealPrimary
	}
	return &airquality.NormalizedReading{Coordinate: c, Index: 80, Quality: quality}, nil
}

func (f *fakeRefresher) GetForecast(_ context.Context, c airquality.Coordinate, hours int) (*airquality.Forecast, error) {
	f.forecastCalls.Add(1)
	f.mu.Lock()
	f.hours = append(f.hours, hours)
	f.mu.Unlock()
	return &airquality.Forecast{Coordinate: c}, nil
}

type fakePruner struct {
	cutoff time.Time
	calls  atomic.Int32
	err    error
}

func (p *fakePruner) Prune(_ context.Context, cutoff time.Time) (int, error) {
	p.calls.Add(1)
	p.cutoff = cutoff
	return 7, p.err
}

func points(n int) []airquality.Coordinate {
	out := make([]airquality.Coordinate, n)
	for i := range out {
		out[i] = airquality.Coordinate{Lat: 18 + float64(i)*0.1, Lon: 73 + float64(i)*0.1}
	}
	return out
}

func TestDefaultRefreshConfig(t *testing.T) {
	cfg := worker.DefaultRefreshConfig()

	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.True(t, cfg.RefreshForecast)
	assert.Equal(t, 48, cfg.ForecastHours)
	assert.Equal(t, 7*24*time.Hour, cfg.HistoryRetention)
	assert.NotEmpty(t, cfg.Targets)
}

func TestDefaultRefreshTargets(t *testing.T) {
	targets := worker.DefaultRefreshTargets()

	assert.Len(t, targets, len(airquality.DefaultReferenceLocations()))

	var delhi *worker.RefreshTarget
	for i := range targets {
		if targets[i].Name == "Delhi" {
			delhi = &targets[i]
			break
		}
	}
	require.NotNil(t, delhi, "Delhi should be in targets")
	assert.Equal(t, 1, delhi.Priority)
	assert.GreaterOrEqual(t, len(delhi.Points), 2)

	for _, target := range targets {
		for _, p := range target.Points {
			assert.NoError(t, p.Validate(), target.Name)
		}
	}
}

func TestRefreshConfig_AllPoints_PriorityOrder(t *testing.T) {
	cfg := worker.RefreshConfig{
		Targets: []worker.RefreshTarget{
			{Name: "Low", Priority: 3, Points: []airquality.Coordinate{{Lat: 3, Lon: 3}}},
			{Name: "High", Priority: 1, Points: []airquality.Coordinate{{Lat: 1, Lon: 1}, {Lat: 2, Lon: 2}}},
		},
	}

	all := cfg.AllPoints()
	require.Len(t, all, 3)
	assert.Equal(t, airquality.Coordinate{Lat: 1, Lon: 1}, all[0])
	assert.Equal(t, airquality.Coordinate{Lat: 3, Lon: 3}, all[2])
	assert.Equal(t, 3, cfg.TotalPoints())
	assert.Equal(t, "Low", cfg.Targets[0].Name, "targets are not reordered in place")
}

func TestRefreshJob_Run(t *testing.T) {
	svc := &fakeRefresher{}
	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config: worker.RefreshConfig{
			Targets:         []worker.RefreshTarget{{Name: "Test", Points: points(10)}},
			Concurrency:     3,
			Timeout:         time.Second,
			RefreshForecast: true,
			ForecastHours:   24,
		},
		Logger:  zerolog.Nop(),
		Service: svc,
	})

	result := job.Run(context.Background())

	assert.Equal(t, 10, result.TotalPoints)
	assert.Equal(t, 10, result.Successful)
	assert.Zero(t, result.Failed)
	assert.Empty(t, result.Errors)
	assert.Equal(t, int32(10), svc.refreshCalls.Load())
	assert.Equal(t, int32(10), svc.forecastCalls.Load())
	for _, h := range svc.hours {
		assert.Equal(t, 24, h)
	}
}

func TestRefreshJob_BoundedConcurrency(t *testing.T) {
	svc := &fakeRefresher{delay: 20 * time.Millisecond}
	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config: worker.RefreshConfig{
			Targets:     []worker.RefreshTarget{{Name: "Test", Points: points(12)}},
			Concurrency: 2,
			Timeout:     time.Second,
		},
		Logger:  zerolog.Nop(),
		Service: svc,
	})

	result := job.Run(context.Background())

	assert.Equal(t, 12, result.Successful)
	assert.LessOrEqual(t, svc.maxInFlight.Load(), int32(2))
	assert.Zero(t, svc.forecastCalls.Load(), "forecast refresh disabled")
}

func TestRefreshJob_CollectsErrorsAndDegraded(t *testing.T) {
	pts := points(4)
	svc := &fakeRefresher{
		quality: airquality.QualitySyntheticDegraded,
		failAt:  map[airquality.Coordinate]bool{pts[1]: true},
	}
	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config: worker.RefreshConfig{
			Targets:     []worker.RefreshTarget{{Name: "Test", Points: pts}},
			Concurrency: 1,
			Timeout:     time.Second,
		},
		Logger:  zerolog.Nop(),
		Service: svc,
	})

	result := job.Run(context.Background())

	assert.Equal(t, 3, result.Successful)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 3, result.Degraded)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "current", result.Errors[0].Operation)
	assert.Equal(t, pts[1], result.Errors[0].Point)
}

func TestRefreshJob_ContextCancellation(t *testing.T) {
	svc := &fakeRefresher{}
	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config: worker.RefreshConfig{
			Targets:     []worker.RefreshTarget{{Name: "Test", Points: points(50)}},
			Concurrency: 1,
			Timeout:     100 * time.Millisecond,
		},
		Logger:  zerolog.Nop(),
		Service: svc,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := job.Run(ctx)

	assert.Equal(t, 50, result.Failed)
	assert.Zero(t, svc.refreshCalls.Load())
}

func TestRefreshJob_PrunesHistory(t *testing.T) {
	now := time.Date(2024, 11, 5, 8, 0, 0, 0, time.UTC)
	pruner := &fakePruner{}
	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config: worker.RefreshConfig{
			Targets:          []worker.RefreshTarget{{Name: "Test", Points: points(1)}},
			HistoryRetention: 24 * time.Hour,
		},
		Logger:  zerolog.Nop(),
		Service: &fakeRefresher{},
		Pruner:  pruner,
		Now:     func() time.Time { return now },
	})

	result := job.Run(context.Background())

	assert.Equal(t, 7, result.Pruned)
	assert.Equal(t, now.Add(-24*time.Hour), pruner.cutoff)

	pruner.err = errors.New("db down")
	result = job.Run(context.Background())
	assert.Zero(t, result.Pruned)
	assert.Equal(t, int64(7), job.GetMetrics().PrunedReadings)
}

type fakeSweeper struct {
	calls   atomic.Int32
	removed int
}

func (s *fakeSweeper) SweepCaches() int {
	s.calls.Add(1)
	return s.removed
}

func TestRefreshJob_SweepsCaches(t *testing.T) {
	sweeper := &fakeSweeper{removed: 3}
	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config: worker.RefreshConfig{
			Targets: []worker.RefreshTarget{{Name: "Test", Points: points(2)}},
		},
		Logger:  zerolog.Nop(),
		Service: &fakeRefresher{},
		Pruner:  &fakePruner{},
		Sweeper: sweeper,
	})

	result := job.Run(context.Background())

	assert.Equal(t, 3, result.Swept)
	assert.Zero(t, result.Pruned, "no retention configured")
	assert.Equal(t, int32(1), sweeper.calls.Load())
}

// stationProvider reports a constant PM2.5 level observed at the clock time.
type stationProvider struct {
	now func() time.Time
}

func (p stationProvider) Name() string { return "openmeteo" }

func (p stationProvider) FetchCurrent(context.Context, airquality.Coordinate) (*airquality.RawReading, error) {
	return &airquality.RawReading{
		Pollutants: airquality.Concentrations{airquality.PollutantPM25: 42},
		ObservedAt: p.now(),
	}, nil
}

func (p stationProvider) FetchForecast(_ context.Context, _ airquality.Coordinate, hours int) ([]airquality.RawReading, error) {
	series := make([]airquality.RawReading, 0, hours)
	for h := 1; h <= hours; h++ {
		series = append(series, airquality.RawReading{
			Pollutants: airquality.Concentrations{airquality.PollutantPM25: 42},
			ObservedAt: p.now().Add(time.Duration(h) * time.Hour),
		})
	}
	return series, nil
}

func TestRefreshJob_SweepsServiceCaches(t *testing.T) {
	now := time.Date(2024, 11, 5, 8, 0, 0, 0, time.UTC)
	clock := now
	tick := func() time.Time { return clock }
	svc, err := airquality.NewService(airquality.ServiceConfig{
		Providers: []airquality.Provider{stationProvider{now: tick}},
		Logger:    zerolog.Nop(),
		Now:       tick,
	})
	require.NoError(t, err)

	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config: worker.RefreshConfig{
			Targets:         []worker.RefreshTarget{{Name: "Test", Points: points(2)}},
			RefreshForecast: true,
			ForecastHours:   24,
		},
		Logger:  zerolog.Nop(),
		Service: svc,
		Sweeper: svc,
		Now:     tick,
	})

	result := job.Run(context.Background())
	require.Zero(t, result.Failed)
	assert.Zero(t, result.Swept)

	current, forecast := svc.CacheStats()
	require.Equal(t, 2, current.Entries)
	require.Equal(t, 2, forecast.Entries)

	clock = now.Add(4 * time.Hour)
	assert.Equal(t, 4, svc.SweepCaches())

	current, forecast = svc.CacheStats()
	assert.Zero(t, current.Entries)
	assert.Zero(t, forecast.Entries)
}

func TestRefreshJob_GetMetrics(t *testing.T) {
	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config: worker.RefreshConfig{
			Targets:         []worker.RefreshTarget{{Name: "Test", Points: points(2)}},
			RefreshForecast: true,
		},
		Logger:  zerolog.Nop(),
		Service: &fakeRefresher{},
	})

	_ = job.Run(context.Background())
	_ = job.Run(context.Background())

	metrics := job.GetMetrics()
	assert.Equal(t, int64(2), metrics.TotalRuns)
	assert.Equal(t, int64(4), metrics.SuccessfulPoints)
	assert.Equal(t, int64(4), metrics.ForecastRefreshes)
	assert.NotZero(t, metrics.LastRefreshAt)

	snapshot := job.MetricsSnapshot()
	assert.Contains(t, snapshot, "total_runs")
	assert.Contains(t, snapshot, "degraded_readings")
	assert.Contains(t, snapshot, "last_refresh_duration")
}

func TestNewRefreshJob_Defaults(t *testing.T) {
	svc := &fakeRefresher{}
	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Logger:  zerolog.Nop(),
		Service: svc,
	})

	result := job.Run(context.Background())
	assert.Equal(t, worker.DefaultRefreshConfig().TotalPoints(), result.TotalPoints)
}
