package worker

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// ErrInvalidInterval is returned when the refresh interval is not positive.
var ErrInvalidInterval = errors.New("refresh interval must be positive")

// Scheduler runs the refresh job on a fixed interval.
type Scheduler struct {
	scheduler *gocron.Scheduler
	job       *RefreshJob
	interval  time.Duration
	timeout   time.Duration
	logger    zerolog.Logger
}

// SchedulerConfig holds configuration for the Scheduler.
type SchedulerConfig struct {
	Job      *RefreshJob
	Interval time.Duration

	// RunTimeout bounds one run (default: the interval).
	RunTimeout time.Duration

	// StartImmediately runs the job once when Start is called.
	StartImmediately bool

	Logger zerolog.Logger
}

// NewScheduler creates a scheduler. Runs never overlap: a tick that fires
// while the previous run is still going is skipped.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		return nil, ErrInvalidInterval
	}

	timeout := cfg.RunTimeout
	if timeout <= 0 {
		timeout = cfg.Interval
	}

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	if !cfg.StartImmediately {
		s.WaitForScheduleAll()
	}

	return &Scheduler{
		scheduler: s,
		job:       cfg.Job,
		interval:  cfg.Interval,
		timeout:   timeout,
		logger:    cfg.Logger,
	}, nil
}

// Start schedules the refresh job and starts the scheduler in the background.
func (s *Scheduler) Start() error {
	_, err := s.scheduler.Every(s.interval).Do(s.tick)
	if err != nil {
		return err
	}

	s.logger.Info().
		Dur("interval", s.interval).
		Msg("refresh scheduler started")

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
	s.logger.Info().Msg("refresh scheduler stopped")
}

// NextRun returns when the refresh job fires next.
func (s *Scheduler) NextRun() time.Time {
	_, next := s.scheduler.NextRun()
	return next
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.job.Run(ctx)
}
