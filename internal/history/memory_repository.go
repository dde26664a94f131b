package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/airpulse/airpulse/internal/airquality"
)

// InMemoryRepository is an in-memory implementation of Repository, used
// when no database is configured and in tests.
type InMemoryRepository struct {
	mu        sync.RWMutex
	readings  []airquality.NormalizedReading
	retention time.Duration
	now       func() time.Time
}

// NewInMemoryRepository creates a repository that drops readings older than
// retention on every save. Zero retention keeps everything.
func NewInMemoryRepository(retention time.Duration) *InMemoryRepository {
	return &InMemoryRepository{
		retention: retention,
		now:       time.Now,
	}
}

// WithClock replaces the clock used for windows and retention.
func (r *InMemoryRepository) WithClock(now func() time.Time) *InMemoryRepository {
	r.now = now
	return r
}

// Save stores a copy of reading.
func (r *InMemoryRepository) Save(_ context.Context, reading *airquality.NormalizedReading) error {
	cpy := *reading
	cpy.Pollutants = reading.Pollutants.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.readings = append(r.readings, cpy)
	if r.retention > 0 {
		r.pruneLocked(r.now().Add(-r.retention))
	}
	return nil
}

// QueryRecent returns readings within radiusKm of c observed in the last window.
func (r *InMemoryRepository) QueryRecent(_ context.Context, c airquality.Coordinate, radiusKm float64, window time.Duration) ([]airquality.NormalizedReading, error) {
	if window <= 0 {
		return nil, ErrInvalidWindow
	}
	since := r.now().Add(-window)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []airquality.NormalizedReading
	for _, reading := range r.readings {
		if reading.ObservedAt.Before(since) {
			continue
		}
		if airquality.HaversineKm(c, reading.Coordinate) > radiusKm {
			continue
		}
		cpy := reading
		cpy.Pollutants = reading.Pollutants.Clone()
		out = append(out, cpy)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ObservedAt.After(out[j].ObservedAt)
	})
	return out, nil
}

// Prune deletes readings observed before cutoff.
func (r *InMemoryRepository) Prune(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pruneLocked(cutoff), nil
}

// Len returns the number of stored readings.
func (r *InMemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.readings)
}

func (r *InMemoryRepository) pruneLocked(cutoff time.Time) int {
	kept := r.readings[:0]
	for _, reading := range r.readings {
		if !reading.ObservedAt.Before(cutoff) {
			kept = append(kept, reading)
		}
	}
	removed := len(r.readings) - len(kept)
	r.readings = kept
	return removed
}
