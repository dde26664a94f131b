// Package history persists served air quality readings and summarizes them.
package history

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/airpulse/airpulse/internal/airquality"
)

// ErrInvalidWindow is returned when a query window is not positive.
var ErrInvalidWindow = errors.New("history window must be positive")

// Repository defines the interface for reading history persistence.
// It satisfies airquality.HistoryRepository.
type Repository interface {
	// Save stores a served reading.
	Save(ctx context.Context, reading *airquality.NormalizedReading) error

	// QueryRecent returns readings within radiusKm of c observed during the
	// last window, newest first.
	QueryRecent(ctx context.Context, c airquality.Coordinate, radiusKm float64, window time.Duration) ([]airquality.NormalizedReading, error)

	// Prune deletes readings observed before cutoff and returns how many
	// were removed.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

var _ airquality.HistoryRepository = Repository(nil)

// boundingBox returns the lat/lon rectangle that contains every point within
// radiusKm of c. It is a cheap prefilter before the exact distance check.
func boundingBox(c airquality.Coordinate, radiusKm float64) (minLat, maxLat, minLon, maxLon float64) {
	const kmPerDegree = 111.32

	dLat := radiusKm / kmPerDegree
	minLat = math.Max(-90, c.Lat-dLat)
	maxLat = math.Min(90, c.Lat+dLat)

	cos := math.Cos(c.Lat * math.Pi / 180)
	if cos < 1e-6 || maxLat >= 90 || minLat <= -90 {
		return minLat, maxLat, -180, 180
	}
	dLon := radiusKm / (kmPerDegree * cos)
	if dLon >= 180 || c.Lon-dLon < -180 || c.Lon+dLon > 180 {
		return minLat, maxLat, -180, 180
	}
	return minLat, maxLat, c.Lon - dLon, c.Lon + dLon
}
