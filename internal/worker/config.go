// Package worker warms the air quality caches in the background.
package worker

import (
	"sort"
	"time"

	"github.com/airpulse/airpulse/internal/airquality"
)

// RefreshTarget is a named group of coordinates to keep warm.
type RefreshTarget struct {
	// Name is the human-readable name of the target.
	Name string

	// Points are the coordinates to refresh.
	Points []airquality.Coordinate

	// Priority determines refresh order (lower = higher priority).
	Priority int
}

// RefreshConfig holds configuration for the refresh job.
type RefreshConfig struct {
	// Targets are the places to refresh.
	// If empty, uses DefaultRefreshTargets.
	Targets []RefreshTarget

	// Concurrency is the number of concurrent refresh operations.
	// Default: 3
	Concurrency int

	// Timeout is the timeout for each point.
	// Default: 30 seconds
	Timeout time.Duration

	// RefreshForecast also warms the forecast cache.
	RefreshForecast bool

	// ForecastHours is the horizon warmed when RefreshForecast is set.
	// Default: 48
	ForecastHours int

	// HistoryRetention prunes history older than this after each run.
	// Zero disables pruning.
	HistoryRetention time.Duration
}

// DefaultRefreshConfig returns the default refresh configuration.
func DefaultRefreshConfig() RefreshConfig {
	return RefreshConfig{
		Targets:          DefaultRefreshTargets(),
		Concurrency:      3,
		Timeout:          30 * time.Second,
		RefreshForecast:  true,
		ForecastHours:    48,
		HistoryRetention: 7 * 24 * time.Hour,
	}
}

// DefaultRefreshTargets returns one target per synthetic reference location.
// The three largest metros get extra points and a higher priority.
func DefaultRefreshTargets() []RefreshTarget {
	extra := map[string][]airquality.Coordinate{
		"Delhi": {
			{Lat: 28.5355, Lon: 77.3910}, // Noida
			{Lat: 28.4595, Lon: 77.0266}, // Gurugram
		},
		"Mumbai": {
			{Lat: 19.2183, Lon: 72.9781}, // Thane
			{Lat: 19.0330, Lon: 73.0297}, // Navi Mumbai
		},
		"Kolkata": {
			{Lat: 22.5958, Lon: 88.2636}, // Howrah
		},
	}

	locations := airquality.DefaultReferenceLocations()
	targets := make([]RefreshTarget, 0, len(locations))
	for _, loc := range locations {
		priority := 2
		if _, ok := extra[loc.Name]; ok {
			priority = 1
		}
		targets = append(targets, RefreshTarget{
			Name:     loc.Name,
			Priority: priority,
			Points:   append([]airquality.Coordinate{loc.Coordinate}, extra[loc.Name]...),
		})
	}
	return targets
}

// AllPoints returns all points from all targets, ordered by priority.
func (c RefreshConfig) AllPoints() []airquality.Coordinate {
	targets := append([]RefreshTarget(nil), c.Targets...)
	sort.SliceStable(targets, func(i, j int) bool {
		return targets[i].Priority < targets[j].Priority
	})

	var points []airquality.Coordinate
	for _, target := range targets {
		points = append(points, target.Points...)
	}
	return points
}

// TotalPoints returns the total number of points to refresh.
func (c RefreshConfig) TotalPoints() int {
	total := 0
	for _, target := range c.Targets {
		total += len(target.Points)
	}
	return total
}
