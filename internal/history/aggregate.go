package history

import (
	"time"

	"github.com/airpulse/airpulse/internal/airquality"
)

// Aggregate summarizes a set of readings.
type Aggregate struct {
	Count          int
	MeanIndex      float64
	MinIndex       int
	MaxIndex       int
	Categories     map[airquality.Category]int
	Sources        map[string]int
	SyntheticShare float64
	Oldest         time.Time
	Newest         time.Time
}

// Summarize computes an Aggregate. An empty input yields a zero Count and
// empty maps.
func Summarize(readings []airquality.NormalizedReading) Aggregate {
	agg := Aggregate{
		Categories: make(map[airquality.Category]int),
		Sources:    make(map[string]int),
	}
	if len(readings) == 0 {
		return agg
	}

	agg.Count = len(readings)
	agg.MinIndex = readings[0].Index
	agg.MaxIndex = readings[0].Index
	agg.Oldest = readings[0].ObservedAt
	agg.Newest = readings[0].ObservedAt

	total, synthetic := 0, 0
	for _, r := range readings {
		total += r.Index
		agg.MinIndex = min(agg.MinIndex, r.Index)
		agg.MaxIndex = max(agg.MaxIndex, r.Index)
		if r.ObservedAt.Before(agg.Oldest) {
			agg.Oldest = r.ObservedAt
		}
		if r.ObservedAt.After(agg.Newest) {
			agg.Newest = r.ObservedAt
		}
		agg.Categories[r.Category]++
		agg.Sources[r.SourceID]++
		if r.Quality.IsSynthetic() {
			synthetic++
		}
	}

	agg.MeanIndex = float64(total) / float64(agg.Count)
	agg.SyntheticShare = float64(synthetic) / float64(agg.Count)
	return agg
}
