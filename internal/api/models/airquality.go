package models

import (
	"time"

	"github.com/airpulse/airpulse/internal/airquality"
	"github.com/airpulse/airpulse/internal/history"
)

// Query defaults.
const (
	DefaultForecastHours = 24
	DefaultHistoryWindow = 24 * time.Hour
)

// CurrentQuery holds the query parameters of GET /v1/air-quality/current.
type CurrentQuery struct {
	Lat      *float64 `query:"lat" validate:"required,gte=-90,lte=90"`
	Lon      *float64 `query:"lon" validate:"required,gte=-180,lte=180"`
	RadiusKm *float64 `query:"radiusKm" validate:"omitempty,gte=0,lte=50"`
}

// ForecastQuery holds the query parameters of GET /v1/air-quality/forecast.
type ForecastQuery struct {
	Lat   *float64 `query:"lat" validate:"required,gte=-90,lte=90"`
	Lon   *float64 `query:"lon" validate:"required,gte=-180,lte=180"`
	Hours *int     `query:"hours" validate:"omitempty,min=1,max=96"`
}

// HistoryQuery holds the query parameters of GET /v1/air-quality/history.
type HistoryQuery struct {
	Lat      *float64       `query:"lat" validate:"required,gte=-90,lte=90"`
	Lon      *float64       `query:"lon" validate:"required,gte=-180,lte=180"`
	RadiusKm *float64       `query:"radiusKm" validate:"omitempty,gte=0,lte=50"`
	Window   *time.Duration `query:"window" validate:"omitempty,gt=0,lte=720h"`
}

// Reading is one normalized air quality reading.
type Reading struct {
	Location          Point              `json:"location"`
	AQI               int                `json:"aqi"`
	Category          string             `json:"category"`
	DominantPollutant string             `json:"dominantPollutant,omitempty"`
	Pollutants        map[string]float64 `json:"pollutants"`
	Source            string             `json:"source"`
	DataQuality       string             `json:"dataQuality"`
	Synthetic         bool               `json:"synthetic"`
	Approximate       bool               `json:"approximate"`
	ObservedAt        Timestamp          `json:"observedAt"`
	FetchedAt         Timestamp          `json:"fetchedAt"`
}

// ReadingFrom converts a normalized reading.
func ReadingFrom(r *airquality.NormalizedReading) Reading {
	return Reading{
		Location:          PointFrom(r.Coordinate),
		AQI:               r.Index,
		Category:          string(r.Category),
		DominantPollutant: string(r.DominantPollutant),
		Pollutants:        pollutants(r.Pollutants),
		Source:            r.SourceID,
		DataQuality:       string(r.Quality),
		Synthetic:         r.Quality.IsSynthetic(),
		Approximate:       r.Approximate,
		ObservedAt:        Timestamp(r.ObservedAt),
		FetchedAt:         Timestamp(r.FetchedAt),
	}
}

// ForecastPoint is one hourly forecast value.
type ForecastPoint struct {
	Time              Timestamp          `json:"time"`
	HoursAhead        int                `json:"hoursAhead"`
	AQI               int                `json:"aqi"`
	Category          string             `json:"category"`
	DominantPollutant string             `json:"dominantPollutant,omitempty"`
	Pollutants        map[string]float64 `json:"pollutants,omitempty"`
	Confidence        float64            `json:"confidence"`
}

// ForecastSummary holds statistics over the forecast series.
type ForecastSummary struct {
	MeanAQI          float64 `json:"meanAqi"`
	MinAQI           int     `json:"minAqi"`
	MaxAQI           int     `json:"maxAqi"`
	Trend            string  `json:"trend"`
	DominantCategory string  `json:"dominantCategory"`
}

// Forecast is an hourly air quality forecast.
type Forecast struct {
	Location    Point           `json:"location"`
	Source      string          `json:"source"`
	DataQuality string          `json:"dataQuality"`
	Synthetic   bool            `json:"synthetic"`
	Approximate bool            `json:"approximate"`
	GeneratedAt Timestamp       `json:"generatedAt"`
	Summary     ForecastSummary `json:"summary"`
	Points      []ForecastPoint `json:"points"`
}

// ForecastFrom converts a domain forecast.
func ForecastFrom(f *airquality.Forecast) Forecast {
	points := make([]ForecastPoint, 0, len(f.Points))
	for _, p := range f.Points {
		points = append(points, ForecastPoint{
			Time:              Timestamp(p.Time),
			HoursAhead:        p.HoursAhead,
			AQI:               p.Index,
			Category:          string(p.Category),
			DominantPollutant: string(p.DominantPollutant),
			Pollutants:        pollutants(p.Pollutants),
			Confidence:        p.Confidence,
		})
	}

	return Forecast{
		Location:    PointFrom(f.Coordinate),
		Source:      f.SourceID,
		DataQuality: string(f.Quality),
		Synthetic:   f.Quality.IsSynthetic(),
		Approximate: f.Approximate,
		GeneratedAt: Timestamp(f.GeneratedAt),
		Summary: ForecastSummary{
			MeanAQI:          f.Summary.MeanIndex,
			MinAQI:           f.Summary.MinIndex,
			MaxAQI:           f.Summary.MaxIndex,
			Trend:            string(f.Summary.Trend),
			DominantCategory: string(f.Summary.DominantCategory),
		},
		Points: points,
	}
}

// HistorySummary aggregates the returned readings.
type HistorySummary struct {
	Count          int            `json:"count"`
	MeanAQI        float64        `json:"meanAqi"`
	MinAQI         int            `json:"minAqi"`
	MaxAQI         int            `json:"maxAqi"`
	Categories     map[string]int `json:"categories"`
	Sources        map[string]int `json:"sources"`
	SyntheticShare float64        `json:"syntheticShare"`
}

// History lists persisted readings near a point, newest first.
type History struct {
	Location Point          `json:"location"`
	RadiusKm float64        `json:"radiusKm"`
	Window   string         `json:"window"`
	Summary  HistorySummary `json:"summary"`
	Items    []Reading      `json:"items"`
}

// HistoryFrom converts persisted readings and their aggregate.
func HistoryFrom(c airquality.Coordinate, radiusKm float64, window time.Duration, readings []airquality.NormalizedReading) History {
	agg := history.Summarize(readings)

	categories := make(map[string]int, len(agg.Categories))
	for k, v := range agg.Categories {
		categories[string(k)] = v
	}

	items := make([]Reading, 0, len(readings))
	for i := range readings {
		items = append(items, ReadingFrom(&readings[i]))
	}

	return History{
		Location: PointFrom(c),
		RadiusKm: radiusKm,
		Window:   window.String(),
		Summary: HistorySummary{
			Count:          agg.Count,
			MeanAQI:        agg.MeanIndex,
			MinAQI:         agg.MinIndex,
			MaxAQI:         agg.MaxIndex,
			Categories:     categories,
			Sources:        agg.Sources,
			SyntheticShare: agg.SyntheticShare,
		},
		Items: items,
	}
}

func pollutants(c airquality.Concentrations) map[string]float64 {
	out := make(map[string]float64, len(c))
	for k, v := range c {
		out[string(k)] = v
	}
	return out
}
