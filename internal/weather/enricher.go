package weather

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/airpulse/airpulse/internal/airquality"
)

// Source provides hourly weather forecasts.
type Source interface {
	Name() string
	GetForecast(ctx context.Context, c airquality.Coordinate) (*Forecast, error)
}

// EnricherConfig holds configuration for the Enricher.
type EnricherConfig struct {
	Source Source
	Logger zerolog.Logger
}

// Enricher scales forecast indexes by the weather expected in each hour.
// Points with no matching weather hour keep their index.
type Enricher struct {
	source Source
	logger zerolog.Logger
}

var _ airquality.Enricher = (*Enricher)(nil)

// NewEnricher creates a weather enricher.
func NewEnricher(cfg EnricherConfig) *Enricher {
	return &Enricher{
		source: cfg.Source,
		logger: cfg.Logger,
	}
}

// Enrich implements airquality.Enricher.
func (e *Enricher) Enrich(ctx context.Context, c airquality.Coordinate, points []airquality.ForecastPoint) ([]airquality.ForecastPoint, error) {
	forecast, err := e.source.GetForecast(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("%s weather forecast: %w", e.source.Name(), err)
	}

	byHour := make(map[int64]Hour, len(forecast.Hours))
	for _, h := range forecast.Hours {
		byHour[h.Time.Truncate(time.Hour).Unix()] = h
	}

	out := make([]airquality.ForecastPoint, len(points))
	copy(out, points)

	adjusted := 0
	for i := range out {
		h, ok := byHour[out[i].Time.Truncate(time.Hour).Unix()]
		if !ok {
			continue
		}
		out[i].Index = int(math.Round(float64(out[i].Index) * h.Factor()))
		adjusted++
	}

	e.logger.Debug().
		Str("source", e.source.Name()).
		Float64("lat", c.Lat).
		Float64("lon", c.Lon).
		Int("points", len(points)).
		Int("adjusted", adjusted).
		Msg("forecast adjusted for weather")

	return out, nil
}
