package airquality

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MaxForecastHours is the longest supported horizon.
const MaxForecastHours = 96

// Starting confidence per data origin. Confidence decays linearly to 40% of
// the start value at MaxForecastHours.
const (
	confidenceReal        = 0.95
	confidenceApproximate = 0.9
	confidenceSynthetic   = 0.7
	confidenceDecay       = 0.6
)

// Trend is the direction of a forecast.
type Trend string

const (
	TrendImproving Trend = "IMPROVING"
	TrendWorsening Trend = "WORSENING"
	TrendStable    Trend = "STABLE"
)

// trendBand is the relative change below which a forecast counts as stable.
const trendBand = 0.05

// ForecastPoint is one hourly forecast value.
type ForecastPoint struct {
	Time              time.Time
	HoursAhead        int
	Index             int
	Category          Category
	Pollutants        Concentrations
	DominantPollutant Pollutant
	Confidence        float64
}

// Summary holds statistics derived from a forecast series.
type Summary struct {
	MeanIndex        float64
	MinIndex         int
	MaxIndex         int
	Trend            Trend
	DominantCategory Category
}

// Forecast is an hourly series for one coordinate.
type Forecast struct {
	Coordinate  Coordinate
	Points      []ForecastPoint
	Summary     Summary
	SourceID    string
	Quality     DataQuality
	Approximate bool
	GeneratedAt time.Time
}

// Enricher may adjust forecast point values after they are built. It must
// keep the number and order of points; results that do not are discarded.
// Times and confidences are always kept from the original points.
type Enricher interface {
	Enrich(ctx context.Context, c Coordinate, points []ForecastPoint) ([]ForecastPoint, error)
}

// Confidence returns the confidence of the point hoursAhead hours out for a
// series starting at start.
func Confidence(start float64, hoursAhead int) float64 {
	if hoursAhead < 1 {
		hoursAhead = 1
	}
	return start * (1 - confidenceDecay*float64(hoursAhead-1)/float64(MaxForecastHours-1))
}

// GetForecast returns an hourly forecast of exactly hours points for c.
// hours must be between 1 and MaxForecastHours.
func (s *Service) GetForecast(ctx context.Context, c Coordinate, hours int) (*Forecast, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if hours < 1 || hours > MaxForecastHours {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidHorizon, hours)
	}

	ctx, span := s.tracer.Start(ctx, "airquality.GetForecast", trace.WithAttributes(
		attribute.Float64("geo.lat", c.Lat),
		attribute.Float64("geo.lon", c.Lon),
		attribute.Int("forecast.hours", hours),
	))
	defer span.End()

	if cached, ok := s.forecasts.Get(c, 0); ok {
		if forecast, ok := cached.remaining(s.now(), hours); ok {
			s.metrics.RecordCacheLookup("forecast", true)
			s.metrics.RecordServed("forecast", string(forecast.Quality))
			return forecast, nil
		}
	}
	s.metrics.RecordCacheLookup("forecast", false)

	forecast, err := s.resolveForecast(ctx, c, hours)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if !forecast.Quality.IsSynthetic() {
		s.forecasts.Put(c, forecast, forecast.GeneratedAt)
	}
	s.metrics.RecordServed("forecast", string(forecast.Quality))
	return forecast, nil
}

func (s *Service) resolveForecast(ctx context.Context, c Coordinate, hours int) (*Forecast, error) {
	now := s.now()

	if s.Offline() {
		return s.syntheticForecast(ctx, c, hours, now, QualitySyntheticOffline), nil
	}

	for i, p := range s.providers {
		quality := QualityRealSecondary
		if i == 0 {
			quality = QualityRealPrimary
		}

		forecast, err := s.fetchForecast(ctx, p, c, hours, now, quality)
		if err == nil {
			return s.finish(ctx, forecast), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	s.logger.Warn().
		Float64("lat", c.Lat).
		Float64("lon", c.Lon).
		Int("hours", hours).
		Msg("no provider forecast usable, serving synthetic series")
	return s.syntheticForecast(ctx, c, hours, now, QualitySyntheticDegraded), nil
}

func (s *Service) fetchForecast(ctx context.Context, p Provider, c Coordinate, hours int, now time.Time, quality DataQuality) (*Forecast, error) {
	name := p.Name()

	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	callCtx, span := s.tracer.Start(callCtx, "airquality.provider.forecast", trace.WithAttributes(
		attribute.String("provider.name", name),
	))
	defer span.End()

	start := s.now()
	series, err := p.FetchForecast(callCtx, c, hours)

	var forecast *Forecast
	if err == nil {
		forecast, err = s.buildForecast(series, c, hours, now, name, quality)
	}

	elapsed := s.now().Sub(start)
	if errors.Is(err, ErrCauseUnsupported) {
		s.logger.Debug().Str("provider", name).Msg("provider has no forecast, skipping")
		return nil, err
	}
	if err != nil {
		s.providerFailed(name, "forecast", elapsed, err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.metrics.RecordProviderCall(name, "forecast", elapsed, "")
	if s.registry != nil {
		s.registry.RecordSuccess(name)
	}
	return forecast, nil
}

// buildForecast keeps the first hours usable points after now and
// normalizes each of them on its own.
func (s *Service) buildForecast(series []RawReading, c Coordinate, hours int, now time.Time, source string, quality DataQuality) (*Forecast, error) {
	future := make([]RawReading, 0, len(series))
	var (
		dropped []Pollutant
		faulty  int
	)
	for i := range series {
		if !series[i].ObservedAt.After(now) {
			continue
		}
		raw, bad := sanitized(&series[i])
		if len(bad) > 0 {
			faulty++
			for _, p := range bad {
				if !slices.Contains(dropped, p) {
					dropped = append(dropped, p)
				}
			}
		}
		if raw.Usable() {
			future = append(future, *raw)
		}
	}
	if faulty > 0 {
		s.logDropped(source, "forecast", dropped, faulty)
	}
	if len(future) < hours {
		return nil, Unavailable(ErrCauseMalformed,
			fmt.Errorf("forecast has %d usable future points, need %d", len(future), hours))
	}
	sort.SliceStable(future, func(i, j int) bool {
		return future[i].ObservedAt.Before(future[j].ObservedAt)
	})

	approximate := false
	for i := range future[:hours] {
		approximate = approximate || future[i].Approximate
	}
	forecast := &Forecast{
		Coordinate:  c,
		SourceID:    source,
		Quality:     quality,
		Approximate: approximate,
		GeneratedAt: now,
	}
	points, err := s.points(future[:hours], c, source, quality, forecast.startConfidence())
	if err != nil {
		return nil, Unavailable(ErrCauseMalformed, err)
	}
	forecast.Points = points
	return forecast, nil
}

func (s *Service) syntheticForecast(ctx context.Context, c Coordinate, hours int, now time.Time, quality DataQuality) *Forecast {
	series := s.synthetic.Forecast(c, now, hours)

	points, err := s.points(series, c, SourceSynthetic, quality, confidenceSynthetic)
	if err != nil {
		// Generated concentrations lie inside the tables, so this is a bug.
		s.logger.Error().Err(err).Msg("synthetic forecast failed to normalize")
		points = make([]ForecastPoint, hours)
		index := ClampIndex(s.synthetic.Reference(c).BaselineIndex)
		for i := range points {
			points[i] = ForecastPoint{
				Time:       now.Add(time.Duration(i+1) * time.Hour),
				HoursAhead: i + 1,
				Index:      index,
				Category:   CategoryFor(index),
				Pollutants: Concentrations{},
				Confidence: Confidence(confidenceSynthetic, i+1),
			}
		}
	}

	return s.finish(ctx, &Forecast{
		Coordinate:  c,
		Points:      points,
		SourceID:    SourceSynthetic,
		Quality:     quality,
		GeneratedAt: now,
	})
}

func (s *Service) points(series []RawReading, c Coordinate, source string, quality DataQuality, startConfidence float64) ([]ForecastPoint, error) {
	points := make([]ForecastPoint, 0, len(series))
	for i := range series {
		reading, err := s.normalize(&series[i], c, source, quality)
		if err != nil {
			return nil, err
		}
		hoursAhead := i + 1
		points = append(points, ForecastPoint{
			Time:              reading.ObservedAt,
			HoursAhead:        hoursAhead,
			Index:             reading.Index,
			Category:          reading.Category,
			Pollutants:        reading.Pollutants,
			DominantPollutant: reading.DominantPollutant,
			Confidence:        Confidence(startConfidence, hoursAhead),
		})
	}
	return points, nil
}

// finish runs the optional enricher and computes the summary.
func (s *Service) finish(ctx context.Context, f *Forecast) *Forecast {
	if s.enricher != nil {
		enriched, err := s.enricher.Enrich(ctx, f.Coordinate, clonePoints(f.Points))
		switch {
		case err != nil:
			s.logger.Warn().Err(err).Msg("forecast enrichment failed")
		case !samePositions(f.Points, enriched):
			s.logger.Warn().Err(errors.New("enricher changed point layout")).Msg("forecast enrichment discarded")
		default:
			for i := range enriched {
				enriched[i].Time = f.Points[i].Time
				enriched[i].Confidence = f.Points[i].Confidence
				enriched[i].Index = ClampIndex(float64(enriched[i].Index))
				enriched[i].Category = CategoryFor(enriched[i].Index)
			}
			f.Points = enriched
		}
	}
	f.Summary = Summarize(f.Points)
	return f
}

// remaining returns a copy of f seen from now: points at or before now are
// dropped and the next hours points are renumbered from one hour ahead, with
// their confidence recomputed. It reports false when fewer than hours points
// lie ahead of now.
func (f *Forecast) remaining(now time.Time, hours int) (*Forecast, bool) {
	first := sort.Search(len(f.Points), func(i int) bool {
		return f.Points[i].Time.After(now)
	})
	if len(f.Points)-first < hours {
		return nil, false
	}

	out := *f
	out.Points = clonePoints(f.Points[first : first+hours])
	start := f.startConfidence()
	for i := range out.Points {
		out.Points[i].HoursAhead = i + 1
		out.Points[i].Confidence = Confidence(start, i+1)
	}
	out.Summary = Summarize(out.Points)
	return &out, true
}

func (f *Forecast) startConfidence() float64 {
	switch {
	case f.Quality.IsSynthetic():
		return confidenceSynthetic
	case f.Approximate:
		return confidenceApproximate
	default:
		return confidenceReal
	}
}

// Summarize derives mean, extremes, trend and dominant category from points.
// The trend compares the mean of the first and last quarter of the series.
// Category ties go to the worse category.
func Summarize(points []ForecastPoint) Summary {
	if len(points) == 0 {
		return Summary{Trend: TrendStable}
	}

	summary := Summary{
		MinIndex: points[0].Index,
		MaxIndex: points[0].Index,
	}

	counts := make(map[Category]int)
	total := 0
	for _, p := range points {
		total += p.Index
		if p.Index < summary.MinIndex {
			summary.MinIndex = p.Index
		}
		if p.Index > summary.MaxIndex {
			summary.MaxIndex = p.Index
		}
		counts[p.Category]++
	}
	summary.MeanIndex = float64(total) / float64(len(points))

	for category, n := range counts {
		best := counts[summary.DominantCategory]
		if summary.DominantCategory == "" || n > best || (n == best && category.Worse(summary.DominantCategory)) {
			summary.DominantCategory = category
		}
	}

	quarter := len(points) / 4
	if quarter == 0 {
		quarter = 1
	}
	first := meanIndex(points[:quarter])
	last := meanIndex(points[len(points)-quarter:])
	switch {
	case last > first*(1+trendBand):
		summary.Trend = TrendWorsening
	case last < first*(1-trendBand):
		summary.Trend = TrendImproving
	default:
		summary.Trend = TrendStable
	}

	return summary
}

func meanIndex(points []ForecastPoint) float64 {
	total := 0
	for _, p := range points {
		total += p.Index
	}
	return float64(total) / float64(len(points))
}

func clonePoints(points []ForecastPoint) []ForecastPoint {
	out := make([]ForecastPoint, len(points))
	for i, p := range points {
		p.Pollutants = p.Pollutants.Clone()
		out[i] = p
	}
	return out
}

func samePositions(a, b []ForecastPoint) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].HoursAhead != b[i].HoursAhead {
			return false
		}
	}
	return true
}
