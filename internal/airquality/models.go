// Package airquality provides air quality index normalization, provider
// fallback and caching.
package airquality

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Caller-facing errors.
var (
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	ErrInvalidHorizon    = errors.New("forecast horizon must be between 1 and 96 hours")
)

// Provider errors. Adapters wrap ErrProviderUnavailable together with one
// of the cause errors so the service can log why a provider was skipped.
var (
	ErrProviderUnavailable = errors.New("air quality provider unavailable")

	ErrCauseNetwork   = errors.New("network failure")
	ErrCauseMalformed = errors.New("malformed response")
	ErrCauseAuth      = errors.New("authentication or quota failure")

	// ErrCauseUnsupported marks an operation the provider does not offer.
	// It is not a failure: the service skips the provider without recording it.
	ErrCauseUnsupported = errors.New("operation not supported")
)

// Conversion errors.
var (
	ErrNoBreakpointMatch = errors.New("no breakpoint segment matches concentration")
	ErrMissingPM25       = errors.New("PM2.5 concentration required")
)

// Unavailable wraps cause and err into a provider failure.
func Unavailable(cause, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %w", ErrProviderUnavailable, cause)
	}
	return fmt.Errorf("%w: %w: %w", ErrProviderUnavailable, cause, err)
}

// FailureCause returns the cause class of a provider failure for logging.
func FailureCause(err error) string {
	switch {
	case errors.Is(err, ErrCauseAuth):
		return "auth"
	case errors.Is(err, ErrCauseMalformed):
		return "malformed"
	case errors.Is(err, ErrCauseNetwork):
		return "network"
	case errors.Is(err, ErrCauseUnsupported):
		return "unsupported"
	default:
		return "unknown"
	}
}

// Coordinate is a WGS84 point.
type Coordinate struct {
	Lat float64
	Lon float64
}

// Validate reports whether the coordinate is within range.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) ||
		c.Lat < -90 || c.Lat > 90 || c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("%w: lat=%v lon=%v", ErrInvalidCoordinate, c.Lat, c.Lon)
	}
	return nil
}

// Pollutant represents an air quality pollutant type.
type Pollutant string

const (
	PollutantPM25 Pollutant = "PM25"
	PollutantPM10 Pollutant = "PM10"
	PollutantNO2  Pollutant = "NO2"
	PollutantSO2  Pollutant = "SO2"
	PollutantCO   Pollutant = "CO"
	PollutantO3   Pollutant = "O3"
	PollutantNH3  Pollutant = "NH3"
)

// AllPollutants lists pollutants in display order.
var AllPollutants = []Pollutant{
	PollutantPM25, PollutantPM10, PollutantNO2, PollutantSO2, PollutantCO, PollutantO3, PollutantNH3,
}

// Concentrations maps a pollutant to its concentration. All values are in
// µg/m³ except CO, which is in mg/m³. A pollutant that was not reported has
// no key; it is never stored as zero.
type Concentrations map[Pollutant]float64

// Has reports whether p was reported.
func (c Concentrations) Has(p Pollutant) bool {
	_, ok := c[p]
	return ok
}

// Set stores v for p when v is non-nil. Providers decode JSON null into a
// nil pointer, so null and a missing key end up the same. Negative and
// non-finite values are dropped as well.
func (c Concentrations) Set(p Pollutant, v *float64) {
	if v == nil || !validConcentration(*v) {
		return
	}
	c[p] = *v
}

// Sanitize returns a copy of c without negative or non-finite values, and
// the pollutants it dropped.
func (c Concentrations) Sanitize() (Concentrations, []Pollutant) {
	out := make(Concentrations, len(c))
	var dropped []Pollutant
	for _, p := range AllPollutants {
		v, ok := c[p]
		if !ok {
			continue
		}
		if !validConcentration(v) {
			dropped = append(dropped, p)
			continue
		}
		out[p] = v
	}
	return out, dropped
}

func validConcentration(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// Clone returns a copy of c.
func (c Concentrations) Clone() Concentrations {
	out := make(Concentrations, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Category is a bucket on the national index scale.
type Category string

const (
	CategoryGood         Category = "GOOD"
	CategorySatisfactory Category = "SATISFACTORY"
	CategoryModerate     Category = "MODERATE"
	CategoryPoor         Category = "POOR"
	CategoryVeryPoor     Category = "VERY_POOR"
	CategorySevere       Category = "SEVERE"
)

// categoryRank orders categories from best to worst.
var categoryRank = map[Category]int{
	CategoryGood:         0,
	CategorySatisfactory: 1,
	CategoryModerate:     2,
	CategoryPoor:         3,
	CategoryVeryPoor:     4,
	CategorySevere:       5,
}

// Worse reports whether c is a worse category than other.
func (c Category) Worse(other Category) bool {
	return categoryRank[c] > categoryRank[other]
}

// DataQuality tags where a reading came from.
type DataQuality string

const (
	QualityRealPrimary       DataQuality = "real-primary"
	QualityRealSecondary     DataQuality = "real-secondary"
	QualitySyntheticDegraded DataQuality = "synthetic-degraded"
	QualitySyntheticOffline  DataQuality = "synthetic-offline"
)

// IsSynthetic reports whether the data was generated rather than measured.
func (q DataQuality) IsSynthetic() bool {
	return q == QualitySyntheticDegraded || q == QualitySyntheticOffline
}

// IsDegraded reports whether every configured provider failed.
func (q DataQuality) IsDegraded() bool {
	return q == QualitySyntheticDegraded
}

// SourceSynthetic is the SourceID of generated readings.
const SourceSynthetic = "synthetic"

// RawReading is what a provider adapter returns before normalization.
type RawReading struct {
	Pollutants Concentrations

	// NativeIndex is set by adapters whose source reports an index on its own
	// scale. Cross-scale adapters set it to the already converted national
	// index and leave Pollutants empty.
	NativeIndex *float64
	NativeScale string

	// Approximate marks readings produced by a lower-fidelity conversion.
	Approximate bool

	ObservedAt time.Time
}

// Usable reports whether the reading carries enough data to normalize.
func (r *RawReading) Usable() bool {
	if r == nil {
		return false
	}
	if r.Pollutants.Has(PollutantPM25) {
		return true
	}
	return r.Approximate && r.NativeIndex != nil
}

// NormalizedReading is one air quality reading on the national index scale.
// Readings are values: later readings supersede, never modify, earlier ones.
type NormalizedReading struct {
	Coordinate        Coordinate
	Index             int
	Category          Category
	Pollutants        Concentrations
	DominantPollutant Pollutant
	SourceID          string
	Quality           DataQuality
	Approximate       bool
	ObservedAt        time.Time
	FetchedAt         time.Time
}

// ReferenceLocation is a well-known place with a typical index, used to
// generate synthetic data.
type ReferenceLocation struct {
	Name          string
	Coordinate    Coordinate
	BaselineIndex float64
}
