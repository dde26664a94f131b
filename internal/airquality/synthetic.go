package airquality

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"
)

// DefaultReferenceLocations are the places synthetic data is anchored to.
func DefaultReferenceLocations() []ReferenceLocation {
	return []ReferenceLocation{
		{Name: "Delhi", Coordinate: Coordinate{Lat: 28.6139, Lon: 77.2090}, BaselineIndex: 180},
		{Name: "Mumbai", Coordinate: Coordinate{Lat: 19.0760, Lon: 72.8777}, BaselineIndex: 95},
		{Name: "Kolkata", Coordinate: Coordinate{Lat: 22.5726, Lon: 88.3639}, BaselineIndex: 140},
		{Name: "Chennai", Coordinate: Coordinate{Lat: 13.0827, Lon: 80.2707}, BaselineIndex: 75},
		{Name: "Bengaluru", Coordinate: Coordinate{Lat: 12.9716, Lon: 77.5946}, BaselineIndex: 70},
		{Name: "Hyderabad", Coordinate: Coordinate{Lat: 17.3850, Lon: 78.4867}, BaselineIndex: 85},
		{Name: "Ahmedabad", Coordinate: Coordinate{Lat: 23.0225, Lon: 72.5714}, BaselineIndex: 120},
		{Name: "Pune", Coordinate: Coordinate{Lat: 18.5204, Lon: 73.8567}, BaselineIndex: 80},
		{Name: "Lucknow", Coordinate: Coordinate{Lat: 26.8467, Lon: 80.9462}, BaselineIndex: 160},
		{Name: "Jaipur", Coordinate: Coordinate{Lat: 26.9124, Lon: 75.7873}, BaselineIndex: 110},
	}
}

// SyntheticConfig holds configuration for the synthetic generator.
type SyntheticConfig struct {
	// Locations anchor generated values (default: DefaultReferenceLocations).
	Locations []ReferenceLocation

	// NoiseFraction bounds the noise as a fraction of the baseline
	// (default: 0.15).
	NoiseFraction float64

	// DriftFraction is the amplitude of the daily forecast oscillation as a
	// fraction of the baseline (default: 0.2).
	DriftFraction float64

	// Bucket is the time granularity of the noise seed (default: 10 minutes).
	// Two requests for the same place inside one bucket get the same value.
	Bucket time.Duration
}

// SyntheticGenerator produces plausible, clearly tagged, non-measured data.
type SyntheticGenerator struct {
	locations     []ReferenceLocation
	noiseFraction float64
	driftFraction float64
	bucket        time.Duration
}

// NewSyntheticGenerator creates a new synthetic generator.
func NewSyntheticGenerator(cfg SyntheticConfig) *SyntheticGenerator {
	locations := cfg.Locations
	if len(locations) == 0 {
		locations = DefaultReferenceLocations()
	}

	noise := cfg.NoiseFraction
	if noise <= 0 {
		noise = 0.15
	}

	drift := cfg.DriftFraction
	if drift <= 0 {
		drift = 0.2
	}

	bucket := cfg.Bucket
	if bucket <= 0 {
		bucket = 10 * time.Minute
	}

	return &SyntheticGenerator{
		locations:     locations,
		noiseFraction: noise,
		driftFraction: drift,
		bucket:        bucket,
	}
}

// NoiseBound returns the maximum absolute deviation from the baseline index
// of the reference location nearest to c.
func (g *SyntheticGenerator) NoiseBound(c Coordinate) float64 {
	return g.baseline(c) * g.noiseFraction
}

// Reference returns the reference location nearest to c.
func (g *SyntheticGenerator) Reference(c Coordinate) ReferenceLocation {
	loc, _, _ := Nearest(c, g.locations)
	return loc
}

// Current generates a reading for c at time at.
func (g *SyntheticGenerator) Current(c Coordinate, at time.Time) RawReading {
	rng := g.rng(c, at)
	baseline := g.baseline(c)
	index := baseline + g.noise(rng, baseline)
	return g.rawReading(index, at)
}

// Forecast generates hours hourly readings starting one hour after start.
func (g *SyntheticGenerator) Forecast(c Coordinate, start time.Time, hours int) []RawReading {
	rng := g.rng(c, start)
	baseline := g.baseline(c)
	phase := rng.Float64() * 2 * math.Pi

	readings := make([]RawReading, 0, hours)
	for h := 1; h <= hours; h++ {
		drift := g.driftFraction * baseline * math.Sin(2*math.Pi*float64(h)/24+phase)
		index := baseline + drift + g.noise(rng, baseline)
		readings = append(readings, g.rawReading(index, start.Add(time.Duration(h)*time.Hour)))
	}
	return readings
}

func (g *SyntheticGenerator) baseline(c Coordinate) float64 {
	loc, _, ok := Nearest(c, g.locations)
	if !ok {
		return 100
	}
	return loc.BaselineIndex
}

func (g *SyntheticGenerator) noise(rng *rand.Rand, baseline float64) float64 {
	return (rng.Float64()*2 - 1) * g.noiseFraction * baseline
}

// rawReading turns an index into concentrations that convert back to it,
// with PM2.5 as the dominant pollutant.
func (g *SyntheticGenerator) rawReading(index float64, at time.Time) RawReading {
	index = float64(ClampIndex(index))
	return RawReading{
		Pollutants: Concentrations{
			PollutantPM25: ConcentrationFor(index, Tables[PollutantPM25]),
			PollutantPM10: ConcentrationFor(index*0.85, Tables[PollutantPM10]),
		},
		NativeScale: SourceSynthetic,
		ObservedAt:  at,
	}
}

// rng seeds a generator from the coordinate (to ~11m) and the time bucket.
func (g *SyntheticGenerator) rng(c Coordinate, at time.Time) *rand.Rand {
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range []int64{
		int64(math.Round(c.Lat * 1e4)),
		int64(math.Round(c.Lon * 1e4)),
		at.Truncate(g.bucket).Unix(),
	} {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		_, _ = h.Write(buf[:])
	}
	seed := h.Sum64()
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
