package airquality_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airpulse/airpulse/internal/airquality"
)

func TestHaversineKm(t *testing.T) {
	delhi := airquality.Coordinate{Lat: 28.6139, Lon: 77.2090}

	assert.InDelta(t, 1148.09, airquality.HaversineKm(delhi, mumbai), 0.5)
	assert.InDelta(t, 111.19, airquality.HaversineKm(airquality.Coordinate{}, airquality.Coordinate{Lon: 1}), 0.01)
	assert.Zero(t, airquality.HaversineKm(mumbai, mumbai))
	assert.InDelta(t, airquality.HaversineKm(delhi, mumbai), airquality.HaversineKm(mumbai, delhi), 1e-9)
}

func TestNearest(t *testing.T) {
	locations := airquality.DefaultReferenceLocations()

	loc, dist, ok := airquality.Nearest(airquality.Coordinate{Lat: 19.1, Lon: 72.9}, locations)
	require.True(t, ok)
	assert.Equal(t, "Mumbai", loc.Name)
	assert.Less(t, dist, 5.0)

	// about 35 km from Bengaluru and 260 km from Chennai
	loc, _, ok = airquality.Nearest(airquality.Coordinate{Lat: 13.0827, Lon: 77.9}, locations)
	require.True(t, ok)
	assert.Equal(t, "Bengaluru", loc.Name)

	_, _, ok = airquality.Nearest(mumbai, nil)
	assert.False(t, ok)
}

func TestSyntheticGenerator_Current(t *testing.T) {
	gen := airquality.NewSyntheticGenerator(airquality.SyntheticConfig{})
	at := time.Date(2024, 11, 5, 8, 0, 0, 0, time.UTC)

	delhi := airquality.Coordinate{Lat: 28.6139, Lon: 77.2090}
	assert.Equal(t, "Delhi", gen.Reference(delhi).Name)
	assert.InDelta(t, 27.0, gen.NoiseBound(delhi), 1e-9)

	for _, c := range []airquality.Coordinate{delhi, mumbai, {Lat: 26.85, Lon: 80.95}} {
		raw := gen.Current(c, at)
		require.True(t, raw.Usable())
		assert.Equal(t, at, raw.ObservedAt)

		index, dominant, err := airquality.OverallIndex(raw.Pollutants)
		require.NoError(t, err)
		assert.Equal(t, airquality.PollutantPM25, dominant)

		baseline := gen.Reference(c).BaselineIndex
		assert.LessOrEqual(t, math.Abs(float64(index)-baseline), gen.NoiseBound(c)+0.5)
	}
}

func TestSyntheticGenerator_Deterministic(t *testing.T) {
	gen := airquality.NewSyntheticGenerator(airquality.SyntheticConfig{})
	at := time.Date(2024, 11, 5, 8, 0, 0, 0, time.UTC)

	first := gen.Current(mumbai, at)
	sameBucket := gen.Current(mumbai, at.Add(9*time.Minute))
	assert.Equal(t, first.Pollutants, sameBucket.Pollutants)

	// Different buckets are independent draws but stay inside the bound.
	for i := 1; i <= 12; i++ {
		raw := gen.Current(mumbai, at.Add(time.Duration(i)*10*time.Minute))
		index, _, err := airquality.OverallIndex(raw.Pollutants)
		require.NoError(t, err)
		assert.LessOrEqual(t, math.Abs(float64(index)-95), gen.NoiseBound(mumbai)+0.5)
	}
}

func TestSyntheticGenerator_Forecast(t *testing.T) {
	gen := airquality.NewSyntheticGenerator(airquality.SyntheticConfig{})
	start := time.Date(2024, 11, 5, 8, 0, 0, 0, time.UTC)

	series := gen.Forecast(mumbai, start, 96)
	require.Len(t, series, 96)

	// baseline plus drift plus noise
	limit := 95*0.2 + gen.NoiseBound(mumbai) + 0.5
	for i, raw := range series {
		assert.Equal(t, start.Add(time.Duration(i+1)*time.Hour), raw.ObservedAt)
		index, _, err := airquality.OverallIndex(raw.Pollutants)
		require.NoError(t, err)
		assert.LessOrEqual(t, math.Abs(float64(index)-95), limit, "hour %d", i+1)
	}

	assert.Empty(t, gen.Forecast(mumbai, start, 0))
}

func TestSyntheticGenerator_CustomLocations(t *testing.T) {
	gen := airquality.NewSyntheticGenerator(airquality.SyntheticConfig{
		Locations: []airquality.ReferenceLocation{
			{Name: "Test", Coordinate: airquality.Coordinate{Lat: 0, Lon: 0}, BaselineIndex: 450},
		},
		NoiseFraction: 0.5,
	})

	for i := 0; i < 20; i++ {
		raw := gen.Current(airquality.Coordinate{Lat: 1, Lon: 1}, time.Unix(int64(i)*600, 0))
		index, _, err := airquality.OverallIndex(raw.Pollutants)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, index, 1)
		assert.LessOrEqual(t, index, airquality.MaxIndex)
	}
}
