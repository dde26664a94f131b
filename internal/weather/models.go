// Package weather adjusts air quality forecasts for wind dispersion and
// precipitation washout using an hourly weather forecast.
package weather

import (
	"errors"
	"time"

	"github.com/airpulse/airpulse/internal/airquality"
)

// ErrNoForecast is returned by a Source with no hourly data for a location.
var ErrNoForecast = errors.New("no weather forecast for location")

// Condition represents the general weather condition.
type Condition string

const (
	ConditionClear        Condition = "CLEAR"
	ConditionClouds       Condition = "CLOUDS"
	ConditionRain         Condition = "RAIN"
	ConditionDrizzle      Condition = "DRIZZLE"
	ConditionThunderstorm Condition = "THUNDERSTORM"
	ConditionSnow         Condition = "SNOW"
	ConditionMist         Condition = "MIST"
	ConditionFog          Condition = "FOG"
	ConditionHaze         Condition = "HAZE"
	ConditionUnknown      Condition = "UNKNOWN"
)

// WindCategory buckets wind speed by its effect on pollutant dispersion.
type WindCategory string

const (
	WindCalm     WindCategory = "CALM"     // < 1 m/s, pollutants accumulate
	WindLight    WindCategory = "LIGHT"    // 1-3 m/s
	WindModerate WindCategory = "MODERATE" // 3-8 m/s
	WindStrong   WindCategory = "STRONG"   // > 8 m/s
)

// Hour is the weather expected for one forecast hour.
type Hour struct {
	Time       time.Time
	WindSpeed  float64 // m/s
	PrecipProb float64 // 0-1
	Condition  Condition
}

// Forecast is an hourly weather forecast for a coordinate.
type Forecast struct {
	Coordinate airquality.Coordinate
	Hours      []Hour
	FetchedAt  time.Time
}

// WindCategory returns the wind bucket for the hour.
func (h Hour) WindCategory() WindCategory {
	switch {
	case h.WindSpeed < 1:
		return WindCalm
	case h.WindSpeed < 3:
		return WindLight
	case h.WindSpeed < 8:
		return WindModerate
	default:
		return WindStrong
	}
}

// DispersionFactor is the index multiplier for the wind. Calm air raises
// the index, strong wind lowers it.
func (h Hour) DispersionFactor() float64 {
	switch h.WindCategory() {
	case WindCalm:
		return 1.3
	case WindLight:
		return 1.1
	case WindModerate:
		return 0.9
	default:
		return 0.7
	}
}

// WashoutFactor is the index multiplier for precipitation, scaled by its
// probability. Fog and mist trap pollutants near the ground.
func (h Hour) WashoutFactor() float64 {
	pop := min(max(h.PrecipProb, 0), 1)
	switch h.Condition {
	case ConditionThunderstorm:
		return 1 - 0.3*pop
	case ConditionRain:
		return 1 - 0.25*pop
	case ConditionDrizzle, ConditionSnow:
		return 1 - 0.1*pop
	case ConditionFog, ConditionMist:
		return 1.05
	default:
		return 1
	}
}

// Factor combines dispersion and washout.
func (h Hour) Factor() float64 {
	return h.DispersionFactor() * h.WashoutFactor()
}
