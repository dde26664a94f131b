package weather_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/airpulse/airpulse/internal/weather"
)

func TestHour_WindCategory(t *testing.T) {
	tests := []struct {
		name      string
		windSpeed float64
		expected  weather.WindCategory
		factor    float64
	}{
		{"calm - zero", 0, weather.WindCalm, 1.3},
		{"calm - boundary", 0.9, weather.WindCalm, 1.3},
		{"light - boundary", 1.0, weather.WindLight, 1.1},
		{"light - high", 2.9, weather.WindLight, 1.1},
		{"moderate - boundary", 3.0, weather.WindModerate, 0.9},
		{"moderate - high", 7.9, weather.WindModerate, 0.9},
		{"strong - boundary", 8.0, weather.WindStrong, 0.7},
		{"strong - high", 15.0, weather.WindStrong, 0.7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := weather.Hour{WindSpeed: tt.windSpeed}
			assert.Equal(t, tt.expected, h.WindCategory())
			assert.Equal(t, tt.factor, h.DispersionFactor())
		})
	}
}

func TestHour_WashoutFactor(t *testing.T) {
	tests := []struct {
		name      string
		condition weather.Condition
		pop       float64
		expected  float64
	}{
		{"clear", weather.ConditionClear, 0.9, 1},
		{"certain rain", weather.ConditionRain, 1, 0.75},
		{"possible rain", weather.ConditionRain, 0.4, 0.9},
		{"thunderstorm", weather.ConditionThunderstorm, 1, 0.7},
		{"drizzle", weather.ConditionDrizzle, 0.5, 0.95},
		{"probability clamped", weather.ConditionRain, 3, 0.75},
		{"fog traps", weather.ConditionFog, 0, 1.05},
		{"unknown", weather.ConditionUnknown, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := weather.Hour{Condition: tt.condition, PrecipProb: tt.pop}
			assert.InDelta(t, tt.expected, h.WashoutFactor(), 1e-9)
		})
	}
}

func TestHour_Factor(t *testing.T) {
	h := weather.Hour{WindSpeed: 10, Condition: weather.ConditionRain, PrecipProb: 1}
	assert.InDelta(t, 0.7*0.75, h.Factor(), 1e-9)
}
