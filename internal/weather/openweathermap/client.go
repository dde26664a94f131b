// Package openweathermap implements a weather Source on the OpenWeatherMap
// One Call 3.0 API.
package openweathermap

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/airpulse/airpulse/internal/airquality"
	"github.com/airpulse/airpulse/internal/provider/resilience"
	"github.com/airpulse/airpulse/internal/weather"
)

const (
	// ProviderName identifies this weather source in the provider registry.
	ProviderName = "openweathermap-weather"

	// DefaultOneCallURL is the OpenWeatherMap One Call 3.0 endpoint.
	DefaultOneCallURL = "https://api.openweathermap.org/data/3.0/onecall"
)

// ClientConfig holds configuration for the OpenWeatherMap weather client.
type ClientConfig struct {
	// APIKey is the OpenWeatherMap API key (required).
	APIKey string

	// OneCallURL overrides DefaultOneCallURL.
	OneCallURL string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient *resilience.Client

	Logger zerolog.Logger

	// Now is the clock used for FetchedAt (default: time.Now).
	Now func() time.Time
}

// Client fetches hourly weather forecasts.
type Client struct {
	apiKey     string
	oneCallURL string
	httpClient *resilience.Client
	logger     zerolog.Logger
	now        func() time.Time
}

var _ weather.Source = (*Client)(nil)

// NewClient creates a new OpenWeatherMap weather client.
func NewClient(cfg ClientConfig) *Client {
	oneCallURL := cfg.OneCallURL
	if oneCallURL == "" {
		oneCallURL = DefaultOneCallURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.DefaultClientConfig(ProviderName))
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		apiKey:     cfg.APIKey,
		oneCallURL: oneCallURL,
		httpClient: httpClient,
		logger:     cfg.Logger,
		now:        now,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// GetForecast fetches the 48 hour hourly forecast for a location.
func (c *Client) GetForecast(ctx context.Context, coord airquality.Coordinate) (*weather.Forecast, error) {
	url := fmt.Sprintf("%s?lat=%.6f&lon=%.6f&appid=%s&units=metric&exclude=current,minutely,daily,alerts",
		c.oneCallURL, coord.Lat, coord.Lon, c.apiKey)

	var resp oneCallResponse
	if err := airquality.GetJSON(ctx, c.httpClient, url, &resp); err != nil {
		return nil, err
	}
	if len(resp.Hourly) == 0 {
		return nil, weather.ErrNoForecast
	}

	forecast := &weather.Forecast{
		Coordinate: coord,
		Hours:      make([]weather.Hour, 0, len(resp.Hourly)),
		FetchedAt:  c.now(),
	}
	for _, h := range resp.Hourly {
		hour := weather.Hour{
			Time:       time.Unix(h.Dt, 0).UTC(),
			WindSpeed:  h.WindSpeed,
			PrecipProb: h.Pop,
			Condition:  weather.ConditionUnknown,
		}
		if len(h.Weather) > 0 {
			hour.Condition = mapCondition(h.Weather[0].Main)
		}
		forecast.Hours = append(forecast.Hours, hour)
	}

	c.logger.Debug().
		Float64("lat", coord.Lat).
		Float64("lon", coord.Lon).
		Int("hours", len(forecast.Hours)).
		Msg("fetched weather forecast")

	return forecast, nil
}

// mapCondition maps an OpenWeatherMap condition group.
func mapCondition(owmCondition string) weather.Condition {
	switch owmCondition {
	case "Clear":
		return weather.ConditionClear
	case "Clouds":
		return weather.ConditionClouds
	case "Rain":
		return weather.ConditionRain
	case "Drizzle":
		return weather.ConditionDrizzle
	case "Thunderstorm":
		return weather.ConditionThunderstorm
	case "Snow":
		return weather.ConditionSnow
	case "Mist":
		return weather.ConditionMist
	case "Fog":
		return weather.ConditionFog
	case "Haze", "Dust", "Sand", "Ash", "Smoke":
		return weather.ConditionHaze
	default:
		return weather.ConditionUnknown
	}
}

type oneCallResponse struct {
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Hourly []struct {
		Dt        int64   `json:"dt"`
		WindSpeed float64 `json:"wind_speed"`
		Pop       float64 `json:"pop"`
		Weather   []struct {
			Main string `json:"main"`
		} `json:"weather"`
	} `json:"hourly"`
}
