// Package openweathermap implements the OpenWeatherMap Air Pollution API
// provider.
package openweathermap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/airpulse/airpulse/internal/airquality"
	"github.com/airpulse/airpulse/internal/provider/resilience"
)

const (
	// ProviderName identifies this air quality provider.
	ProviderName = "openweathermap"

	// DefaultBaseURL is the OpenWeatherMap API base URL.
	DefaultBaseURL = "https://api.openweathermap.org/data/2.5"

	// NativeScale names the provider's own 1-5 index.
	NativeScale = "owm-1-5"
)

// ClientConfig holds configuration for the OpenWeatherMap client.
type ClientConfig struct {
	// APIKey is the OpenWeatherMap API key (required).
	APIKey string

	// BaseURL is the API base URL (optional, defaults to OpenWeatherMap API).
	BaseURL string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient *resilience.Client

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is an OpenWeatherMap Air Pollution API client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *resilience.Client
	logger     zerolog.Logger
}

// NewClient creates a new OpenWeatherMap client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.DefaultClientConfig(ProviderName))
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// FetchCurrent fetches the current pollutant concentrations for a location.
func (c *Client) FetchCurrent(ctx context.Context, coord airquality.Coordinate) (*airquality.RawReading, error) {
	url := fmt.Sprintf("%s/air_pollution?lat=%.6f&lon=%.6f&appid=%s",
		c.baseURL, coord.Lat, coord.Lon, c.apiKey)

	var resp pollutionResponse
	if err := airquality.GetJSON(ctx, c.httpClient, url, &resp); err != nil {
		return nil, err
	}

	if len(resp.List) == 0 {
		return nil, airquality.Unavailable(airquality.ErrCauseMalformed, errors.New("empty pollution list"))
	}

	reading := toRawReading(&resp.List[0])
	c.logger.Debug().
		Float64("lat", coord.Lat).
		Float64("lon", coord.Lon).
		Int("pollutants", len(reading.Pollutants)).
		Msg("fetched current air pollution")

	return reading, nil
}

// FetchForecast fetches the hourly pollution forecast (about four days).
func (c *Client) FetchForecast(ctx context.Context, coord airquality.Coordinate, hours int) ([]airquality.RawReading, error) {
	url := fmt.Sprintf("%s/air_pollution/forecast?lat=%.6f&lon=%.6f&appid=%s",
		c.baseURL, coord.Lat, coord.Lon, c.apiKey)

	var resp pollutionResponse
	if err := airquality.GetJSON(ctx, c.httpClient, url, &resp); err != nil {
		return nil, err
	}

	if len(resp.List) == 0 {
		return nil, airquality.Unavailable(airquality.ErrCauseMalformed, errors.New("empty forecast list"))
	}

	readings := make([]airquality.RawReading, 0, len(resp.List))
	for i := range resp.List {
		readings = append(readings, *toRawReading(&resp.List[i]))
	}

	c.logger.Debug().
		Int("points", len(readings)).
		Int("hours", hours).
		Msg("fetched air pollution forecast")

	return readings, nil
}

// toRawReading converts one list entry. CO is reported in µg/m³ and stored
// in mg/m³.
func toRawReading(item *pollutionItem) *airquality.RawReading {
	pollutants := make(airquality.Concentrations, len(airquality.AllPollutants))
	pollutants.Set(airquality.PollutantPM25, item.Components.PM25)
	pollutants.Set(airquality.PollutantPM10, item.Components.PM10)
	pollutants.Set(airquality.PollutantNO2, item.Components.NO2)
	pollutants.Set(airquality.PollutantSO2, item.Components.SO2)
	pollutants.Set(airquality.PollutantO3, item.Components.O3)
	pollutants.Set(airquality.PollutantNH3, item.Components.NH3)
	if item.Components.CO != nil {
		co := *item.Components.CO / 1000
		pollutants.Set(airquality.PollutantCO, &co)
	}

	reading := &airquality.RawReading{
		Pollutants:  pollutants,
		NativeScale: NativeScale,
		ObservedAt:  time.Unix(item.Dt, 0).UTC(),
	}
	if item.Main.AQI != nil {
		aqi := float64(*item.Main.AQI)
		reading.NativeIndex = &aqi
	}
	return reading
}

// OpenWeatherMap API response structures.

type pollutionResponse struct {
	Coord struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"coord"`
	List []pollutionItem `json:"list"`
}

type pollutionItem struct {
	Dt   int64 `json:"dt"`
	Main struct {
		AQI *int `json:"aqi"`
	} `json:"main"`
	Components struct {
		CO   *float64 `json:"co"`
		NO   *float64 `json:"no"`
		NO2  *float64 `json:"no2"`
		O3   *float64 `json:"o3"`
		SO2  *float64 `json:"so2"`
		PM25 *float64 `json:"pm2_5"`
		PM10 *float64 `json:"pm10"`
		NH3  *float64 `json:"nh3"`
	} `json:"components"`
}
