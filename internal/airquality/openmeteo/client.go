// Package openmeteo implements the keyless Open-Meteo air quality provider.
package openmeteo

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
	ProviderName = "openmeteo"

	// DefaultBaseURL is the Open-Meteo air quality endpoint.
	DefaultBaseURL = "https://air-quality-api.open-meteo.com/v1/air-quality"

	// timeLayout is the format of times returned with timezone=GMT.
	timeLayout = "2006-01-02T15:04"

	pollutantFields = "pm2_5,pm10,nitrogen_dioxide,sulphur_dioxide,carbon_monoxide,ozone,ammonia"
)

// ClientConfig holds configuration for the Open-Meteo client.
type ClientConfig struct {
	// BaseURL is the API endpoint (optional, defaults to Open-Meteo).
	BaseURL string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient *resilience.Client

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is an Open-Meteo air quality API client.
type Client struct {
	baseURL    string
	httpClient *resilience.Client
	logger     zerolog.Logger
}

// NewClient creates a new Open-Meteo client.
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
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// FetchCurrent fetches current modelled concentrations for a location.
func (c *Client) FetchCurrent(ctx context.Context, coord airquality.Coordinate) (*airquality.RawReading, error) {
	url := fmt.Sprintf("%s?latitude=%.4f&longitude=%.4f&current=%s&timezone=GMT",
		c.baseURL, coord.Lat, coord.Lon, pollutantFields)

	var resp airQualityResponse
	if err := airquality.GetJSON(ctx, c.httpClient, url, &resp); err != nil {
		return nil, err
	}
	if resp.Current == nil {
		return nil, airquality.Unavailable(airquality.ErrCauseMalformed, errors.New("missing current block"))
	}

	observedAt, err := time.Parse(timeLayout, resp.Current.Time)
	if err != nil {
		return nil, airquality.Unavailable(airquality.ErrCauseMalformed, fmt.Errorf("parsing time: %w", err))
	}

	return &airquality.RawReading{
		Pollutants: concentrations(resp.Current.PM25, resp.Current.PM10, resp.Current.NO2,
			resp.Current.SO2, resp.Current.CO, resp.Current.O3, resp.Current.NH3),
		ObservedAt: observedAt.UTC(),
	}, nil
}

// FetchForecast fetches hourly modelled concentrations covering hours.
func (c *Client) FetchForecast(ctx context.Context, coord airquality.Coordinate, hours int) ([]airquality.RawReading, error) {
	// One extra day covers the hours already past today.
	days := hours/24 + 2
	if days > 7 {
		days = 7
	}

	url := fmt.Sprintf("%s?latitude=%.4f&longitude=%.4f&hourly=%s&forecast_days=%d&timezone=GMT",
		c.baseURL, coord.Lat, coord.Lon, pollutantFields, days)

	var resp airQualityResponse
	if err := airquality.GetJSON(ctx, c.httpClient, url, &resp); err != nil {
		return nil, err
	}
	if resp.Hourly == nil || len(resp.Hourly.Time) == 0 {
		return nil, airquality.Unavailable(airquality.ErrCauseMalformed, errors.New("missing hourly block"))
	}

	h := resp.Hourly
	readings := make([]airquality.RawReading, 0, len(h.Time))
	for i, ts := range h.Time {
		at, err := time.Parse(timeLayout, ts)
		if err != nil {
			return nil, airquality.Unavailable(airquality.ErrCauseMalformed, fmt.Errorf("parsing time %q: %w", ts, err))
		}
		readings = append(readings, airquality.RawReading{
			Pollutants: concentrations(valueAt(h.PM25, i), valueAt(h.PM10, i), valueAt(h.NO2, i),
				valueAt(h.SO2, i), valueAt(h.CO, i), valueAt(h.O3, i), valueAt(h.NH3, i)),
			ObservedAt: at.UTC(),
		})
	}

	c.logger.Debug().
		Int("points", len(readings)).
		Int("days", days).
		Msg("fetched open-meteo forecast")

	return readings, nil
}

// concentrations builds the map. Open-Meteo reports CO in µg/m³; it is
// stored in mg/m³.
func concentrations(pm25, pm10, no2, so2, co, o3, nh3 *float64) airquality.Concentrations {
	out := make(airquality.Concentrations, len(airquality.AllPollutants))
	out.Set(airquality.PollutantPM25, pm25)
	out.Set(airquality.PollutantPM10, pm10)
	out.Set(airquality.PollutantNO2, no2)
	out.Set(airquality.PollutantSO2, so2)
	out.Set(airquality.PollutantO3, o3)
	out.Set(airquality.PollutantNH3, nh3)
	if co != nil {
		mg := *co / 1000
		out.Set(airquality.PollutantCO, &mg)
	}
	return out
}

// valueAt returns values[i], or nil when the series is shorter than the time axis.
func valueAt(values []*float64, i int) *float64 {
	if i >= len(values) {
		return nil
	}
	return values[i]
}

// Open-Meteo API response structures.

type airQualityResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Current   *struct {
		Time string   `json:"time"`
		PM25 *float64 `json:"pm2_5"`
		PM10 *float64 `json:"pm10"`
		NO2  *float64 `json:"nitrogen_dioxide"`
		SO2  *float64 `json:"sulphur_dioxide"`
		CO   *float64 `json:"carbon_monoxide"`
		O3   *float64 `json:"ozone"`
		NH3  *float64 `json:"ammonia"`
	} `json:"current"`
	Hourly *struct {
		Time []string   `json:"time"`
		PM25 []*float64 `json:"pm2_5"`
		PM10 []*float64 `json:"pm10"`
		NO2  []*float64 `json:"nitrogen_dioxide"`
		SO2  []*float64 `json:"sulphur_dioxide"`
		CO   []*float64 `json:"carbon_monoxide"`
		O3   []*float64 `json:"ozone"`
		NH3  []*float64 `json:"ammonia"`
	} `json:"hourly"`
}
