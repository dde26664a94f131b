// Package iqair implements the IQAir AirVisual provider. The API reports
// only the US EPA index, which is converted approximately.
package iqair

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
	ProviderName = "iqair"

	// DefaultBaseURL is the AirVisual API base URL.
	DefaultBaseURL = "https://api.airvisual.com/v2"

	// NativeScale names the scale readings are converted from.
	NativeScale = "us-epa"
)

// ErrNoForecast is returned by FetchForecast; the plan in use has no
// forecast endpoint.
var ErrNoForecast = errors.New("iqair: forecast not supported")

// ClientConfig holds configuration for the IQAir client.
type ClientConfig struct {
	// APIKey is the AirVisual API key (required).
	APIKey string

	// BaseURL is the API base URL (optional, defaults to AirVisual API).
	BaseURL string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient *resilience.Client

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is an IQAir AirVisual API client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *resilience.Client
	logger     zerolog.Logger
}

// NewClient creates a new IQAir client.
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

// FetchCurrent fetches the nearest city's US AQI and converts it to the
// national scale. Pollutant concentrations are not available.
func (c *Client) FetchCurrent(ctx context.Context, coord airquality.Coordinate) (*airquality.RawReading, error) {
	url := fmt.Sprintf("%s/nearest_city?lat=%.6f&lon=%.6f&key=%s",
		c.baseURL, coord.Lat, coord.Lon, c.apiKey)

	var resp nearestCityResponse
	if err := airquality.GetJSON(ctx, c.httpClient, url, &resp); err != nil {
		return nil, err
	}

	if resp.Status != "success" {
		return nil, statusFailure(resp.Data.Message)
	}

	pollution := resp.Data.Current.Pollution
	if pollution.AQIUS == nil {
		return nil, airquality.Unavailable(airquality.ErrCauseMalformed, errors.New("missing aqius"))
	}

	observedAt, err := time.Parse(time.RFC3339, pollution.Timestamp)
	if err != nil {
		return nil, airquality.Unavailable(airquality.ErrCauseMalformed, fmt.Errorf("parsing timestamp: %w", err))
	}

	index := ConvertUSAQI(*pollution.AQIUS)

	c.logger.Debug().
		Str("city", resp.Data.City).
		Float64("aqi_us", *pollution.AQIUS).
		Float64("aqi_in", index).
		Msg("fetched nearest city air quality")

	return &airquality.RawReading{
		Pollutants:  airquality.Concentrations{},
		NativeIndex: &index,
		NativeScale: NativeScale,
		Approximate: true,
		ObservedAt:  observedAt.UTC(),
	}, nil
}

// FetchForecast always fails with ErrNoForecast.
func (c *Client) FetchForecast(_ context.Context, _ airquality.Coordinate, _ int) ([]airquality.RawReading, error) {
	return nil, airquality.Unavailable(airquality.ErrCauseUnsupported, ErrNoForecast)
}

// ConvertUSAQI approximates a national index from a US EPA index with a
// piecewise multiplier. It is not a breakpoint conversion; readings built
// from it are flagged approximate.
func ConvertUSAQI(us float64) float64 {
	var v float64
	switch {
	case us <= 50:
		v = us
	case us <= 100:
		v = us * 1.33
	default:
		v = us * 1.5
	}
	if v > airquality.MaxIndex {
		return airquality.MaxIndex
	}
	if v < 0 {
		return 0
	}
	return v
}

// statusFailure maps AirVisual error messages to failure causes.
func statusFailure(message string) error {
	err := fmt.Errorf("api status fail: %s", message)
	switch message {
	case "incorrect_api_key", "api_key_expired", "call_limit_reached", "permission_denied", "forbidden", "too_many_requests":
		return airquality.Unavailable(airquality.ErrCauseAuth, err)
	default:
		return airquality.Unavailable(airquality.ErrCauseMalformed, err)
	}
}

// AirVisual API response structures.

type nearestCityResponse struct {
	Status string `json:"status"`
	Data   struct {
		Message string `json:"message"`
		City    string `json:"city"`
		State   string `json:"state"`
		Country string `json:"country"`
		Current struct {
			Pollution struct {
				Timestamp string   `json:"ts"`
				AQIUS     *float64 `json:"aqius"`
				MainUS    string   `json:"mainus"`
			} `json:"pollution"`
		} `json:"current"`
	} `json:"data"`
}
