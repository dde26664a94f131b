package iqair_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airpulse/airpulse/internal/airquality"
	"github.com/airpulse/airpulse/internal/airquality/iqair"
	"github.com/airpulse/airpulse/internal/provider/resilience"
)

func newTestClient(url string) *iqair.Client {
	return iqair.NewClient(iqair.ClientConfig{
		APIKey:     "test-key",
		BaseURL:    url,
		HTTPClient: resilience.NewClient(resilience.DefaultClientConfig("test")),
	})
}

func TestClient_FetchCurrent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/nearest_city", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Contains(t, r.URL.Query().Get("lat"), "19.076")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": "success",
			"data": {
				"city": "Mumbai",
				"state": "Maharashtra",
				"country": "India",
				"current": {
					"pollution": {"ts": "2024-11-05T08:00:00.000Z", "aqius": 80, "mainus": "p2"}
				}
			}
		}`))
	}))
	defer server.Close()

	reading, err := newTestClient(server.URL).FetchCurrent(context.Background(), airquality.Coordinate{Lat: 19.076, Lon: 72.8777})
	require.NoError(t, err)

	require.NotNil(t, reading.NativeIndex)
	assert.InDelta(t, 106.4, *reading.NativeIndex, 1e-9)
	assert.True(t, reading.Approximate)
	assert.Empty(t, reading.Pollutants)
	assert.Equal(t, iqair.NativeScale, reading.NativeScale)
	assert.Equal(t, time.Date(2024, 11, 5, 8, 0, 0, 0, time.UTC), reading.ObservedAt)
	assert.True(t, reading.Usable())
}

func TestClient_FetchCurrent_StatusFail(t *testing.T) {
	tests := []struct {
		message string
		cause   error
	}{
		{message: "call_limit_reached", cause: airquality.ErrCauseAuth},
		{message: "incorrect_api_key", cause: airquality.ErrCauseAuth},
		{message: "city_not_found", cause: airquality.ErrCauseMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"status":"fail","data":{"message":"` + tt.message + `"}}`))
			}))
			defer server.Close()

			_, err := newTestClient(server.URL).FetchCurrent(context.Background(), airquality.Coordinate{Lat: 1, Lon: 2})
			require.Error(t, err)
			assert.ErrorIs(t, err, airquality.ErrProviderUnavailable)
			assert.ErrorIs(t, err, tt.cause)
		})
	}
}

func TestClient_FetchCurrent_Forbidden(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).FetchCurrent(context.Background(), airquality.Coordinate{Lat: 1, Lon: 2})
	assert.ErrorIs(t, err, airquality.ErrCauseAuth)
}

func TestClient_FetchForecast_Unsupported(t *testing.T) {
	client := newTestClient("http://127.0.0.1:0")

	_, err := client.FetchForecast(context.Background(), airquality.Coordinate{Lat: 1, Lon: 2}, 24)
	assert.ErrorIs(t, err, airquality.ErrProviderUnavailable)
	assert.ErrorIs(t, err, iqair.ErrNoForecast)
	assert.ErrorIs(t, err, airquality.ErrCauseUnsupported)
	assert.Equal(t, "unsupported", airquality.FailureCause(err))
}

func TestConvertUSAQI(t *testing.T) {
	tests := []struct {
		us       float64
		expected float64
	}{
		{us: 0, expected: 0},
		{us: 42, expected: 42},
		{us: 50, expected: 50},
		{us: 80, expected: 106.4},
		{us: 100, expected: 133},
		{us: 150, expected: 225},
		{us: 400, expected: 500},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.expected, iqair.ConvertUSAQI(tt.us), 1e-9, "us=%v", tt.us)
	}
}
