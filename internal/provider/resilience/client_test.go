package resilience_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airpulse/airpulse/internal/provider/resilience"
)

// stubProvider answers with the scripted status codes in order and repeats
// the last one once the script runs out.
type stubProvider struct {
	calls  atomic.Int32
	script []int
	delay  time.Duration
}

func (s *stubProvider) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	n := int(s.calls.Add(1)) - 1
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	status := s.script[min(n, len(s.script)-1)]
	w.WriteHeader(status)
	if status == http.StatusOK {
		_, _ = w.Write([]byte(`{"list":[{"main":{"aqi":2}}]}`))
	}
}

func fastConfig(name string) resilience.ClientConfig {
	cb := resilience.DefaultCircuitBreakerConfig(name)
	cb.ReadyToTrip = resilience.TripAfter(100, 0.5)

	cfg := resilience.DefaultClientConfig(name)
	cfg.InitialInterval = 2 * time.Millisecond
	cfg.MaxInterval = 5 * time.Millisecond
	cfg.CircuitBreaker = &cb
	return cfg
}

func fetch(t *testing.T, ctx context.Context, client *resilience.Client, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	require.NoError(t, err)
	return client.Do(req)
}

func TestClient_StatusHandling(t *testing.T) {
	tests := []struct {
		name       string
		script     []int
		maxRetries uint64
		wantStatus int
		wantCalls  int32
	}{
		{"ok on first call", []int{200}, 2, 200, 1},
		{"recovers after two 503s", []int{503, 503, 200}, 4, 200, 3},
		{"bad request is final", []int{400}, 3, 400, 1},
		{"unauthorized is final", []int{401}, 3, 401, 1},
		{"rate limited is final", []int{429}, 3, 429, 1},
		{"502 after every retry is handed back", []int{502}, 2, 502, 3},
		{"retries disabled", []int{500, 200}, 0, 500, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubProvider{script: tt.script}
			server := httptest.NewServer(stub)
			defer server.Close()

			cfg := fastConfig("iqair")
			cfg.MaxRetries = tt.maxRetries
			client := resilience.NewClient(cfg)

			resp, err := fetch(t, context.Background(), client, server.URL)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantCalls, stub.calls.Load())
		})
	}
}

func TestClient_OpenCircuitFailsFast(t *testing.T) {
	stub := &stubProvider{script: []int{500}}
	server := httptest.NewServer(stub)
	defer server.Close()

	cb := resilience.CircuitBreakerConfig{
		Name:        "openweathermap",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: resilience.TripAfter(4, 0.5),
	}
	cfg := fastConfig("openweathermap")
	cfg.MaxRetries = 0
	cfg.CircuitBreaker = &cb
	client := resilience.NewClient(cfg)

	for range 4 {
		resp, err := fetch(t, context.Background(), client, server.URL)
		require.NoError(t, err)
		resp.Body.Close()
	}
	require.Equal(t, gobreaker.StateOpen, client.CircuitBreakerState())

	resp, err := fetch(t, context.Background(), client, server.URL)
	if resp != nil {
		resp.Body.Close()
	}
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(4), stub.calls.Load(), "open circuit must not reach the provider")
}

func TestClient_SlowProvider(t *testing.T) {
	stub := &stubProvider{script: []int{200}, delay: 300 * time.Millisecond}
	server := httptest.NewServer(stub)
	defer server.Close()

	t.Run("client timeout", func(t *testing.T) {
		cfg := fastConfig("openmeteo")
		cfg.Timeout = 50 * time.Millisecond
		client := resilience.NewClient(cfg)

		resp, err := fetch(t, context.Background(), client, server.URL)
		if resp != nil {
			resp.Body.Close()
		}
		assert.Error(t, err)
	})

	t.Run("caller deadline", func(t *testing.T) {
		client := resilience.NewClient(fastConfig("openmeteo"))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		resp, err := fetch(t, ctx, client, server.URL)
		if resp != nil {
			resp.Body.Close()
		}
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestClient_CancelledDuringBackoff(t *testing.T) {
	stub := &stubProvider{script: []int{503}}
	server := httptest.NewServer(stub)
	defer server.Close()

	cfg := fastConfig("openweathermap")
	cfg.MaxRetries = 5
	cfg.InitialInterval = time.Second
	cfg.MaxInterval = time.Second
	client := resilience.NewClient(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for stub.calls.Load() == 0 {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	resp, err := fetch(t, ctx, client, server.URL)
	if resp != nil {
		resp.Body.Close()
	}

	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, resp, "the stale 503 must not be handed back")
	assert.Equal(t, int32(1), stub.calls.Load())
	assert.Less(t, time.Since(start), 900*time.Millisecond, "cancellation cuts the backoff short")
}

func TestClient_TransportErrorFailsFast(t *testing.T) {
	var calls atomic.Int32
	var buf bytes.Buffer

	cb := resilience.CircuitBreakerConfig{
		Name:        "iqair",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 1 },
	}
	cfg := resilience.DefaultClientConfig("iqair")
	cfg.CircuitBreaker = &cb
	cfg.Logger = zerolog.New(&buf)
	cfg.Transport = roundTripFunc(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return nil, errors.New("dial tcp: connection refused")
	})
	client := resilience.NewClient(cfg)

	resp, err := fetch(t, context.Background(), client, "http://api.airvisual.invalid/v2/nearest_city")
	if resp != nil {
		resp.Body.Close()
	}

	require.ErrorContains(t, err, "connection refused")
	assert.Equal(t, int32(1), calls.Load(), "transport errors are not retried")
	assert.Equal(t, gobreaker.StateOpen, client.CircuitBreakerState())
	assert.Contains(t, buf.String(), "provider circuit state changed")
	assert.Contains(t, buf.String(), `"provider":"iqair"`)
	assert.Contains(t, buf.String(), `"to":"open"`)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func failingTransport(*http.Request) (*http.Response, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestClient_RegistersItself(t *testing.T) {
	registry := resilience.NewRegistry()
	cfg := resilience.DefaultClientConfig("openmeteo")
	cfg.Registry = registry

	client := resilience.NewClient(cfg)

	assert.Equal(t, "openmeteo", client.Name())
	assert.Equal(t, []string{"openmeteo"}, registry.GetProviderNames())
}

func TestDefaults(t *testing.T) {
	cfg := resilience.DefaultClientConfig("openweathermap")

	assert.Equal(t, "openweathermap", cfg.Name)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, uint64(2), cfg.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialInterval)
	assert.Equal(t, 2*time.Second, cfg.MaxInterval)
	require.NotNil(t, cfg.CircuitBreaker)
	assert.Equal(t, "openweathermap", cfg.CircuitBreaker.Name)
	assert.Equal(t, uint32(1), cfg.CircuitBreaker.MaxRequests)
	assert.Equal(t, time.Minute, cfg.CircuitBreaker.Timeout)
}

func TestDefaultReadyToTrip(t *testing.T) {
	assert.False(t, resilience.DefaultReadyToTrip(gobreaker.Counts{Requests: 4, TotalFailures: 4}))
	assert.False(t, resilience.DefaultReadyToTrip(gobreaker.Counts{Requests: 10, TotalFailures: 4}))
	assert.True(t, resilience.DefaultReadyToTrip(gobreaker.Counts{Requests: 10, TotalFailures: 5}))
	assert.True(t, resilience.DefaultReadyToTrip(gobreaker.Counts{Requests: 5, TotalFailures: 5}))
}

func TestTripAfter(t *testing.T) {
	trip := resilience.TripAfter(3, 0.6)

	assert.False(t, trip(gobreaker.Counts{}))
	assert.False(t, trip(gobreaker.Counts{Requests: 2, TotalFailures: 2}))
	assert.False(t, trip(gobreaker.Counts{Requests: 5, TotalFailures: 2}))
	assert.True(t, trip(gobreaker.Counts{Requests: 5, TotalFailures: 3}))
}

func TestServerError(t *testing.T) {
	err := &resilience.ServerError{StatusCode: http.StatusBadGateway}
	assert.Equal(t, "server error: Bad Gateway", err.Error())
}
