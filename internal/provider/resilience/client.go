package resilience

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ClientConfig holds configuration for the resilient HTTP client.
type ClientConfig struct {
	// Name identifies this client for circuit breaker naming.
	Name string

	// Timeout is the request timeout for individual HTTP calls.
	// Default: 10 seconds
	Timeout time.Duration

	// MaxRetries is the number of extra attempts after a 5xx answer.
	// Zero disables retries.
	MaxRetries uint64

	// InitialInterval is the initial retry backoff interval.
	// Default: 100ms
	InitialInterval time.Duration

	// MaxInterval is the maximum retry backoff interval.
	// Default: 2 seconds
	MaxInterval time.Duration

	// CircuitBreaker is the circuit breaker configuration.
	// If nil, uses DefaultCircuitBreakerConfig.
	CircuitBreaker *CircuitBreakerConfig

	// Logger receives circuit state changes.
	Logger zerolog.Logger

	// Transport overrides the underlying round tripper (tests).
	Transport http.RoundTripper

	// Registry, when set, registers the client under Name.
	Registry *Registry
}

// DefaultClientConfig returns the defaults used by the provider adapters.
func DefaultClientConfig(name string) ClientConfig {
	cbConfig := DefaultCircuitBreakerConfig(name)
	return ClientConfig{
		Name:            name,
		Timeout:         10 * time.Second,
		MaxRetries:      2,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		CircuitBreaker:  &cbConfig,
		Logger:          zerolog.Nop(),
	}
}

// Client is an HTTP client with a circuit breaker and 5xx retries.
//
// Transport errors and timeouts fail fast: the caller's context carries the
// provider deadline and the aggregation layer moves on to the next provider
// instead of waiting for this one to recover.
type Client struct {
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker[*http.Response]
	config         ClientConfig
}

// NewClient creates a new resilient HTTP client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 2 * time.Second
	}

	cbConfig := DefaultCircuitBreakerConfig(cfg.Name)
	if cfg.CircuitBreaker != nil {
		cbConfig = *cfg.CircuitBreaker
	}
	if cbConfig.OnStateChange == nil {
		logger := cfg.Logger
		cbConfig.OnStateChange = func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("provider circuit state changed")
		}
	}

	client := &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		circuitBreaker: NewCircuitBreaker[*http.Response](cbConfig), //nolint:bodyclose // type param, not response
		config:         cfg,
	}
	if cfg.Registry != nil {
		cfg.Registry.Register(cfg.Name, client)
	}
	return client
}

// Name returns the client name.
func (c *Client) Name() string {
	return c.config.Name
}

// Do executes an HTTP request with circuit breaker protection.
// Only 5xx answers are retried; a 5xx that survives every retry is returned
// as a response, not an error, so callers can classify it.
// Returns immediately with ErrCircuitOpen if the circuit breaker is open.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.DoWithContext(req.Context(), req)
}

// DoWithContext executes an HTTP request with the given context.
func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.InitialInterval
	bo.MaxInterval = c.config.MaxInterval
	bo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.config.MaxRetries), ctx)

	var lastResp *http.Response

	operation := func() error {
		if lastResp != nil {
			lastResp.Body.Close()
			lastResp = nil
		}

		resp, err := c.circuitBreaker.Execute(func() (*http.Response, error) { //nolint:bodyclose // caller is responsible for closing
			r, err := c.httpClient.Do(req.Clone(ctx))
			if err != nil {
				return nil, err
			}
			// 5xx counts as a failure for the breaker
			if r.StatusCode >= 500 {
				return r, &ServerError{StatusCode: r.StatusCode}
			}
			return r, nil
		})

		switch {
		case err == nil:
			lastResp = resp
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return backoff.Permanent(ErrCircuitOpen)
		case resp != nil:
			lastResp = resp
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	if err := backoff.Retry(operation, policy); err != nil {
		// a caller that gave up mid-backoff gets its own error, not the last 5xx
		if ctxErr := ctx.Err(); ctxErr != nil {
			if lastResp != nil {
				lastResp.Body.Close()
			}
			return nil, ctxErr
		}
		if lastResp != nil {
			return lastResp, nil
		}
		return nil, err
	}

	return lastResp, nil
}

// ServerError represents an HTTP 5xx server error.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return "server error: " + http.StatusText(e.StatusCode)
}

// CircuitBreakerState returns the current state of the circuit breaker.
func (c *Client) CircuitBreakerState() gobreaker.State {
	return c.circuitBreaker.State()
}

// CircuitBreakerCounts returns the current counts of the circuit breaker.
func (c *Client) CircuitBreakerCounts() gobreaker.Counts {
	return c.circuitBreaker.Counts()
}
