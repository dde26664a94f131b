// Package resilience wraps outbound provider calls with a circuit breaker,
// bounded 5xx retries and per-provider outcome bookkeeping.
package resilience

import (
	"time"

	"github.com/sony/gobreaker/v2"
)

// CircuitBreakerConfig holds configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies the circuit breaker in logs.
	Name string

	// MaxRequests is the number of probes allowed while half-open.
	// Default: 1
	MaxRequests uint32

	// Interval clears the counts while closed. Zero never clears them.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing.
	// Default: 60 seconds
	Timeout time.Duration

	// ReadyToTrip decides when to open. If nil, TripAfter(5, 0.5) is used.
	ReadyToTrip func(counts gobreaker.Counts) bool

	// OnStateChange is called when the circuit breaker state changes.
	OnStateChange func(name string, from gobreaker.State, to gobreaker.State)
}

// DefaultCircuitBreakerConfig returns the breaker settings used for providers.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:        name,
		MaxRequests: 1,
		Timeout:     60 * time.Second,
		ReadyToTrip: DefaultReadyToTrip,
	}
}

// DefaultReadyToTrip opens the breaker once at least 5 calls were made and
// half of them failed.
func DefaultReadyToTrip(counts gobreaker.Counts) bool {
	return TripAfter(5, 0.5)(counts)
}

// TripAfter returns a ReadyToTrip func that opens the breaker once
// minRequests calls were seen and the failure ratio reached ratio.
func TripAfter(minRequests uint32, ratio float64) func(gobreaker.Counts) bool {
	return func(counts gobreaker.Counts) bool {
		if counts.Requests < minRequests || counts.Requests == 0 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
	}
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker[T any](cfg CircuitBreakerConfig) *gobreaker.CircuitBreaker[T] {
	readyToTrip := cfg.ReadyToTrip
	if readyToTrip == nil {
		readyToTrip = DefaultReadyToTrip
	}

	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:          cfg.Name,
		MaxRequests:   cfg.MaxRequests,
		Interval:      cfg.Interval,
		Timeout:       cfg.Timeout,
		ReadyToTrip:   readyToTrip,
		OnStateChange: cfg.OnStateChange,
	})
}
