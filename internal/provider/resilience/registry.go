package resilience

import (
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ProviderHealth represents the health status of a provider.
type ProviderHealth struct {
	// Name is the provider identifier.
	Name string

	// Priority is the registration position, 0 being tried first.
	Priority int

	// CircuitState is the current circuit breaker state. Providers
	// registered without a client always report closed.
	CircuitState gobreaker.State

	// Counts contains circuit breaker statistics.
	Counts gobreaker.Counts

	// Successes and Failures count outcomes recorded by callers.
	Successes uint64
	Failures  uint64

	// LastSuccessAt is the timestamp of the last successful request.
	LastSuccessAt *time.Time

	// LastFailureAt is the timestamp of the last failed request.
	LastFailureAt *time.Time

	// LastError is the most recent error message, if any.
	LastError string

	// LastCause is the cause class of the most recent failure.
	LastCause string
}

// IsHealthy returns true if the provider is considered healthy.
func (h *ProviderHealth) IsHealthy() bool {
	return h.CircuitState == gobreaker.StateClosed
}

// IsDegraded returns true if the provider is in a degraded state (half-open).
func (h *ProviderHealth) IsDegraded() bool {
	return h.CircuitState == gobreaker.StateHalfOpen
}

// IsUnhealthy returns true if the provider is unhealthy (circuit open).
func (h *ProviderHealth) IsUnhealthy() bool {
	return h.CircuitState == gobreaker.StateOpen
}

// Registry tracks registered providers and the outcome of their calls.
// It is bookkeeping only: nothing in the request path reads it.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*registeredProvider
	order     []string
	now       func() time.Time
}

type registeredProvider struct {
	client        *Client
	successes     uint64
	failures      uint64
	lastSuccessAt *time.Time
	lastFailureAt *time.Time
	lastError     string
	lastCause     string
}

// NewRegistry creates a new provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]*registeredProvider),
		now:       time.Now,
	}
}

// Register adds a provider to the registry. client may be nil for providers
// that do not go through a resilient client. Registering a name twice keeps
// its original priority.
func (r *Registry) Register(name string, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[name]; ok {
		p.client = client
		return
	}
	r.providers[name] = &registeredProvider{client: client}
	r.order = append(r.order, name)
}

// RecordSuccess records a successful request for a provider.
func (r *Registry) RecordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[name]; ok {
		now := r.now()
		p.successes++
		p.lastSuccessAt = &now
	}
}

// RecordFailure records a failed request for a provider with its cause class.
func (r *Registry) RecordFailure(name, cause string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[name]; ok {
		now := r.now()
		p.failures++
		p.lastFailureAt = &now
		p.lastCause = cause
		if err != nil {
			p.lastError = err.Error()
		}
	}
}

// GetHealth returns the health status of a specific provider.
func (r *Registry) GetHealth(name string) *ProviderHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i, n := range r.order {
		if n == name {
			return r.health(i, n)
		}
	}
	return nil
}

// GetAllHealth returns the health status of all providers in priority order.
func (r *Registry) GetAllHealth() []*ProviderHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	health := make([]*ProviderHealth, 0, len(r.order))
	for i, name := range r.order {
		health = append(health, r.health(i, name))
	}
	return health
}

// GetProviderNames returns the names of all providers in priority order.
func (r *Registry) GetProviderNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// ProviderCount returns the number of registered providers.
func (r *Registry) ProviderCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// health must be called with r.mu held.
func (r *Registry) health(priority int, name string) *ProviderHealth {
	p := r.providers[name]
	h := &ProviderHealth{
		Name:          name,
		Priority:      priority,
		CircuitState:  gobreaker.StateClosed,
		Successes:     p.successes,
		Failures:      p.failures,
		LastSuccessAt: p.lastSuccessAt,
		LastFailureAt: p.lastFailureAt,
		LastError:     p.lastError,
		LastCause:     p.lastCause,
	}
	if p.client != nil {
		h.CircuitState = p.client.CircuitBreakerState()
		h.Counts = p.client.CircuitBreakerCounts()
	}
	return h
}
