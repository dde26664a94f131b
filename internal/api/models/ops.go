package models

// Health represents the health status of the service.
type Health struct {
	Status  HealthStatus   `json:"status"`
	Time    Timestamp      `json:"time"`
	Details map[string]any `json:"details,omitempty"`
}

// SystemStatus reports provider and cache state.
type SystemStatus struct {
	Status    HealthStatus     `json:"status"`
	Time      Timestamp        `json:"time"`
	Mode      string           `json:"mode"`
	Providers []ProviderStatus `json:"providers"`
	Caches    []CacheStatus    `json:"caches"`
}

// ProviderStatus represents the status of an upstream provider.
type ProviderStatus struct {
	Provider      string       `json:"provider"`
	Priority      int          `json:"priority"`
	Status        HealthStatus `json:"status"`
	CircuitState  string       `json:"circuitState"`
	Successes     uint64       `json:"successes"`
	Failures      uint64       `json:"failures"`
	LastSuccessAt *Timestamp   `json:"lastSuccessAt,omitempty"`
	LastFailureAt *Timestamp   `json:"lastFailureAt,omitempty"`
	LastCause     string       `json:"lastCause,omitempty"`
	Message       *string      `json:"message,omitempty"`
}

// CacheStatus describes one freshness cache.
type CacheStatus struct {
	Name         string `json:"name"`
	Entries      int    `json:"entries"`
	FreshEntries int    `json:"freshEntries"`
	Window       string `json:"window"`
}
