package handler

import (
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/airpulse/airpulse/internal/airquality"
	"github.com/airpulse/airpulse/internal/api/models"
	"github.com/airpulse/airpulse/internal/api/response"
	"github.com/airpulse/airpulse/internal/provider/resilience"
)

// PipelineStatus is the part of airquality.Service the ops endpoints use.
type PipelineStatus interface {
	Offline() bool
	CacheStats() (current, forecast airquality.CacheStats)
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	pipeline  PipelineStatus
	registry  *resilience.Registry
	now       func() time.Time
}

// NewOpsHandler creates a new OpsHandler. pipeline and registry may be nil
// before the service is wired, in which case readiness fails.
func NewOpsHandler(version, buildTime string, pipeline PipelineStatus, registry *resilience.Registry) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		pipeline:  pipeline,
		registry:  registry,
		now:       time.Now,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.now()),
		Details: map[string]any{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	})
}

// ReadinessCheck handles GET /v1/ops/ready. The pipeline always answers,
// with synthetic data if need be, so it is ready as soon as it is wired.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if h.pipeline == nil {
		response.ServiceUnavailable(w, r, "air quality pipeline not initialized")
		return
	}
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.now()),
	})
}

// SystemStatus handles GET /v1/ops/status - provider and cache status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Status:    models.HealthStatusOK,
		Time:      models.Timestamp(h.now()),
		Mode:      "online",
		Providers: []models.ProviderStatus{},
		Caches:    []models.CacheStatus{},
	}

	if h.pipeline == nil {
		status.Status = models.HealthStatusFail
		response.JSON(w, r, http.StatusOK, status)
		return
	}

	if h.pipeline.Offline() {
		status.Mode = "offline"
		status.Status = models.HealthStatusDegraded
	}

	current, forecast := h.pipeline.CacheStats()
	status.Caches = append(status.Caches, cacheStatus("current", current), cacheStatus("forecast", forecast))

	if h.registry != nil {
		open := 0
		for _, ph := range h.registry.GetAllHealth() {
			ps := providerStatus(ph)
			if ps.Status != models.HealthStatusOK {
				open++
			}
			status.Providers = append(status.Providers, ps)
		}
		if open > 0 {
			status.Status = models.HealthStatusDegraded
		}
	}

	response.JSON(w, r, http.StatusOK, status)
}

func providerStatus(ph *resilience.ProviderHealth) models.ProviderStatus {
	ps := models.ProviderStatus{
		Provider:      ph.Name,
		Priority:      ph.Priority,
		Status:        models.HealthStatusOK,
		CircuitState:  ph.CircuitState.String(),
		Successes:     ph.Successes,
		Failures:      ph.Failures,
		LastSuccessAt: models.TimestampPtr(ph.LastSuccessAt),
		LastFailureAt: models.TimestampPtr(ph.LastFailureAt),
		LastCause:     ph.LastCause,
	}
	switch ph.CircuitState {
	case gobreaker.StateOpen:
		ps.Status = models.HealthStatusFail
	case gobreaker.StateHalfOpen:
		ps.Status = models.HealthStatusDegraded
	}
	if ph.LastError != "" {
		msg := ph.LastError
		ps.Message = &msg
	}
	return ps
}

func cacheStatus(name string, s airquality.CacheStats) models.CacheStatus {
	return models.CacheStatus{
		Name:         name,
		Entries:      s.Entries,
		FreshEntries: s.FreshEntries,
		Window:       s.Window.String(),
	}
}
