package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/airpulse/airpulse/internal/airquality"
	"github.com/airpulse/airpulse/internal/api/middleware"
	"github.com/airpulse/airpulse/internal/api/models"
	"github.com/airpulse/airpulse/internal/api/response"
)

// AirQualityService is the part of airquality.Service the handlers use.
type AirQualityService interface {
	GetCurrent(ctx context.Context, c airquality.Coordinate, radiusKm float64) (*airquality.NormalizedReading, error)
	GetForecast(ctx context.Context, c airquality.Coordinate, hours int) (*airquality.Forecast, error)
	GetHistory(ctx context.Context, c airquality.Coordinate, radiusKm float64, window time.Duration) ([]airquality.NormalizedReading, error)
}

// AirQualityHandler serves readings, forecasts and history.
type AirQualityHandler struct {
	service       AirQualityService
	defaultRadius float64
	logger        zerolog.Logger
}

// NewAirQualityHandler creates a handler. defaultRadiusKm applies when the
// request has no radiusKm parameter.
func NewAirQualityHandler(service AirQualityService, defaultRadiusKm float64, logger zerolog.Logger) *AirQualityHandler {
	return &AirQualityHandler{
		service:       service,
		defaultRadius: defaultRadiusKm,
		logger:        logger,
	}
}

// GetCurrent handles GET /v1/air-quality/current.
func (h *AirQualityHandler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	p := newQueryParser(r)
	q := models.CurrentQuery{Lat: p.float("lat"), Lon: p.float("lon"), RadiusKm: p.float("radiusKm")}
	if !p.check(w, r, &q) {
		return
	}

	c := airquality.Coordinate{Lat: *q.Lat, Lon: *q.Lon}
	reading, err := h.service.GetCurrent(r.Context(), c, h.radius(q.RadiusKm))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.ReadingFrom(reading))
}

// GetForecast handles GET /v1/air-quality/forecast.
func (h *AirQualityHandler) GetForecast(w http.ResponseWriter, r *http.Request) {
	p := newQueryParser(r)
	q := models.ForecastQuery{Lat: p.float("lat"), Lon: p.float("lon"), Hours: p.int("hours")}
	if !p.check(w, r, &q) {
		return
	}

	hours := models.DefaultForecastHours
	if q.Hours != nil {
		hours = *q.Hours
	}

	forecast, err := h.service.GetForecast(r.Context(), airquality.Coordinate{Lat: *q.Lat, Lon: *q.Lon}, hours)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.ForecastFrom(forecast))
}

// GetHistory handles GET /v1/air-quality/history.
func (h *AirQualityHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	p := newQueryParser(r)
	q := models.HistoryQuery{
		Lat:      p.float("lat"),
		Lon:      p.float("lon"),
		RadiusKm: p.float("radiusKm"),
		Window:   p.duration("window"),
	}
	if !p.check(w, r, &q) {
		return
	}

	window := models.DefaultHistoryWindow
	if q.Window != nil {
		window = *q.Window
	}
	c := airquality.Coordinate{Lat: *q.Lat, Lon: *q.Lon}
	radius := h.radius(q.RadiusKm)

	readings, err := h.service.GetHistory(r.Context(), c, radius, window)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.HistoryFrom(c, radius, window, readings))
}

func (h *AirQualityHandler) radius(v *float64) float64 {
	if v != nil {
		return *v
	}
	return h.defaultRadius
}

func (h *AirQualityHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, airquality.ErrInvalidCoordinate), errors.Is(err, airquality.ErrInvalidHorizon):
		response.BadRequest(w, r, err.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded):
		response.GatewayTimeout(w, r, "request deadline exceeded")
	case errors.Is(err, context.Canceled):
		// the client is gone; the status is only visible in logs
		response.ServiceUnavailable(w, r, "request cancelled")
	default:
		h.logger.Error().
			Err(err).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("air quality request failed")
		response.ServiceUnavailable(w, r, "air quality data temporarily unavailable")
	}
}
