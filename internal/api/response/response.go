// Package response writes JSON and problem responses.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/airpulse/airpulse/internal/api/middleware"
	"github.com/airpulse/airpulse/internal/api/models"
)

// JSON writes a JSON response with the given status code.
// Includes X-Request-Id header for correlation.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	if requestID := middleware.GetRequestID(r.Context()); requestID != "" {
		w.Header().Set("X-Request-Id", requestID)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Error writes a Problem+JSON error response for the request path.
func Error(w http.ResponseWriter, r *http.Request, problem *models.Problem) {
	problem.Instance = r.URL.Path
	problem.Write(w)
}

// BadRequest writes a 400 Bad Request error response.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, errors []models.FieldError) {
	Error(w, r, models.NewBadRequest(traceID(r), detail, errors))
}

// NotFound writes a 404 Not Found error response.
func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewNotFound(traceID(r), detail))
}

// InternalError writes a 500 Internal Server Error response.
func InternalError(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewInternalError(traceID(r), detail))
}

// ServiceUnavailable writes a 503 Service Unavailable error response.
func ServiceUnavailable(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewServiceUnavailable(traceID(r), detail))
}

// GatewayTimeout writes a 504 Gateway Timeout error response.
func GatewayTimeout(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewGatewayTimeout(traceID(r), detail))
}

func traceID(r *http.Request) string {
	return middleware.GetRequestID(r.Context())
}
