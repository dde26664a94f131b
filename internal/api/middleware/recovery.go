package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/airpulse/airpulse/internal/api/models"
)

// Recovery turns a handler panic into a 500 problem carrying the request ID
// and marks the active span as failed. http.ErrAbortHandler is re-raised.
func Recovery(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				requestID := GetRequestID(r.Context())
				event := log.Error().
					Str("request_id", requestID).
					Str("method", r.Method).
					Str("route", routePattern(r)).
					Interface("panic", rec).
					Bytes("stack", debug.Stack())

				if span := trace.SpanFromContext(r.Context()); span.SpanContext().IsValid() {
					event = event.Str("trace_id", span.SpanContext().TraceID().String())
					span.RecordError(fmt.Errorf("panic: %v", rec))
					span.SetStatus(codes.Error, "panic")
				}
				event.Msg("panic recovered")

				problem := models.NewInternalError(requestID, "an unexpected error occurred")
				problem.Instance = r.URL.Path
				problem.Write(w)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
