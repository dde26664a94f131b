package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/airpulse/airpulse/internal/api/middleware"
)

func setupTestTracer() (*tracetest.SpanRecorder, func()) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return sr, func() {
		_ = tp.Shutdown(context.Background())
	}
}

// traced serves one request through a traced chi router and returns the
// single ended span.
func traced(t *testing.T, req *http.Request, status int, mw ...func(http.Handler) http.Handler) sdktrace.ReadOnlySpan {
	t.Helper()
	sr, cleanup := setupTestTracer()
	defer cleanup()

	r := chi.NewRouter()
	r.Use(mw...)
	r.Use(middleware.Tracing())
	r.Get("/v1/air-quality/{kind}", func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, trace.SpanFromContext(r.Context()).SpanContext().IsValid())
		w.WriteHeader(status)
	})
	r.ServeHTTP(httptest.NewRecorder(), req)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	return spans[0]
}

func attrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestTracing_ServerSpan(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/air-quality/current?lat=19.07&lon=72.87", http.NoBody)
	span := traced(t, req, http.StatusOK)

	assert.Equal(t, "GET /v1/air-quality/{kind}", span.Name())
	assert.Equal(t, trace.SpanKindServer, span.SpanKind())
	assert.Equal(t, codes.Unset, span.Status().Code)

	a := attrs(span)
	assert.Equal(t, "/v1/air-quality/{kind}", a["http.route"].AsString())
	assert.Equal(t, "/v1/air-quality/current", a["url.path"].AsString())
	assert.Equal(t, "lat=19.07&lon=72.87", a["url.query"].AsString())
	assert.Equal(t, "http", a["url.scheme"].AsString())
	assert.Equal(t, int64(200), a["http.response.status_code"].AsInt64())
}

func TestTracing_ContinuesCallerTrace(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/air-quality/forecast", http.NoBody)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	req.Header.Set("X-Forwarded-Proto", "https")

	span := traced(t, req, http.StatusOK)

	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", span.SpanContext().TraceID().String())
	assert.Equal(t, "00f067aa0ba902b7", span.Parent().SpanID().String())
	assert.Equal(t, "https", attrs(span)["url.scheme"].AsString())
}

func TestTracing_ErrorStatusOnlyFor5xx(t *testing.T) {
	tests := []struct {
		status int
		code   codes.Code
	}{
		{http.StatusBadRequest, codes.Unset},
		{http.StatusNotFound, codes.Unset},
		{http.StatusServiceUnavailable, codes.Error},
		{http.StatusGatewayTimeout, codes.Error},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/air-quality/current", http.NoBody)
			span := traced(t, req, tt.status)

			assert.Equal(t, tt.code, span.Status().Code)
			assert.Equal(t, int64(tt.status), attrs(span)["http.response.status_code"].AsInt64())
			if tt.code == codes.Error {
				assert.Equal(t, http.StatusText(tt.status), span.Status().Description)
			}
		})
	}
}

func TestTracing_RequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/air-quality/current", http.NoBody)
	req.Header.Set("X-Request-Id", "refresh-delhi-0042")

	span := traced(t, req, http.StatusOK, middleware.RequestID)

	assert.Equal(t, "refresh-delhi-0042", attrs(span)["request.id"].AsString())
}

func TestTracing_OutsideRouter(t *testing.T) {
	sr, cleanup := setupTestTracer()
	defer cleanup()

	h := middleware.Tracing()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /health", spans[0].Name())
}
