package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/airpulse/airpulse/internal/api/middleware"
)

func TestSecurityHeaders(t *testing.T) {
	handler := middleware.SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Custom-Header", "custom-value")
		w.WriteHeader(http.StatusOK)
	}))

	rec := send(handler, "/test", "192.0.2.1:1000")

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "default-src 'none'; frame-ancestors 'none'", rec.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
	assert.Equal(t, "custom-value", rec.Header().Get("X-Custom-Header"))
}

func TestCacheControl(t *testing.T) {
	tests := []struct {
		maxAge   time.Duration
		expected string
	}{
		{5 * time.Minute, "public, max-age=300"},
		{0, "no-store"},
	}

	for _, tt := range tests {
		rec := send(middleware.CacheControl(tt.maxAge)(okHandler()), "/test", "192.0.2.1:1000")
		assert.Equal(t, tt.expected, rec.Header().Get("Cache-Control"))
	}
}

func TestContentTypeJSON_HandlerOverrides(t *testing.T) {
	handler := middleware.ContentTypeJSON(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusBadRequest)
	}))
	rec := send(handler, "/test", "192.0.2.1:1000")
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	rec = send(middleware.ContentTypeJSON(okHandler()), "/test", "192.0.2.1:1000")
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}
