package middleware_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airpulse/airpulse/internal/api/middleware"
)

// logLine runs one request through a chi router wrapped by mw and the
// request logger and returns the decoded log line.
func logLine(t *testing.T, status int, body, target string, mw ...func(http.Handler) http.Handler) map[string]any {
	t.Helper()
	var buf bytes.Buffer

	r := chi.NewRouter()
	r.Use(mw...)
	r.Use(middleware.Logger(zerolog.New(&buf)))
	r.Get("/v1/air-quality/{kind}", func(w http.ResponseWriter, _ *http.Request) {
		if status != 0 {
			w.WriteHeader(status)
		}
		_, _ = w.Write([]byte(body))
	})

	req := httptest.NewRequest(http.MethodGet, target, http.NoBody)
	req.Header.Set("User-Agent", "aqctl/dev")
	r.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())
	return entry
}

func TestLogger_Fields(t *testing.T) {
	entry := logLine(t, http.StatusOK, `{"aqi":87}`, "/v1/air-quality/current?lat=28.61&lon=77.21")

	assert.Equal(t, "request completed", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "GET", entry["method"])
	assert.Equal(t, "/v1/air-quality/current", entry["path"])
	assert.Equal(t, "/v1/air-quality/{kind}", entry["route"])
	assert.Equal(t, "lat=28.61&lon=77.21", entry["query"])
	assert.EqualValues(t, 200, entry["status"])
	assert.EqualValues(t, len(`{"aqi":87}`), entry["bytes"])
	assert.Equal(t, "aqctl/dev", entry["user_agent"])
	assert.Contains(t, entry, "duration")
	assert.NotContains(t, entry, "trace_id", "no span without tracing")
}

func TestLogger_LevelFollowsStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{0, "info"},
		{http.StatusNotModified, "info"},
		{http.StatusBadRequest, "warn"},
		{http.StatusTooManyRequests, "warn"},
		{http.StatusInternalServerError, "error"},
		{http.StatusServiceUnavailable, "error"},
		{http.StatusGatewayTimeout, "error"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			entry := logLine(t, tt.status, "", "/v1/air-quality/forecast")
			assert.Equal(t, tt.level, entry["level"])
			if tt.status == 0 {
				assert.EqualValues(t, 200, entry["status"], "implicit status")
			}
		})
	}
}

func TestLogger_CorrelationIDs(t *testing.T) {
	_, cleanup := setupTestTracer()
	defer cleanup()

	entry := logLine(t, http.StatusOK, "", "/v1/air-quality/current",
		middleware.RequestID, middleware.Tracing())

	assert.Regexp(t, `^req_`, entry["request_id"])
	assert.Regexp(t, `^[0-9a-f]{32}$`, entry["trace_id"])
	assert.Regexp(t, `^[0-9a-f]{16}$`, entry["span_id"])
}
