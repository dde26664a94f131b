package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// statusRecorder captures the status code and body size of a response.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	if rec, ok := w.(*statusRecorder); ok {
		return rec
	}
	return &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// routePattern returns the matched chi route, or the raw path outside chi
// or before routing completed. Call it after the next handler returned.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
