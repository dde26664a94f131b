// Package middleware provides HTTP middleware for the AirPulse API.
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// maxRequestIDLength bounds client supplied request IDs.
const maxRequestIDLength = 64

type requestIDKey struct{}

// RequestID adopts the caller's X-Request-Id when it is usable and mints a
// req_ prefixed one otherwise. The ID is echoed in the response header and
// stored in the context for logs and problem responses.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if !validRequestID(requestID) {
			requestID = "req_" + uuid.New().String()[:22]
		}

		w.Header().Set("X-Request-Id", requestID)

		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// validRequestID accepts short IDs made of letters, digits and ._:- only,
// so a caller cannot inject text into logs or response headers.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for _, c := range []byte(id) {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == ':', c == '-':
		default:
			return false
		}
	}
	return true
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
