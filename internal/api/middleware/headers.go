package middleware

import (
	"fmt"
	"net/http"
	"time"
)

// SecurityHeaders sets the headers every JSON response carries.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// CacheControl lets shared caches keep responses for maxAge. A zero maxAge
// marks responses as not storable.
func CacheControl(maxAge time.Duration) func(http.Handler) http.Handler {
	value := "no-store"
	if maxAge > 0 {
		value = fmt.Sprintf("public, max-age=%d", int(maxAge.Seconds()))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", value)
			next.ServeHTTP(w, r)
		})
	}
}
