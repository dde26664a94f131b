package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/airpulse/airpulse/internal/api/models"
)

// RateLimitConfig holds configuration for rate limiting.
type RateLimitConfig struct {
	// RequestLimit is the number of requests allowed per window.
	RequestLimit int
	// WindowLength is the window duration.
	WindowLength time.Duration
}

// PerMinute returns a one minute window allowing n requests.
func PerMinute(n int) RateLimitConfig {
	return RateLimitConfig{RequestLimit: n, WindowLength: time.Minute}
}

// StandardRateLimit applies to reading and history endpoints.
var StandardRateLimit = PerMinute(120)

// ForecastLimit derives the forecast limit from the standard one. Forecasts
// are larger and their synthetic fallback is costlier, so they get a quarter
// of the budget, never less than one request.
func ForecastLimit(standard RateLimitConfig) RateLimitConfig {
	limit := standard.RequestLimit / 4
	if limit < 1 {
		limit = 1
	}
	return RateLimitConfig{RequestLimit: limit, WindowLength: standard.WindowLength}
}

// RateLimitByIP limits requests per client IP. Behind a proxy, run chi's
// RealIP middleware first.
func RateLimitByIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(cfg.WindowLength.Seconds()))
	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			problem := models.NewTooManyRequests(GetRequestID(r.Context()), "Rate limit exceeded. Please try again later.")
			problem.Instance = r.URL.Path
			// httprate does not expose the reset time, so the full window is a safe bound
			w.Header().Set("Retry-After", retryAfter)
			problem.Write(w)
		}),
	)
}
