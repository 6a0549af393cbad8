package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/keygate/keygate/internal/ratelimit"
)

// RateLimitByIP returns an HTTP middleware that limits requests per client IP
// to the specified number per minute. It is a coarse guard in front of key
// verification, never a substitute for the per-key limit. A non-positive
// limit disables it. Only Retry-After is written on a 429; the X-RateLimit-*
// names belong to the per-key limiter.
func RateLimitByIP(requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(requestsPerMinute, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithResponseHeaders(httprate.ResponseHeaders{RetryAfter: "Retry-After"}),
	)
}

// SetRateLimitHeaders writes the per-key rate-limit headers for d. Degraded
// decisions carry no counter state and set no headers.
func SetRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	if d.Degraded || d.Limit == 0 {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.Itoa(d.ResetSeconds()))
	if !d.Allowed {
		h.Set("Retry-After", strconv.Itoa(d.RetryAfterSeconds()))
	}
}
