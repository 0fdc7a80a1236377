package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit returns an HTTP middleware that limits requests per client IP to
// requests per window, answering 429 with the JSON error envelope. A
// non-positive limit disables limiting.
func RateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	if requests <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeAuthError(w, http.StatusTooManyRequests, "Too many requests, slow down")
		}),
	)
}

// RateLimitBySession limits requests per validated session, falling back to
// the client IP when no principal is attached. Mount it after
// OptionalSession so invalid tokens share their IP's bucket.
func RateLimitBySession(requests int, window time.Duration) func(http.Handler) http.Handler {
	if requests <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if p := GetPrincipal(r.Context()); p != nil && p.SessionID != "" {
				return "session:" + p.SessionID, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeAuthError(w, http.StatusTooManyRequests, "Too many requests, slow down")
		}),
	)
}
