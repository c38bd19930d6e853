package middleware

import (
	"context"
	"net/http"
	"time"
)

// Request limits.
const (
	APIMaxBodySize     = 1 << 20  // 1MB
	WebhookMaxBodySize = 64 << 10 // 64KB, provider events are small

	APIRequestTimeout = 30 * time.Second
)

// MaxBodySize rejects bodies declared larger than limit with 413 and caps
// reads of undeclared ones. Handlers see *http.MaxBytesError past the cap.
func MaxBodySize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				respondTooLarge(w, r)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

// Timeout sets a deadline on the request context. Store calls and provider
// requests made by the handler observe it.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
