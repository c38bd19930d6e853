package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/dukerupert/invoicer/internal/domain"
)

const (
	// AccountIDHeader carries the issuing account resolved by the upstream
	// session layer.
	AccountIDHeader = "X-Account-ID"

	// AccountEmailHeader optionally carries the account's email.
	AccountEmailHeader = "X-Account-Email"
)

// RequireAPIToken rejects requests whose bearer token does not match token.
// An empty token disables the check for local development.
func RequireAPIToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				respondUnauthorized(w, r, errUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAccount loads the issuing account from the gateway headers into the
// request context and rejects requests without one.
func RequireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountID := strings.TrimSpace(r.Header.Get(AccountIDHeader))
		if accountID == "" {
			respondUnauthorized(w, r, errAccountRequired)
			return
		}

		ctx := domain.NewContextWithAccount(r.Context(), &domain.Account{
			ID:    accountID,
			Email: r.Header.Get(AccountEmailHeader),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
