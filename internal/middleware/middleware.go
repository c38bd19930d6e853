// Package middleware holds the HTTP middleware shared by every route group:
// request ids, request-scoped logging, API token and account checks, body
// limits, timeouts and Prometheus instrumentation.
package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/dukerupert/invoicer/internal/domain"
)

type contextKey string

var (
	errUnauthorized    = domain.Errorf(domain.EUNAUTHORIZED, "", "Authentication required")
	errAccountRequired = domain.Errorf(domain.EUNAUTHORIZED, "", "An issuing account is required")
	errTooLarge        = domain.Errorf(domain.ETOOLARGE, "", "Request body too large")
)

// reject writes the {"error": {...}} body handler.ErrorResponse produces.
// handler imports this package for GetLogger, so the encoding is repeated here.
func reject(w http.ResponseWriter, r *http.Request, status int, err error) {
	code := domain.ErrorCode(err)

	GetLogger(r.Context()).Info("request rejected by middleware",
		"error", err.Error(),
		"code", code,
		"status", status,
	)

	body := map[string]string{
		"code":    code,
		"message": domain.ErrorMessage(err),
	}
	if requestID := GetRequestID(r.Context()); requestID != "" {
		body["request_id"] = requestID
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": body})
}

func respondUnauthorized(w http.ResponseWriter, r *http.Request, err error) {
	reject(w, r, http.StatusUnauthorized, err)
}

func respondTooLarge(w http.ResponseWriter, r *http.Request) {
	reject(w, r, http.StatusRequestEntityTooLarge, errTooLarge)
}
