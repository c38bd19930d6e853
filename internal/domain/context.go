// Package domain provides core business types and context helpers for the
// invoicing backend.
//
// Context helpers centralize request-scoped data access so every layer reads
// the issuing account and request id the same way.
package domain

import (
	"context"
)

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey int

const (
	// accountContextKey stores the issuing account in context.
	accountContextKey contextKey = iota

	// requestIDContextKey stores the request ID for tracing.
	requestIDContextKey
)

// Account is the issuing account (vendor) a request acts for. Authentication
// happens upstream; this only carries the result.
type Account struct {
	ID    string
	Email string
}

// --- Account Context Helpers ---

// NewContextWithAccount returns a new context with the account attached.
func NewContextWithAccount(ctx context.Context, account *Account) context.Context {
	return context.WithValue(ctx, accountContextKey, account)
}

// AccountFromContext retrieves the account from context.
// Returns nil if no account is present.
func AccountFromContext(ctx context.Context) *Account {
	account, _ := ctx.Value(accountContextKey).(*Account)
	return account
}

// AccountIDFromContext retrieves the account ID from context.
// Returns "" if no account is present.
func AccountIDFromContext(ctx context.Context) string {
	if account := AccountFromContext(ctx); account != nil {
		return account.ID
	}
	return ""
}

// RequireAccountID retrieves the account ID from context, panicking if not present.
// The panic will be caught by the recovery middleware in HTTP handlers.
func RequireAccountID(ctx context.Context) string {
	id := AccountIDFromContext(ctx)
	if id == "" {
		panic("account_id required in context but not found")
	}
	return id
}

// --- Request ID Context Helpers ---

// NewContextWithRequestID returns a new context with the request ID attached.
func NewContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if no request ID is present.
func RequestIDFromContext(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDContextKey).(string)
	return requestID
}
