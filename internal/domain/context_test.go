package domain

import (
	"context"
	"testing"
)

func TestAccountContext(t *testing.T) {
	t.Run("AccountFromContext returns nil when no account", func(t *testing.T) {
		ctx := context.Background()
		if account := AccountFromContext(ctx); account != nil {
			t.Errorf("expected nil account, got %+v", account)
		}
	})

	t.Run("AccountFromContext returns account when set", func(t *testing.T) {
		expected := &Account{ID: "acct-1", Email: "billing@vendor.test"}
		ctx := NewContextWithAccount(context.Background(), expected)

		account := AccountFromContext(ctx)
		if account == nil {
			t.Fatal("expected account, got nil")
		}
		if account.ID != expected.ID {
			t.Errorf("expected ID %q, got %q", expected.ID, account.ID)
		}
	})

	t.Run("AccountIDFromContext returns empty when no account", func(t *testing.T) {
		if id := AccountIDFromContext(context.Background()); id != "" {
			t.Errorf("expected empty id, got %q", id)
		}
	})

	t.Run("RequireAccountID panics when no account", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Error("expected panic, got none")
			}
		}()
		RequireAccountID(context.Background())
	})

	t.Run("RequireAccountID returns ID when account set", func(t *testing.T) {
		ctx := NewContextWithAccount(context.Background(), &Account{ID: "acct-2"})
		if id := RequireAccountID(ctx); id != "acct-2" {
			t.Errorf("expected acct-2, got %q", id)
		}
	})
}

func TestRequestIDContext(t *testing.T) {
	t.Run("RequestIDFromContext returns empty string when no request ID", func(t *testing.T) {
		ctx := context.Background()
		requestID := RequestIDFromContext(ctx)
		if requestID != "" {
			t.Errorf("expected empty string, got %q", requestID)
		}
	})

	t.Run("RequestIDFromContext returns request ID when set", func(t *testing.T) {
		ctx := context.Background()
		expected := "req-12345"
		ctx = NewContextWithRequestID(ctx, expected)

		requestID := RequestIDFromContext(ctx)
		if requestID != expected {
			t.Errorf("expected %q, got %q", expected, requestID)
		}
	})

	t.Run("account and request ID coexist", func(t *testing.T) {
		ctx := NewContextWithAccount(context.Background(), &Account{ID: "acct-3"})
		ctx = NewContextWithRequestID(ctx, "req-abc123")

		if got := AccountIDFromContext(ctx); got != "acct-3" {
			t.Errorf("expected acct-3, got %q", got)
		}
		if got := RequestIDFromContext(ctx); got != "req-abc123" {
			t.Errorf("expected req-abc123, got %q", got)
		}
	})
}
