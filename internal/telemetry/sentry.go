package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/dukerupert/invoicer/internal/domain"
)

const sentryFlushTimeout = 2 * time.Second

// SentryConfig configures error reporting. Reporting stays off unless Enabled
// is set and DSN is not empty.
type SentryConfig struct {
	DSN         string
	Enabled     bool
	Environment string
	Release     string

	// SampleRate is the share of errors sent, 0 to 1. Zero sends everything.
	SampleRate float64
	Debug      bool

	// BeforeSend sees each event before it leaves the process. Returning nil
	// drops it.
	BeforeSend func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event
}

var sentryActive atomic.Bool

// InitSentry configures the global Sentry client and returns the function that
// flushes pending events on shutdown.
func InitSentry(cfg SentryConfig, logger *slog.Logger) (func(), error) {
	sentryActive.Store(false)
	noop := func() {}

	switch {
	case !cfg.Enabled:
		logger.Info("error reporting disabled")
		return noop, nil
	case cfg.DSN == "":
		logger.Warn("SENTRY_ENABLED is set without SENTRY_DSN, error reporting disabled")
		return noop, nil
	}

	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 1.0
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		SampleRate:  rate,
		Debug:       cfg.Debug,
		BeforeSend:  cfg.BeforeSend,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize Sentry: %w", err)
	}
	sentryActive.Store(true)

	logger.Info("error reporting enabled", "environment", cfg.Environment, "release", cfg.Release, "sample_rate", rate)
	return func() { sentry.Flush(sentryFlushTimeout) }, nil
}

// IsEnabled reports whether errors are currently sent to Sentry.
func IsEnabled() bool {
	return sentryActive.Load()
}

// CaptureError sends err to Sentry. The event is tagged with the domain error
// code and with the request and account ids found on ctx. It does nothing
// while reporting is disabled or err is nil.
func CaptureError(ctx context.Context, err error, tags map[string]string, extras map[string]any) {
	if err == nil || !IsEnabled() {
		return
	}

	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}

	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("code", domain.ErrorCode(err))
		if id := domain.RequestIDFromContext(ctx); id != "" {
			scope.SetTag("request_id", id)
		}
		if account := domain.AccountIDFromContext(ctx); account != "" {
			scope.SetTag("account_id", account)
		}
		scope.SetTags(tags)
		scope.SetExtras(extras)
		hub.CaptureException(err)
	})
}

// SentryMiddleware gives each request its own hub and reports panics before
// passing them on to the outer recovery.
func SentryMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IsEnabled() {
				next.ServeHTTP(w, r)
				return
			}

			hub := sentry.CurrentHub().Clone()
			hub.Scope().SetRequest(r)
			ctx := sentry.SetHubOnContext(r.Context(), hub)

			defer func() {
				if v := recover(); v != nil {
					hub.RecoverWithContext(ctx, v)
					panic(v)
				}
			}()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
