package internal

import (
	"io"
	"log/slog"
	"strings"
	"time"
)

const serviceName = "invoicer"

// redactedKeys never reach log output with their value. Bank-link and API
// credentials pass through handlers and services as plain strings.
var redactedKeys = map[string]bool{
	"public_token":   true,
	"access_token":   true,
	"api_token":      true,
	"encryption_key": true,
	"authorization":  true,
}

// NewLogger returns the process logger: text for development, JSON with
// RFC3339Nano timestamps in prod. Every record carries service=invoicer.
func NewLogger(w io.Writer, env string, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(level),
		ReplaceAttr: redact,
	}

	var h slog.Handler
	if env == "prod" {
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.String(slog.TimeKey, a.Value.Time().Format(time.RFC3339Nano))
			}
			return redact(groups, a)
		}
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}

	return slog.New(h).With("service", serviceName)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	slog.Default().Warn("Invalid log level. Using default level: info", slog.String("value", level))
	return slog.LevelInfo
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if redactedKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, "[redacted]")
	}
	return a
}
