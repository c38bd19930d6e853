package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"

	"github.com/dukerupert/invoicer/internal"
	"github.com/dukerupert/invoicer/internal/bootstrap"
	"github.com/dukerupert/invoicer/internal/domain"
)

type appOptions struct {
	verbose *bool
}

// app holds the services a command works with.
type app struct {
	cfg      *internal.Config
	store    domain.Store
	services *bootstrap.Services
	closers  []func()
}

// newApp loads configuration and builds the services the same way the server
// does. Service logs are discarded unless --verbose is set.
func newApp(ctx context.Context, opts *appOptions) (*app, error) {
	cfg, err := internal.NewConfig()
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if *opts.verbose {
		logger = internal.NewLogger(os.Stderr, cfg.Env, "debug")
	}

	store, err := bootstrap.OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: store}
	a.closers = append(a.closers, func() { store.Close() })

	gateway, err := bootstrap.NewGateway(cfg.Email, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	publisher, conn, err := bootstrap.NewPublisher(cfg.NATS, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	if conn != nil {
		a.closers = append(a.closers, func() { _ = conn.Drain() })
	}
	providers, err := bootstrap.NewProviders(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	sealer, err := bootstrap.NewSealer(cfg.Env, cfg.EncryptionKey, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.services = bootstrap.NewServices(cfg, bootstrap.Deps{
		Store:     store,
		Gateway:   gateway,
		Publisher: publisher,
		Providers: providers,
		Sealer:    sealer,
	}, logger)
	return a, nil
}

// Close waits for pending receipts and releases resources in reverse order.
func (a *app) Close() {
	if a.services != nil {
		a.services.Lifecycle.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
