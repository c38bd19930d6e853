package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dukerupert/invoicer/internal"
	"github.com/dukerupert/invoicer/internal/bootstrap"
	"github.com/dukerupert/invoicer/internal/domain"
	"github.com/dukerupert/invoicer/internal/events"
	"github.com/dukerupert/invoicer/internal/handler"
	"github.com/dukerupert/invoicer/internal/handler/api"
	"github.com/dukerupert/invoicer/internal/handler/webhook"
	"github.com/dukerupert/invoicer/internal/middleware"
	"github.com/dukerupert/invoicer/internal/router"
	"github.com/dukerupert/invoicer/internal/routes"
	"github.com/dukerupert/invoicer/internal/telemetry"
	"github.com/dukerupert/invoicer/internal/worker"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize error tracking
	flushSentry, err := telemetry.InitSentry(telemetry.SentryConfig{
		DSN:         cfg.Sentry.DSN,
		Enabled:     cfg.Sentry.Enabled,
		Environment: cfg.Sentry.Environment,
		Release:     cfg.Sentry.Release,
		SampleRate:  cfg.Sentry.SampleRate,
		Debug:       cfg.Sentry.Debug,
	}, logger)
	if err != nil {
		return err
	}
	defer flushSentry()

	// Initialize store (runs migrations)
	store, err := bootstrap.OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("Store ready", "driver", cfg.Database.Driver)

	// Initialize metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := middleware.NewMetrics(registry, registry, "invoicer")
	businessMetrics := telemetry.NewBusinessMetrics(registry, "invoicer")

	// Initialize infrastructure
	gateway, err := bootstrap.NewGateway(cfg.Email, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize notification gateway: %w", err)
	}
	logger.Info("Notification gateway initialized", "provider", cfg.Email.Provider)

	publisher, natsConn, err := bootstrap.NewPublisher(cfg.NATS, logger)
	if err != nil {
		return err
	}
	if natsConn != nil {
		defer natsConn.Drain()
	}

	providers, err := bootstrap.NewProviders(cfg, logger)
	if err != nil {
		return err
	}

	sealer, err := bootstrap.NewSealer(cfg.Env, cfg.EncryptionKey, logger)
	if err != nil {
		return err
	}

	// Initialize services
	services := bootstrap.NewServices(cfg, bootstrap.Deps{
		Store:     store,
		Gateway:   gateway,
		Publisher: publisher,
		Metrics:   businessMetrics,
		Providers: providers,
		Sealer:    sealer,
	}, logger)

	// Deactivation signals from the account service
	if natsConn != nil {
		consumer := events.NewDeactivationConsumer(services.Customers, publisher, 30*time.Second, logger)
		sub, err := consumer.Subscribe(natsConn, cfg.NATS.Queue)
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()
		logger.Info("Subscribed to customer deactivation signals", "queue", cfg.NATS.Queue)
	}

	// Reminder scheduler
	scheduler := worker.NewScheduler("reminders", services.Reminders.Task(), worker.Config{
		Interval:   cfg.Reminder.Interval,
		RunTimeout: cfg.Reminder.RunTimeout,
		RunOnStart: cfg.Reminder.RunOnStart,
	}, logger)
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reminder scheduler: %w", err)
	}

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	r := router.New(
		middleware.RequestID,
		middleware.WithRequestLogger(logger),
		middleware.AccessLog,
		httpMetrics.Middleware,
		router.Recovery(),
		telemetry.SentryMiddleware(),
	)
	r.NotFound(handler.NotFoundResponse)

	routes.RegisterOpsRoutes(r, routes.OpsDeps{
		Health:  healthHandler(store),
		Metrics: httpMetrics.Handler(),
	})
	routes.RegisterAPIRoutes(r, routes.APIDeps{
		APIToken:        cfg.APIToken,
		InvoiceHandler:  api.NewInvoiceHandler(services.Lifecycle, logger),
		CustomerHandler: api.NewCustomerHandler(services.Customers, logger),
		IssueHandler:    api.NewIssueHandler(services.Reconciler, logger),
		PlanHandler:     api.NewPlanHandler(services.Plans, logger),
	})
	routes.RegisterWebhookRoutes(r, routes.WebhookDeps{
		PaymentsHandler: webhook.NewPaymentsHandler(services.Reconciler),
	})
	logger.Debug("Routes registered", "routes", r.Routes())

	// ==========================================================================
	// Start server
	// ==========================================================================

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", "error", err)
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Error("Reminder scheduler shutdown failed", "error", err)
	}
	services.Lifecycle.Wait()

	return nil
}

// healthHandler reports whether the store is reachable.
func healthHandler(store any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pinger, ok := store.(bootstrap.Pinger); ok {
			if err := pinger.Ping(r.Context()); err != nil {
				handler.ErrorResponse(w, r, domain.WrapError(err, domain.EUNAVAILABLE, "health", "Database unavailable"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
