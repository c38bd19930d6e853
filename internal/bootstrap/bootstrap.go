// Package bootstrap builds the application's infrastructure and services from
// configuration. The server and the operator CLI share it.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/nats-io/nats.go"

	"github.com/dukerupert/invoicer/internal"
	"github.com/dukerupert/invoicer/internal/billing"
	"github.com/dukerupert/invoicer/internal/crypto"
	"github.com/dukerupert/invoicer/internal/domain"
	"github.com/dukerupert/invoicer/internal/email"
	"github.com/dukerupert/invoicer/internal/events"
	"github.com/dukerupert/invoicer/internal/postgres"
	"github.com/dukerupert/invoicer/internal/service"
	"github.com/dukerupert/invoicer/internal/sqlite"
	"github.com/dukerupert/invoicer/internal/telemetry"
)

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OpenStore opens the configured store and applies pending migrations.
func OpenStore(ctx context.Context, cfg internal.DatabaseConfig, logger *slog.Logger) (domain.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		logger.Info("opening sqlite database", "path", cfg.Path)
		return sqlite.Open(cfg.Path)

	case "postgres":
		logger.Info("connecting to database")
		sqlDB, err := sql.Open("pgx", cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		defer sqlDB.Close()

		if err := sqlDB.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("database ping failed: %w", err)
		}

		logger.Info("running database migrations")
		if err := internal.RunMigrations(sqlDB, "postgres"); err != nil {
			return nil, fmt.Errorf("migration failed: %w", err)
		}

		pool, err := pgxpool.New(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		return postgres.New(pool), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

// OpenMigrationDB opens a database/sql handle for migration tooling and
// returns it with its goose dialect.
func OpenMigrationDB(cfg internal.DatabaseConfig) (*sql.DB, string, error) {
	switch cfg.Driver {
	case "sqlite":
		store, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, "", err
		}
		return store.DB(), "sqlite3", nil
	case "postgres":
		db, err := sql.Open("pgx", cfg.URL)
		if err != nil {
			return nil, "", fmt.Errorf("database connection failed: %w", err)
		}
		return db, "postgres", nil
	}
	return nil, "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

// NewSender builds the configured email transport.
func NewSender(cfg internal.EmailConfig, logger *slog.Logger) email.Sender {
	if cfg.Provider == "postmark" {
		return email.NewPostmarkSender(cfg.PostmarkToken)
	}
	return email.NewSMTPSender(email.SMTPConfig{
		Host:     cfg.Host,
		Port:     int(cfg.Port),
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
		Timeout:  30 * time.Second,
	}, logger)
}

// NewGateway builds the notification gateway on the configured transport.
func NewGateway(cfg internal.EmailConfig, logger *slog.Logger) (*email.Notifier, error) {
	return email.NewNotifier(NewSender(cfg, logger), cfg.From, cfg.FromName, logger)
}

// NewPublisher connects to NATS when a URL is configured. Without one, events
// are only logged and the returned connection is nil.
func NewPublisher(cfg internal.NATSConfig, logger *slog.Logger) (domain.EventPublisher, *nats.Conn, error) {
	if cfg.URL == "" {
		logger.Warn("NATS_URL not set, lifecycle events will only be logged")
		return events.NewLogPublisher(logger), nil, nil
	}

	conn, err := events.Connect(events.Config{URL: cfg.URL, Name: cfg.Name}, logger)
	if err != nil {
		return nil, nil, err
	}
	return events.NewNATSPublisher(conn, logger), conn, nil
}

// NewSealer builds the bank token encryptor. Development may run without a
// key; tokens sealed with the generated key are unreadable after a restart.
func NewSealer(env, encodedKey string, logger *slog.Logger) (*crypto.AESEncryptor, error) {
	if encodedKey == "" {
		if env == "prod" {
			return nil, errors.New("ENCRYPTION_KEY is required")
		}
		logger.Warn("ENCRYPTION_KEY not set, using an ephemeral key")
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		return crypto.NewAESEncryptor(key)
	}

	key, err := crypto.DecodeKeyBase64(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("invalid ENCRYPTION_KEY: %w", err)
	}
	return crypto.NewAESEncryptor(key)
}

// Providers are the payment processor and bank aggregator clients.
type Providers struct {
	Payments *billing.StripeProvider
	Linker   billing.BankLinker
}

// NewProviders builds the Stripe provider and the Plaid linker. Outside
// production a missing Plaid configuration falls back to the sandbox mock.
func NewProviders(cfg *internal.Config, logger *slog.Logger) (*Providers, error) {
	stripeConfig := billing.StripeConfig{
		APIKey:           cfg.Stripe.SecretKey,
		WebhookSecret:    cfg.Stripe.WebhookSecret,
		WebhookTolerance: cfg.Stripe.WebhookTolerance,
		BaseURL:          cfg.Stripe.BaseURL,
	}
	payments, err := billing.NewStripeProvider(stripeConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Stripe provider: %w", err)
	}
	logger.Info("Stripe provider initialized", "test_mode", stripeConfig.IsTestMode())

	plaidConfig := billing.PlaidConfig{
		ClientID:    cfg.Plaid.ClientID,
		Secret:      cfg.Plaid.Secret,
		Environment: cfg.Plaid.Environment,
		ClientName:  cfg.Plaid.ClientName,
	}
	if err := plaidConfig.Validate(); err != nil {
		if cfg.Env == "prod" {
			return nil, err
		}
		logger.Warn("Plaid not configured, using mock bank linker", "reason", err)
		return &Providers{Payments: payments, Linker: billing.NewMockProvider()}, nil
	}

	linker, err := billing.NewPlaidLinker(plaidConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Plaid linker: %w", err)
	}
	return &Providers{Payments: payments, Linker: linker}, nil
}

// Deps are the infrastructure pieces the services are built on.
type Deps struct {
	Store     domain.Store
	Gateway   domain.NotificationGateway
	Publisher domain.EventPublisher
	Metrics   *telemetry.BusinessMetrics
	Providers *Providers
	Sealer    service.TokenSealer
}

// Services are the application services.
type Services struct {
	Lifecycle  *service.LifecycleManager
	Reminders  *service.ReminderScheduler
	Reconciler *service.Reconciler
	Customers  *service.CustomerService
	Plans      *service.PlanService
}

// NewServices wires the application services.
func NewServices(cfg *internal.Config, deps Deps, logger *slog.Logger) *Services {
	lifecycle := service.NewLifecycleManager(deps.Store, deps.Gateway, deps.Publisher, deps.Metrics, service.LifecycleConfig{}, logger)

	reminders := service.NewReminderScheduler(deps.Store, deps.Gateway, deps.Metrics, service.ReminderConfig{
		Policy: domain.ReminderPolicy{
			MinInterval:  cfg.Reminder.MinInterval,
			MaxReminders: cfg.Reminder.MaxReminders,
		},
		Concurrency: cfg.Reminder.Concurrency,
		ClaimTTL:    cfg.Reminder.ClaimTTL,
	}, logger)

	reconciler := service.NewReconciler(deps.Store, deps.Providers.Payments, lifecycle, deps.Publisher, deps.Metrics, logger)

	customers := service.NewCustomerService(deps.Store, lifecycle, deps.Providers.Payments, deps.Providers.Linker, deps.Sealer, deps.Metrics, logger)

	return &Services{
		Lifecycle:  lifecycle,
		Reminders:  reminders,
		Reconciler: reconciler,
		Customers:  customers,
		Plans:      service.NewPlanService(deps.Store, nil, logger),
	}
}
