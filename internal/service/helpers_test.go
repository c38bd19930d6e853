package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dukerupert/invoicer/internal/billing"
	"github.com/dukerupert/invoicer/internal/crypto"
	"github.com/dukerupert/invoicer/internal/domain"
	"github.com/dukerupert/invoicer/internal/sqlite"
	"github.com/dukerupert/invoicer/internal/telemetry"
)

const testWebhookSecret = "whsec_service_test"

var day0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// testClock is a settable clock shared by every service in a test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// fakeGateway records delivered messages.
type fakeGateway struct {
	// DeliverFunc, when set, decides the result of each delivery.
	DeliverFunc func(ctx context.Context, msg domain.Message) error

	mu       sync.Mutex
	messages []domain.Message
}

func (g *fakeGateway) Deliver(ctx context.Context, msg domain.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.DeliverFunc != nil {
		if err := g.DeliverFunc(ctx, msg); err != nil {
			return err
		}
	}
	g.messages = append(g.messages, msg)
	return nil
}

func (g *fakeGateway) Sent(template string) []domain.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.Message
	for _, m := range g.messages {
		if m.Template == template {
			out = append(out, m)
		}
	}
	return out
}

type publishedEvent struct {
	Subject string
	Payload any
}

// fakePublisher records published events.
type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *fakePublisher) Publish(ctx context.Context, subject string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Subject: subject, Payload: payload})
	return nil
}

func (p *fakePublisher) Count(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Subject == subject {
			n++
		}
	}
	return n
}

// failingStore fails the nth status update inside any transaction, and every
// issue write when failIssues is set.
type failingStore struct {
	domain.Store
	failOn     int
	failIssues bool

	mu    sync.Mutex
	calls int
}

var errInjected = errors.New("injected storage failure")

func (s *failingStore) InTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	return s.Store.InTx(ctx, func(tx domain.Tx) error {
		return fn(&failingTx{Tx: tx, store: s})
	})
}

type failingTx struct {
	domain.Tx
	store *failingStore
}

func (t *failingTx) UpdateInvoiceStatus(ctx context.Context, u domain.StatusUpdate) (bool, error) {
	t.store.mu.Lock()
	t.store.calls++
	fail := t.store.calls == t.store.failOn
	t.store.mu.Unlock()
	if fail {
		return false, errInjected
	}
	return t.Tx.UpdateInvoiceStatus(ctx, u)
}

func (t *failingTx) RecordIssue(ctx context.Context, issue *domain.ReconciliationIssue) (bool, error) {
	if t.store.failIssues {
		return false, errInjected
	}
	return t.Tx.RecordIssue(ctx, issue)
}

// reportedErrors collects the errors sent to Sentry during a test.
type reportedErrors struct {
	mu     sync.Mutex
	errs   []error
	events []*sentry.Event
}

func (r *reportedErrors) All() ([]error, []*sentry.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...), append([]*sentry.Event(nil), r.events...)
}

// captureReports enables Sentry for the test with every event kept locally.
func captureReports(t *testing.T) *reportedErrors {
	t.Helper()
	reported := &reportedErrors{}
	flush, err := telemetry.InitSentry(telemetry.SentryConfig{
		DSN:     "https://public@sentry.example.test/1",
		Enabled: true,
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			reported.mu.Lock()
			defer reported.mu.Unlock()
			reported.events = append(reported.events, event)
			if hint != nil {
				if err, ok := hint.OriginalException.(error); ok {
					reported.errs = append(reported.errs, err)
				}
			}
			return nil
		},
	}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		flush()
		_, _ = telemetry.InitSentry(telemetry.SentryConfig{}, testLogger())
	})
	return reported
}

// testEnv wires every service against a real SQLite store.
type testEnv struct {
	store      domain.Store
	clock      *testClock
	gateway    *fakeGateway
	publisher  *fakePublisher
	provider   *billing.MockProvider
	lifecycle  *LifecycleManager
	reminders  *ReminderScheduler
	reconciler *Reconciler
	customers  *CustomerService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "invoicer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return newTestEnvWithStore(t, store)
}

func newTestEnvWithStore(t *testing.T, store domain.Store) *testEnv {
	t.Helper()

	env := &testEnv{
		store:     store,
		clock:     &testClock{now: day0},
		gateway:   &fakeGateway{},
		publisher: &fakePublisher{},
		provider:  billing.NewMockProvider(),
	}

	stripe, err := billing.NewStripeProvider(billing.StripeConfig{
		APIKey:        "sk_test_service",
		WebhookSecret: testWebhookSecret,
	}, testLogger())
	require.NoError(t, err)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sealer, err := crypto.NewAESEncryptor(key)
	require.NoError(t, err)

	env.lifecycle = NewLifecycleManager(store, env.gateway, env.publisher, nil, LifecycleConfig{
		Clock:          env.clock.Now,
		ReceiptTimeout: 5 * time.Second,
	}, testLogger())
	env.reminders = NewReminderScheduler(store, env.gateway, nil, ReminderConfig{
		Policy:      domain.DefaultReminderPolicy(),
		Concurrency: 2,
	}, testLogger())
	env.reconciler = NewReconciler(store, stripe, env.lifecycle, env.publisher, nil, testLogger())
	env.customers = NewCustomerService(store, env.lifecycle, env.provider, env.provider, sealer, nil, testLogger())
	return env
}

func (e *testEnv) createCustomer(t *testing.T) *domain.Customer {
	t.Helper()
	c, err := e.customers.Create(context.Background(), domain.CreateCustomerParams{
		AccountID: "acct-1",
		Name:      "Harbor Roasters",
		Email:     "ap@harbor.test",
	})
	require.NoError(t, err)
	return c
}

// issueInvoice issues a 250.00 invoice on day 0, due on day 30.
func (e *testEnv) issueInvoice(t *testing.T, customerID, number string) *domain.InvoiceView {
	t.Helper()
	view, err := e.lifecycle.Issue(context.Background(), domain.CreateInvoiceParams{
		Number:     number,
		AccountID:  "acct-1",
		CustomerID: customerID,
		Amount:     decimal.RequireFromString("250.00"),
		IssuedAt:   day0,
		DueAt:      day0.Add(days(30)),
	})
	require.NoError(t, err)
	return view
}

func (e *testEnv) invoice(t *testing.T, number string) *domain.Invoice {
	t.Helper()
	inv, err := e.store.GetInvoice(context.Background(), number)
	require.NoError(t, err)
	return inv
}

// signedEvent builds a signed Stripe webhook delivery for a payment intent.
func signedEvent(t *testing.T, eventID, invoiceNumber, reference string, amountCents int64) ([]byte, string) {
	t.Helper()
	object, err := json.Marshal(map[string]any{
		"id":              reference,
		"object":          "payment_intent",
		"amount":          amountCents,
		"amount_received": amountCents,
		"metadata":        map[string]string{domain.InvoiceNumberMetadataKey: invoiceNumber},
	})
	require.NoError(t, err)

	payload, err := json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"type":        domain.EventPaymentIntentSucceeded,
		"api_version": "2020-08-27",
		"data":        map[string]any{"object": json.RawMessage(object)},
	})
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}
