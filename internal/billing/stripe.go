package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dukerupert/invoicer/internal/domain"
)

// StripeProvider implements PaymentProvider and EventVerifier using Stripe.
type StripeProvider struct {
	api    *client.API
	config StripeConfig
	logger *slog.Logger
}

var (
	_ PaymentProvider = (*StripeProvider)(nil)
	_ EventVerifier   = (*StripeProvider)(nil)
)

// NewStripeProvider creates a Stripe provider with its own API client. The
// global stripe.Key is never touched.
func NewStripeProvider(config StripeConfig, logger *slog.Logger) (*StripeProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config = config.withDefaults()

	backendConfig := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: config.Timeout},
		MaxNetworkRetries: stripe.Int64(int64(config.MaxRetries)),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if config.BaseURL != "" {
		backendConfig.URL = stripe.String(config.BaseURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig)

	return &StripeProvider{
		api: client.New(config.APIKey, &stripe.Backends{
			API:     backend,
			Connect: backend,
			Uploads: backend,
		}),
		config: config,
		logger: logger,
	}, nil
}

// CreateCustomer creates a Stripe customer.
func (s *StripeProvider) CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error) {
	customerParams := &stripe.CustomerParams{
		Email: stripe.String(params.Email),
		Name:  stripe.String(params.Name),
	}
	if params.Phone != "" {
		customerParams.Phone = stripe.String(params.Phone)
	}
	if params.BankAccountToken != "" {
		customerParams.Source = stripe.String(params.BankAccountToken)
	}
	for k, v := range params.Metadata {
		customerParams.AddMetadata(k, v)
	}
	if params.IdempotencyKey != "" {
		customerParams.SetIdempotencyKey(params.IdempotencyKey)
	}
	customerParams.Context = ctx

	c, err := s.api.Customers.New(customerParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create stripe customer: %w", stripeError(err))
	}

	s.logger.Info("stripe customer created",
		"stripe_customer_id", c.ID,
		"bank_source", params.BankAccountToken != "",
	)

	return &Customer{
		ID:    c.ID,
		Email: c.Email,
		Name:  c.Name,
	}, nil
}

// VerifyAmounts verifies micro-deposits on the SetupIntent identified by ref.
func (s *StripeProvider) VerifyAmounts(ctx context.Context, ref string, amounts []int64) error {
	params := &stripe.SetupIntentVerifyMicrodepositsParams{}
	for _, amount := range amounts {
		params.Amounts = append(params.Amounts, stripe.Int64(amount))
	}
	params.Context = ctx

	_, err := s.api.SetupIntents.VerifyMicrodeposits(ref, params)
	if err == nil {
		return nil
	}

	err = stripeError(err)
	var perr *ProviderError
	if errors.As(err, &perr) && perr.Rejected() {
		return fmt.Errorf("%w: %s", ErrVerificationFailed, perr.Message)
	}
	return fmt.Errorf("failed to verify micro-deposits: %w", err)
}

// VerifyEvent verifies the Stripe-Signature header and decodes the event.
func (s *StripeProvider) VerifyEvent(payload []byte, signature string) (*domain.PaymentEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.config.WebhookSecret,
		webhook.ConstructEventOptions{
			Tolerance:                s.config.WebhookTolerance,
			IgnoreAPIVersionMismatch: true,
		})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhookSignature, err)
	}

	return decodeEvent(event, payload)
}

// DecodeEvent decodes a previously verified event payload.
func (s *StripeProvider) DecodeEvent(payload []byte) (*domain.PaymentEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return decodeEvent(event, payload)
}

// settlementObject is the subset of the PaymentIntent, Invoice and Charge
// objects that identifies a settlement.
type settlementObject struct {
	id         string
	amount     int64
	customerID string
	metadata   map[string]string
}

func decodeEvent(event stripe.Event, payload []byte) (*domain.PaymentEvent, error) {
	out := &domain.PaymentEvent{
		EventID:    event.ID,
		Type:       string(event.Type),
		Payload:    json.RawMessage(payload),
		ReceivedAt: time.Now().UTC(),
	}
	if event.ID == "" {
		return nil, fmt.Errorf("%w: missing event id", ErrMalformedEvent)
	}
	if !domain.IsSettlementEvent(out.Type) {
		return out, nil
	}
	if event.Data == nil {
		return nil, fmt.Errorf("%w: missing data for %s", ErrMalformedEvent, event.Type)
	}

	obj, err := decodeSettlementObject(out.Type, event.Data.Raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	out.InvoiceNumber = obj.metadata[domain.InvoiceNumberMetadataKey]
	out.AmountCents = obj.amount
	out.CustomerID = obj.customerID
	out.Reference = obj.id
	return out, nil
}

func decodeSettlementObject(eventType string, raw json.RawMessage) (*settlementObject, error) {
	switch eventType {
	case domain.EventPaymentIntentSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return nil, err
		}
		amount := pi.AmountReceived
		if amount == 0 {
			amount = pi.Amount
		}
		return &settlementObject{id: pi.ID, amount: amount, customerID: customerID(pi.Customer), metadata: pi.Metadata}, nil

	case domain.EventInvoicePaid:
		var inv stripe.Invoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, err
		}
		return &settlementObject{id: inv.ID, amount: inv.AmountPaid, customerID: customerID(inv.Customer), metadata: inv.Metadata}, nil

	case domain.EventChargeSucceeded:
		var ch stripe.Charge
		if err := json.Unmarshal(raw, &ch); err != nil {
			return nil, err
		}
		amount := ch.AmountCaptured
		if amount == 0 {
			amount = ch.Amount
		}
		return &settlementObject{id: ch.ID, amount: amount, customerID: customerID(ch.Customer), metadata: ch.Metadata}, nil
	}
	return nil, fmt.Errorf("unsupported event type %s", eventType)
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}
