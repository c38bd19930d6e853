package billing

import (
	"context"

	"github.com/dukerupert/invoicer/internal/domain"
)

// EventVerifier authenticates a payment provider webhook delivery and decodes it.
type EventVerifier interface {
	// VerifyEvent checks signature against payload and returns the decoded event.
	// Any signature problem returns ErrInvalidWebhookSignature; nothing from the
	// payload is trusted before the check passes.
	VerifyEvent(payload []byte, signature string) (*domain.PaymentEvent, error)

	// DecodeEvent decodes a payload that passed VerifyEvent earlier, such as
	// one stored with a reconciliation issue.
	DecodeEvent(payload []byte) (*domain.PaymentEvent, error)
}

// PaymentProvider is the card processor capability set the billing backend uses.
type PaymentProvider interface {
	// CreateCustomer creates a customer record at the processor.
	CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error)

	// VerifyAmounts confirms the micro-deposit amounts, in cents, for the pending
	// bank account verification identified by ref.
	VerifyAmounts(ctx context.Context, ref string, amounts []int64) error
}

// BankLinker exchanges a bank aggregator link token for account access.
type BankLinker interface {
	// CreateLinkToken starts a link session for the customer. The returned
	// token opens the aggregator's link flow in the browser.
	CreateLinkToken(ctx context.Context, customerID string) (string, error)

	// LinkAccount exchanges publicToken and returns the first linked account.
	LinkAccount(ctx context.Context, publicToken string) (*domain.LinkedAccount, error)

	// CreateProcessorToken hands the linked account to the payment provider and
	// returns the provider's bank account token for it.
	CreateProcessorToken(ctx context.Context, accessToken, accountID string) (string, error)
}

// CreateCustomerParams contains parameters for creating a customer.
type CreateCustomerParams struct {
	Email    string
	Name     string
	Phone    string
	Metadata map[string]string

	// BankAccountToken, when set, attaches a bank account as the customer's
	// payment source.
	BankAccountToken string

	// IdempotencyKey makes retried creates return the same customer.
	IdempotencyKey string
}

// Customer represents a billing customer.
type Customer struct {
	ID    string
	Email string
	Name  string
}
