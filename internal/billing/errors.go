package billing

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/plaid/plaid-go/v20/plaid"
	"github.com/stripe/stripe-go/v82"
)

var (
	ErrInvalidWebhookSignature = errors.New("billing: invalid webhook signature")

	// ErrMalformedEvent: the signature was valid but the body could not be decoded.
	ErrMalformedEvent = errors.New("billing: malformed webhook event")

	// ErrVerificationFailed: the micro-deposit amounts were rejected.
	ErrVerificationFailed = errors.New("billing: bank account verification failed")

	ErrNoBankAccounts = errors.New("billing: no bank accounts on linked item")
)

// ProviderError is a failure reported by Stripe or Plaid, reduced to the
// fields worth logging.
type ProviderError struct {
	Provider  string // "stripe" or "plaid"
	Code      string
	Type      string
	Status    int
	RequestID string
	Message   string
	Err       error
}

func (e *ProviderError) Error() string {
	if e.Code == "" {
		return e.Provider + ": " + e.Message
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the same call later may succeed.
func (e *ProviderError) Temporary() bool {
	switch e.Code {
	case "rate_limit", "RATE_LIMIT_EXCEEDED", "INSTITUTION_DOWN", "INSTITUTION_NOT_RESPONDING":
		return true
	}
	return e.Status >= http.StatusInternalServerError || e.Status == http.StatusTooManyRequests
}

// Rejected reports a request the provider refused as invalid.
func (e *ProviderError) Rejected() bool {
	return e.Status == http.StatusBadRequest || e.Type == "INVALID_INPUT"
}

// stripeError converts Stripe SDK errors. Other errors pass through.
func stripeError(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return err
	}
	return &ProviderError{
		Provider:  "stripe",
		Code:      string(se.Code),
		Type:      string(se.Type),
		Status:    se.HTTPStatusCode,
		RequestID: se.RequestID,
		Message:   se.Msg,
		Err:       err,
	}
}

// plaidError converts Plaid API errors. Other errors pass through.
func plaidError(err error) error {
	pe, convErr := plaid.ToPlaidError(err)
	if convErr != nil || pe.ErrorCode == "" {
		return err
	}
	return &ProviderError{
		Provider: "plaid",
		Code:     pe.ErrorCode,
		Type:     string(pe.ErrorType),
		Message:  pe.ErrorMessage,
		Err:      err,
	}
}
