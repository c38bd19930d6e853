package billing

import (
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
)

const (
	defaultStripeRetries = 3
	defaultStripeTimeout = 30 * time.Second
)

// StripeConfig configures the card-processor adapter. Zero values fall back
// to the defaults applied by withDefaults.
type StripeConfig struct {
	APIKey        string // sk_test_... or sk_live_...
	WebhookSecret string // whsec_..., verifies Stripe-Signature

	// WebhookTolerance is the maximum age of a signed delivery.
	WebhookTolerance time.Duration

	MaxRetries int
	Timeout    time.Duration

	// BaseURL overrides the Stripe API host (stripe-mock, tests).
	BaseURL string
}

// Validate checks that required configuration is present.
func (c *StripeConfig) Validate() error {
	if c.APIKey == "" {
		return errors.New("stripe: API key is required")
	}
	if c.WebhookSecret == "" {
		return errors.New("stripe: webhook secret is required")
	}
	if c.WebhookTolerance < 0 || c.Timeout < 0 || c.MaxRetries < 0 {
		return errors.New("stripe: tolerance, timeout and retries must not be negative")
	}
	return nil
}

// IsTestMode reports whether the key is a test-mode key.
func (c *StripeConfig) IsTestMode() bool {
	return strings.HasPrefix(c.APIKey, "sk_test_")
}

func (c StripeConfig) withDefaults() StripeConfig {
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultStripeRetries
	}
	if c.Timeout == 0 {
		c.Timeout = defaultStripeTimeout
	}
	if c.WebhookTolerance == 0 {
		c.WebhookTolerance = webhook.DefaultTolerance
	}
	return c
}
