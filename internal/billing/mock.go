package billing

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/dukerupert/invoicer/internal/domain"
)

// MockProvider is a mock billing provider for testing. It implements
// PaymentProvider, EventVerifier and BankLinker without calling any API.
type MockProvider struct {
	// CreateCustomerFunc allows customizing customer creation behavior
	CreateCustomerFunc func(ctx context.Context, params CreateCustomerParams) (*Customer, error)

	// VerifyAmountsFunc allows customizing micro-deposit verification behavior
	VerifyAmountsFunc func(ctx context.Context, ref string, amounts []int64) error

	// VerifyEventFunc allows customizing webhook verification behavior
	VerifyEventFunc func(payload []byte, signature string) (*domain.PaymentEvent, error)

	// DecodeEventFunc allows customizing stored event decoding
	DecodeEventFunc func(payload []byte) (*domain.PaymentEvent, error)

	// CreateLinkTokenFunc allows customizing link token creation
	CreateLinkTokenFunc func(ctx context.Context, customerID string) (string, error)

	// LinkAccountFunc allows customizing bank linking behavior
	LinkAccountFunc func(ctx context.Context, publicToken string) (*domain.LinkedAccount, error)

	// CreateProcessorTokenFunc allows customizing processor token creation
	CreateProcessorTokenFunc func(ctx context.Context, accessToken, accountID string) (string, error)

	// Customers stores created customers for retrieval
	Customers map[string]*Customer

	mu sync.Mutex
	// CallLog tracks method calls for test assertions
	CallLog []string
}

var (
	_ PaymentProvider = (*MockProvider)(nil)
	_ EventVerifier   = (*MockProvider)(nil)
	_ BankLinker      = (*MockProvider)(nil)
)

// NewMockProvider creates a new mock billing provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Customers: make(map[string]*Customer),
		CallLog:   []string{},
	}
}

func (m *MockProvider) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallLog = append(m.CallLog, call)
}

// Calls returns a copy of the call log.
func (m *MockProvider) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.CallLog...)
}

// CreateCustomer creates a mock customer.
func (m *MockProvider) CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error) {
	m.record("CreateCustomer")

	if m.CreateCustomerFunc != nil {
		return m.CreateCustomerFunc(ctx, params)
	}

	c := &Customer{
		ID:    fmt.Sprintf("cus_mock_%s", uuid.New().String()[:8]),
		Email: params.Email,
		Name:  params.Name,
	}
	m.mu.Lock()
	m.Customers[c.ID] = c
	m.mu.Unlock()
	return c, nil
}

// VerifyAmounts accepts any amounts unless VerifyAmountsFunc is set.
func (m *MockProvider) VerifyAmounts(ctx context.Context, ref string, amounts []int64) error {
	m.record("VerifyAmounts")

	if m.VerifyAmountsFunc != nil {
		return m.VerifyAmountsFunc(ctx, ref, amounts)
	}
	return nil
}

// VerifyEvent rejects every delivery unless VerifyEventFunc is set.
func (m *MockProvider) VerifyEvent(payload []byte, signature string) (*domain.PaymentEvent, error) {
	m.record("VerifyEvent")

	if m.VerifyEventFunc != nil {
		return m.VerifyEventFunc(payload, signature)
	}
	return nil, ErrInvalidWebhookSignature
}

// DecodeEvent fails unless DecodeEventFunc is set.
func (m *MockProvider) DecodeEvent(payload []byte) (*domain.PaymentEvent, error) {
	m.record("DecodeEvent")

	if m.DecodeEventFunc != nil {
		return m.DecodeEventFunc(payload)
	}
	return nil, ErrMalformedEvent
}

// CreateLinkToken returns a sandbox link token unless CreateLinkTokenFunc is set.
func (m *MockProvider) CreateLinkToken(ctx context.Context, customerID string) (string, error) {
	m.record("CreateLinkToken")

	if m.CreateLinkTokenFunc != nil {
		return m.CreateLinkTokenFunc(ctx, customerID)
	}
	return "link-sandbox-" + customerID, nil
}

// LinkAccount returns a fixed sandbox account unless LinkAccountFunc is set.
func (m *MockProvider) LinkAccount(ctx context.Context, publicToken string) (*domain.LinkedAccount, error) {
	m.record("LinkAccount")

	if m.LinkAccountFunc != nil {
		return m.LinkAccountFunc(ctx, publicToken)
	}
	return &domain.LinkedAccount{
		AccessToken: "access-sandbox-" + publicToken,
		AccountID:   "acc_mock",
		Mask:        "0000",
		Name:        "Plaid Checking",
	}, nil
}

// CreateProcessorToken returns a test bank account token unless
// CreateProcessorTokenFunc is set.
func (m *MockProvider) CreateProcessorToken(ctx context.Context, accessToken, accountID string) (string, error) {
	m.record("CreateProcessorToken")

	if m.CreateProcessorTokenFunc != nil {
		return m.CreateProcessorTokenFunc(ctx, accessToken, accountID)
	}
	return "btok_mock_" + accountID, nil
}
