package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/invoicer/internal/domain"
	"github.com/dukerupert/invoicer/internal/middleware"
	"github.com/dukerupert/invoicer/internal/service"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// mockInvoiceService implements InvoiceService for testing
type mockInvoiceService struct {
	issueFunc    func(ctx context.Context, params domain.CreateInvoiceParams) (*domain.InvoiceView, error)
	getFunc      func(ctx context.Context, number string) (*domain.InvoiceView, error)
	listFunc     func(ctx context.Context, params service.ListInvoicesParams) ([]domain.InvoiceView, error)
	markPaidFunc func(ctx context.Context, number, settlementRef string) (domain.Outcome, error)
	cancelFunc   func(ctx context.Context, number, reason string) (domain.Outcome, error)
}

func (m *mockInvoiceService) Issue(ctx context.Context, params domain.CreateInvoiceParams) (*domain.InvoiceView, error) {
	if m.issueFunc != nil {
		return m.issueFunc(ctx, params)
	}
	return nil, errors.New("not implemented")
}

func (m *mockInvoiceService) Get(ctx context.Context, number string) (*domain.InvoiceView, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, number)
	}
	return nil, errors.New("not implemented")
}

func (m *mockInvoiceService) List(ctx context.Context, params service.ListInvoicesParams) ([]domain.InvoiceView, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, params)
	}
	return nil, errors.New("not implemented")
}

func (m *mockInvoiceService) MarkPaid(ctx context.Context, number, settlementRef string) (domain.Outcome, error) {
	if m.markPaidFunc != nil {
		return m.markPaidFunc(ctx, number, settlementRef)
	}
	return "", errors.New("not implemented")
}

func (m *mockInvoiceService) Cancel(ctx context.Context, number, reason string) (domain.Outcome, error) {
	if m.cancelFunc != nil {
		return m.cancelFunc(ctx, number, reason)
	}
	return "", errors.New("not implemented")
}

// mockCustomerService implements CustomerService for testing
type mockCustomerService struct {
	customers      map[string]*domain.Customer
	deactivateFunc func(ctx context.Context, id, reason string) (int, error)
	linkTokenFunc  func(ctx context.Context, id string) (string, error)
	linkFunc       func(ctx context.Context, id, publicToken, verificationRef string) (*domain.Customer, error)
	verifyFunc     func(ctx context.Context, id string, amounts []int64) (*domain.Customer, error)
}

func (m *mockCustomerService) Create(ctx context.Context, params domain.CreateCustomerParams) (*domain.Customer, error) {
	if params.Name == "" {
		return nil, domain.NewValidationError("customer.create", "name", "is required")
	}
	c := &domain.Customer{ID: "cust-new", AccountID: params.AccountID, Name: params.Name, Email: params.Email, Active: true}
	m.customers[c.ID] = c
	return c, nil
}

func (m *mockCustomerService) Get(ctx context.Context, id string) (*domain.Customer, error) {
	c, ok := m.customers[id]
	if !ok {
		return nil, domain.ErrCustomerNotFound
	}
	return c, nil
}

func (m *mockCustomerService) Deactivate(ctx context.Context, id, reason string) (int, error) {
	if m.deactivateFunc != nil {
		return m.deactivateFunc(ctx, id, reason)
	}
	return 0, errors.New("not implemented")
}

func (m *mockCustomerService) CreateLinkToken(ctx context.Context, id string) (string, error) {
	if m.linkTokenFunc != nil {
		return m.linkTokenFunc(ctx, id)
	}
	return "", errors.New("not implemented")
}

func (m *mockCustomerService) LinkBankAccount(ctx context.Context, id, publicToken, verificationRef string) (*domain.Customer, error) {
	if m.linkFunc != nil {
		return m.linkFunc(ctx, id, publicToken, verificationRef)
	}
	return nil, errors.New("not implemented")
}

func (m *mockCustomerService) VerifyBankAccount(ctx context.Context, id string, amounts []int64) (*domain.Customer, error) {
	if m.verifyFunc != nil {
		return m.verifyFunc(ctx, id, amounts)
	}
	return nil, errors.New("not implemented")
}

func (m *mockCustomerService) EnsureProviderCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return nil, errors.New("not implemented")
}

// mockIssueService implements IssueService for testing
type mockIssueService struct {
	listFunc    func(ctx context.Context, filter domain.IssueFilter) ([]domain.ReconciliationIssue, error)
	resolveFunc func(ctx context.Context, id string) error
	replayFunc  func(ctx context.Context, id string) (*domain.ReconcileResult, error)
}

func (m *mockIssueService) ListIssues(ctx context.Context, filter domain.IssueFilter) ([]domain.ReconciliationIssue, error) {
	return m.listFunc(ctx, filter)
}

func (m *mockIssueService) ResolveIssue(ctx context.Context, id string) error {
	return m.resolveFunc(ctx, id)
}

func (m *mockIssueService) Replay(ctx context.Context, id string) (*domain.ReconcileResult, error) {
	return m.replayFunc(ctx, id)
}

func newTestMux(invoices InvoiceService, customers CustomerService, issues IssueService) http.Handler {
	ih := NewInvoiceHandler(invoices, nil)
	ch := NewCustomerHandler(customers, nil)
	rh := NewIssueHandler(issues, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /invoices", ih.Issue)
	mux.HandleFunc("GET /invoices", ih.List)
	mux.HandleFunc("GET /invoices/{number}", ih.Get)
	mux.HandleFunc("POST /invoices/{number}/pay", ih.MarkPaid)
	mux.HandleFunc("POST /invoices/{number}/cancel", ih.Cancel)
	mux.HandleFunc("POST /customers", ch.Create)
	mux.HandleFunc("GET /customers/{id}", ch.Get)
	mux.HandleFunc("POST /customers/{id}/deactivate", ch.Deactivate)
	mux.HandleFunc("POST /customers/{id}/bank-link/token", ch.LinkToken)
	mux.HandleFunc("POST /customers/{id}/bank-link", ch.LinkBank)
	mux.HandleFunc("POST /customers/{id}/bank-link/verify", ch.VerifyBank)
	mux.HandleFunc("GET /reconciliation/issues", rh.List)
	mux.HandleFunc("POST /reconciliation/issues/{id}/resolve", rh.Resolve)
	mux.HandleFunc("POST /reconciliation/issues/{id}/replay", rh.Replay)
	return middleware.RequireAccount(mux)
}

func do(t *testing.T, h http.Handler, method, path, account, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if account != "" {
		req.Header.Set(middleware.AccountIDHeader, account)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func pendingView(number, accountID string) *domain.InvoiceView {
	v := domain.NewInvoiceView(domain.Invoice{
		Number:     number,
		AccountID:  accountID,
		CustomerID: "cust-1",
		Amount:     decimal.RequireFromString("250.00"),
		Status:     domain.StatusPending,
		IssuedAt:   testNow.AddDate(0, 0, -40),
		DueAt:      testNow.AddDate(0, 0, -10),
	}, testNow)
	return &v
}

func TestInvoiceHandler_Issue(t *testing.T) {
	var got domain.CreateInvoiceParams
	invoices := &mockInvoiceService{
		issueFunc: func(ctx context.Context, params domain.CreateInvoiceParams) (*domain.InvoiceView, error) {
			got = params
			return pendingView("INV-1", params.AccountID), nil
		},
	}
	h := newTestMux(invoices, nil, nil)

	rr := do(t, h, http.MethodPost, "/invoices", "acct-1",
		`{"customer_id":"cust-1","amount":"250.00","due_at":"2026-03-31T00:00:00Z","billing_method":"usage-based"}`)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "acct-1", got.AccountID, "account comes from the request context")
	assert.Equal(t, domain.BillingUsageBased, got.BillingMethod)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("250")))
	assert.True(t, got.IssuedAt.IsZero())

	body := decode(t, rr)
	assert.Equal(t, "INV-1", body["number"])
	assert.Equal(t, "250.00", body["amount"])
	assert.Equal(t, "overdue", body["state"])
	assert.Equal(t, true, body["overdue"])
}

func TestInvoiceHandler_IssueRejectsUnknownFields(t *testing.T) {
	h := newTestMux(&mockInvoiceService{}, nil, nil)
	rr := do(t, h, http.MethodPost, "/invoices", "acct-1", `{"customer_id":"c","status":"paid"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestInvoiceHandler_RequiresAccount(t *testing.T) {
	h := newTestMux(&mockInvoiceService{}, nil, nil)
	rr := do(t, h, http.MethodGet, "/invoices/INV-1", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestInvoiceHandler_GetScopedToAccount(t *testing.T) {
	invoices := &mockInvoiceService{
		getFunc: func(ctx context.Context, number string) (*domain.InvoiceView, error) {
			return pendingView(number, "acct-1"), nil
		},
	}
	h := newTestMux(invoices, nil, nil)

	rr := do(t, h, http.MethodGet, "/invoices/INV-1", "acct-1", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodGet, "/invoices/INV-1", "acct-2", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestInvoiceHandler_List(t *testing.T) {
	var got service.ListInvoicesParams
	invoices := &mockInvoiceService{
		listFunc: func(ctx context.Context, params service.ListInvoicesParams) ([]domain.InvoiceView, error) {
			got = params
			return []domain.InvoiceView{*pendingView("INV-1", "acct-1")}, nil
		},
	}
	h := newTestMux(invoices, nil, nil)

	rr := do(t, h, http.MethodGet, "/invoices?state=overdue&customer_id=cust-1&billing_method=subscription&limit=10", "acct-1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, service.ListInvoicesParams{
		AccountID:     "acct-1",
		CustomerID:    "cust-1",
		State:         domain.StateOverdue,
		BillingMethod: domain.BillingSubscription,
		Limit:         10,
	}, got)
	assert.Len(t, decode(t, rr)["invoices"], 1)

	rr = do(t, h, http.MethodGet, "/invoices?limit=ten", "acct-1", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestInvoiceHandler_MarkPaid(t *testing.T) {
	paid := false
	invoices := &mockInvoiceService{
		getFunc: func(ctx context.Context, number string) (*domain.InvoiceView, error) {
			v := pendingView(number, "acct-1")
			if paid {
				v.Status = domain.StatusPaid
				v.State = domain.StatePaid
				v.Overdue = false
				v.SettlementRef = "chk-1001"
			}
			return v, nil
		},
		markPaidFunc: func(ctx context.Context, number, ref string) (domain.Outcome, error) {
			assert.Equal(t, "chk-1001", ref)
			paid = true
			return domain.OutcomeApplied, nil
		},
	}
	h := newTestMux(invoices, nil, nil)

	rr := do(t, h, http.MethodPost, "/invoices/INV-1/pay", "acct-1", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "settlement_ref is required")

	rr = do(t, h, http.MethodPost, "/invoices/INV-1/pay", "acct-1", `{"settlement_ref":"chk-1001"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decode(t, rr)
	assert.Equal(t, "applied", body["outcome"])
	assert.Equal(t, "paid", body["invoice"].(map[string]any)["status"])
}

func TestInvoiceHandler_Cancel(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		cancelErr      error
		outcome        domain.Outcome
		expectedStatus int
		expectedReason string
	}{
		{name: "no body", outcome: domain.OutcomeApplied, expectedStatus: http.StatusOK},
		{name: "with reason", body: `{"reason":"duplicate"}`, outcome: domain.OutcomeApplied, expectedStatus: http.StatusOK, expectedReason: "duplicate"},
		{name: "already cancelled", outcome: domain.OutcomeAlreadyApplied, expectedStatus: http.StatusOK},
		{
			name:           "paid invoice",
			cancelErr:      domain.InvalidTransition("invoice.cancel", "INV-1", domain.StatusPaid, domain.StatusCancelled),
			expectedStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reason string
			invoices := &mockInvoiceService{
				getFunc: func(ctx context.Context, number string) (*domain.InvoiceView, error) {
					return pendingView(number, "acct-1"), nil
				},
				cancelFunc: func(ctx context.Context, number, r string) (domain.Outcome, error) {
					reason = r
					return tt.outcome, tt.cancelErr
				},
			}
			h := newTestMux(invoices, nil, nil)

			rr := do(t, h, http.MethodPost, "/invoices/INV-1/cancel", "acct-1", tt.body)
			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, tt.expectedReason, reason)
		})
	}
}

func TestCustomerHandler_CreateAndGet(t *testing.T) {
	customers := &mockCustomerService{customers: map[string]*domain.Customer{}}
	h := newTestMux(nil, customers, nil)

	rr := do(t, h, http.MethodPost, "/customers", "acct-1", `{"name":"","email":"ap@harbor.test"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	fields := decode(t, rr)["error"].(map[string]any)["fields"].(map[string]any)
	assert.Equal(t, "is required", fields["name"])

	rr = do(t, h, http.MethodPost, "/customers", "acct-1", `{"name":"Harbor Roasters","email":"ap@harbor.test"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "acct-1", decode(t, rr)["account_id"])

	rr = do(t, h, http.MethodGet, "/customers/cust-new", "acct-2", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCustomerHandler_NeverExposesBankToken(t *testing.T) {
	customers := &mockCustomerService{customers: map[string]*domain.Customer{
		"cust-1": {
			ID:        "cust-1",
			AccountID: "acct-1",
			Name:      "Harbor Roasters",
			Active:    true,
			BankLink: &domain.BankLink{
				EncryptedToken:  "sealed-secret-token",
				AccountID:       "acc_1",
				Mask:            "0000",
				VerificationRef: "seti_1",
			},
		},
	}}
	h := newTestMux(nil, customers, nil)

	rr := do(t, h, http.MethodGet, "/customers/cust-1", "acct-1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "sealed-secret-token")
	assert.NotContains(t, rr.Body.String(), "seti_1")
	assert.Contains(t, rr.Body.String(), `"mask":"0000"`)
}

func TestCustomerHandler_Deactivate(t *testing.T) {
	var gotReason string
	customers := &mockCustomerService{
		customers: map[string]*domain.Customer{
			"cust-1": {ID: "cust-1", AccountID: "acct-1", Active: true},
		},
		deactivateFunc: func(ctx context.Context, id, reason string) (int, error) {
			gotReason = reason
			return 3, nil
		},
	}
	h := newTestMux(nil, customers, nil)

	rr := do(t, h, http.MethodPost, "/customers/cust-1/deactivate", "acct-2", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodPost, "/customers/cust-1/deactivate", "acct-1", `{"reason":"closed"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "closed", gotReason)
	assert.EqualValues(t, 3, decode(t, rr)["invoices_cancelled"])

	customers.deactivateFunc = func(ctx context.Context, id, reason string) (int, error) {
		return 0, domain.CascadeFailure("customer.deactivate", id, errors.New("disk full"))
	}
	rr = do(t, h, http.MethodPost, "/customers/cust-1/deactivate", "acct-1", "")
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestCustomerHandler_BankLink(t *testing.T) {
	customers := &mockCustomerService{
		customers: map[string]*domain.Customer{
			"cust-1": {ID: "cust-1", AccountID: "acct-1", Active: true},
		},
		linkFunc: func(ctx context.Context, id, publicToken, ref string) (*domain.Customer, error) {
			assert.Equal(t, "public-sandbox-1", publicToken)
			assert.Equal(t, "seti_1", ref)
			return &domain.Customer{ID: id, AccountID: "acct-1", Active: true, BankLink: &domain.BankLink{Mask: "6789"}}, nil
		},
		verifyFunc: func(ctx context.Context, id string, amounts []int64) (*domain.Customer, error) {
			return nil, domain.ErrBankLinkAlreadyValid
		},
	}
	h := newTestMux(nil, customers, nil)

	rr := do(t, h, http.MethodPost, "/customers/cust-1/bank-link", "acct-1", `{"public_token":"public-sandbox-1","verification_ref":"seti_1"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, decode(t, rr)["bank_link"].(map[string]any)["verified"])

	rr = do(t, h, http.MethodPost, "/customers/cust-1/bank-link/verify", "acct-1", `{"amounts":[32,45]}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestCustomerHandler_LinkToken(t *testing.T) {
	customers := &mockCustomerService{
		customers: map[string]*domain.Customer{
			"cust-1": {ID: "cust-1", AccountID: "acct-1", Active: true},
		},
		linkTokenFunc: func(ctx context.Context, id string) (string, error) {
			return "link-sandbox-" + id, nil
		},
	}
	h := newTestMux(nil, customers, nil)

	rr := do(t, h, http.MethodPost, "/customers/cust-1/bank-link/token", "acct-2", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodPost, "/customers/cust-1/bank-link/token", "acct-1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "link-sandbox-cust-1", decode(t, rr)["link_token"])

	customers.linkTokenFunc = func(ctx context.Context, id string) (string, error) {
		return "", domain.ErrCustomerInactive
	}
	rr = do(t, h, http.MethodPost, "/customers/cust-1/bank-link/token", "acct-1", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestIssueHandler(t *testing.T) {
	var filter domain.IssueFilter
	issues := &mockIssueService{
		listFunc: func(ctx context.Context, f domain.IssueFilter) ([]domain.ReconciliationIssue, error) {
			filter = f
			return nil, nil
		},
		resolveFunc: func(ctx context.Context, id string) error {
			if id == "missing" {
				return domain.NotFound("issue.resolve", "reconciliation issue", id)
			}
			return nil
		},
		replayFunc: func(ctx context.Context, id string) (*domain.ReconcileResult, error) {
			result := &domain.ReconcileResult{EventID: "evt_" + id, InvoiceNumber: "INV-9"}
			if id == "still-unknown" {
				return result, domain.ReconciliationFailure("settlement.apply", domain.IssueUnknownInvoice, "no invoice numbered INV-9")
			}
			result.Outcome = domain.OutcomeApplied
			return result, nil
		},
	}
	h := newTestMux(nil, nil, issues)

	rr := do(t, h, http.MethodGet, "/reconciliation/issues?include_resolved=true&limit=5", "acct-1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, domain.IssueFilter{IncludeResolved: true, Limit: 5}, filter)
	assert.Equal(t, []any{}, decode(t, rr)["issues"])

	rr = do(t, h, http.MethodGet, "/reconciliation/issues?include_resolved=maybe", "acct-1", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/reconciliation/issues/iss-1/resolve", "acct-1", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = do(t, h, http.MethodPost, "/reconciliation/issues/missing/resolve", "acct-1", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodPost, "/reconciliation/issues/iss-1/replay", "acct-1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "applied", decode(t, rr)["outcome"])

	rr = do(t, h, http.MethodPost, "/reconciliation/issues/still-unknown/replay", "acct-1", "")
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, "needs_review", decode(t, rr)["status"])
}
