package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/invoicer/internal/domain"
	"github.com/dukerupert/invoicer/internal/handler"
)

// CustomerService is the customer surface the customer handlers need.
type CustomerService interface {
	Create(ctx context.Context, params domain.CreateCustomerParams) (*domain.Customer, error)
	Get(ctx context.Context, id string) (*domain.Customer, error)
	Deactivate(ctx context.Context, id, reason string) (int, error)
	CreateLinkToken(ctx context.Context, id string) (string, error)
	LinkBankAccount(ctx context.Context, id, publicToken, verificationRef string) (*domain.Customer, error)
	VerifyBankAccount(ctx context.Context, id string, amounts []int64) (*domain.Customer, error)
	EnsureProviderCustomer(ctx context.Context, id string) (*domain.Customer, error)
}

// CustomerHandler serves the customer endpoints.
type CustomerHandler struct {
	customers CustomerService
	logger    *slog.Logger
}

// NewCustomerHandler creates a new customer handler
func NewCustomerHandler(customers CustomerService, logger *slog.Logger) *CustomerHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CustomerHandler{
		customers: customers,
		logger:    logger,
	}
}

type createCustomerRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type deactivateRequest struct {
	Reason string `json:"reason"`
}

type bankLinkRequest struct {
	PublicToken     string `json:"public_token"`
	VerificationRef string `json:"verification_ref"`
}

type verifyBankRequest struct {
	Amounts []int64 `json:"amounts"`
}

type bankLinkResponse struct {
	AccountID  string     `json:"account_id"`
	Mask       string     `json:"mask"`
	Name       string     `json:"name"`
	Verified   bool       `json:"verified"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

type customerResponse struct {
	ID                 string            `json:"id"`
	AccountID          string            `json:"account_id"`
	Name               string            `json:"name"`
	Email              string            `json:"email"`
	Phone              string            `json:"phone,omitempty"`
	Address            string            `json:"address,omitempty"`
	Active             bool              `json:"active"`
	BankLink           *bankLinkResponse `json:"bank_link,omitempty"`
	ProviderCustomerID string            `json:"provider_customer_id,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
}

// newCustomerResponse never includes the sealed bank token.
func newCustomerResponse(c *domain.Customer) customerResponse {
	out := customerResponse{
		ID:                 c.ID,
		AccountID:          c.AccountID,
		Name:               c.Name,
		Email:              c.Email,
		Phone:              c.Phone,
		Address:            c.Address,
		Active:             c.Active,
		ProviderCustomerID: c.ProviderCustomerID,
		CreatedAt:          c.CreatedAt,
	}
	if c.BankLink != nil {
		out.BankLink = &bankLinkResponse{
			AccountID:  c.BankLink.AccountID,
			Mask:       c.BankLink.Mask,
			Name:       c.BankLink.Name,
			Verified:   c.BankLink.Verified,
			VerifiedAt: c.BankLink.VerifiedAt,
		}
	}
	return out
}

// Create handles POST /customers
func (h *CustomerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createCustomerRequest
	if err := handler.DecodeJSON(r, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	c, err := h.customers.Create(r.Context(), domain.CreateCustomerParams{
		AccountID: domain.AccountIDFromContext(r.Context()),
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		Address:   req.Address,
	})
	if err != nil {
		handler.Fail(w, r, err)
		return
	}

	handler.WriteJSON(w, http.StatusCreated, newCustomerResponse(c))
}

// Get handles GET /customers/{id}
func (h *CustomerHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.owned(r)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, newCustomerResponse(c))
}

// Deactivate handles POST /customers/{id}/deactivate
func (h *CustomerHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	var req deactivateRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	c, err := h.owned(r)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	cancelled, err := h.customers.Deactivate(r.Context(), c.ID, req.Reason)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.WriteJSON(w, http.StatusOK, map[string]any{
		"customer_id":        c.ID,
		"active":             false,
		"invoices_cancelled": cancelled,
	})
}

// LinkToken handles POST /customers/{id}/bank-link/token
func (h *CustomerHandler) LinkToken(w http.ResponseWriter, r *http.Request) {
	c, err := h.owned(r)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	token, err := h.customers.CreateLinkToken(r.Context(), c.ID)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]string{"link_token": token})
}

// LinkBank handles POST /customers/{id}/bank-link
func (h *CustomerHandler) LinkBank(w http.ResponseWriter, r *http.Request) {
	var req bankLinkRequest
	if err := handler.DecodeJSON(r, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	c, err := h.owned(r)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	c, err = h.customers.LinkBankAccount(r.Context(), c.ID, req.PublicToken, req.VerificationRef)
	if err != nil {
		handler.Fail(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, newCustomerResponse(c))
}

// VerifyBank handles POST /customers/{id}/bank-link/verify
func (h *CustomerHandler) VerifyBank(w http.ResponseWriter, r *http.Request) {
	var req verifyBankRequest
	if err := handler.DecodeJSON(r, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	c, err := h.owned(r)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	c, err = h.customers.VerifyBankAccount(r.Context(), c.ID, req.Amounts)
	if err != nil {
		handler.Fail(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, newCustomerResponse(c))
}

// EnsureProviderCustomer handles POST /customers/{id}/provider-customer
func (h *CustomerHandler) EnsureProviderCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := h.owned(r)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	c, err = h.customers.EnsureProviderCustomer(r.Context(), c.ID)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, newCustomerResponse(c))
}

// owned loads the customer named in the path. Customers of other accounts are
// reported as missing.
func (h *CustomerHandler) owned(r *http.Request) (*domain.Customer, error) {
	c, err := h.customers.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		return nil, err
	}
	if c.AccountID != domain.AccountIDFromContext(r.Context()) {
		return nil, domain.ErrCustomerNotFound
	}
	return c, nil
}
