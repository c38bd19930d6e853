package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/invoicer/internal/domain"
	"github.com/dukerupert/invoicer/internal/handler"
	"github.com/dukerupert/invoicer/internal/service"
)

// InvoiceService is the lifecycle surface the invoice handlers need.
type InvoiceService interface {
	Issue(ctx context.Context, params domain.CreateInvoiceParams) (*domain.InvoiceView, error)
	Get(ctx context.Context, number string) (*domain.InvoiceView, error)
	List(ctx context.Context, params service.ListInvoicesParams) ([]domain.InvoiceView, error)
	MarkPaid(ctx context.Context, number, settlementRef string) (domain.Outcome, error)
	Cancel(ctx context.Context, number, reason string) (domain.Outcome, error)
}

// InvoiceHandler serves the invoice endpoints. Every request is scoped to the
// account in the request context.
type InvoiceHandler struct {
	invoices InvoiceService
	logger   *slog.Logger
}

// NewInvoiceHandler creates a new invoice handler
func NewInvoiceHandler(invoices InvoiceService, logger *slog.Logger) *InvoiceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &InvoiceHandler{
		invoices: invoices,
		logger:   logger,
	}
}

type issueInvoiceRequest struct {
	Number      string          `json:"number"`
	CustomerID  string          `json:"customer_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	IssuedAt    *time.Time      `json:"issued_at"`
	DueAt       time.Time       `json:"due_at"`

	BillingMethod domain.BillingMethod `json:"billing_method"`
}

type markPaidRequest struct {
	SettlementRef string `json:"settlement_ref"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type invoiceResponse struct {
	Number         string               `json:"number"`
	AccountID      string               `json:"account_id"`
	CustomerID     string               `json:"customer_id"`
	Amount         string               `json:"amount"`
	Description    string               `json:"description,omitempty"`
	BillingMethod  domain.BillingMethod `json:"billing_method"`
	Status         domain.Status        `json:"status"`
	State          domain.State         `json:"state"`
	Overdue        bool                 `json:"overdue"`
	IssuedAt       time.Time            `json:"issued_at"`
	DueAt          time.Time            `json:"due_at"`
	SettlementRef  string               `json:"settlement_ref,omitempty"`
	PaidAt         *time.Time           `json:"paid_at,omitempty"`
	CancelledAt    *time.Time           `json:"cancelled_at,omitempty"`
	CancelReason   string               `json:"cancel_reason,omitempty"`
	ReminderCount  int                  `json:"reminder_count"`
	LastReminderAt *time.Time           `json:"last_reminder_at,omitempty"`
}

type transitionResponse struct {
	Outcome domain.Outcome  `json:"outcome"`
	Invoice invoiceResponse `json:"invoice"`
}

func newInvoiceResponse(v *domain.InvoiceView) invoiceResponse {
	return invoiceResponse{
		Number:         v.Number,
		AccountID:      v.AccountID,
		CustomerID:     v.CustomerID,
		Amount:         v.Amount.StringFixed(2),
		Description:    v.Description,
		BillingMethod:  v.BillingMethod,
		Status:         v.Status,
		State:          v.State,
		Overdue:        v.Overdue,
		IssuedAt:       v.IssuedAt,
		DueAt:          v.DueAt,
		SettlementRef:  v.SettlementRef,
		PaidAt:         v.PaidAt,
		CancelledAt:    v.CancelledAt,
		CancelReason:   v.CancelReason,
		ReminderCount:  v.ReminderCount,
		LastReminderAt: v.LastReminderAt,
	}
}

// Issue handles POST /invoices
func (h *InvoiceHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req issueInvoiceRequest
	if err := handler.DecodeJSON(r, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	params := domain.CreateInvoiceParams{
		Number:      req.Number,
		AccountID:   domain.AccountIDFromContext(r.Context()),
		CustomerID:  req.CustomerID,
		Amount:      req.Amount,
		Description: req.Description,
		DueAt:       req.DueAt,

		BillingMethod: req.BillingMethod,
	}
	if req.IssuedAt != nil {
		params.IssuedAt = *req.IssuedAt
	}

	view, err := h.invoices.Issue(r.Context(), params)
	if err != nil {
		handler.Fail(w, r, err)
		return
	}

	handler.WriteJSON(w, http.StatusCreated, newInvoiceResponse(view))
}

// Get handles GET /invoices/{number}
func (h *InvoiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.owned(r)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, newInvoiceResponse(view))
}

// List handles GET /invoices?customer_id=&state=&billing_method=&limit=&offset=
func (h *InvoiceHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := intParam(q.Get("limit"), 50)
	if err != nil {
		handler.ValidationErrorResponse(w, r, domain.NewValidationError("invoice.list", "limit", "must be a number"))
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		handler.ValidationErrorResponse(w, r, domain.NewValidationError("invoice.list", "offset", "must be a number"))
		return
	}

	views, err := h.invoices.List(r.Context(), service.ListInvoicesParams{
		AccountID:  domain.AccountIDFromContext(r.Context()),
		CustomerID: q.Get("customer_id"),
		State:      domain.State(q.Get("state")),
		Limit:      limit,
		Offset:     offset,

		BillingMethod: domain.BillingMethod(q.Get("billing_method")),
	})
	if err != nil {
		handler.Fail(w, r, err)
		return
	}

	out := make([]invoiceResponse, 0, len(views))
	for i := range views {
		out = append(out, newInvoiceResponse(&views[i]))
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{"invoices": out})
}

// MarkPaid handles POST /invoices/{number}/pay for settlements recorded by hand.
func (h *InvoiceHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	var req markPaidRequest
	if err := handler.DecodeJSON(r, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	if req.SettlementRef == "" {
		handler.ValidationErrorResponse(w, r, domain.NewValidationError("invoice.mark_paid", "settlement_ref", "is required"))
		return
	}

	h.transition(w, r, func(number string) (domain.Outcome, error) {
		return h.invoices.MarkPaid(r.Context(), number, req.SettlementRef)
	})
}

// Cancel handles POST /invoices/{number}/cancel
func (h *InvoiceHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	h.transition(w, r, func(number string) (domain.Outcome, error) {
		return h.invoices.Cancel(r.Context(), number, req.Reason)
	})
}

func (h *InvoiceHandler) transition(w http.ResponseWriter, r *http.Request, apply func(number string) (domain.Outcome, error)) {
	view, err := h.owned(r)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	outcome, err := apply(view.Number)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	view, err = h.invoices.Get(r.Context(), view.Number)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.WriteJSON(w, http.StatusOK, transitionResponse{
		Outcome: outcome,
		Invoice: newInvoiceResponse(view),
	})
}

// owned loads the invoice named in the path. Invoices of other accounts are
// reported as missing.
func (h *InvoiceHandler) owned(r *http.Request) (*domain.InvoiceView, error) {
	number := r.PathValue("number")
	view, err := h.invoices.Get(r.Context(), number)
	if err != nil {
		return nil, err
	}
	if view.AccountID != domain.AccountIDFromContext(r.Context()) {
		return nil, domain.ErrInvoiceNotFound
	}
	return view, nil
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

// decodeOptionalJSON is DecodeJSON for endpoints whose body may be omitted.
func decodeOptionalJSON(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return nil
	}
	return handler.DecodeJSON(r, v)
}
