package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/invoicer/internal/domain"
	"github.com/dukerupert/invoicer/internal/handler"
)

// IssueService is the reconciliation surface the issue handlers need.
type IssueService interface {
	ListIssues(ctx context.Context, filter domain.IssueFilter) ([]domain.ReconciliationIssue, error)
	ResolveIssue(ctx context.Context, id string) error
	Replay(ctx context.Context, id string) (*domain.ReconcileResult, error)
}

// IssueHandler serves the reconciliation review queue.
type IssueHandler struct {
	issues IssueService
	logger *slog.Logger
}

// NewIssueHandler creates a new issue handler
func NewIssueHandler(issues IssueService, logger *slog.Logger) *IssueHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IssueHandler{
		issues: issues,
		logger: logger,
	}
}

type reconcileResponse struct {
	Outcome       domain.Outcome `json:"outcome,omitempty"`
	EventID       string         `json:"event_id"`
	InvoiceNumber string         `json:"invoice_number,omitempty"`
	Ignored       bool           `json:"ignored,omitempty"`
	Status        string         `json:"status"`
}

// List handles GET /reconciliation/issues?include_resolved=&limit=
func (h *IssueHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := intParam(q.Get("limit"), 100)
	if err != nil {
		handler.ValidationErrorResponse(w, r, domain.NewValidationError("issue.list", "limit", "must be a number"))
		return
	}
	includeResolved := false
	if raw := q.Get("include_resolved"); raw != "" {
		includeResolved, err = strconv.ParseBool(raw)
		if err != nil {
			handler.ValidationErrorResponse(w, r, domain.NewValidationError("issue.list", "include_resolved", "must be true or false"))
			return
		}
	}

	issues, err := h.issues.ListIssues(r.Context(), domain.IssueFilter{
		IncludeResolved: includeResolved,
		Limit:           limit,
	})
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	if issues == nil {
		issues = []domain.ReconciliationIssue{}
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{"issues": issues})
}

// Resolve handles POST /reconciliation/issues/{id}/resolve
func (h *IssueHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.issues.ResolveIssue(r.Context(), id); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "resolved": true})
}

// Replay handles POST /reconciliation/issues/{id}/replay
func (h *IssueHandler) Replay(w http.ResponseWriter, r *http.Request) {
	result, err := h.issues.Replay(r.Context(), r.PathValue("id"))
	if errors.Is(err, domain.ErrReconciliation) {
		handler.WriteJSON(w, http.StatusAccepted, reconcileResponse{
			EventID: eventID(result),
			Status:  "needs_review",
		})
		return
	}
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, NewReconcileResponse(result))
}

// NewReconcileResponse renders the result of applying one payment event.
func NewReconcileResponse(result *domain.ReconcileResult) any {
	status := "ok"
	if result.Ignored {
		status = "ignored"
	}
	return reconcileResponse{
		Outcome:       result.Outcome,
		EventID:       result.EventID,
		InvoiceNumber: result.InvoiceNumber,
		Ignored:       result.Ignored,
		Status:        status,
	}
}

func eventID(result *domain.ReconcileResult) string {
	if result == nil {
		return ""
	}
	return result.EventID
}
