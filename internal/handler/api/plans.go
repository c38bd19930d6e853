package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/invoicer/internal/domain"
	"github.com/dukerupert/invoicer/internal/handler"
)

// PlanService is the catalog surface the plan handlers need.
type PlanService interface {
	Create(ctx context.Context, params domain.CreatePlanParams) (*domain.Plan, error)
	Get(ctx context.Context, id string) (*domain.Plan, error)
	List(ctx context.Context, accountID string) ([]domain.Plan, error)
}

// PlanHandler serves the subscription plan catalog.
type PlanHandler struct {
	plans  PlanService
	logger *slog.Logger
}

// NewPlanHandler creates a new plan handler
func NewPlanHandler(plans PlanService, logger *slog.Logger) *PlanHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlanHandler{
		plans:  plans,
		logger: logger,
	}
}

type createPlanRequest struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Price       decimal.Decimal     `json:"price"`
	Cycle       domain.BillingCycle `json:"billing_cycle"`
	Features    []string            `json:"features"`
}

type planResponse struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Price       string              `json:"price"`
	Cycle       domain.BillingCycle `json:"billing_cycle"`
	Features    []string            `json:"features"`
	CreatedAt   time.Time           `json:"created_at"`
}

func newPlanResponse(p *domain.Plan) planResponse {
	features := p.Features
	if features == nil {
		features = []string{}
	}
	return planResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price.StringFixed(2),
		Cycle:       p.Cycle,
		Features:    features,
		CreatedAt:   p.CreatedAt,
	}
}

// Create handles POST /plans
func (h *PlanHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createPlanRequest
	if err := handler.DecodeJSON(r, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	p, err := h.plans.Create(r.Context(), domain.CreatePlanParams{
		AccountID:   domain.AccountIDFromContext(r.Context()),
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Cycle:       req.Cycle,
		Features:    req.Features,
	})
	if err != nil {
		handler.Fail(w, r, err)
		return
	}

	handler.WriteJSON(w, http.StatusCreated, newPlanResponse(p))
}

// List handles GET /plans
func (h *PlanHandler) List(w http.ResponseWriter, r *http.Request) {
	plans, err := h.plans.List(r.Context(), domain.AccountIDFromContext(r.Context()))
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	out := make([]planResponse, 0, len(plans))
	for i := range plans {
		out = append(out, newPlanResponse(&plans[i]))
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{"plans": out})
}

// Get handles GET /plans/{id}. Plans of other accounts are reported as missing.
func (h *PlanHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.plans.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	if p.AccountID != domain.AccountIDFromContext(r.Context()) {
		handler.ErrorResponse(w, r, domain.ErrPlanNotFound)
		return
	}
	handler.WriteJSON(w, http.StatusOK, newPlanResponse(p))
}
