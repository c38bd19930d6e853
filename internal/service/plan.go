package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dukerupert/invoicer/internal/domain"
)

// PlanService manages each account's catalog of subscription plans.
type PlanService struct {
	store    domain.Store
	logger   *slog.Logger
	clock    func() time.Time
	validate *validator.Validate
}

// NewPlanService creates a PlanService. clock defaults to time.Now.
func NewPlanService(store domain.Store, clock func() time.Time, logger *slog.Logger) *PlanService {
	if clock == nil {
		clock = time.Now
	}
	return &PlanService{
		store:    store,
		logger:   logger.With("service", "plans"),
		clock:    clock,
		validate: newValidator(),
	}
}

// Create adds a plan to the account's catalog. Plan names are unique per account.
func (s *PlanService) Create(ctx context.Context, params domain.CreatePlanParams) (*domain.Plan, error) {
	const op = "plan.create"

	params.Name = strings.TrimSpace(params.Name)
	if err := validateStruct(s.validate, op, params); err != nil {
		return nil, err
	}
	if params.Price.IsNegative() {
		return nil, domain.NewValidationError(op, "price", "must not be negative")
	}

	p := &domain.Plan{
		ID:          uuid.NewString(),
		AccountID:   params.AccountID,
		Name:        params.Name,
		Description: params.Description,
		Price:       params.Price.Round(2),
		Cycle:       params.Cycle,
		Features:    params.Features,
		CreatedAt:   s.clock(),
	}
	if p.Features == nil {
		p.Features = []string{}
	}

	err := s.store.InTx(ctx, func(tx domain.Tx) error {
		return tx.CreatePlan(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("plan created",
		"plan_id", p.ID,
		"account_id", p.AccountID,
		"price", p.Price.StringFixed(2),
		"billing_cycle", p.Cycle,
	)
	return p, nil
}

// Get returns the plan with id.
func (s *PlanService) Get(ctx context.Context, id string) (*domain.Plan, error) {
	return s.store.GetPlan(ctx, id)
}

// List returns the account's plans ordered by name.
func (s *PlanService) List(ctx context.Context, accountID string) ([]domain.Plan, error) {
	return s.store.ListPlans(ctx, accountID)
}
