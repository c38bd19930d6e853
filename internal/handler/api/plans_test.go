package api

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/invoicer/internal/domain"
	"github.com/dukerupert/invoicer/internal/middleware"
)

// mockPlanService implements PlanService for testing
type mockPlanService struct {
	plans      map[string]*domain.Plan
	createFunc func(ctx context.Context, params domain.CreatePlanParams) (*domain.Plan, error)
}

func (m *mockPlanService) Create(ctx context.Context, params domain.CreatePlanParams) (*domain.Plan, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, params)
	}
	return nil, errors.New("not implemented")
}

func (m *mockPlanService) Get(ctx context.Context, id string) (*domain.Plan, error) {
	p, ok := m.plans[id]
	if !ok {
		return nil, domain.ErrPlanNotFound
	}
	return p, nil
}

func (m *mockPlanService) List(ctx context.Context, accountID string) ([]domain.Plan, error) {
	var out []domain.Plan
	for _, p := range m.plans {
		if p.AccountID == accountID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func newPlanMux(plans PlanService) http.Handler {
	ph := NewPlanHandler(plans, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /plans", ph.Create)
	mux.HandleFunc("GET /plans", ph.List)
	mux.HandleFunc("GET /plans/{id}", ph.Get)
	return middleware.RequireAccount(mux)
}

func TestPlanHandler_Create(t *testing.T) {
	var got domain.CreatePlanParams
	plans := &mockPlanService{
		createFunc: func(ctx context.Context, params domain.CreatePlanParams) (*domain.Plan, error) {
			got = params
			if params.Cycle != domain.CycleMonthly {
				return nil, domain.NewValidationError("plan.create", "billing_cycle", "must be one of monthly, quarterly, yearly")
			}
			return &domain.Plan{
				ID:        "plan-1",
				AccountID: params.AccountID,
				Name:      params.Name,
				Price:     params.Price,
				Cycle:     params.Cycle,
				CreatedAt: testNow,
			}, nil
		},
	}
	h := newPlanMux(plans)

	rr := do(t, h, http.MethodPost, "/plans", "acct-1",
		`{"name":"Pro","price":"49","billing_cycle":"monthly"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "acct-1", got.AccountID)

	body := decode(t, rr)
	assert.Equal(t, "plan-1", body["id"])
	assert.Equal(t, "49.00", body["price"])
	assert.Equal(t, "monthly", body["billing_cycle"])
	assert.Equal(t, []any{}, body["features"])

	rr = do(t, h, http.MethodPost, "/plans", "acct-1",
		`{"name":"Pro","price":"49","billing_cycle":"weekly"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "billing_cycle")
}

func TestPlanHandler_ScopedToAccount(t *testing.T) {
	plans := &mockPlanService{plans: map[string]*domain.Plan{
		"plan-1": {ID: "plan-1", AccountID: "acct-1", Name: "Pro", Cycle: domain.CycleMonthly},
		"plan-2": {ID: "plan-2", AccountID: "acct-2", Name: "Team", Cycle: domain.CycleYearly},
	}}
	h := newPlanMux(plans)

	rr := do(t, h, http.MethodGet, "/plans/plan-1", "acct-1", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodGet, "/plans/plan-2", "acct-1", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodGet, "/plans", "acct-1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode(t, rr)["plans"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "plan-1", list[0].(map[string]any)["id"])
}
