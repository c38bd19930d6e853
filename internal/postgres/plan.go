package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/invoicer/internal/domain"
)

const planColumns = `id, account_id, name, description, price::text, billing_cycle, features, created_at`

func scanPlan(row scanner) (*domain.Plan, error) {
	var (
		p        domain.Plan
		price    string
		cycle    string
		features []byte
	)

	if err := row.Scan(&p.ID, &p.AccountID, &p.Name, &p.Description, &price, &cycle, &features, &p.CreatedAt); err != nil {
		return nil, err
	}

	var err error
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("invalid stored price %q: %w", price, err)
	}
	p.Cycle = domain.BillingCycle(cycle)
	if err := json.Unmarshal(features, &p.Features); err != nil {
		return nil, fmt.Errorf("invalid stored features for plan %s: %w", p.ID, err)
	}
	return &p, nil
}

// GetPlan returns the plan with id.
func (s *Store) GetPlan(ctx context.Context, id string) (*domain.Plan, error) {
	p, err := scanPlan(s.pool.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan %s: %w", id, err)
	}
	return p, nil
}

// ListPlans returns the plans of an account ordered by name.
func (s *Store) ListPlans(ctx context.Context, accountID string) ([]domain.Plan, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+planColumns+` FROM plans WHERE account_id = $1 ORDER BY name`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	var plans []domain.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, *p)
	}
	return plans, rows.Err()
}

func (t *tx) CreatePlan(ctx context.Context, p *domain.Plan) error {
	features := p.Features
	if features == nil {
		features = []string{}
	}
	encoded, err := json.Marshal(features)
	if err != nil {
		return fmt.Errorf("failed to encode features for plan %s: %w", p.ID, err)
	}

	_, err = t.q.Exec(ctx,
		`INSERT INTO plans (id, account_id, name, description, price, billing_cycle, features, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7::jsonb, $8)`,
		p.ID, p.AccountID, p.Name, p.Description, p.Price.StringFixed(2), string(p.Cycle),
		string(encoded), p.CreatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrDuplicatePlan
	}
	if err != nil {
		return fmt.Errorf("failed to insert plan %s: %w", p.ID, err)
	}
	return nil
}
