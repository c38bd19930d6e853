package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/invoicer/internal/domain"
)

const planColumns = `id, account_id, name, description, price, billing_cycle, features, created_at`

func scanPlan(row scanner) (*domain.Plan, error) {
	var (
		p                                 domain.Plan
		price, cycle, features, createdAt string
	)

	if err := row.Scan(&p.ID, &p.AccountID, &p.Name, &p.Description, &price, &cycle, &features, &createdAt); err != nil {
		return nil, err
	}

	var err error
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("invalid stored price %q: %w", price, err)
	}
	p.Cycle = domain.BillingCycle(cycle)
	if err := json.Unmarshal([]byte(features), &p.Features); err != nil {
		return nil, fmt.Errorf("invalid stored features for plan %s: %w", p.ID, err)
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPlan returns the plan with id.
func (s *Store) GetPlan(ctx context.Context, id string) (*domain.Plan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id = ?`, id)
	p, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan %s: %w", id, err)
	}
	return p, nil
}

// ListPlans returns the plans of an account ordered by name.
func (s *Store) ListPlans(ctx context.Context, accountID string) ([]domain.Plan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+planColumns+` FROM plans WHERE account_id = ? ORDER BY name`, accountID)
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

	_, err = t.q.ExecContext(ctx,
		`INSERT INTO plans (`+planColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.AccountID, p.Name, p.Description, p.Price.StringFixed(2), string(p.Cycle),
		string(encoded), formatTime(p.CreatedAt),
	)
	if isConstraint(err, sqlite3.ErrConstraintUnique) {
		return domain.ErrDuplicatePlan
	}
	if err != nil {
		return fmt.Errorf("failed to insert plan %s: %w", p.ID, err)
	}
	return nil
}
