package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dukerupert/invoicer/internal/domain"
)

const issueColumns = `id, event_id, invoice_number, reason, detail, payload, resolved, resolved_at, created_at`

func scanIssue(row scanner) (*domain.ReconciliationIssue, error) {
	var (
		issue   domain.ReconciliationIssue
		reason  string
		payload []byte
	)
	if err := row.Scan(&issue.ID, &issue.EventID, &issue.InvoiceNumber, &reason, &issue.Detail,
		&payload, &issue.Resolved, &issue.ResolvedAt, &issue.CreatedAt); err != nil {
		return nil, err
	}
	issue.Reason = domain.IssueReason(reason)
	issue.Payload = payload
	return &issue, nil
}

// GetIssue returns the reconciliation issue with id.
func (s *Store) GetIssue(ctx context.Context, id string) (*domain.ReconciliationIssue, error) {
	issue, err := scanIssue(s.pool.QueryRow(ctx,
		`SELECT `+issueColumns+` FROM reconciliation_issues WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("issue.get", "reconciliation issue", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issue %s: %w", id, err)
	}
	return issue, nil
}

// ListIssues returns reconciliation issues, oldest first.
func (s *Store) ListIssues(ctx context.Context, filter domain.IssueFilter) ([]domain.ReconciliationIssue, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+issueColumns+` FROM reconciliation_issues
		WHERE $1 OR NOT resolved
		ORDER BY created_at, id
		LIMIT $2`,
		filter.IncludeResolved, limitArg(filter.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	defer rows.Close()

	var issues []domain.ReconciliationIssue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issues = append(issues, *issue)
	}
	return issues, rows.Err()
}

// IsEventApplied reports whether eventID is in the applied set.
func (s *Store) IsEventApplied(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM applied_events WHERE event_id = $1)`, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to look up event %s: %w", eventID, err)
	}
	return exists, nil
}

// ListReminderLog returns every dispatch attempt for an invoice in order.
func (s *Store) ListReminderLog(ctx context.Context, number string) ([]domain.ReminderLogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, invoice_number, attempt, status, error, created_at
		FROM reminder_log WHERE invoice_number = $1 ORDER BY id`,
		number,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminder log: %w", err)
	}
	defer rows.Close()

	var entries []domain.ReminderLogEntry
	for rows.Next() {
		var (
			e      domain.ReminderLogEntry
			status string
		)
		if err := rows.Scan(&e.ID, &e.InvoiceNumber, &e.Attempt, &status, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reminder log: %w", err)
		}
		e.Status = domain.ReminderStatus(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (t *tx) AppendReminderLog(ctx context.Context, e domain.ReminderLogEntry) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO reminder_log (invoice_number, attempt, status, error, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		e.InvoiceNumber, e.Attempt, string(e.Status), e.Error, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append reminder log for %s: %w", e.InvoiceNumber, err)
	}
	return nil
}

// MarkEventApplied races concurrent deliveries of one event on the primary key;
// exactly one caller sees true.
func (t *tx) MarkEventApplied(ctx context.Context, eventID, invoiceNumber string, at time.Time) (bool, error) {
	tag, err := t.q.Exec(ctx,
		`INSERT INTO applied_events (event_id, invoice_number, applied_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING`,
		eventID, invoiceNumber, at,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark event %s applied: %w", eventID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *tx) RecordIssue(ctx context.Context, issue *domain.ReconciliationIssue) (bool, error) {
	if issue.ID == "" {
		issue.ID = uuid.NewString()
	}
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = time.Now()
	}

	tag, err := t.q.Exec(ctx,
		`INSERT INTO reconciliation_issues (id, event_id, invoice_number, reason, detail, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id, reason) DO NOTHING`,
		issue.ID, issue.EventID, issue.InvoiceNumber, string(issue.Reason), issue.Detail,
		[]byte(issue.Payload), issue.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record issue for event %s: %w", issue.EventID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *tx) ResolveIssue(ctx context.Context, id string, at time.Time) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE reconciliation_issues SET resolved = TRUE, resolved_at = $1 WHERE id = $2 AND NOT resolved`,
		at, id,
	)
	if err != nil {
		return fmt.Errorf("failed to resolve issue %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Conflict("issue.resolve", "reconciliation issue is already resolved or does not exist")
	}
	return nil
}
