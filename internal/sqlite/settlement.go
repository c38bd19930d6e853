package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/invoicer/internal/domain"
)

const issueColumns = `id, event_id, invoice_number, reason, detail, payload, resolved, resolved_at, created_at`

func scanIssue(row scanner) (*domain.ReconciliationIssue, error) {
	var (
		issue      domain.ReconciliationIssue
		reason     string
		payload    []byte
		resolved   int
		resolvedAt sql.NullString
		createdAt  string
	)

	if err := row.Scan(&issue.ID, &issue.EventID, &issue.InvoiceNumber, &reason, &issue.Detail,
		&payload, &resolved, &resolvedAt, &createdAt); err != nil {
		return nil, err
	}

	issue.Reason = domain.IssueReason(reason)
	issue.Payload = payload
	issue.Resolved = resolved == 1

	var err error
	if issue.ResolvedAt, err = parseNullTime(resolvedAt); err != nil {
		return nil, err
	}
	if issue.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &issue, nil
}

// GetIssue returns the reconciliation issue with id.
func (s *Store) GetIssue(ctx context.Context, id string) (*domain.ReconciliationIssue, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM reconciliation_issues WHERE id = ?`, id)
	issue, err := scanIssue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("issue.get", "reconciliation issue", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issue %s: %w", id, err)
	}
	return issue, nil
}

// ListIssues returns reconciliation issues, oldest first.
func (s *Store) ListIssues(ctx context.Context, filter domain.IssueFilter) ([]domain.ReconciliationIssue, error) {
	query := `SELECT ` + issueColumns + ` FROM reconciliation_issues`
	if !filter.IncludeResolved {
		query += ` WHERE resolved = 0`
	}
	query += ` ORDER BY created_at, id LIMIT ?`

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, query, limit)
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
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM applied_events WHERE event_id = ?`, eventID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up event %s: %w", eventID, err)
	}
	return n > 0, nil
}

// ListReminderLog returns every dispatch attempt for an invoice in order.
func (s *Store) ListReminderLog(ctx context.Context, number string) ([]domain.ReminderLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, invoice_number, attempt, status, error, created_at
		FROM reminder_log WHERE invoice_number = ? ORDER BY id`,
		number,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminder log: %w", err)
	}
	defer rows.Close()

	var entries []domain.ReminderLogEntry
	for rows.Next() {
		var (
			e         domain.ReminderLogEntry
			status    string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.InvoiceNumber, &e.Attempt, &status, &e.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan reminder log: %w", err)
		}
		e.Status = domain.ReminderStatus(status)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (t *tx) AppendReminderLog(ctx context.Context, e domain.ReminderLogEntry) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO reminder_log (invoice_number, attempt, status, error, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.InvoiceNumber, e.Attempt, string(e.Status), e.Error, formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append reminder log for %s: %w", e.InvoiceNumber, err)
	}
	return nil
}

func (t *tx) MarkEventApplied(ctx context.Context, eventID, invoiceNumber string, at time.Time) (bool, error) {
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO applied_events (event_id, invoice_number, applied_at)
		VALUES (?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING`,
		eventID, invoiceNumber, formatTime(at),
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark event %s applied: %w", eventID, err)
	}
	return rowsAffected(res)
}

func (t *tx) RecordIssue(ctx context.Context, issue *domain.ReconciliationIssue) (bool, error) {
	if issue.ID == "" {
		issue.ID = uuid.NewString()
	}
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = time.Now()
	}

	res, err := t.q.ExecContext(ctx,
		`INSERT INTO reconciliation_issues (id, event_id, invoice_number, reason, detail, payload, resolved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT (event_id, reason) DO NOTHING`,
		issue.ID, issue.EventID, issue.InvoiceNumber, string(issue.Reason), issue.Detail,
		[]byte(issue.Payload), formatTime(issue.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to record issue for event %s: %w", issue.EventID, err)
	}
	return rowsAffected(res)
}

func (t *tx) ResolveIssue(ctx context.Context, id string, at time.Time) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE reconciliation_issues SET resolved = 1, resolved_at = ? WHERE id = ? AND resolved = 0`,
		formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("failed to resolve issue %s: %w", id, err)
	}
	if ok, err := rowsAffected(res); err != nil {
		return err
	} else if !ok {
		return domain.Conflict("issue.resolve", "reconciliation issue is already resolved or does not exist")
	}
	return nil
}
