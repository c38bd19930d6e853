package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/invoicer/internal/domain"
)

const invoiceColumns = `number, account_id, customer_id, amount, description, status,
	issued_at, due_at, settlement_ref, paid_at, cancelled_at, cancel_reason,
	reminder_count, last_reminder_at, created_at, updated_at, billing_method`

func scanInvoice(row scanner) (*domain.Invoice, error) {
	var (
		inv                                   domain.Invoice
		amount, status, billingMethod         string
		issuedAt, dueAt, createdAt, updatedAt string
		paidAt, cancelledAt, lastReminderAt   sql.NullString
	)

	err := row.Scan(
		&inv.Number, &inv.AccountID, &inv.CustomerID, &amount, &inv.Description, &status,
		&issuedAt, &dueAt, &inv.SettlementRef, &paidAt, &cancelledAt, &inv.CancelReason,
		&inv.ReminderCount, &lastReminderAt, &createdAt, &updatedAt, &billingMethod,
	)
	if err != nil {
		return nil, err
	}

	if inv.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invalid stored amount %q: %w", amount, err)
	}
	inv.Status = domain.Status(status)
	inv.BillingMethod = domain.BillingMethod(billingMethod)

	for _, f := range []struct {
		dst *time.Time
		src string
	}{
		{&inv.IssuedAt, issuedAt},
		{&inv.DueAt, dueAt},
		{&inv.CreatedAt, createdAt},
		{&inv.UpdatedAt, updatedAt},
	} {
		if *f.dst, err = parseTime(f.src); err != nil {
			return nil, err
		}
	}

	if inv.PaidAt, err = parseNullTime(paidAt); err != nil {
		return nil, err
	}
	if inv.CancelledAt, err = parseNullTime(cancelledAt); err != nil {
		return nil, err
	}
	if inv.LastReminderAt, err = parseNullTime(lastReminderAt); err != nil {
		return nil, err
	}

	return &inv, nil
}

func getInvoice(ctx context.Context, q querier, number string) (*domain.Invoice, error) {
	row := q.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE number = ?`, number)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice %s: %w", number, err)
	}
	return inv, nil
}

func queryInvoices(ctx context.Context, q querier, query string, args ...any) ([]domain.Invoice, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var invoices []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

// GetInvoice returns the invoice with number.
func (s *Store) GetInvoice(ctx context.Context, number string) (*domain.Invoice, error) {
	return getInvoice(ctx, s.db, number)
}

// ListInvoices returns invoices matching filter, newest first.
func (s *Store) ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, error) {
	var (
		where []string
		args  []any
	)
	if filter.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, filter.AccountID)
	}
	if filter.CustomerID != "" {
		where = append(where, "customer_id = ?")
		args = append(args, filter.CustomerID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.BillingMethod != "" {
		where = append(where, "billing_method = ?")
		args = append(args, string(filter.BillingMethod))
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY issued_at DESC, number`

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	return queryInvoices(ctx, s.db, query, args...)
}

// ListRemindable returns pending invoices past due with reminders left.
func (s *Store) ListRemindable(ctx context.Context, now time.Time, maxReminders int) ([]domain.Invoice, error) {
	return queryInvoices(ctx, s.db,
		`SELECT `+invoiceColumns+` FROM invoices
		WHERE status = 'pending' AND due_at < ? AND reminder_count < ?
		ORDER BY due_at, number`,
		formatTime(now), maxReminders,
	)
}

// =============================================================================
// Transactional writes
// =============================================================================

type tx struct {
	q querier
}

var _ domain.Tx = (*tx)(nil)

func (t *tx) CreateInvoice(ctx context.Context, inv *domain.Invoice) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO invoices (`+invoiceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.Number, inv.AccountID, inv.CustomerID, inv.Amount.StringFixed(2), inv.Description, string(inv.Status),
		formatTime(inv.IssuedAt), formatTime(inv.DueAt), inv.SettlementRef, nullTime(inv.PaidAt),
		nullTime(inv.CancelledAt), inv.CancelReason, inv.ReminderCount, nullTime(inv.LastReminderAt),
		formatTime(inv.CreatedAt), formatTime(inv.UpdatedAt), string(inv.BillingMethod.OrDefault()),
	)
	if isConstraint(err, sqlite3.ErrConstraintPrimaryKey) {
		return domain.ErrDuplicateInvoice
	}
	if err != nil {
		return fmt.Errorf("failed to insert invoice %s: %w", inv.Number, err)
	}
	return nil
}

// LockInvoice reads the invoice. The immediate transaction already holds the
// database write lock.
func (t *tx) LockInvoice(ctx context.Context, number string) (*domain.Invoice, error) {
	return getInvoice(ctx, t.q, number)
}

func (t *tx) LockOpenInvoicesForCustomer(ctx context.Context, customerID string) ([]domain.Invoice, error) {
	return queryInvoices(ctx, t.q,
		`SELECT `+invoiceColumns+` FROM invoices
		WHERE customer_id = ? AND status = 'pending'
		ORDER BY number`,
		customerID,
	)
}

func (t *tx) UpdateInvoiceStatus(ctx context.Context, u domain.StatusUpdate) (bool, error) {
	var (
		res sql.Result
		err error
	)
	at := formatTime(u.At)

	switch u.To {
	case domain.StatusPaid:
		res, err = t.q.ExecContext(ctx,
			`UPDATE invoices SET status = 'paid', settlement_ref = ?, paid_at = ?, updated_at = ?
			WHERE number = ? AND status = ?`,
			u.SettlementRef, at, at, u.Number, string(u.From),
		)
	case domain.StatusCancelled:
		res, err = t.q.ExecContext(ctx,
			`UPDATE invoices SET status = 'cancelled', cancel_reason = ?, cancelled_at = ?, updated_at = ?
			WHERE number = ? AND status = ?`,
			u.CancelReason, at, at, u.Number, string(u.From),
		)
	default:
		return false, fmt.Errorf("unsupported target status %q", u.To)
	}
	if err != nil {
		return false, fmt.Errorf("failed to update invoice %s: %w", u.Number, err)
	}
	return rowsAffected(res)
}

func (t *tx) ClaimReminder(ctx context.Context, c domain.ReminderClaim) (bool, error) {
	res, err := t.q.ExecContext(ctx,
		`UPDATE invoices SET reminder_claimed_until = ?
		WHERE number = ? AND status = 'pending' AND reminder_count = ?
		  AND (reminder_claimed_until IS NULL OR reminder_claimed_until <= ?)`,
		formatTime(c.Until), c.Number, c.ObservedCount, formatTime(c.At),
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim reminder for %s: %w", c.Number, err)
	}
	return rowsAffected(res)
}

func (t *tx) ReleaseReminder(ctx context.Context, number string) error {
	_, err := t.q.ExecContext(ctx,
		`UPDATE invoices SET reminder_claimed_until = NULL WHERE number = ?`, number)
	if err != nil {
		return fmt.Errorf("failed to release reminder claim for %s: %w", number, err)
	}
	return nil
}

func (t *tx) RecordReminder(ctx context.Context, c domain.ReminderClaim) (bool, error) {
	at := formatTime(c.At)
	res, err := t.q.ExecContext(ctx,
		`UPDATE invoices SET reminder_count = reminder_count + 1, last_reminder_at = ?, updated_at = ?,
			reminder_claimed_until = NULL
		WHERE number = ? AND status = 'pending' AND reminder_count = ?`,
		at, at, c.Number, c.ObservedCount,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record reminder for %s: %w", c.Number, err)
	}
	return rowsAffected(res)
}
