package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/invoicer/internal/domain"
)

const invoiceColumns = `number, account_id, customer_id, amount::text, description, status,
	issued_at, due_at, settlement_ref, paid_at, cancelled_at, cancel_reason,
	reminder_count, last_reminder_at, created_at, updated_at, billing_method`

func scanInvoice(row scanner) (*domain.Invoice, error) {
	var (
		inv           domain.Invoice
		amount        string
		status        string
		billingMethod string
	)

	err := row.Scan(
		&inv.Number, &inv.AccountID, &inv.CustomerID, &amount, &inv.Description, &status,
		&inv.IssuedAt, &inv.DueAt, &inv.SettlementRef, &inv.PaidAt, &inv.CancelledAt, &inv.CancelReason,
		&inv.ReminderCount, &inv.LastReminderAt, &inv.CreatedAt, &inv.UpdatedAt, &billingMethod,
	)
	if err != nil {
		return nil, err
	}

	if inv.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invalid stored amount %q: %w", amount, err)
	}
	inv.Status = domain.Status(status)
	inv.BillingMethod = domain.BillingMethod(billingMethod)
	return &inv, nil
}

func getInvoice(ctx context.Context, q querier, query, number string) (*domain.Invoice, error) {
	inv, err := scanInvoice(q.QueryRow(ctx, query, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice %s: %w", number, err)
	}
	return inv, nil
}

func queryInvoices(ctx context.Context, q querier, query string, args ...any) ([]domain.Invoice, error) {
	rows, err := q.Query(ctx, query, args...)
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
	return getInvoice(ctx, s.pool, `SELECT `+invoiceColumns+` FROM invoices WHERE number = $1`, number)
}

// ListInvoices returns invoices matching filter, newest first.
func (s *Store) ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, error) {
	return queryInvoices(ctx, s.pool,
		`SELECT `+invoiceColumns+` FROM invoices
		WHERE ($1 = '' OR account_id = $1)
		  AND ($2 = '' OR customer_id = $2)
		  AND ($3 = '' OR status = $3)
		  AND ($4 = '' OR billing_method = $4)
		ORDER BY issued_at DESC, number
		LIMIT $5 OFFSET $6`,
		filter.AccountID, filter.CustomerID, string(filter.Status), string(filter.BillingMethod),
		limitArg(filter.Limit), filter.Offset,
	)
}

// ListRemindable returns pending invoices past due with reminders left.
func (s *Store) ListRemindable(ctx context.Context, now time.Time, maxReminders int) ([]domain.Invoice, error) {
	return queryInvoices(ctx, s.pool,
		`SELECT `+invoiceColumns+` FROM invoices
		WHERE status = 'pending' AND due_at < $1 AND reminder_count < $2
		ORDER BY due_at, number`,
		now, maxReminders,
	)
}

func (t *tx) CreateInvoice(ctx context.Context, inv *domain.Invoice) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO invoices (number, account_id, customer_id, amount, description, status,
			issued_at, due_at, settlement_ref, paid_at, cancelled_at, cancel_reason,
			reminder_count, last_reminder_at, created_at, updated_at, billing_method)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		inv.Number, inv.AccountID, inv.CustomerID, inv.Amount.StringFixed(2), inv.Description, string(inv.Status),
		inv.IssuedAt, inv.DueAt, inv.SettlementRef, inv.PaidAt, inv.CancelledAt, inv.CancelReason,
		inv.ReminderCount, inv.LastReminderAt, inv.CreatedAt, inv.UpdatedAt, string(inv.BillingMethod.OrDefault()),
	)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateInvoice
	}
	if err != nil {
		return fmt.Errorf("failed to insert invoice %s: %w", inv.Number, err)
	}
	return nil
}

// LockInvoice reads the invoice and holds its row lock until the transaction ends.
func (t *tx) LockInvoice(ctx context.Context, number string) (*domain.Invoice, error) {
	return getInvoice(ctx, t.q, `SELECT `+invoiceColumns+` FROM invoices WHERE number = $1 FOR UPDATE`, number)
}

func (t *tx) LockOpenInvoicesForCustomer(ctx context.Context, customerID string) ([]domain.Invoice, error) {
	return queryInvoices(ctx, t.q,
		`SELECT `+invoiceColumns+` FROM invoices
		WHERE customer_id = $1 AND status = 'pending'
		ORDER BY number
		FOR UPDATE`,
		customerID,
	)
}

func (t *tx) UpdateInvoiceStatus(ctx context.Context, u domain.StatusUpdate) (bool, error) {
	var query string
	var detail string

	switch u.To {
	case domain.StatusPaid:
		query = `UPDATE invoices SET status = 'paid', settlement_ref = $1, paid_at = $2, updated_at = $2
			WHERE number = $3 AND status = $4`
		detail = u.SettlementRef
	case domain.StatusCancelled:
		query = `UPDATE invoices SET status = 'cancelled', cancel_reason = $1, cancelled_at = $2, updated_at = $2
			WHERE number = $3 AND status = $4`
		detail = u.CancelReason
	default:
		return false, fmt.Errorf("unsupported target status %q", u.To)
	}

	tag, err := t.q.Exec(ctx, query, detail, u.At, u.Number, string(u.From))
	if err != nil {
		return false, fmt.Errorf("failed to update invoice %s: %w", u.Number, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *tx) ClaimReminder(ctx context.Context, c domain.ReminderClaim) (bool, error) {
	tag, err := t.q.Exec(ctx,
		`UPDATE invoices SET reminder_claimed_until = $1
		WHERE number = $2 AND status = 'pending' AND reminder_count = $3
		  AND (reminder_claimed_until IS NULL OR reminder_claimed_until <= $4)`,
		c.Until, c.Number, c.ObservedCount, c.At,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim reminder for %s: %w", c.Number, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *tx) ReleaseReminder(ctx context.Context, number string) error {
	_, err := t.q.Exec(ctx, `UPDATE invoices SET reminder_claimed_until = NULL WHERE number = $1`, number)
	if err != nil {
		return fmt.Errorf("failed to release reminder claim for %s: %w", number, err)
	}
	return nil
}

func (t *tx) RecordReminder(ctx context.Context, c domain.ReminderClaim) (bool, error) {
	tag, err := t.q.Exec(ctx,
		`UPDATE invoices SET reminder_count = reminder_count + 1, last_reminder_at = $1, updated_at = $1,
			reminder_claimed_until = NULL
		WHERE number = $2 AND status = 'pending' AND reminder_count = $3`,
		c.At, c.Number, c.ObservedCount,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record reminder for %s: %w", c.Number, err)
	}
	return tag.RowsAffected() == 1, nil
}
