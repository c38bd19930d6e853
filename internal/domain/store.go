package domain

import (
	"context"
	"time"
)

// Store is the durable state of invoices, customers and settlement bookkeeping.
//
// Reads on Store see committed data only and take no locks. Every write goes
// through InTx. Implementations may serialize transactions, so fn must use only
// the Tx it is given and never call back into the Store.
type Store interface {
	Queries

	// InTx runs fn in a transaction. The transaction commits when fn returns nil
	// and rolls back otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}

// Queries are the read-only lookups shared by handlers, the CLI and the scheduler.
type Queries interface {
	GetInvoice(ctx context.Context, number string) (*Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error)

	// ListRemindable returns pending invoices due before now that have been
	// reminded fewer than maxReminders times, oldest due first.
	ListRemindable(ctx context.Context, now time.Time, maxReminders int) ([]Invoice, error)
	ListReminderLog(ctx context.Context, number string) ([]ReminderLogEntry, error)

	GetCustomer(ctx context.Context, id string) (*Customer, error)

	// GetPlan returns ErrPlanNotFound when no plan has the id.
	GetPlan(ctx context.Context, id string) (*Plan, error)
	// ListPlans returns an account's catalog ordered by name.
	ListPlans(ctx context.Context, accountID string) ([]Plan, error)

	GetIssue(ctx context.Context, id string) (*ReconciliationIssue, error)
	ListIssues(ctx context.Context, filter IssueFilter) ([]ReconciliationIssue, error)
	IsEventApplied(ctx context.Context, eventID string) (bool, error)

	Ping(ctx context.Context) error
}

// Tx is a single store transaction. Lock methods hold the row until the
// transaction ends.
type Tx interface {
	CreateInvoice(ctx context.Context, inv *Invoice) error
	// LockInvoice returns ErrInvoiceNotFound when no invoice has the number.
	LockInvoice(ctx context.Context, number string) (*Invoice, error)
	// LockOpenInvoicesForCustomer locks and returns every pending invoice of a customer.
	LockOpenInvoicesForCustomer(ctx context.Context, customerID string) ([]Invoice, error)
	// UpdateInvoiceStatus applies u only while the stored status equals u.From.
	// It reports whether a row changed.
	UpdateInvoiceStatus(ctx context.Context, u StatusUpdate) (bool, error)

	// ClaimReminder marks the invoice as being reminded until c.Until. It applies
	// only while the invoice is pending, its count equals c.ObservedCount and no
	// other claim is live at c.At. It reports whether the claim was taken.
	ClaimReminder(ctx context.Context, c ReminderClaim) (bool, error)
	// ReleaseReminder clears a claim without counting a reminder.
	ReleaseReminder(ctx context.Context, number string) error
	// RecordReminder applies c only while the invoice is pending and its count
	// equals c.ObservedCount. It reports whether a row changed and clears any
	// claim.
	RecordReminder(ctx context.Context, c ReminderClaim) (bool, error)
	AppendReminderLog(ctx context.Context, entry ReminderLogEntry) error

	CreateCustomer(ctx context.Context, c *Customer) error
	LockCustomer(ctx context.Context, id string) (*Customer, error)
	UpdateCustomer(ctx context.Context, c *Customer) error

	// CreatePlan returns ErrDuplicatePlan when the account already has a plan
	// with the same name.
	CreatePlan(ctx context.Context, p *Plan) error

	// MarkEventApplied inserts eventID into the applied set and reports whether
	// it was new.
	MarkEventApplied(ctx context.Context, eventID, invoiceNumber string, at time.Time) (bool, error)
	// RecordIssue stores an issue once per event id and reason. It reports
	// whether a new row was written.
	RecordIssue(ctx context.Context, issue *ReconciliationIssue) (bool, error)
	ResolveIssue(ctx context.Context, id string, at time.Time) error
}
