package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the stored lifecycle status of an invoice.
// Overdue is not a status: it is derived from pending and the due date on
// every read (see Invoice.State).
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// State is the read-time classification of an invoice.
type State string

const (
	StatePending   State = "pending"
	StateOverdue   State = "overdue"
	StatePaid      State = "paid"
	StateCancelled State = "cancelled"
)

// Valid reports whether s is a known stored status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s can never be left again.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

// CanTransition reports whether a stored status may move from one value to another.
// The only legal moves leave pending.
func CanTransition(from, to Status) bool {
	return from == StatusPending && to.Terminal()
}

// Invoice-related domain errors.
var (
	ErrInvoiceNotFound       = &Error{Code: ENOTFOUND, Message: "Invoice not found"}
	ErrDuplicateInvoice      = &Error{Code: ECONFLICT, Message: "Invoice number already issued"}
	ErrCustomerInactive      = &Error{Code: EINVALID, Message: "Customer is not active"}
	ErrCustomerNotOwned      = &Error{Code: EINVALID, Message: "Customer belongs to a different account"}
	ErrNonPositiveAmount     = &Error{Code: EINVALID, Message: "Invoice amount must be positive"}
	ErrDueBeforeIssue        = &Error{Code: EINVALID, Message: "Invoice due date must be after its issue date"}
	ErrSettlementRefConflict = &Error{Code: ECONFLICT, Message: "Invoice already settled by a different payment"}
)

// Invoice is a billing record for a fixed amount owed by a customer to an issuing account.
type Invoice struct {
	Number      string
	AccountID   string
	CustomerID  string
	Amount      decimal.Decimal
	Description string
	Status      Status
	IssuedAt    time.Time
	DueAt       time.Time

	// BillingMethod is fixed at issue. Defaults to one-time.
	BillingMethod BillingMethod

	// Settlement bookkeeping
	SettlementRef string
	PaidAt        *time.Time
	CancelledAt   *time.Time
	CancelReason  string

	// Dunning bookkeeping
	ReminderCount  int
	LastReminderAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the invariants every stored invoice must satisfy.
func (inv *Invoice) Validate() error {
	if inv.Number == "" {
		return NewValidationError("invoice.validate", "number", "is required")
	}
	if !inv.Amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	if !inv.DueAt.After(inv.IssuedAt) {
		return ErrDueBeforeIssue
	}
	if !inv.Status.Valid() {
		return Invalid("invoice.validate", "unknown status "+string(inv.Status))
	}
	if !inv.BillingMethod.Valid() {
		return Invalid("invoice.validate", "unknown billing method "+string(inv.BillingMethod))
	}
	return nil
}

// IsOverdue reports whether inv is unpaid past its due date. An invoice due
// exactly at now is not overdue.
func IsOverdue(inv *Invoice, now time.Time) bool {
	return inv.Status == StatusPending && now.After(inv.DueAt)
}

// State classifies inv as of now. It must be called on every read.
func (inv *Invoice) State(now time.Time) State {
	switch inv.Status {
	case StatusPaid:
		return StatePaid
	case StatusCancelled:
		return StateCancelled
	}
	if IsOverdue(inv, now) {
		return StateOverdue
	}
	return StatePending
}

// AmountCents returns the invoice amount in the smallest currency unit.
func (inv *Invoice) AmountCents() int64 {
	return inv.Amount.Shift(2).Round(0).IntPart()
}

// Outcome is the explicit result of a lifecycle operation.
type Outcome string

const (
	// OutcomeApplied means the transition happened now and its side effects ran.
	OutcomeApplied Outcome = "applied"

	// OutcomeAlreadyApplied means the requested end state was already in place;
	// nothing was changed and no side effects ran.
	OutcomeAlreadyApplied Outcome = "already_applied"
)

// CreateInvoiceParams contains parameters for issuing an invoice.
type CreateInvoiceParams struct {
	Number      string          `json:"number" validate:"omitempty,max=50"`
	AccountID   string          `json:"account_id" validate:"required"`
	CustomerID  string          `json:"customer_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"max=2000"`
	IssuedAt    time.Time       `json:"issued_at"`
	DueAt       time.Time       `json:"due_at" validate:"required"`

	BillingMethod BillingMethod `json:"billing_method" validate:"omitempty,oneof=one-time subscription usage-based custom"`
}

// InvoiceFilter narrows invoice listings. Zero values mean "any".
type InvoiceFilter struct {
	AccountID  string
	CustomerID string
	Status     Status
	// BillingMethod is empty for any method.
	BillingMethod BillingMethod
	Limit         int
	Offset        int
}

// InvoiceView is an invoice together with its state as of a read.
type InvoiceView struct {
	Invoice
	State       State
	Overdue     bool
	EvaluatedAt time.Time
}

// NewInvoiceView classifies inv as of now.
func NewInvoiceView(inv Invoice, now time.Time) InvoiceView {
	return InvoiceView{
		Invoice:     inv,
		State:       inv.State(now),
		Overdue:     IsOverdue(&inv, now),
		EvaluatedAt: now,
	}
}

// StatusUpdate is a conditional status write: it only succeeds when the stored
// status still equals From.
type StatusUpdate struct {
	Number        string
	From          Status
	To            Status
	At            time.Time
	SettlementRef string
	CancelReason  string
}
