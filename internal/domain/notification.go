package domain

import (
	"context"
	"time"
)

// Notification templates.
const (
	TemplateInvoiceReminder = "invoice_reminder"
	TemplateInvoiceReceipt  = "invoice_receipt"
)

// Message is a notification for the gateway to deliver.
type Message struct {
	Recipient string
	Template  string
	Context   map[string]any
}

// NotificationGateway delivers messages. It does not retry.
type NotificationGateway interface {
	Deliver(ctx context.Context, msg Message) error
}

// EventPublisher announces invoice lifecycle changes to other services.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// Published subjects.
const (
	SubjectInvoiceIssued    = "invoices.issued"
	SubjectInvoicePaid      = "invoices.paid"
	SubjectInvoiceCancelled = "invoices.cancelled"
	SubjectIssueRecorded    = "invoices.reconciliation.issue"

	// SubjectDeactivationFailed reports a deactivation signal that changed nothing.
	SubjectDeactivationFailed = "invoices.customer.deactivation_failed"

	// SubjectCustomerDeactivated is consumed, not published.
	SubjectCustomerDeactivated = "accounts.customer.deactivated"
)

// InvoiceEvent is the payload published on invoice subjects.
type InvoiceEvent struct {
	Number        string    `json:"number"`
	AccountID     string    `json:"account_id"`
	CustomerID    string    `json:"customer_id"`
	Status        Status    `json:"status"`
	Amount        string    `json:"amount"`
	SettlementRef string    `json:"settlement_ref,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	At            time.Time `json:"at"`
}

// NewInvoiceEvent snapshots inv for publishing.
func NewInvoiceEvent(inv *Invoice, at time.Time) InvoiceEvent {
	return InvoiceEvent{
		Number:        inv.Number,
		AccountID:     inv.AccountID,
		CustomerID:    inv.CustomerID,
		Status:        inv.Status,
		Amount:        inv.Amount.StringFixed(2),
		SettlementRef: inv.SettlementRef,
		Reason:        inv.CancelReason,
		At:            at.UTC(),
	}
}

// CustomerDeactivatedEvent is the payload consumed on SubjectCustomerDeactivated.
type CustomerDeactivatedEvent struct {
	CustomerID string `json:"customer_id"`
	Reason     string `json:"reason"`
}

// DeactivationFailedEvent is published on SubjectDeactivationFailed. The
// sender may redeliver the signal once the cause is fixed.
type DeactivationFailedEvent struct {
	CustomerID string    `json:"customer_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Code       string    `json:"code"`
	Error      string    `json:"error"`
	At         time.Time `json:"at"`
}
