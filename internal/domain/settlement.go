package domain

import (
	"encoding/json"
	"time"
)

// Payment provider event types that settle an invoice.
const (
	EventPaymentIntentSucceeded = "payment_intent.succeeded"
	EventInvoicePaid            = "invoice.paid"
	EventChargeSucceeded        = "charge.succeeded"
)

// InvoiceNumberMetadataKey is the provider metadata key carrying our invoice number.
const InvoiceNumberMetadataKey = "invoice_number"

// IsSettlementEvent reports whether a provider event type can settle an invoice.
func IsSettlementEvent(eventType string) bool {
	switch eventType {
	case EventPaymentIntentSucceeded, EventInvoicePaid, EventChargeSucceeded:
		return true
	}
	return false
}

// PaymentEvent is a verified payment confirmation from the payment provider.
type PaymentEvent struct {
	// EventID is the provider's unique event id and the idempotency key.
	EventID       string
	Type          string
	InvoiceNumber string
	CustomerID    string
	AmountCents   int64
	// Reference is the provider's payment reference recorded on the invoice.
	Reference  string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// IssueReason classifies why a payment event needs manual review.
type IssueReason string

const (
	IssueUnknownInvoice   IssueReason = "unknown_invoice"
	IssueAmountMismatch   IssueReason = "amount_mismatch"
	IssueInvoiceCancelled IssueReason = "invoice_cancelled"
	IssueDuplicateSettle  IssueReason = "duplicate_settlement"
)

// ReconciliationIssue is a payment event that could not be applied automatically.
type ReconciliationIssue struct {
	ID            string          `json:"id"`
	EventID       string          `json:"event_id"`
	InvoiceNumber string          `json:"invoice_number"`
	Reason        IssueReason     `json:"reason"`
	Detail        string          `json:"detail"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Resolved      bool            `json:"resolved"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// IssueFilter narrows reconciliation issue listings.
type IssueFilter struct {
	IncludeResolved bool
	Limit           int
}

// ReconcileResult is the explicit result of processing one delivered event.
type ReconcileResult struct {
	Outcome       Outcome
	EventID       string
	InvoiceNumber string
	// Ignored is true when the event type does not settle invoices.
	Ignored bool
}
