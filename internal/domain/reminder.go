package domain

import (
	"time"
)

// ReminderPolicy decides which invoices are due a payment reminder.
type ReminderPolicy struct {
	// MinInterval is the minimum time between two reminders for one invoice.
	MinInterval time.Duration

	// MaxReminders caps the number of reminders per invoice.
	MaxReminders int
}

// DefaultReminderPolicy returns the policy used when nothing is configured.
func DefaultReminderPolicy() ReminderPolicy {
	return ReminderPolicy{
		MinInterval:  7 * 24 * time.Hour,
		MaxReminders: 5,
	}
}

// NeedsReminder reports whether inv should be reminded at now.
// Only overdue invoices are reminded; there are no pre-due reminders.
func (p ReminderPolicy) NeedsReminder(inv *Invoice, now time.Time) bool {
	if !IsOverdue(inv, now) {
		return false
	}
	if inv.ReminderCount >= p.MaxReminders {
		return false
	}
	if inv.LastReminderAt == nil {
		return true
	}
	return now.Sub(*inv.LastReminderAt) >= p.MinInterval
}

// ReminderStatus is the result of one dispatch attempt.
type ReminderStatus string

const (
	ReminderSent   ReminderStatus = "sent"
	ReminderFailed ReminderStatus = "failed"
)

// ReminderLogEntry records a single reminder dispatch attempt.
type ReminderLogEntry struct {
	ID            int64
	InvoiceNumber string
	Attempt       int
	Status        ReminderStatus
	Error         string
	CreatedAt     time.Time
}

// ReminderClaim is a conditional reminder record: it only applies while the
// invoice is still pending and its count still equals ObservedCount.
type ReminderClaim struct {
	Number        string
	ObservedCount int
	At            time.Time

	// Until is when a claim taken at At lapses if its holder never records
	// or releases it.
	Until time.Time
}

// RunReport summarizes one reminder run.
type RunReport struct {
	Selected int
	Sent     int
	Failed   int
	// Skipped counts invoices that changed between selection and delivery.
	Skipped int
}
