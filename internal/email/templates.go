package email

import (
	"fmt"
	"time"

	"github.com/dukerupert/invoicer/internal/domain"
)

// EmailTemplate defines the interface for email templates
type EmailTemplate interface {
	Subject() string
	TemplateName() string
}

// InvoiceReminderEmail asks a customer to settle an overdue invoice.
type InvoiceReminderEmail struct {
	InvoiceNumber  string
	CustomerName   string
	Amount         string
	DueAt          time.Time
	DaysOverdue    int
	ReminderNumber int
	Description    string
}

func (e InvoiceReminderEmail) Subject() string {
	return fmt.Sprintf("Payment reminder: invoice %s is overdue", e.InvoiceNumber)
}

func (e InvoiceReminderEmail) TemplateName() string {
	return domain.TemplateInvoiceReminder
}

// Message builds the gateway message for recipient.
func (e InvoiceReminderEmail) Message(recipient string) domain.Message {
	return domain.Message{
		Recipient: recipient,
		Template:  e.TemplateName(),
		Context: map[string]any{
			"InvoiceNumber":  e.InvoiceNumber,
			"CustomerName":   e.CustomerName,
			"Amount":         e.Amount,
			"DueAt":          e.DueAt,
			"DaysOverdue":    e.DaysOverdue,
			"ReminderNumber": e.ReminderNumber,
			"Description":    e.Description,
		},
	}
}

// InvoiceReceiptEmail confirms that an invoice has been paid.
type InvoiceReceiptEmail struct {
	InvoiceNumber string
	CustomerName  string
	Amount        string
	PaidAt        time.Time
	Reference     string
}

func (e InvoiceReceiptEmail) Subject() string {
	return fmt.Sprintf("Receipt for invoice %s", e.InvoiceNumber)
}

func (e InvoiceReceiptEmail) TemplateName() string {
	return domain.TemplateInvoiceReceipt
}

// Message builds the gateway message for recipient.
func (e InvoiceReceiptEmail) Message(recipient string) domain.Message {
	return domain.Message{
		Recipient: recipient,
		Template:  e.TemplateName(),
		Context: map[string]any{
			"InvoiceNumber": e.InvoiceNumber,
			"CustomerName":  e.CustomerName,
			"Amount":        e.Amount,
			"PaidAt":        e.PaidAt,
			"Reference":     e.Reference,
		},
	}
}

// subjects renders the subject line for each template from a message context.
var subjects = map[string]func(ctx map[string]any) string{
	domain.TemplateInvoiceReminder: func(ctx map[string]any) string {
		return InvoiceReminderEmail{InvoiceNumber: fmt.Sprint(ctx["InvoiceNumber"])}.Subject()
	},
	domain.TemplateInvoiceReceipt: func(ctx map[string]any) string {
		return InvoiceReceiptEmail{InvoiceNumber: fmt.Sprint(ctx["InvoiceNumber"])}.Subject()
	},
}
