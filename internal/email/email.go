package email

import "context"

// TagHeader carries Email.Tag on SMTP messages.
const TagHeader = "X-Invoicer-Tag"

// Email is a rendered notification ready for a transport.
type Email struct {
	To       []string
	From     string
	ReplyTo  string
	Subject  string
	TextBody string
	HTMLBody string

	// Tag names the notification kind, e.g. "invoice_reminder".
	Tag string
	// Metadata travels with the message where the transport supports it.
	Metadata map[string]string
}

// Sender hands an Email to a transport and returns the transport's message id.
type Sender interface {
	Send(ctx context.Context, email *Email) (string, error)
}
