package email

import "github.com/dukerupert/invoicer/internal/domain"

var (
	// ErrMissingRecipient is returned when a message has no recipient.
	ErrMissingRecipient = domain.Errorf(domain.EINVALID, "email.send", "Email recipient is required")

	// ErrProviderRejected is returned when the provider refuses a message.
	ErrProviderRejected = domain.Errorf(domain.EUNAVAILABLE, "email.send", "Email provider rejected the message")
)

// ErrTemplateNotFound reports a message naming a template the notifier does not render.
func ErrTemplateNotFound(name string) error {
	return domain.Errorf(domain.ENOTFOUND, "email.render", "Email template %s not found", name)
}
