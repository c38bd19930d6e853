package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	"github.com/dukerupert/invoicer/internal/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

// Notifier composes templated emails and hands them to a Sender. It implements
// domain.NotificationGateway and makes exactly one send attempt per call.
type Notifier struct {
	sender      Sender
	fromAddress string
	fromName    string
	templates   map[string]*template.Template
	logger      *slog.Logger
}

var _ domain.NotificationGateway = (*Notifier)(nil)

var templateFuncs = template.FuncMap{
	"date": func(v any) string {
		switch t := v.(type) {
		case time.Time:
			return t.Format("January 2, 2006")
		case *time.Time:
			if t != nil {
				return t.Format("January 2, 2006")
			}
		}
		return ""
	},
}

// NewNotifier creates a notifier with the embedded invoice templates.
func NewNotifier(sender Sender, fromAddress, fromName string, logger *slog.Logger) (*Notifier, error) {
	templates := make(map[string]*template.Template, len(subjects))
	for name := range subjects {
		tmpl, err := template.New(name).Funcs(templateFuncs).ParseFS(templateFS,
			"templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse email template %s: %w", name, err)
		}
		templates[name] = tmpl
	}

	return &Notifier{
		sender:      sender,
		fromAddress: fromAddress,
		fromName:    fromName,
		templates:   templates,
		logger:      logger,
	}, nil
}

// Deliver renders msg and sends it.
func (n *Notifier) Deliver(ctx context.Context, msg domain.Message) error {
	if msg.Recipient == "" {
		return ErrMissingRecipient
	}

	subject, ok := subjects[msg.Template]
	if !ok {
		return ErrTemplateNotFound(msg.Template)
	}

	htmlBody, textBody, err := n.renderTemplate(msg.Template, msg.Context)
	if err != nil {
		return err
	}

	email := &Email{
		To:       []string{msg.Recipient},
		From:     fmt.Sprintf("%s <%s>", n.fromName, n.fromAddress),
		Subject:  subject(msg.Context),
		HTMLBody: htmlBody,
		TextBody: textBody,
		Tag:      msg.Template,
	}
	if number, ok := msg.Context["InvoiceNumber"].(string); ok && number != "" {
		email.Metadata = map[string]string{"invoice_number": number}
	}

	messageID, err := n.sender.Send(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to send %s email: %w", msg.Template, err)
	}

	n.logger.Debug("email delivered",
		"template", msg.Template,
		"message_id", messageID,
	)
	return nil
}

// renderTemplate returns the HTML body and its text alternative.
func (n *Notifier) renderTemplate(templateName string, data map[string]any) (string, string, error) {
	tmpl, ok := n.templates[templateName]
	if !ok {
		return "", "", ErrTemplateNotFound(templateName)
	}

	var htmlBuf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&htmlBuf, "email_layout", data); err != nil {
		return "", "", fmt.Errorf("failed to execute template %s: %w", templateName, err)
	}

	htmlBody := htmlBuf.String()
	return htmlBody, htmlToText(htmlBody), nil
}
