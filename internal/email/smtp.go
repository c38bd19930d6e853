package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wneessen/go-mail"
)

// SMTPConfig holds SMTP connection parameters.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string // optional - some servers allow unauthenticated relay
	Password string // optional
	From     string // default sender address
	Timeout  time.Duration
}

// SMTPSender delivers notifications through an SMTP relay with go-mail. The
// TLS mode follows the port: 465 implicit TLS, 587 mandatory STARTTLS,
// anything else opportunistic (local catchers such as Mailpit).
type SMTPSender struct {
	config SMTPConfig
	logger *slog.Logger
}

// NewSMTPSender creates a new SMTP email sender.
func NewSMTPSender(config SMTPConfig, logger *slog.Logger) *SMTPSender {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &SMTPSender{
		config: config,
		logger: logger,
	}
}

// Send sends an email via SMTP using go-mail.
func (s *SMTPSender) Send(ctx context.Context, email *Email) (string, error) {
	if len(email.To) == 0 {
		return "", ErrMissingRecipient
	}

	logger := s.logger.With("tag", email.Tag, "host", s.config.Host, "port", s.config.Port)

	msg := mail.NewMsg()

	from := email.From
	if from == "" {
		from = s.config.From
	}
	if err := msg.From(from); err != nil {
		return "", fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(email.To...); err != nil {
		return "", fmt.Errorf("invalid to address: %w", err)
	}

	if email.ReplyTo != "" {
		if err := msg.ReplyTo(email.ReplyTo); err != nil {
			return "", fmt.Errorf("invalid reply-to address: %w", err)
		}
	}

	msg.Subject(email.Subject)
	msg.SetMessageID()

	switch {
	case email.HTMLBody != "" && email.TextBody != "":
		msg.SetBodyString(mail.TypeTextPlain, email.TextBody)
		msg.AddAlternativeString(mail.TypeTextHTML, email.HTMLBody)
	case email.HTMLBody != "":
		msg.SetBodyString(mail.TypeTextHTML, email.HTMLBody)
	default:
		msg.SetBodyString(mail.TypeTextPlain, email.TextBody)
	}

	if email.Tag != "" {
		msg.SetGenHeader(mail.Header(TagHeader), email.Tag)
	}
	if number := email.Metadata["invoice_number"]; number != "" {
		msg.SetGenHeader(mail.Header("X-Invoice-Number"), number)
	}

	client, err := mail.NewClient(s.config.Host, clientOptions(s.config)...)
	if err != nil {
		return "", fmt.Errorf("failed to create SMTP client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		logger.Warn("smtp: send failed", "error", err)
		return "", fmt.Errorf("failed to send email: %w", err)
	}

	messageID := msg.GetGenHeader(mail.HeaderMessageID)
	if len(messageID) > 0 {
		return messageID[0], nil
	}
	return "", nil
}

// CheckConnection verifies SMTP connectivity and authentication without sending email.
func (s *SMTPSender) CheckConnection(ctx context.Context) error {
	client, err := mail.NewClient(s.config.Host, clientOptions(s.config)...)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}

	if err := client.DialWithContext(ctx); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer client.Close()

	return nil
}

func clientOptions(config SMTPConfig) []mail.Option {
	opts := []mail.Option{
		mail.WithPort(config.Port),
		mail.WithTimeout(config.Timeout),
	}

	switch config.Port {
	case 465:
		opts = append(opts, mail.WithSSL())
	case 587:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	if config.Username != "" && config.Password != "" {
		opts = append(opts,
			mail.WithUsername(config.Username),
			mail.WithPassword(config.Password),
			mail.WithSMTPAuth(mail.SMTPAuthAutoDiscover),
		)
	}

	return opts
}
