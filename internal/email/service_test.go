package email

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/invoicer/internal/domain"
)

type mockSender struct {
	SendFunc func(ctx context.Context, email *Email) (string, error)
	sent     []*Email
}

func (m *mockSender) Send(ctx context.Context, email *Email) (string, error) {
	m.sent = append(m.sent, email)
	if m.SendFunc != nil {
		return m.SendFunc(ctx, email)
	}
	return "msg-1", nil
}

func newTestNotifier(t *testing.T, sender Sender) *Notifier {
	t.Helper()
	n, err := NewNotifier(sender, "billing@example.test", "Billing", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return n
}

func TestNotifier_DeliverReminder(t *testing.T) {
	sender := &mockSender{}
	n := newTestNotifier(t, sender)

	msg := InvoiceReminderEmail{
		InvoiceNumber:  "INV-1001",
		CustomerName:   "Ada <Lovelace>",
		Amount:         "$120.50",
		DueAt:          time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		DaysOverdue:    31,
		ReminderNumber: 1,
	}.Message("ada@example.test")

	require.NoError(t, n.Deliver(context.Background(), msg))
	require.Len(t, sender.sent, 1)

	sent := sender.sent[0]
	assert.Equal(t, []string{"ada@example.test"}, sent.To)
	assert.Equal(t, "Billing <billing@example.test>", sent.From)
	assert.Equal(t, "Payment reminder: invoice INV-1001 is overdue", sent.Subject)
	assert.Contains(t, sent.HTMLBody, "March 1, 2026")
	assert.Contains(t, sent.HTMLBody, "31 days overdue")
	assert.Contains(t, sent.HTMLBody, "Ada &lt;Lovelace&gt;")
	assert.Contains(t, sent.TextBody, "Invoice INV-1001 is overdue")
	assert.NotContains(t, sent.TextBody, "<p>")
	assert.Equal(t, domain.TemplateInvoiceReminder, sent.Tag)
	assert.Equal(t, map[string]string{"invoice_number": "INV-1001"}, sent.Metadata)
}

func TestNotifier_DeliverReceipt(t *testing.T) {
	sender := &mockSender{}
	n := newTestNotifier(t, sender)

	msg := InvoiceReceiptEmail{
		InvoiceNumber: "INV-7",
		CustomerName:  "Grace",
		Amount:        "$50.00",
		PaidAt:        time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC),
		Reference:     "pi_123",
	}.Message("grace@example.test")

	require.NoError(t, n.Deliver(context.Background(), msg))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Receipt for invoice INV-7", sender.sent[0].Subject)
	assert.Contains(t, sender.sent[0].HTMLBody, "pi_123")
	assert.Contains(t, sender.sent[0].HTMLBody, "April 2, 2026")
}

func TestNotifier_DeliverErrors(t *testing.T) {
	t.Run("missing recipient", func(t *testing.T) {
		sender := &mockSender{}
		n := newTestNotifier(t, sender)

		err := n.Deliver(context.Background(), domain.Message{Template: domain.TemplateInvoiceReceipt})
		assert.ErrorIs(t, err, ErrMissingRecipient)
		assert.Empty(t, sender.sent)
	})

	t.Run("unknown template", func(t *testing.T) {
		sender := &mockSender{}
		n := newTestNotifier(t, sender)

		err := n.Deliver(context.Background(), domain.Message{Recipient: "a@example.test", Template: "welcome"})
		require.Error(t, err)
		assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
		assert.Empty(t, sender.sent)
	})

	t.Run("sender failure is returned after one attempt", func(t *testing.T) {
		boom := errors.New("connection refused")
		sender := &mockSender{
			SendFunc: func(ctx context.Context, email *Email) (string, error) {
				return "", boom
			},
		}
		n := newTestNotifier(t, sender)

		err := n.Deliver(context.Background(), InvoiceReceiptEmail{InvoiceNumber: "INV-1"}.Message("a@example.test"))
		assert.ErrorIs(t, err, boom)
		assert.Len(t, sender.sent, 1)
	})
}

func TestPostmarkSender_Send(t *testing.T) {
	var got postmarkEmail
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/email", r.URL.Path)
		assert.Equal(t, "token-1", r.Header.Get("X-Postmark-Server-Token"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"To":"a@example.test","MessageID":"pm-42","ErrorCode":0,"Message":"OK"}`))
	}))
	defer server.Close()

	sender := NewPostmarkSender("token-1", WithPostmarkBaseURL(server.URL), WithPostmarkHTTPClient(server.Client()))
	id, err := sender.Send(context.Background(), &Email{
		To:       []string{"a@example.test", "b@example.test"},
		From:     "billing@example.test",
		Subject:  "Hi",
		TextBody: "hello",
		Tag:      domain.TemplateInvoiceReceipt,
		Metadata: map[string]string{"invoice_number": "INV-9"},
	})

	require.NoError(t, err)
	assert.Equal(t, "pm-42", id)
	assert.Equal(t, "a@example.test,b@example.test", got.To)
	assert.Equal(t, "hello", got.TextBody)
	assert.Equal(t, domain.TemplateInvoiceReceipt, got.Tag)
	assert.Equal(t, "INV-9", got.Metadata["invoice_number"])
	assert.Equal(t, "outbound", got.MessageStream)
}

func TestPostmarkSender_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"ErrorCode":300,"Message":"Invalid email request"}`))
	}))
	defer server.Close()

	sender := NewPostmarkSender("token-1", WithPostmarkBaseURL(server.URL))
	_, err := sender.Send(context.Background(), &Email{To: []string{"a@example.test"}, Subject: "Hi"})

	assert.ErrorIs(t, err, ErrProviderRejected)
	assert.Contains(t, err.Error(), "Invalid email request")
	assert.Equal(t, domain.EUNAVAILABLE, domain.ErrorCode(err))
}
