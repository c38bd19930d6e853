package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/dukerupert/invoicer/internal/domain"
	"github.com/dukerupert/invoicer/internal/handler"
	"github.com/dukerupert/invoicer/internal/handler/api"
	"github.com/dukerupert/invoicer/internal/middleware"
)

// SignatureHeader carries the payment provider's delivery signature.
const SignatureHeader = "Stripe-Signature"

// PaymentProcessor authenticates and applies a payment provider delivery.
type PaymentProcessor interface {
	Process(ctx context.Context, payload []byte, signature string) (*domain.ReconcileResult, error)
}

// PaymentsHandler handles payment provider webhook deliveries.
type PaymentsHandler struct {
	processor PaymentProcessor
}

// NewPaymentsHandler creates a new payments webhook handler
func NewPaymentsHandler(processor PaymentProcessor) *PaymentsHandler {
	return &PaymentsHandler{processor: processor}
}

// HandleWebhook processes POST /webhooks/payments.
//
// Deliveries that were applied, were already applied, or do not settle an
// invoice are acknowledged with 200. Deliveries stored for manual review are
// acknowledged with 202 so the provider stops retrying them; replaying is done
// from the review queue. Any other failure returns an error status and the
// provider retries.
//
// Local testing:
//
//	stripe listen --forward-to localhost:3000/webhooks/payments
//	stripe trigger payment_intent.succeeded
func (h *PaymentsHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())

	if r.Method != http.MethodPost {
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "", "Method not allowed"))
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			handler.ErrorResponse(w, r, domain.Errorf(domain.ETOOLARGE, "", "Payload must not exceed %d bytes", maxErr.Limit))
			return
		}
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "", "Error reading request body"))
		return
	}

	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "", "Missing signature"))
		return
	}

	result, err := h.processor.Process(r.Context(), payload, signature)
	switch {
	case errors.Is(err, domain.ErrReconciliation):
		logger.Warn("payment event stored for review", "event_id", eventID(result), "error", err)
		handler.WriteJSON(w, http.StatusAccepted, map[string]any{
			"received": true,
			"event_id": eventID(result),
			"status":   "needs_review",
		})
		return
	case errors.Is(err, domain.ErrAuthentication):
		handler.ErrorResponse(w, r, domain.Errorf(domain.EUNAUTHORIZED, "", "Invalid signature"))
		return
	case err != nil:
		handler.ErrorResponse(w, r, err)
		return
	}

	logger.Info("payment event processed",
		"event_id", result.EventID,
		"invoice_number", result.InvoiceNumber,
		"outcome", result.Outcome,
		"ignored", result.Ignored,
	)
	handler.WriteJSON(w, http.StatusOK, api.NewReconcileResponse(result))
}

func eventID(result *domain.ReconcileResult) string {
	if result == nil {
		return ""
	}
	return result.EventID
}
