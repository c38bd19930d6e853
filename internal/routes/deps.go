package routes

import (
	"net/http"

	"github.com/dukerupert/invoicer/internal/handler/api"
	"github.com/dukerupert/invoicer/internal/handler/webhook"
)

// APIDeps contains dependencies for the authenticated API routes
type APIDeps struct {
	// APIToken is the bearer token the upstream gateway presents. Empty
	// disables the check.
	APIToken string

	InvoiceHandler  *api.InvoiceHandler
	CustomerHandler *api.CustomerHandler
	IssueHandler    *api.IssueHandler
	PlanHandler     *api.PlanHandler
}

// WebhookDeps contains dependencies for webhook routes
type WebhookDeps struct {
	PaymentsHandler *webhook.PaymentsHandler
}

// OpsDeps contains dependencies for health and metrics routes
type OpsDeps struct {
	Health  http.HandlerFunc
	Metrics http.Handler
}
