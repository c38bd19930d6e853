package routes

import (
	"github.com/dukerupert/invoicer/internal/middleware"
	"github.com/dukerupert/invoicer/internal/router"
)

// RegisterWebhookRoutes registers provider callbacks. They carry no API token;
// the payments handler checks the provider signature instead.
func RegisterWebhookRoutes(r *router.Router, deps WebhookDeps) {
	r.Post("/webhooks/payments", deps.PaymentsHandler.HandleWebhook,
		middleware.MaxBodySize(middleware.WebhookMaxBodySize))
}
