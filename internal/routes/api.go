package routes

import (
	"github.com/dukerupert/invoicer/internal/middleware"
	"github.com/dukerupert/invoicer/internal/router"
)

// RegisterAPIRoutes registers the invoicing API. Every route requires the
// gateway token and an issuing account.
func RegisterAPIRoutes(r *router.Router, deps APIDeps) {
	g := r.Group(
		middleware.RequireAPIToken(deps.APIToken),
		middleware.RequireAccount,
		middleware.MaxBodySize(middleware.APIMaxBodySize),
		middleware.Timeout(middleware.APIRequestTimeout),
	)

	// Invoices
	g.Post("/invoices", deps.InvoiceHandler.Issue)
	g.Get("/invoices", deps.InvoiceHandler.List)
	g.Get("/invoices/{number}", deps.InvoiceHandler.Get)
	g.Post("/invoices/{number}/pay", deps.InvoiceHandler.MarkPaid)
	g.Post("/invoices/{number}/cancel", deps.InvoiceHandler.Cancel)

	// Customers
	g.Post("/customers", deps.CustomerHandler.Create)
	g.Get("/customers/{id}", deps.CustomerHandler.Get)
	g.Post("/customers/{id}/deactivate", deps.CustomerHandler.Deactivate)
	g.Post("/customers/{id}/bank-link/token", deps.CustomerHandler.LinkToken)
	g.Post("/customers/{id}/bank-link", deps.CustomerHandler.LinkBank)
	g.Post("/customers/{id}/bank-link/verify", deps.CustomerHandler.VerifyBank)
	g.Post("/customers/{id}/provider-customer", deps.CustomerHandler.EnsureProviderCustomer)

	// Subscription plan catalog
	g.Post("/plans", deps.PlanHandler.Create)
	g.Get("/plans", deps.PlanHandler.List)
	g.Get("/plans/{id}", deps.PlanHandler.Get)

	// Reconciliation review queue
	g.Get("/reconciliation/issues", deps.IssueHandler.List)
	g.Post("/reconciliation/issues/{id}/resolve", deps.IssueHandler.Resolve)
	g.Post("/reconciliation/issues/{id}/replay", deps.IssueHandler.Replay)
}
