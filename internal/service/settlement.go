package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/invoicer/internal/billing"
	"github.com/dukerupert/invoicer/internal/domain"
	"github.com/dukerupert/invoicer/internal/telemetry"
)

// errNeedsReview rolls back the settlement transaction when an event cannot
// be applied. It never leaves this file.
var errNeedsReview = errors.New("payment event needs review")

// Reconciler applies verified payment provider events to invoices.
//
// The applied-event record and the paid transition commit together, so a
// redelivered event is either fully applied once or not at all. Events that
// cannot be matched are stored as reconciliation issues and the invoice is
// left untouched.
type Reconciler struct {
	store     domain.Store
	verifier  billing.EventVerifier
	lifecycle *LifecycleManager
	publisher domain.EventPublisher
	metrics   *telemetry.BusinessMetrics
	logger    *slog.Logger
	clock     func() time.Time
}

// NewReconciler creates a Reconciler. It settles invoices through lifecycle.
func NewReconciler(
	store domain.Store,
	verifier billing.EventVerifier,
	lifecycle *LifecycleManager,
	publisher domain.EventPublisher,
	metrics *telemetry.BusinessMetrics,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		store:     store,
		verifier:  verifier,
		lifecycle: lifecycle,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger.With("service", "settlement"),
		clock:     lifecycle.config.Clock,
	}
}

// Process authenticates a webhook delivery and applies it.
// A bad signature is an authentication failure and nothing in the payload is
// looked at.
func (r *Reconciler) Process(ctx context.Context, payload []byte, signature string) (*domain.ReconcileResult, error) {
	const op = "settlement.process"
	start := time.Now()

	event, err := r.verifier.VerifyEvent(payload, signature)
	if err != nil {
		if errors.Is(err, billing.ErrMalformedEvent) {
			r.metrics.Webhook("unknown", "malformed", time.Since(start))
			return nil, domain.WrapError(err, domain.EINVALID, op, "malformed payment event")
		}
		r.logger.Warn("webhook signature rejected", "error", err)
		r.metrics.Webhook("unknown", "unauthenticated", time.Since(start))
		return nil, domain.AuthenticationFailure(op, err)
	}

	result, err := r.Apply(ctx, event)
	r.metrics.Webhook(event.Type, webhookResult(result, err), time.Since(start))
	return result, err
}

// Apply settles the invoice named by a verified event.
func (r *Reconciler) Apply(ctx context.Context, event *domain.PaymentEvent) (*domain.ReconcileResult, error) {
	const op = "settlement.apply"

	result := &domain.ReconcileResult{
		EventID:       event.EventID,
		InvoiceNumber: event.InvoiceNumber,
	}
	logger := r.logger.With(
		"event_id", event.EventID,
		"event_type", event.Type,
		"invoice_number", event.InvoiceNumber,
	)

	if !domain.IsSettlementEvent(event.Type) || event.InvoiceNumber == "" {
		logger.Debug("event does not settle an invoice, ignoring")
		result.Ignored = true
		return result, nil
	}

	now := r.clock()

	var (
		issue *domain.ReconciliationIssue
		paid  *domain.Invoice
	)
	err := r.store.InTx(ctx, func(tx domain.Tx) error {
		isNew, err := tx.MarkEventApplied(ctx, event.EventID, event.InvoiceNumber, now)
		if err != nil {
			return err
		}
		if !isNew {
			result.Outcome = domain.OutcomeAlreadyApplied
			return nil
		}

		inv, err := tx.LockInvoice(ctx, event.InvoiceNumber)
		if errors.Is(err, domain.ErrInvoiceNotFound) {
			issue = newIssue(event, domain.IssueUnknownInvoice,
				fmt.Sprintf("no invoice numbered %s", event.InvoiceNumber), now)
			return errNeedsReview
		}
		if err != nil {
			return err
		}

		switch inv.Status {
		case domain.StatusCancelled:
			issue = newIssue(event, domain.IssueInvoiceCancelled,
				fmt.Sprintf("invoice %s was cancelled before payment %s arrived", inv.Number, event.Reference), now)
			return errNeedsReview
		case domain.StatusPaid:
			if inv.SettlementRef == event.Reference {
				result.Outcome = domain.OutcomeAlreadyApplied
				return nil
			}
			issue = newIssue(event, domain.IssueDuplicateSettle,
				fmt.Sprintf("invoice %s already paid by %s, received %s", inv.Number, inv.SettlementRef, event.Reference), now)
			return errNeedsReview
		}

		if inv.AmountCents() != event.AmountCents {
			issue = newIssue(event, domain.IssueAmountMismatch,
				fmt.Sprintf("invoice %s expects %d cents, payment carried %d", inv.Number, inv.AmountCents(), event.AmountCents), now)
			return errNeedsReview
		}

		result.Outcome, paid, err = r.lifecycle.markPaid(ctx, tx, op, inv.Number, event.Reference, now)
		return err
	})

	switch {
	case errors.Is(err, errNeedsReview):
		return result, r.recordIssue(ctx, logger, op, issue)
	case err != nil:
		logger.Error("failed to apply payment event", "error", err)
		return result, err
	}

	if result.Outcome == domain.OutcomeApplied {
		logger.Info("payment applied", "reference", event.Reference, "amount_cents", event.AmountCents)
		r.lifecycle.afterPaid(ctx, paid, now)
	} else {
		logger.Info("payment event already applied")
		r.metrics.Transition(string(domain.StatusPaid), string(result.Outcome))
	}
	return result, nil
}

// recordIssue stores issue outside the rolled back settlement transaction and
// returns the reconciliation error for the caller. When the issue cannot be
// stored the event is neither applied nor queued, so only the storage error is
// returned and the provider redelivers.
func (r *Reconciler) recordIssue(ctx context.Context, logger *slog.Logger, op string, issue *domain.ReconciliationIssue) error {
	var created bool
	err := r.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		created, err = tx.RecordIssue(ctx, issue)
		return err
	})
	if err != nil {
		logger.Error("failed to record reconciliation issue", "reason", issue.Reason, "error", err)
		return domain.Internal(err, op, "record reconciliation issue")
	}

	logger.Warn("payment event needs review", "reason", issue.Reason, "detail", issue.Detail, "new_issue", created)
	failure := domain.ReconciliationFailure(op, issue.Reason, issue.Detail)
	if created {
		r.metrics.Issue(string(issue.Reason))
		telemetry.CaptureError(ctx, failure, map[string]string{
			"reason":         string(issue.Reason),
			"invoice_number": issue.InvoiceNumber,
		}, map[string]any{
			"issue_id": issue.ID,
			"event_id": issue.EventID,
		})
		if r.publisher != nil {
			if err := r.publisher.Publish(ctx, domain.SubjectIssueRecorded, issue); err != nil {
				logger.Warn("failed to publish reconciliation issue", "error", err)
			}
		}
	}
	return failure
}

// ListIssues returns reconciliation issues awaiting review.
func (r *Reconciler) ListIssues(ctx context.Context, filter domain.IssueFilter) ([]domain.ReconciliationIssue, error) {
	return r.store.ListIssues(ctx, filter)
}

// ResolveIssue marks an issue as handled outside the system.
func (r *Reconciler) ResolveIssue(ctx context.Context, id string) error {
	if _, err := r.store.GetIssue(ctx, id); err != nil {
		return err
	}
	err := r.store.InTx(ctx, func(tx domain.Tx) error {
		return tx.ResolveIssue(ctx, id, r.clock())
	})
	if err != nil {
		return err
	}
	r.logger.Info("reconciliation issue resolved", "issue_id", id)
	return nil
}

// Replay re-applies the event stored with an issue, for example after the
// missing invoice has been issued. The issue is resolved when the event
// applies or turns out to be applied already.
func (r *Reconciler) Replay(ctx context.Context, id string) (*domain.ReconcileResult, error) {
	const op = "settlement.replay"

	issue, err := r.store.GetIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	if issue.Resolved {
		return nil, domain.Conflict(op, "reconciliation issue is already resolved")
	}

	event, err := r.verifier.DecodeEvent(issue.Payload)
	if err != nil {
		return nil, domain.WrapError(err, domain.EINVALID, op, "stored payment event cannot be decoded")
	}
	event.ReceivedAt = issue.CreatedAt

	result, err := r.Apply(ctx, event)
	if err != nil {
		return result, err
	}
	if err := r.ResolveIssue(ctx, id); err != nil {
		return result, err
	}
	return result, nil
}

func newIssue(event *domain.PaymentEvent, reason domain.IssueReason, detail string, now time.Time) *domain.ReconciliationIssue {
	return &domain.ReconciliationIssue{
		EventID:       event.EventID,
		InvoiceNumber: event.InvoiceNumber,
		Reason:        reason,
		Detail:        detail,
		Payload:       event.Payload,
		CreatedAt:     now,
	}
}

func webhookResult(result *domain.ReconcileResult, err error) string {
	switch {
	case errors.Is(err, domain.ErrReconciliation):
		return "needs_review"
	case err != nil:
		return "error"
	case result.Ignored:
		return "ignored"
	default:
		return string(result.Outcome)
	}
}
