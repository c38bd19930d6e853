package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dukerupert/invoicer/internal/domain"
	"github.com/dukerupert/invoicer/internal/email"
	"github.com/dukerupert/invoicer/internal/telemetry"
)

// LifecycleConfig holds lifecycle manager configuration.
type LifecycleConfig struct {
	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	// ReceiptTimeout bounds one asynchronous receipt delivery.
	ReceiptTimeout time.Duration
}

// LifecycleManager owns every invoice state transition.
//
// Each transition locks the invoice inside a store transaction and writes
// conditionally on the status it read, so for one invoice exactly one of
// any set of concurrent transitions wins.
type LifecycleManager struct {
	store     domain.Store
	gateway   domain.NotificationGateway
	publisher domain.EventPublisher
	metrics   *telemetry.BusinessMetrics
	logger    *slog.Logger
	config    LifecycleConfig
	validate  *validator.Validate

	receipts sync.WaitGroup
}

// NewLifecycleManager creates a LifecycleManager. metrics may be nil.
func NewLifecycleManager(
	store domain.Store,
	gateway domain.NotificationGateway,
	publisher domain.EventPublisher,
	metrics *telemetry.BusinessMetrics,
	config LifecycleConfig,
	logger *slog.Logger,
) *LifecycleManager {
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.ReceiptTimeout == 0 {
		config.ReceiptTimeout = 30 * time.Second
	}

	return &LifecycleManager{
		store:     store,
		gateway:   gateway,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger.With("service", "lifecycle"),
		config:    config,
		validate:  newValidator(),
	}
}

// ListInvoicesParams narrows an invoice listing by derived state.
type ListInvoicesParams struct {
	AccountID  string
	CustomerID string
	// State is empty for any state.
	State         domain.State
	BillingMethod domain.BillingMethod
	Limit         int
	Offset        int
}

// Issue creates a pending invoice.
func (m *LifecycleManager) Issue(ctx context.Context, params domain.CreateInvoiceParams) (*domain.InvoiceView, error) {
	const op = "invoice.issue"

	if err := validateStruct(m.validate, op, params); err != nil {
		return nil, err
	}
	if !params.Amount.IsPositive() {
		return nil, domain.ErrNonPositiveAmount
	}

	now := m.config.Clock()
	if params.IssuedAt.IsZero() {
		params.IssuedAt = now
	}
	if !params.DueAt.After(params.IssuedAt) {
		return nil, domain.ErrDueBeforeIssue
	}
	if params.Number == "" {
		params.Number = generateInvoiceNumber(now)
	}

	inv := &domain.Invoice{
		Number:      params.Number,
		AccountID:   params.AccountID,
		CustomerID:  params.CustomerID,
		Amount:      params.Amount.Round(2),
		Description: params.Description,
		Status:      domain.StatusPending,
		IssuedAt:    params.IssuedAt,
		DueAt:       params.DueAt,
		CreatedAt:   now,
		UpdatedAt:   now,

		BillingMethod: params.BillingMethod.OrDefault(),
	}

	err := m.store.InTx(ctx, func(tx domain.Tx) error {
		customer, err := tx.LockCustomer(ctx, params.CustomerID)
		if err != nil {
			return err
		}
		if !customer.Active {
			return domain.ErrCustomerInactive
		}
		if customer.AccountID != params.AccountID {
			return domain.ErrCustomerNotOwned
		}
		return tx.CreateInvoice(ctx, inv)
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("invoice issued",
		"invoice_number", inv.Number,
		"customer_id", inv.CustomerID,
		"amount", inv.Amount.StringFixed(2),
		"due_at", inv.DueAt,
		"billing_method", inv.BillingMethod,
	)
	m.metrics.Issued(inv.AccountID)
	m.publish(ctx, domain.SubjectInvoiceIssued, inv, now)

	view := domain.NewInvoiceView(*inv, now)
	return &view, nil
}

// Get returns the invoice with number, classified as of now.
func (m *LifecycleManager) Get(ctx context.Context, number string) (*domain.InvoiceView, error) {
	inv, err := m.store.GetInvoice(ctx, number)
	if err != nil {
		return nil, err
	}
	view := domain.NewInvoiceView(*inv, m.config.Clock())
	return &view, nil
}

// List returns invoices matching params. Pending and overdue are both stored
// as pending, so they are told apart after the read.
func (m *LifecycleManager) List(ctx context.Context, params ListInvoicesParams) ([]domain.InvoiceView, error) {
	filter := domain.InvoiceFilter{
		AccountID:  params.AccountID,
		CustomerID: params.CustomerID,
		Limit:      params.Limit,
		Offset:     params.Offset,
	}

	if params.BillingMethod != "" {
		if !params.BillingMethod.Valid() {
			return nil, domain.NewValidationError("invoice.list", "billing_method", "must be one of one-time, subscription, usage-based, custom")
		}
		filter.BillingMethod = params.BillingMethod
	}

	switch params.State {
	case "":
	case domain.StatePending, domain.StateOverdue:
		filter.Status = domain.StatusPending
	case domain.StatePaid:
		filter.Status = domain.StatusPaid
	case domain.StateCancelled:
		filter.Status = domain.StatusCancelled
	default:
		return nil, domain.NewValidationError("invoice.list", "state", "must be one of pending, overdue, paid, cancelled")
	}

	invoices, err := m.store.ListInvoices(ctx, filter)
	if err != nil {
		return nil, err
	}

	now := m.config.Clock()
	views := make([]domain.InvoiceView, 0, len(invoices))
	for _, inv := range invoices {
		view := domain.NewInvoiceView(inv, now)
		if params.State != "" && view.State != params.State {
			continue
		}
		views = append(views, view)
	}
	return views, nil
}

// IsOverdue reports whether inv is unpaid strictly past its due date at now.
func (m *LifecycleManager) IsOverdue(inv *domain.Invoice, now time.Time) bool {
	return domain.IsOverdue(inv, now)
}

// MarkPaid settles the invoice with settlementRef.
//
// Settling an invoice already paid by the same reference (or with no
// reference given) is OutcomeAlreadyApplied and has no side effects. A
// different reference or a cancelled invoice is an invalid transition.
func (m *LifecycleManager) MarkPaid(ctx context.Context, number, settlementRef string) (domain.Outcome, error) {
	const op = "invoice.mark_paid"
	now := m.config.Clock()

	var (
		outcome domain.Outcome
		inv     *domain.Invoice
	)
	err := m.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		outcome, inv, err = m.markPaid(ctx, tx, op, number, settlementRef, now)
		return err
	})
	if err != nil {
		m.logTransitionError(op, number, err)
		m.metrics.Transition(string(domain.StatusPaid), "rejected")
		return "", err
	}

	if outcome == domain.OutcomeApplied {
		m.afterPaid(ctx, inv, now)
	} else {
		m.metrics.Transition(string(domain.StatusPaid), string(outcome))
	}
	return outcome, nil
}

// markPaid runs the paid transition inside tx. The returned invoice reflects
// the committed state when err is nil.
func (m *LifecycleManager) markPaid(ctx context.Context, tx domain.Tx, op, number, ref string, now time.Time) (domain.Outcome, *domain.Invoice, error) {
	inv, err := tx.LockInvoice(ctx, number)
	if err != nil {
		return "", nil, err
	}

	switch inv.Status {
	case domain.StatusPaid:
		if ref == "" || ref == inv.SettlementRef {
			return domain.OutcomeAlreadyApplied, inv, nil
		}
		return "", inv, domain.SettlementConflict(op, number, inv.SettlementRef)
	case domain.StatusCancelled:
		return "", inv, domain.InvalidTransition(op, number, inv.Status, domain.StatusPaid)
	}

	ok, err := tx.UpdateInvoiceStatus(ctx, domain.StatusUpdate{
		Number:        number,
		From:          domain.StatusPending,
		To:            domain.StatusPaid,
		At:            now,
		SettlementRef: ref,
	})
	if err != nil {
		return "", inv, err
	}
	if !ok {
		return "", inv, domain.Conflict(op, fmt.Sprintf("invoice %s changed concurrently", number))
	}

	inv.Status = domain.StatusPaid
	inv.SettlementRef = ref
	inv.PaidAt = &now
	inv.UpdatedAt = now
	return domain.OutcomeApplied, inv, nil
}

// Cancel voids the invoice. Cancelling a cancelled invoice is
// OutcomeAlreadyApplied; cancelling a paid invoice is an invalid transition.
func (m *LifecycleManager) Cancel(ctx context.Context, number, reason string) (domain.Outcome, error) {
	const op = "invoice.cancel"
	now := m.config.Clock()

	var (
		outcome domain.Outcome
		inv     *domain.Invoice
	)
	err := m.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		outcome, inv, err = m.cancel(ctx, tx, op, number, reason, now)
		return err
	})
	if err != nil {
		m.logTransitionError(op, number, err)
		m.metrics.Transition(string(domain.StatusCancelled), "rejected")
		return "", err
	}

	if outcome == domain.OutcomeApplied {
		m.afterCancelled(ctx, []domain.Invoice{*inv}, now)
	} else {
		m.metrics.Transition(string(domain.StatusCancelled), string(outcome))
	}
	return outcome, nil
}

func (m *LifecycleManager) cancel(ctx context.Context, tx domain.Tx, op, number, reason string, now time.Time) (domain.Outcome, *domain.Invoice, error) {
	inv, err := tx.LockInvoice(ctx, number)
	if err != nil {
		return "", nil, err
	}

	switch inv.Status {
	case domain.StatusCancelled:
		return domain.OutcomeAlreadyApplied, inv, nil
	case domain.StatusPaid:
		return "", inv, domain.InvalidTransition(op, number, inv.Status, domain.StatusCancelled)
	}

	ok, err := tx.UpdateInvoiceStatus(ctx, domain.StatusUpdate{
		Number:       number,
		From:         domain.StatusPending,
		To:           domain.StatusCancelled,
		At:           now,
		CancelReason: reason,
	})
	if err != nil {
		return "", inv, err
	}
	if !ok {
		return "", inv, domain.Conflict(op, fmt.Sprintf("invoice %s changed concurrently", number))
	}

	inv.Status = domain.StatusCancelled
	inv.CancelReason = reason
	inv.CancelledAt = &now
	inv.UpdatedAt = now
	return domain.OutcomeApplied, inv, nil
}

// CascadeCancelForCustomer cancels every open invoice of a customer in one
// transaction and returns how many were cancelled. Any failure rolls the
// whole cascade back.
func (m *LifecycleManager) CascadeCancelForCustomer(ctx context.Context, customerID, reason string) (int, error) {
	const op = "invoice.cascade_cancel"
	now := m.config.Clock()

	var cancelled []domain.Invoice
	err := m.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		cancelled, err = m.cancelOpen(ctx, tx, op, customerID, reason, now)
		return err
	})
	if err != nil {
		m.logger.Error("cascade cancellation rolled back", "customer_id", customerID, "error", err)
		return 0, domain.CascadeFailure(op, customerID, err)
	}

	m.afterCancelled(ctx, cancelled, now)
	return len(cancelled), nil
}

// cancelOpen cancels the customer's pending invoices inside tx. It stops at
// the first failure so the caller can roll back.
func (m *LifecycleManager) cancelOpen(ctx context.Context, tx domain.Tx, op, customerID, reason string, now time.Time) ([]domain.Invoice, error) {
	open, err := tx.LockOpenInvoicesForCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	for i := range open {
		ok, err := tx.UpdateInvoiceStatus(ctx, domain.StatusUpdate{
			Number:       open[i].Number,
			From:         domain.StatusPending,
			To:           domain.StatusCancelled,
			At:           now,
			CancelReason: reason,
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.Conflict(op, fmt.Sprintf("invoice %s changed concurrently", open[i].Number))
		}
		open[i].Status = domain.StatusCancelled
		open[i].CancelReason = reason
		open[i].CancelledAt = &now
		open[i].UpdatedAt = now
	}
	return open, nil
}

func (m *LifecycleManager) afterPaid(ctx context.Context, inv *domain.Invoice, now time.Time) {
	m.logger.Info("invoice paid",
		"invoice_number", inv.Number,
		"settlement_ref", inv.SettlementRef,
	)
	m.metrics.Transition(string(domain.StatusPaid), string(domain.OutcomeApplied))
	m.publish(ctx, domain.SubjectInvoicePaid, inv, now)
	m.sendReceipt(ctx, *inv)
}

func (m *LifecycleManager) afterCancelled(ctx context.Context, invoices []domain.Invoice, now time.Time) {
	for i := range invoices {
		m.logger.Info("invoice cancelled",
			"invoice_number", invoices[i].Number,
			"reason", invoices[i].CancelReason,
		)
		m.metrics.Transition(string(domain.StatusCancelled), string(domain.OutcomeApplied))
		m.publish(ctx, domain.SubjectInvoiceCancelled, &invoices[i], now)
	}
}

// publish announces a committed change. A failed publish is logged and never
// undoes the transition.
func (m *LifecycleManager) publish(ctx context.Context, subject string, inv *domain.Invoice, now time.Time) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, subject, domain.NewInvoiceEvent(inv, now)); err != nil {
		m.logger.Warn("failed to publish invoice event",
			"subject", subject,
			"invoice_number", inv.Number,
			"error", err,
		)
	}
}

// sendReceipt delivers the payment receipt in the background, detached from
// the caller's cancellation.
func (m *LifecycleManager) sendReceipt(ctx context.Context, inv domain.Invoice) {
	if m.gateway == nil {
		return
	}

	m.receipts.Add(1)
	go func() {
		defer m.receipts.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.config.ReceiptTimeout)
		defer cancel()

		customer, err := m.store.GetCustomer(ctx, inv.CustomerID)
		if err != nil {
			m.logger.Error("failed to load customer for receipt", "invoice_number", inv.Number, "error", err)
			return
		}

		paidAt := m.config.Clock()
		if inv.PaidAt != nil {
			paidAt = *inv.PaidAt
		}
		msg := email.InvoiceReceiptEmail{
			InvoiceNumber: inv.Number,
			CustomerName:  customer.Name,
			Amount:        inv.Amount.StringFixed(2),
			PaidAt:        paidAt,
			Reference:     inv.SettlementRef,
		}.Message(customer.Email)

		err = m.gateway.Deliver(ctx, msg)
		m.metrics.Notification(msg.Template, err)
		if err != nil {
			m.logger.Warn("receipt not delivered", "invoice_number", inv.Number, "error", err)
			return
		}
		m.logger.Info("receipt delivered", "invoice_number", inv.Number)
	}()
}

// Wait blocks until every background receipt has finished.
func (m *LifecycleManager) Wait() {
	m.receipts.Wait()
}

func (m *LifecycleManager) logTransitionError(op, number string, err error) {
	level := slog.LevelError
	if errors.Is(err, domain.ErrInvalidTransition) || domain.ErrorCode(err) != domain.EINTERNAL {
		level = slog.LevelWarn
	}
	m.logger.Log(context.Background(), level, "invoice transition rejected",
		"op", op,
		"invoice_number", number,
		"error", err,
	)
}

// generateInvoiceNumber returns INV-YYYYMMDD-XXXXXX.
func generateInvoiceNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("INV-%s-%s", now.UTC().Format("20060102"), suffix)
}
