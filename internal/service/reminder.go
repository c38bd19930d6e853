package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/invoicer/internal/domain"
	"github.com/dukerupert/invoicer/internal/email"
	"github.com/dukerupert/invoicer/internal/telemetry"
	"github.com/dukerupert/invoicer/internal/worker"
)

// ReminderConfig holds reminder scheduler configuration.
type ReminderConfig struct {
	Policy domain.ReminderPolicy

	// Concurrency bounds how many invoices are reminded at once.
	Concurrency int

	// ClaimTTL is how long an invoice stays claimed by a scheduler that
	// neither records nor releases it, for example after a crash mid-delivery.
	ClaimTTL time.Duration
}

// ReminderScheduler sends payment reminders for overdue invoices.
//
// No store transaction is held while a message is being delivered: each
// invoice is claimed in a short transaction, delivered, and then recorded in
// a second transaction that only applies if nothing changed in between. The
// claim is stored on the invoice, so schedulers in other processes sharing
// the store skip it until it is recorded, released or expired.
type ReminderScheduler struct {
	store   domain.Store
	gateway domain.NotificationGateway
	metrics *telemetry.BusinessMetrics
	logger  *slog.Logger
	config  ReminderConfig
}

// NewReminderScheduler creates a ReminderScheduler. metrics may be nil.
func NewReminderScheduler(
	store domain.Store,
	gateway domain.NotificationGateway,
	metrics *telemetry.BusinessMetrics,
	config ReminderConfig,
	logger *slog.Logger,
) *ReminderScheduler {
	if config.Policy == (domain.ReminderPolicy{}) {
		config.Policy = domain.DefaultReminderPolicy()
	}
	if config.Concurrency < 1 {
		config.Concurrency = 4
	}
	if config.ClaimTTL <= 0 {
		config.ClaimTTL = 10 * time.Minute
	}

	return &ReminderScheduler{
		store:   store,
		gateway: gateway,
		metrics: metrics,
		logger:  logger.With("service", "reminders"),
		config:  config,
	}
}

// Task adapts RunOnce to a worker.Scheduler task.
func (s *ReminderScheduler) Task() worker.Task {
	return func(ctx context.Context, now time.Time) error {
		_, err := s.RunOnce(ctx, now)
		return err
	}
}

type reminderResult int

const (
	reminderSent reminderResult = iota
	reminderFailed
	reminderSkipped
)

// RunOnce reminds every invoice that needs a reminder at now. A failed
// delivery is logged and recorded but never stops the batch.
func (s *ReminderScheduler) RunOnce(ctx context.Context, now time.Time) (domain.RunReport, error) {
	start := time.Now()
	policy := s.config.Policy

	var report domain.RunReport

	candidates, err := s.store.ListRemindable(ctx, now, policy.MaxReminders)
	if err != nil {
		err = fmt.Errorf("failed to select invoices for reminders: %w", err)
		s.metrics.ReminderRun(0, 0, 0, time.Since(start), err)
		return report, err
	}

	due := make([]domain.Invoice, 0, len(candidates))
	for i := range candidates {
		if policy.NeedsReminder(&candidates[i], now) {
			due = append(due, candidates[i])
		}
	}
	report.Selected = len(due)

	var mu sync.Mutex
	worker.ForEach(ctx, s.config.Concurrency, due, func(ctx context.Context, inv domain.Invoice) {
		result := s.remind(ctx, inv.Number, now)

		mu.Lock()
		defer mu.Unlock()
		switch result {
		case reminderSent:
			report.Sent++
		case reminderFailed:
			report.Failed++
		case reminderSkipped:
			report.Skipped++
		}
	})

	err = ctx.Err()
	if err != nil {
		err = fmt.Errorf("reminder run interrupted: %w", err)
	}

	s.metrics.ReminderRun(report.Selected, report.Sent, report.Failed, time.Since(start), err)
	s.logger.Info("reminder run finished",
		"selected", report.Selected,
		"sent", report.Sent,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"duration", time.Since(start),
	)
	return report, err
}

func (s *ReminderScheduler) remind(ctx context.Context, number string, now time.Time) reminderResult {
	const op = "reminder.send"
	logger := s.logger.With("invoice_number", number)

	// Claim: re-read under lock and mark the invoice before delivering.
	var inv *domain.Invoice
	err := s.store.InTx(ctx, func(tx domain.Tx) error {
		current, err := tx.LockInvoice(ctx, number)
		if err != nil {
			return err
		}
		if !s.config.Policy.NeedsReminder(current, now) {
			return nil
		}
		claimed, err := tx.ClaimReminder(ctx, domain.ReminderClaim{
			Number:        number,
			ObservedCount: current.ReminderCount,
			At:            now,
			Until:         now.Add(s.config.ClaimTTL),
		})
		if err != nil {
			return err
		}
		if claimed {
			inv = current
		}
		return nil
	})
	if err != nil {
		logger.Error("failed to claim invoice for reminder", "error", err)
		return reminderFailed
	}
	if inv == nil {
		logger.Debug("invoice no longer needs a reminder or is claimed elsewhere")
		return reminderSkipped
	}

	attempt := inv.ReminderCount + 1

	customer, err := s.store.GetCustomer(ctx, inv.CustomerID)
	if err != nil {
		s.recordFailure(ctx, logger, domain.DeliveryFailure(op, number, err), number, attempt, now)
		return reminderFailed
	}
	if !customer.Active {
		logger.Debug("customer inactive, skipping reminder", "customer_id", customer.ID)
		s.release(ctx, logger, number)
		return reminderSkipped
	}

	msg := email.InvoiceReminderEmail{
		InvoiceNumber:  inv.Number,
		CustomerName:   customer.Name,
		Amount:         inv.Amount.StringFixed(2),
		DueAt:          inv.DueAt,
		DaysOverdue:    int(now.Sub(inv.DueAt) / (24 * time.Hour)),
		ReminderNumber: attempt,
		Description:    inv.Description,
	}.Message(customer.Email)

	err = s.gateway.Deliver(ctx, msg)
	s.metrics.Notification(msg.Template, err)
	if err != nil {
		s.recordFailure(ctx, logger, domain.DeliveryFailure(op, number, err), number, attempt, now)
		return reminderFailed
	}

	var recorded bool
	err = s.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		recorded, err = tx.RecordReminder(ctx, domain.ReminderClaim{
			Number:        number,
			ObservedCount: inv.ReminderCount,
			At:            now,
		})
		if err != nil {
			return err
		}
		return tx.AppendReminderLog(ctx, domain.ReminderLogEntry{
			InvoiceNumber: number,
			Attempt:       attempt,
			Status:        domain.ReminderSent,
			CreatedAt:     now,
		})
	})
	if err != nil {
		logger.Error("reminder delivered but not recorded", "attempt", attempt, "error", err)
		return reminderSent
	}
	if !recorded {
		logger.Warn("invoice changed during delivery, reminder count left unchanged", "attempt", attempt)
		return reminderSent
	}

	logger.Info("reminder sent", "attempt", attempt, "recipient", customer.Email)
	return reminderSent
}

// release drops the claim on number without counting a reminder.
func (s *ReminderScheduler) release(ctx context.Context, logger *slog.Logger, number string) {
	err := s.store.InTx(ctx, func(tx domain.Tx) error {
		return tx.ReleaseReminder(ctx, number)
	})
	if err != nil {
		logger.Error("failed to release reminder claim", "error", err)
	}
}

// recordFailure logs a failed attempt and releases the claim. The invoice's
// count and timestamp stay unchanged so the next run retries it.
func (s *ReminderScheduler) recordFailure(ctx context.Context, logger *slog.Logger, failure error, number string, attempt int, now time.Time) {
	logger.Warn("reminder not delivered", "attempt", attempt, "error", failure)

	err := s.store.InTx(ctx, func(tx domain.Tx) error {
		if err := tx.ReleaseReminder(ctx, number); err != nil {
			return err
		}
		return tx.AppendReminderLog(ctx, domain.ReminderLogEntry{
			InvoiceNumber: number,
			Attempt:       attempt,
			Status:        domain.ReminderFailed,
			Error:         failure.Error(),
			CreatedAt:     now,
		})
	})
	if err != nil {
		logger.Error("failed to write reminder log", "error", err)
	}
}
