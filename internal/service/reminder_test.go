package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/invoicer/internal/domain"
	"github.com/dukerupert/invoicer/internal/worker"
)

func TestReminderScheduler_Schedule(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	customer := env.createCustomer(t)
	env.issueInvoice(t, customer.ID, "INV-1") // issued day 0, due day 30

	tests := []struct {
		day       int
		wantSent  int
		wantCount int
	}{
		{day: 29, wantSent: 0, wantCount: 0},
		{day: 30, wantSent: 0, wantCount: 0},
		{day: 31, wantSent: 1, wantCount: 1},
		{day: 35, wantSent: 0, wantCount: 1},
		{day: 38, wantSent: 1, wantCount: 2},
	}

	for _, tt := range tests {
		report, err := env.reminders.RunOnce(ctx, day0.Add(days(tt.day)))
		require.NoError(t, err, "day %d", tt.day)
		assert.Equal(t, tt.wantSent, report.Sent, "day %d", tt.day)
		assert.Zero(t, report.Failed, "day %d", tt.day)
		assert.Equal(t, tt.wantCount, env.invoice(t, "INV-1").ReminderCount, "day %d", tt.day)
	}

	reminders := env.gateway.Sent(domain.TemplateInvoiceReminder)
	require.Len(t, reminders, 2)
	assert.Equal(t, "ap@harbor.test", reminders[0].Recipient)
	assert.Equal(t, 1, reminders[0].Context["ReminderNumber"])
	assert.Equal(t, 1, reminders[0].Context["DaysOverdue"])
	assert.Equal(t, 2, reminders[1].Context["ReminderNumber"])
	assert.Equal(t, 8, reminders[1].Context["DaysOverdue"])

	inv := env.invoice(t, "INV-1")
	require.NotNil(t, inv.LastReminderAt)
	assert.True(t, inv.LastReminderAt.Equal(day0.Add(days(38))))

	log, err := env.store.ListReminderLog(ctx, "INV-1")
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, domain.ReminderSent, log[0].Status)
	assert.Equal(t, 2, log[1].Attempt)
}

func TestReminderScheduler_MaxReminders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	customer := env.createCustomer(t)
	env.issueInvoice(t, customer.ID, "INV-1")

	for i := 0; i < 8; i++ {
		_, err := env.reminders.RunOnce(ctx, day0.Add(days(31+7*i)))
		require.NoError(t, err)
	}

	assert.Equal(t, 5, env.invoice(t, "INV-1").ReminderCount)
	assert.Len(t, env.gateway.Sent(domain.TemplateInvoiceReminder), 5)
}

func TestReminderScheduler_DeliveryFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	customer := env.createCustomer(t)
	env.issueInvoice(t, customer.ID, "INV-1")
	env.issueInvoice(t, customer.ID, "INV-2")

	smtpDown := errors.New("smtp: connection refused")
	env.gateway.DeliverFunc = func(ctx context.Context, msg domain.Message) error {
		if msg.Context["InvoiceNumber"] == "INV-1" {
			return smtpDown
		}
		return nil
	}

	report, err := env.reminders.RunOnce(ctx, day0.Add(days(31)))
	require.NoError(t, err, "a failed delivery does not fail the run")
	assert.Equal(t, domain.RunReport{Selected: 2, Sent: 1, Failed: 1}, report)

	failed := env.invoice(t, "INV-1")
	assert.Zero(t, failed.ReminderCount)
	assert.Nil(t, failed.LastReminderAt)
	assert.Equal(t, 1, env.invoice(t, "INV-2").ReminderCount)

	log, err := env.store.ListReminderLog(ctx, "INV-1")
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, domain.ReminderFailed, log[0].Status)
	assert.Contains(t, log[0].Error, "connection refused")

	// The next run retries the failed invoice only.
	env.gateway.DeliverFunc = nil
	report, err = env.reminders.RunOnce(ctx, day0.Add(days(32)))
	require.NoError(t, err)
	assert.Equal(t, domain.RunReport{Selected: 1, Sent: 1}, report)
	assert.Equal(t, 1, env.invoice(t, "INV-1").ReminderCount)
}

func TestReminderScheduler_SharedStoreSendsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	customer := env.createCustomer(t)
	env.issueInvoice(t, customer.ID, "INV-1")
	now := day0.Add(days(31))

	// The first scheduler holds its delivery open until the second has run.
	delivering := make(chan struct{})
	proceed := make(chan struct{})
	env.gateway.DeliverFunc = func(ctx context.Context, msg domain.Message) error {
		close(delivering)
		<-proceed
		return nil
	}

	other := &fakeGateway{}
	second := NewReminderScheduler(env.store, other, nil, ReminderConfig{
		Policy: domain.DefaultReminderPolicy(),
	}, testLogger())

	type result struct {
		report domain.RunReport
		err    error
	}
	done := make(chan result, 1)
	go func() {
		report, err := env.reminders.RunOnce(ctx, now)
		done <- result{report, err}
	}()

	select {
	case <-delivering:
	case <-time.After(5 * time.Second):
		t.Fatal("first scheduler never started delivering")
	}

	report, err := second.RunOnce(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, domain.RunReport{Selected: 1, Skipped: 1}, report)
	assert.Empty(t, other.Sent(domain.TemplateInvoiceReminder))

	close(proceed)
	first := <-done
	require.NoError(t, first.err)
	assert.Equal(t, domain.RunReport{Selected: 1, Sent: 1}, first.report)

	assert.Len(t, env.gateway.Sent(domain.TemplateInvoiceReminder), 1)
	assert.Equal(t, 1, env.invoice(t, "INV-1").ReminderCount)
}

func TestReminderScheduler_ExpiredClaim(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	customer := env.createCustomer(t)
	env.issueInvoice(t, customer.ID, "INV-1")
	now := day0.Add(days(31))

	// A scheduler that claimed the invoice and then died.
	err := env.store.InTx(ctx, func(tx domain.Tx) error {
		claimed, err := tx.ClaimReminder(ctx, domain.ReminderClaim{
			Number: "INV-1",
			At:     now,
			Until:  now.Add(time.Hour),
		})
		require.True(t, claimed)
		return err
	})
	require.NoError(t, err)

	report, err := env.reminders.RunOnce(ctx, now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.RunReport{Selected: 1, Skipped: 1}, report)
	assert.Empty(t, env.gateway.Sent(domain.TemplateInvoiceReminder))

	report, err = env.reminders.RunOnce(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.RunReport{Selected: 1, Sent: 1}, report)
	assert.Equal(t, 1, env.invoice(t, "INV-1").ReminderCount)
}

func TestReminderScheduler_SkipsSettledAndInactive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	customer := env.createCustomer(t)
	env.issueInvoice(t, customer.ID, "INV-PAID")
	env.issueInvoice(t, customer.ID, "INV-VOID")

	_, err := env.lifecycle.MarkPaid(ctx, "INV-PAID", "pi_1")
	require.NoError(t, err)
	_, err = env.lifecycle.Cancel(ctx, "INV-VOID", "mistake")
	require.NoError(t, err)
	env.lifecycle.Wait()

	report, err := env.reminders.RunOnce(ctx, day0.Add(days(40)))
	require.NoError(t, err)
	assert.Zero(t, report.Selected)
	assert.Empty(t, env.gateway.Sent(domain.TemplateInvoiceReminder))
}

func TestReminderScheduler_Task(t *testing.T) {
	env := newTestEnv(t)
	customer := env.createCustomer(t)
	env.issueInvoice(t, customer.ID, "INV-1")

	scheduler := worker.NewScheduler("reminders", env.reminders.Task(), worker.Config{
		Interval: time.Hour,
		Clock:    func() time.Time { return day0.Add(days(31)) },
	}, testLogger())

	require.NoError(t, scheduler.Trigger(context.Background()))
	assert.Equal(t, 1, env.invoice(t, "INV-1").ReminderCount)
}
