package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics holds Prometheus metrics for invoice lifecycle, dunning and
// settlement observability. A nil *BusinessMetrics is valid and records nothing.
type BusinessMetrics struct {
	// Invoices
	InvoicesIssued     *prometheus.CounterVec
	InvoiceTransitions *prometheus.CounterVec

	// Reminders
	RemindersSent     prometheus.Counter
	RemindersFailed   prometheus.Counter
	ReminderRuns      *prometheus.CounterVec
	ReminderRunLength prometheus.Histogram
	ReminderSelected  prometheus.Gauge

	// Webhooks and reconciliation
	WebhookReceived      *prometheus.CounterVec
	WebhookProcessed     *prometheus.CounterVec
	WebhookLatency       *prometheus.HistogramVec
	ReconciliationIssues *prometheus.CounterVec

	// Customers
	CustomersDeactivated prometheus.Counter
	CascadeCancelled     prometheus.Counter

	// Notifications
	NotificationsSent   *prometheus.CounterVec
	NotificationsFailed *prometheus.CounterVec
}

// NewBusinessMetrics creates all business metrics and registers them with reg.
func NewBusinessMetrics(reg prometheus.Registerer, namespace string) *BusinessMetrics {
	if namespace == "" {
		namespace = "invoicer"
	}

	factory := promauto.With(reg)
	subsystem := "business"

	return &BusinessMetrics{
		// =======================================================================
		// Invoices
		// =======================================================================
		InvoicesIssued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "invoices_issued_total",
				Help:      "Total invoices issued",
			},
			[]string{"account_id"},
		),
		InvoiceTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "invoice_transitions_total",
				Help:      "Invoice transition attempts by target status and outcome",
			},
			[]string{"to", "outcome"}, // outcome: applied, already_applied, rejected
		),

		// =======================================================================
		// Reminders
		// =======================================================================
		RemindersSent: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reminders_sent_total",
				Help:      "Total overdue reminders delivered",
			},
		),
		RemindersFailed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reminders_failed_total",
				Help:      "Total overdue reminders that failed to deliver",
			},
		),
		ReminderRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reminder_runs_total",
				Help:      "Total reminder scheduler runs",
			},
			[]string{"status"}, // status: completed, failed
		),
		ReminderRunLength: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reminder_run_duration_seconds",
				Help:      "Reminder scheduler run duration",
				Buckets:   []float64{.1, .5, 1, 5, 15, 60, 300, 900},
			},
		),
		ReminderSelected: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reminder_last_run_selected",
				Help:      "Invoices selected for a reminder by the last run",
			},
		),

		// =======================================================================
		// Webhooks and reconciliation
		// =======================================================================
		WebhookReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_received_total",
				Help:      "Total payment webhooks received by event type",
			},
			[]string{"event_type"},
		),
		WebhookProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_processed_total",
				Help:      "Total payment webhooks processed by result",
			},
			[]string{"result"}, // result: applied, already_applied, ignored, needs_review, rejected, error
		),
		WebhookLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_duration_seconds",
				Help:      "Payment webhook processing latency",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"result"},
		),
		ReconciliationIssues: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reconciliation_issues_total",
				Help:      "Total payment events queued for manual review",
			},
			[]string{"reason"},
		),

		// =======================================================================
		// Customers
		// =======================================================================
		CustomersDeactivated: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "customers_deactivated_total",
				Help:      "Total customers deactivated",
			},
		),
		CascadeCancelled: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "cascade_cancelled_invoices_total",
				Help:      "Total invoices cancelled by customer deactivation",
			},
		),

		// =======================================================================
		// Notifications
		// =======================================================================
		NotificationsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "notifications_sent_total",
				Help:      "Total notifications delivered by template",
			},
			[]string{"template"},
		),
		NotificationsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "notifications_failed_total",
				Help:      "Total notifications that failed by template",
			},
			[]string{"template"},
		),
	}
}

// Transition records an invoice transition attempt.
func (m *BusinessMetrics) Transition(to, outcome string) {
	if m == nil {
		return
	}
	m.InvoiceTransitions.WithLabelValues(to, outcome).Inc()
}

// Issued records a newly issued invoice.
func (m *BusinessMetrics) Issued(accountID string) {
	if m == nil {
		return
	}
	m.InvoicesIssued.WithLabelValues(accountID).Inc()
}

// ReminderRun records the result of one scheduler run.
func (m *BusinessMetrics) ReminderRun(selected, sent, failed int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "completed"
	if err != nil {
		status = "failed"
	}
	m.ReminderRuns.WithLabelValues(status).Inc()
	m.ReminderRunLength.Observe(duration.Seconds())
	m.ReminderSelected.Set(float64(selected))
	m.RemindersSent.Add(float64(sent))
	m.RemindersFailed.Add(float64(failed))
}

// Webhook records a processed webhook delivery.
func (m *BusinessMetrics) Webhook(eventType, result string, duration time.Duration) {
	if m == nil {
		return
	}
	if eventType != "" {
		m.WebhookReceived.WithLabelValues(eventType).Inc()
	}
	m.WebhookProcessed.WithLabelValues(result).Inc()
	m.WebhookLatency.WithLabelValues(result).Observe(duration.Seconds())
}

// Issue records a reconciliation issue.
func (m *BusinessMetrics) Issue(reason string) {
	if m == nil {
		return
	}
	m.ReconciliationIssues.WithLabelValues(reason).Inc()
}

// Deactivated records a customer deactivation and its cascade size.
func (m *BusinessMetrics) Deactivated(cancelled int) {
	if m == nil {
		return
	}
	m.CustomersDeactivated.Inc()
	m.CascadeCancelled.Add(float64(cancelled))
}

// Notification records a delivery attempt.
func (m *BusinessMetrics) Notification(template string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.NotificationsFailed.WithLabelValues(template).Inc()
		return
	}
	m.NotificationsSent.WithLabelValues(template).Inc()
}
