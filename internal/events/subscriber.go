package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dukerupert/invoicer/internal/domain"
)

// CustomerDeactivator deactivates a customer and cancels its open invoices.
type CustomerDeactivator interface {
	Deactivate(ctx context.Context, customerID, reason string) (int, error)
}

// DeactivationConsumer applies customer deactivation signals from other services.
// Signals that cannot be applied are published on SubjectDeactivationFailed.
type DeactivationConsumer struct {
	deactivator CustomerDeactivator
	publisher   domain.EventPublisher
	timeout     time.Duration
	logger      *slog.Logger
}

// NewDeactivationConsumer creates a consumer. Each message is handled with its
// own timeout.
func NewDeactivationConsumer(deactivator CustomerDeactivator, publisher domain.EventPublisher, timeout time.Duration, logger *slog.Logger) *DeactivationConsumer {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &DeactivationConsumer{
		deactivator: deactivator,
		publisher:   publisher,
		timeout:     timeout,
		logger:      logger.With("subject", domain.SubjectCustomerDeactivated),
	}
}

// Subscribe joins a queue group so that each signal is handled by one instance.
func (c *DeactivationConsumer) Subscribe(conn *nats.Conn, queue string) (*nats.Subscription, error) {
	sub, err := conn.QueueSubscribe(domain.SubjectCustomerDeactivated, queue, c.HandleMsg)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", domain.SubjectCustomerDeactivated, err)
	}
	return sub, nil
}

// HandleMsg is the nats.MsgHandler for deactivation signals.
func (c *DeactivationConsumer) HandleMsg(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if requestID := msg.Header.Get("X-Request-ID"); requestID != "" {
		ctx = domain.NewContextWithRequestID(ctx, requestID)
	}

	c.handle(ctx, msg.Data)
}

func (c *DeactivationConsumer) handle(ctx context.Context, data []byte) error {
	var event domain.CustomerDeactivatedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return c.fail(ctx, event, domain.Invalid("customer.deactivate", "malformed deactivation event: "+err.Error()))
	}
	if event.CustomerID == "" {
		return c.fail(ctx, event, domain.Invalid("customer.deactivate", "deactivation event has no customer_id"))
	}

	cancelled, err := c.deactivator.Deactivate(ctx, event.CustomerID, event.Reason)
	if err != nil {
		return c.fail(ctx, event, fmt.Errorf("customer %s: %w", event.CustomerID, err))
	}

	c.logger.Info("customer deactivated",
		"customer_id", event.CustomerID,
		"invoices_cancelled", cancelled,
	)
	return nil
}

// fail logs err, reports it on SubjectDeactivationFailed and returns it.
func (c *DeactivationConsumer) fail(ctx context.Context, event domain.CustomerDeactivatedEvent, err error) error {
	c.logger.Error("customer deactivation failed", "customer_id", event.CustomerID, "error", err)

	report := domain.DeactivationFailedEvent{
		CustomerID: event.CustomerID,
		Reason:     event.Reason,
		Code:       domain.ErrorCode(err),
		Error:      domain.ErrorMessage(err),
		At:         time.Now().UTC(),
	}
	if perr := c.publisher.Publish(ctx, domain.SubjectDeactivationFailed, report); perr != nil {
		c.logger.Error("failed to report deactivation failure", "customer_id", event.CustomerID, "error", perr)
	}
	return err
}
