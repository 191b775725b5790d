package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	ledger "github.com/familysavings/golang_services/internal/ledger_service/domain"
	"github.com/familysavings/golang_services/internal/notification_service/domain"
)

// Sender delivers a rendered notification.
type Sender interface {
	Send(ctx context.Context, n *domain.Notification) error
}

// Subscriber is the subset of messagebroker.NatsClient the consumer needs.
type Subscriber interface {
	Subscribe(ctx context.Context, subject, queueGroup string, handler nats.MsgHandler) (*nats.Subscription, error)
}

// EventConsumer turns ledger events into user notifications. Delivery is best-effort:
// failures are logged and counted, never retried.
type EventConsumer struct {
	subscriber Subscriber
	sender     Sender
	logger     *slog.Logger
}

func NewEventConsumer(subscriber Subscriber, sender Sender, logger *slog.Logger) *EventConsumer {
	return &EventConsumer{
		subscriber: subscriber,
		sender:     sender,
		logger:     logger.With("component", "event_consumer"),
	}
}

// HandleMessage processes one NATS message carrying a JSON ledger event.
func (c *EventConsumer) HandleMessage(ctx context.Context, msg *nats.Msg) {
	var evt ledger.Event
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		eventsReceivedTotal.WithLabelValues("undecodable").Inc()
		c.logger.ErrorContext(ctx, "Failed to decode ledger event", "subject", msg.Subject, "error", err)
		return
	}
	eventsReceivedTotal.WithLabelValues(string(evt.Type)).Inc()
	logger := c.logger.With("event_id", evt.ID, "event_type", evt.Type, "user_id", evt.UserID)

	n, ok := domain.Render(evt)
	if !ok {
		logger.DebugContext(ctx, "Event does not produce a notification")
		return
	}
	if err := c.sender.Send(ctx, n); err != nil {
		notificationsTotal.WithLabelValues(string(n.Type), "error").Inc()
		logger.ErrorContext(ctx, "Failed to deliver notification", "notification_type", n.Type, "error", err)
		return
	}
	notificationsTotal.WithLabelValues(string(n.Type), "delivered").Inc()
	logger.InfoContext(ctx, "Notification delivered", "notification_type", n.Type, "channels", n.Channels)
}

// StartConsuming subscribes to subject in queueGroup and blocks until ctx is cancelled.
func (c *EventConsumer) StartConsuming(ctx context.Context, subject, queueGroup string) error {
	c.logger.InfoContext(ctx, "Starting NATS subscription", "subject", subject, "queue_group", queueGroup)
	_, err := c.subscriber.Subscribe(ctx, subject, queueGroup, func(msg *nats.Msg) {
		c.HandleMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	<-ctx.Done()
	c.logger.Info("NATS subscription ended", "subject", subject)
	return nil
}
