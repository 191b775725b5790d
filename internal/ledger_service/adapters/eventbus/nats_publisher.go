package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/familysavings/golang_services/internal/ledger_service/domain"
)

// Publisher is the subset of messagebroker.NatsClient used here.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NatsEventPublisher publishes ledger events as JSON on <prefix>.<event type>,
// e.g. savings.events.milestone.crossed.
type NatsEventPublisher struct {
	client Publisher
	prefix string
	logger *slog.Logger
}

func NewNatsEventPublisher(client Publisher, subjectPrefix string, logger *slog.Logger) *NatsEventPublisher {
	return &NatsEventPublisher{client: client, prefix: subjectPrefix, logger: logger.With("component", "nats_event_publisher")}
}

// Subject returns the subject an event of type t is published on.
func Subject(prefix string, t domain.EventType) string {
	return prefix + "." + string(t)
}

// Wildcard matches every event published under prefix.
func Wildcard(prefix string) string {
	return prefix + ".>"
}

func (p *NatsEventPublisher) Publish(ctx context.Context, evt domain.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encoding event %s: %w", evt.ID, err)
	}
	subject := Subject(p.prefix, evt.Type)
	if err := p.client.Publish(ctx, subject, data); err != nil {
		return err
	}
	p.logger.DebugContext(ctx, "Event published", "subject", subject, "event_id", evt.ID, "goal_id", evt.GoalID)
	return nil
}
