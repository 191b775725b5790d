package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/familysavings/golang_services/internal/ledger_service/domain"
)

// EventSink receives events after the ledger write that produced them has committed.
// Implementations must not block the caller.
type EventSink interface {
	Dispatch(ctx context.Context, events []domain.Event)
}

// EventPublisher delivers a single event to the outside world (NATS in production).
type EventPublisher interface {
	Publish(ctx context.Context, evt domain.Event) error
}

const drainTimeout = 5 * time.Second

// AsyncEventDispatcher buffers events and publishes them from its own goroutine.
// A full buffer drops the event; publish failures are logged and swallowed.
type AsyncEventDispatcher struct {
	publisher EventPublisher
	queue     chan domain.Event
	logger    *slog.Logger
}

func NewAsyncEventDispatcher(publisher EventPublisher, bufferSize int, logger *slog.Logger) *AsyncEventDispatcher {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &AsyncEventDispatcher{
		publisher: publisher,
		queue:     make(chan domain.Event, bufferSize),
		logger:    logger.With("component", "event_dispatcher"),
	}
}

func (d *AsyncEventDispatcher) Dispatch(ctx context.Context, events []domain.Event) {
	for _, evt := range events {
		select {
		case d.queue <- evt:
		default:
			eventsDispatchedTotal.WithLabelValues(string(evt.Type), "dropped").Inc()
			d.logger.WarnContext(ctx, "Event buffer full, dropping event", "event_id", evt.ID, "type", evt.Type, "goal_id", evt.GoalID)
		}
	}
}

// Run publishes queued events until ctx is cancelled, then drains what is left
// with a short deadline.
func (d *AsyncEventDispatcher) Run(ctx context.Context) error {
	d.logger.InfoContext(ctx, "Event dispatcher started", "buffer", cap(d.queue))
	for {
		select {
		case evt := <-d.queue:
			d.publish(ctx, evt)
		case <-ctx.Done():
			d.drain()
			return nil
		}
	}
}

func (d *AsyncEventDispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case evt := <-d.queue:
			d.publish(ctx, evt)
		default:
			d.logger.Info("Event dispatcher stopped")
			return
		}
	}
}

func (d *AsyncEventDispatcher) publish(ctx context.Context, evt domain.Event) {
	if err := d.publisher.Publish(ctx, evt); err != nil {
		eventsDispatchedTotal.WithLabelValues(string(evt.Type), "publish_error").Inc()
		d.logger.ErrorContext(ctx, "Failed to publish event", "event_id", evt.ID, "type", evt.Type, "error", err)
		return
	}
	eventsDispatchedTotal.WithLabelValues(string(evt.Type), "published").Inc()
}
