package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/familysavings/golang_services/internal/ledger_service/domain"
)

func testEvent(t domain.EventType) domain.Event {
	return domain.Event{ID: uuid.New(), Type: t, GoalID: uuid.New(), OccurredAt: baseTime}
}

func TestAsyncEventDispatcher_PublishesInOrder(t *testing.T) {
	publisher := new(MockEventPublisher)
	published := make(chan domain.EventType, 3)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		published <- args.Get(1).(domain.Event).Type
	})

	d := NewAsyncEventDispatcher(publisher, 8, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		assert.NoError(t, d.Run(ctx))
		close(done)
	}()

	d.Dispatch(ctx, []domain.Event{
		testEvent(domain.EventSettlementCompleted),
		testEvent(domain.EventMilestoneCrossed),
		testEvent(domain.EventGoalCompleted),
	})

	var got []domain.EventType
	for i := 0; i < 3; i++ {
		select {
		case typ := <-published:
			got = append(got, typ)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for publish")
		}
	}
	assert.Equal(t, []domain.EventType{domain.EventSettlementCompleted, domain.EventMilestoneCrossed, domain.EventGoalCompleted}, got)

	cancel()
	<-done
}

func TestAsyncEventDispatcher_DropsWhenFull(t *testing.T) {
	publisher := new(MockEventPublisher)
	d := NewAsyncEventDispatcher(publisher, 2, testLogger())

	// Nothing is consuming yet, so the third event has nowhere to go.
	d.Dispatch(context.Background(), []domain.Event{
		testEvent(domain.EventSettlementCompleted),
		testEvent(domain.EventSettlementCompleted),
		testEvent(domain.EventSettlementFailed),
	})
	assert.Len(t, d.queue, 2)
	publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestAsyncEventDispatcher_PublishErrorIsSwallowed(t *testing.T) {
	publisher := new(MockEventPublisher)
	first, second := testEvent(domain.EventSettlementCompleted), testEvent(domain.EventGoalCompleted)
	publisher.On("Publish", mock.Anything, first).Return(errors.New("nats: connection closed")).Once()
	publisher.On("Publish", mock.Anything, second).Return(nil).Once()

	d := NewAsyncEventDispatcher(publisher, 4, testLogger())
	d.Dispatch(context.Background(), []domain.Event{first, second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))

	assert.Empty(t, d.queue)
	publisher.AssertExpectations(t)
}
