package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/familysavings/golang_services/internal/ledger_service/domain"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	return m.Called(ctx, subject, data).Error(0)
}

func TestNatsEventPublisher_Publish(t *testing.T) {
	client := new(MockPublisher)
	p := NewNatsEventPublisher(client, "savings.events", slog.New(slog.NewTextHandler(io.Discard, nil)))

	txnID := uuid.New()
	evt := domain.Event{
		ID:            uuid.New(),
		Type:          domain.EventMilestoneCrossed,
		OccurredAt:    time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC),
		UserID:        uuid.New(),
		GoalID:        uuid.New(),
		GoalTitle:     "Holiday",
		TransactionID: &txnID,
		Amount:        decimal.NewFromInt(250),
		CurrentAmount: decimal.NewFromInt(500),
		TargetAmount:  decimal.NewFromInt(1000),
		Milestone:     50,
	}

	var sent []byte
	client.On("Publish", mock.Anything, "savings.events.milestone.crossed", mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(2).([]byte) }).
		Return(nil).Once()

	require.NoError(t, p.Publish(context.Background(), evt))
	client.AssertExpectations(t)

	var decoded domain.Event
	require.NoError(t, json.Unmarshal(sent, &decoded))
	assert.Equal(t, evt.ID, decoded.ID)
	assert.Equal(t, 50, decoded.Milestone)
	assert.True(t, decoded.CurrentAmount.Equal(evt.CurrentAmount))
	require.NotNil(t, decoded.TransactionID)
	assert.Equal(t, txnID, *decoded.TransactionID)
}

func TestNatsEventPublisher_PublishError(t *testing.T) {
	client := new(MockPublisher)
	p := NewNatsEventPublisher(client, "savings.events", slog.New(slog.NewTextHandler(io.Discard, nil)))
	client.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("nats: connection closed"))

	err := p.Publish(context.Background(), domain.Event{ID: uuid.New(), Type: domain.EventGoalCompleted})
	assert.Error(t, err)
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "savings.events.goal.completed", Subject("savings.events", domain.EventGoalCompleted))
	assert.Equal(t, "savings.events.>", Wildcard("savings.events"))
}
