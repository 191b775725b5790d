package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	ledger "github.com/familysavings/golang_services/internal/ledger_service/domain"
	"github.com/familysavings/golang_services/internal/notification_service/domain"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, n *domain.Notification) error {
	return m.Called(ctx, n).Error(0)
}

type MockSubscriber struct {
	mock.Mock
	handler    nats.MsgHandler
	subscribed chan struct{}
}

func (m *MockSubscriber) Subscribe(ctx context.Context, subject, queueGroup string, handler nats.MsgHandler) (*nats.Subscription, error) {
	args := m.Called(ctx, subject, queueGroup, mock.Anything)
	m.handler = handler
	if m.subscribed != nil {
		close(m.subscribed)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*nats.Subscription), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func eventMsg(t *testing.T, evt ledger.Event) *nats.Msg {
	t.Helper()
	data, err := json.Marshal(evt)
	require.NoError(t, err)
	return &nats.Msg{Subject: "savings.events." + string(evt.Type), Data: data}
}

func completedDeposit() ledger.Event {
	return ledger.Event{
		ID:              uuid.New(),
		Type:            ledger.EventSettlementCompleted,
		UserID:          uuid.New(),
		GoalID:          uuid.New(),
		GoalTitle:       "Bicycle",
		TransactionType: ledger.TransactionTypeDeposit,
		Amount:          decimal.NewFromInt(300),
		CurrentAmount:   decimal.NewFromInt(300),
		TargetAmount:    decimal.NewFromInt(1200),
	}
}

func TestHandleMessage_DeliversRenderedNotification(t *testing.T) {
	sender := new(MockSender)
	c := NewEventConsumer(nil, sender, testLogger())
	evt := completedDeposit()

	sender.On("Send", mock.Anything, mock.MatchedBy(func(n *domain.Notification) bool {
		return n.EventID == evt.ID && n.UserID == evt.UserID && n.Type == domain.TypePaymentSuccess
	})).Return(nil).Once()

	c.HandleMessage(context.Background(), eventMsg(t, evt))
	sender.AssertExpectations(t)
}

func TestHandleMessage_SkipsSilentEventsAndGarbage(t *testing.T) {
	sender := new(MockSender)
	c := NewEventConsumer(nil, sender, testLogger())

	evt := completedDeposit()
	evt.Type = ledger.EventMilestoneCrossed
	evt.Milestone = 100
	c.HandleMessage(context.Background(), eventMsg(t, evt))
	c.HandleMessage(context.Background(), &nats.Msg{Subject: "savings.events.x", Data: []byte("{not json")})

	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestHandleMessage_SendFailureIsSwallowed(t *testing.T) {
	sender := new(MockSender)
	c := NewEventConsumer(nil, sender, testLogger())
	sender.On("Send", mock.Anything, mock.Anything).Return(errors.New("smtp down")).Once()

	assert.NotPanics(t, func() {
		c.HandleMessage(context.Background(), eventMsg(t, completedDeposit()))
	})
	sender.AssertExpectations(t)
}

func TestStartConsuming(t *testing.T) {
	sub := &MockSubscriber{subscribed: make(chan struct{})}
	sender := new(MockSender)
	c := NewEventConsumer(sub, sender, testLogger())
	sub.On("Subscribe", mock.Anything, "savings.events.>", "notification_workers", mock.Anything).
		Return(&nats.Subscription{}, nil).Once()
	sender.On("Send", mock.Anything, mock.Anything).Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.StartConsuming(ctx, "savings.events.>", "notification_workers") }()

	select {
	case <-sub.subscribed:
	case <-time.After(time.Second):
		t.Fatal("consumer never subscribed")
	}
	sub.handler(eventMsg(t, completedDeposit()))
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("StartConsuming did not return after cancel")
	}
	sub.AssertExpectations(t)
	sender.AssertExpectations(t)
}

func TestStartConsuming_SubscribeError(t *testing.T) {
	sub := new(MockSubscriber)
	sub.On("Subscribe", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nats.ErrConnectionClosed).Once()
	c := NewEventConsumer(sub, new(MockSender), testLogger())

	err := c.StartConsuming(context.Background(), "savings.events.>", "")
	assert.ErrorIs(t, err, nats.ErrConnectionClosed)
}

func TestLogSender_OneLinePerChannel(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSender(slog.New(slog.NewJSONHandler(&buf, nil)))
	n, ok := domain.Render(ledger.Event{Type: ledger.EventGoalCompleted, GoalTitle: "Trip", CurrentAmount: decimal.NewFromInt(5000)})
	require.True(t, ok)

	require.NoError(t, s.Send(context.Background(), n))
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), `"channel":"email"`)
	assert.Contains(t, string(lines[1]), `"channel":"sms"`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, s.Send(ctx, n))
}
