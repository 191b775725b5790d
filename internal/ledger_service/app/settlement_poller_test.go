package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/familysavings/golang_services/internal/ledger_service/domain"
)

func setupPollerTest(t *testing.T) (*ledgerFixture, *SettlementPoller) {
	t.Helper()
	f := setupLedgerTest(t)
	p := NewSettlementPoller(f.store, f.gateway, f.svc, testLogger(), PollerConfig{
		PollDelay: time.Minute,
		Timeout:   10 * time.Minute,
		BatchSize: 10,
		Clock:     f.clock.Now,
	})
	return f, p
}

func (f *ledgerFixture) initiated(t *testing.T, goal *domain.Goal, amount int64, reference string) *domain.Transaction {
	t.Helper()
	txn := f.txn(t, goal, domain.TransactionTypeDeposit, domain.MethodMobileMoney, amount)
	require.NoError(t, f.store.AttachReference(context.Background(), txn.ID, reference))
	txn.Reference = reference
	return txn
}

func (f *ledgerFixture) status(t *testing.T, txn *domain.Transaction) *domain.Transaction {
	t.Helper()
	stored, err := f.store.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	return stored
}

func TestSettlementPoller_SkipsFreshTransactions(t *testing.T) {
	f, p := setupPollerTest(t)
	goal := f.goal(t, 1000)
	f.initiated(t, goal, 100, "ws_CO_fresh")
	f.txn(t, goal, domain.TransactionTypeDeposit, domain.MethodCash, 50)

	n, err := p.PollPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	f.gateway.AssertNotCalled(t, "QueryStatus", mock.Anything, mock.Anything)
}

func TestSettlementPoller_SettlesConfirmedPayment(t *testing.T) {
	f, p := setupPollerTest(t)
	goal := f.goal(t, 1000)
	txn := f.initiated(t, goal, 100, "ws_CO_ok")
	f.gateway.On("QueryStatus", mock.Anything, "ws_CO_ok").Return(&domain.PaymentStatus{
		Outcome: domain.PaymentSuccess, ConfirmedAmount: decimal.NewFromInt(100), Receipt: "QKA1",
	}, nil).Once()

	f.clock.Advance(2 * time.Minute)
	n, err := p.PollPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored := f.status(t, txn)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Equal(t, "QKA1", stored.ExternalReceipt)
	assert.True(t, f.balance(t, goal.ID).Equal(decimal.NewFromInt(100)))

	n, err = p.PollPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "settled transactions leave the pending set")
	f.gateway.AssertExpectations(t)
}

func TestSettlementPoller_RecordsGatewayFailure(t *testing.T) {
	f, p := setupPollerTest(t)
	goal := f.goal(t, 1000)
	txn := f.initiated(t, goal, 100, "ws_CO_cancelled")
	f.gateway.On("QueryStatus", mock.Anything, "ws_CO_cancelled").
		Return(&domain.PaymentStatus{Outcome: domain.PaymentFailed, Description: "Request cancelled by user"}, nil)

	f.clock.Advance(2 * time.Minute)
	_, err := p.PollPending(context.Background())
	require.NoError(t, err)

	stored := f.status(t, txn)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Equal(t, "Request cancelled by user", stored.FailureReason)
	assert.True(t, f.balance(t, goal.ID).IsZero())
}

func TestSettlementPoller_ExpiresAfterTimeout(t *testing.T) {
	f, p := setupPollerTest(t)
	goal := f.goal(t, 1000)
	pending := f.initiated(t, goal, 100, "ws_CO_slow")
	neverSent := f.txn(t, goal, domain.TransactionTypeDeposit, domain.MethodMobileMoney, 100)
	f.gateway.On("QueryStatus", mock.Anything, "ws_CO_slow").Return(&domain.PaymentStatus{Outcome: domain.PaymentPending}, nil)

	f.clock.Advance(5 * time.Minute)
	n, err := p.PollPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, domain.StatusPending, f.status(t, pending).Status)
	assert.Equal(t, domain.StatusPending, f.status(t, neverSent).Status)

	f.clock.Advance(6 * time.Minute)
	_, err = p.PollPending(context.Background())
	require.NoError(t, err)

	expired := f.status(t, pending)
	assert.Equal(t, domain.StatusFailed, expired.Status)
	assert.Equal(t, ReasonTimedOut, expired.FailureReason)
	assert.Equal(t, ReasonNeverInitiated, f.status(t, neverSent).FailureReason)
	f.gateway.AssertNumberOfCalls(t, "QueryStatus", 2)
}

func TestSettlementPoller_AmbiguousQueryError(t *testing.T) {
	f, p := setupPollerTest(t)
	goal := f.goal(t, 1000)
	txn := f.initiated(t, goal, 100, "ws_CO_flaky")
	f.gateway.On("QueryStatus", mock.Anything, "ws_CO_flaky").
		Return(nil, &domain.GatewayError{Op: "stk_query", StatusCode: 503, Err: errors.New("service unavailable")})

	f.clock.Advance(2 * time.Minute)
	_, err := p.PollPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, f.status(t, txn).Status, "an unknown outcome is retried, not failed")

	f.clock.Advance(10 * time.Minute)
	_, err = p.PollPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, f.status(t, txn).Status, "an unknown outcome is never timed out")

	settled, err := f.svc.Settle(context.Background(), SettleRequest{
		Reference:       "ws_CO_flaky",
		Outcome:         domain.OutcomeSuccess,
		ConfirmedAmount: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, settled.Status)
	assert.True(t, f.balance(t, goal.ID).Equal(decimal.NewFromInt(100)), "a late confirmation still credits the goal")
}

func TestSettlementPoller_DefinitiveQueryErrorExpires(t *testing.T) {
	f, p := setupPollerTest(t)
	goal := f.goal(t, 1000)
	txn := f.initiated(t, goal, 100, "ws_CO_unknown")
	f.gateway.On("QueryStatus", mock.Anything, "ws_CO_unknown").
		Return(nil, &domain.GatewayError{Op: "stk_query", Definitive: true, StatusCode: 400, Err: errors.New("invalid CheckoutRequestID")})

	f.clock.Advance(2 * time.Minute)
	_, err := p.PollPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, f.status(t, txn).Status)

	f.clock.Advance(10 * time.Minute)
	_, err = p.PollPending(context.Background())
	require.NoError(t, err)
	expired := f.status(t, txn)
	assert.Equal(t, domain.StatusFailed, expired.Status)
	assert.Equal(t, ReasonTimedOut, expired.FailureReason)
}

func TestSettlementPoller_StaleReservationExpires(t *testing.T) {
	f, p := setupPollerTest(t)
	goal := f.goal(t, 1000)
	txn := f.txn(t, goal, domain.TransactionTypeDeposit, domain.MethodMobileMoney, 100)
	require.NoError(t, f.store.AttachReference(context.Background(), txn.ID, domain.InitiationPlaceholder(txn.ID)))

	f.clock.Advance(11 * time.Minute)
	_, err := p.PollPending(context.Background())
	require.NoError(t, err)

	expired := f.status(t, txn)
	assert.Equal(t, domain.StatusFailed, expired.Status)
	assert.Equal(t, ReasonNeverInitiated, expired.FailureReason)
	f.gateway.AssertNotCalled(t, "QueryStatus", mock.Anything, mock.Anything)
}

func TestSettlementPoller_RepollAndExpire(t *testing.T) {
	f, p := setupPollerTest(t)
	ctx := context.Background()
	goal := f.goal(t, 1000)

	txn := f.initiated(t, goal, 200, "ws_CO_manual")
	f.gateway.On("QueryStatus", mock.Anything, "ws_CO_manual").Return(&domain.PaymentStatus{Outcome: domain.PaymentPending}, nil).Once()
	still, err := p.Repoll(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, still.Status)

	f.gateway.On("QueryStatus", mock.Anything, "ws_CO_manual").Return(&domain.PaymentStatus{Outcome: domain.PaymentSuccess}, nil).Once()
	settled, err := p.Repoll(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, settled.Status)
	assert.True(t, f.balance(t, goal.ID).Equal(decimal.NewFromInt(200)))

	again, err := p.Repoll(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, again.Status)

	orphan := f.txn(t, goal, domain.TransactionTypeDeposit, domain.MethodMobileMoney, 100)
	_, err = p.Repoll(ctx, orphan.ID)
	assert.True(t, domain.IsValidationError(err))

	expired, err := p.Expire(ctx, orphan.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, expired.Status)
	assert.Equal(t, ReasonTimedOut, expired.FailureReason)
	f.gateway.AssertExpectations(t)
}

func TestSettlementPoller_RunRejectsBadSchedule(t *testing.T) {
	_, p := setupPollerTest(t)
	err := p.Run(context.Background(), "not a schedule")
	assert.Error(t, err)
}
