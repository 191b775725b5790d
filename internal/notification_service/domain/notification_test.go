package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ledger "github.com/familysavings/golang_services/internal/ledger_service/domain"
)

func ledgerEvent(t ledger.EventType) ledger.Event {
	return ledger.Event{
		ID:              uuid.New(),
		Type:            t,
		UserID:          uuid.New(),
		GoalID:          uuid.New(),
		GoalTitle:       "School fees",
		TransactionType: ledger.TransactionTypeDeposit,
		Amount:          decimal.NewFromInt(2500),
		CurrentAmount:   decimal.RequireFromString("7500.5"),
		TargetAmount:    decimal.NewFromInt(10000),
	}
}

func TestFormatKES(t *testing.T) {
	tests := map[string]string{
		"0":          "KES 0.00",
		"5":          "KES 5.00",
		"999.9":      "KES 999.90",
		"1000":       "KES 1,000.00",
		"1234567.25": "KES 1,234,567.25",
		"-42000":     "KES -42,000.00",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatKES(decimal.RequireFromString(in)), in)
	}
}

func TestRender_PaymentSuccess(t *testing.T) {
	evt := ledgerEvent(ledger.EventSettlementCompleted)
	n, ok := Render(evt)
	require.True(t, ok)
	assert.Equal(t, TypePaymentSuccess, n.Type)
	assert.Equal(t, PriorityMedium, n.Priority)
	assert.Equal(t, evt.UserID, n.UserID)
	assert.Equal(t, evt.ID, n.EventID)
	assert.Contains(t, n.Message, "KES 2,500.00")
	assert.Contains(t, n.Message, `"School fees"`)
	assert.Equal(t, []Channel{ChannelEmail}, n.Channels)
}

func TestRender_WithdrawalAndTransfer(t *testing.T) {
	evt := ledgerEvent(ledger.EventSettlementCompleted)
	evt.TransactionType = ledger.TransactionTypeWithdrawal
	n, ok := Render(evt)
	require.True(t, ok)
	assert.Equal(t, "Withdrawal Processed", n.Title)
	assert.Contains(t, n.Message, "KES 7,500.50")

	evt.TransactionType = ledger.TransactionTypeTransfer
	_, ok = Render(evt)
	assert.False(t, ok)
}

func TestRender_PaymentFailed(t *testing.T) {
	evt := ledgerEvent(ledger.EventSettlementFailed)
	evt.Reason = "settlement timed out"
	n, ok := Render(evt)
	require.True(t, ok)
	assert.Equal(t, TypePaymentFailed, n.Type)
	assert.Equal(t, PriorityHigh, n.Priority)
	assert.Contains(t, n.Message, "deposit of KES 2,500.00")
	assert.Contains(t, n.Message, ": settlement timed out.")
}

func TestRender_Milestones(t *testing.T) {
	evt := ledgerEvent(ledger.EventMilestoneCrossed)
	evt.Milestone = 75
	n, ok := Render(evt)
	require.True(t, ok)
	assert.Equal(t, TypeGoalMilestone, n.Type)
	assert.Equal(t, "75% Goal Achieved!", n.Title)
	assert.Contains(t, n.Message, "KES 7,500.50 of KES 10,000.00")
	assert.False(t, n.HasChannel(ChannelSMS))

	evt.Milestone = 100
	_, ok = Render(evt)
	assert.False(t, ok, "completion is announced by goal.completed")
}

func TestRender_GoalCompletedGoesBySMS(t *testing.T) {
	n, ok := Render(ledgerEvent(ledger.EventGoalCompleted))
	require.True(t, ok)
	assert.Equal(t, TypeGoalCompleted, n.Type)
	assert.True(t, n.HasChannel(ChannelEmail))
	assert.True(t, n.HasChannel(ChannelSMS))
}

func TestRender_UnknownType(t *testing.T) {
	_, ok := Render(ledgerEvent("goal.archived"))
	assert.False(t, ok)
}
