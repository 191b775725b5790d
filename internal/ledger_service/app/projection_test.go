package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/familysavings/golang_services/internal/ledger_service/domain"
)

// seedDeposit stores an already completed deposit created at the given time.
func seedDeposit(t *testing.T, store domain.LedgerStore, goal *domain.Goal, amount int64, at time.Time) {
	t.Helper()
	processed := at
	require.NoError(t, store.InsertTransaction(context.Background(), &domain.Transaction{
		ID:          uuid.New(),
		UserID:      goal.UserID,
		GoalID:      goal.ID,
		Amount:      decimal.NewFromInt(amount),
		Type:        domain.TransactionTypeDeposit,
		Method:      domain.MethodCash,
		Status:      domain.StatusCompleted,
		Fee:         decimal.Zero,
		CreatedAt:   at,
		ProcessedAt: &processed,
	}))
}

func TestProjectionEngine_GoalProgress(t *testing.T) {
	f := setupLedgerTest(t)
	ctx := context.Background()
	goal := f.goal(t, 3000)
	dep := f.txn(t, goal, domain.TransactionTypeDeposit, domain.MethodCash, 900)
	_, err := f.svc.ConfirmManualTransaction(ctx, f.userID, dep.ID, "")
	require.NoError(t, err)
	seedDeposit(t, f.store, goal, 300, baseTime.AddDate(0, 0, -45))

	f.clock.Advance(24 * time.Hour)
	engine := NewProjectionEngine(f.store, testLogger(), f.clock.Now)

	p, err := engine.GoalProgress(ctx, f.userID, goal.ID)
	require.NoError(t, err)
	assert.Equal(t, 29, p.DaysRemaining)
	assert.True(t, p.ProgressPercentage.Equal(decimal.NewFromInt(30)), p.ProgressPercentage.String())
	assert.True(t, p.RemainingAmount.Equal(decimal.NewFromInt(2100)))
	assert.True(t, p.DailyAverage.Equal(decimal.NewFromInt(30)), p.DailyAverage.String())
	assert.True(t, p.DailyRequired.Equal(decimal.RequireFromString("72.41")), p.DailyRequired.String())
	assert.False(t, p.OnTrack)
	assert.Equal(t, TrendIncreasing, p.VelocityTrend)
	assert.True(t, p.ProjectedCompletion.After(goal.TargetDate))

	onTrack, err := engine.IsOnTrack(ctx, f.userID, goal.ID)
	require.NoError(t, err)
	assert.False(t, onTrack)

	velocity, err := engine.RecentVelocity(ctx, f.userID, goal.ID, 60)
	require.NoError(t, err)
	assert.True(t, velocity.Equal(decimal.NewFromInt(20)), velocity.String())

	_, err = engine.RecentVelocity(ctx, f.userID, goal.ID, 0)
	assert.True(t, domain.IsValidationError(err))

	_, err = engine.GoalProgress(ctx, uuid.New(), goal.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProjectionEngine_ProjectionWithoutDepositsFallsBackToTargetDate(t *testing.T) {
	f := setupLedgerTest(t)
	goal := f.goal(t, 1000)
	engine := NewProjectionEngine(f.store, testLogger(), f.clock.Now)

	projected, err := engine.ProjectedCompletionDate(context.Background(), f.userID, goal.ID)
	require.NoError(t, err)
	assert.True(t, projected.Equal(goal.TargetDate))
}

func TestProjectionEngine_MonthlyTrendAndOverview(t *testing.T) {
	f := setupLedgerTest(t)
	ctx := context.Background()
	school := f.goal(t, 1000)
	seedDeposit(t, f.store, school, 100, time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC))
	seedDeposit(t, f.store, school, 50, time.Date(2026, time.January, 20, 9, 0, 0, 0, time.UTC))
	seedDeposit(t, f.store, school, 70, time.Date(2024, time.January, 20, 9, 0, 0, 0, time.UTC))

	engine := NewProjectionEngine(f.store, testLogger(), f.clock.Now)
	series, err := engine.MonthlyTrendSeries(ctx, f.userID, 0)
	require.NoError(t, err)
	require.Len(t, series, 12)
	assert.Equal(t, "2026-03", series[11].Label)
	assert.True(t, series[11].Deposits.Equal(decimal.NewFromInt(100)))
	assert.True(t, series[9].Deposits.Equal(decimal.NewFromInt(50)))

	_, err = engine.MonthlyTrendSeries(ctx, f.userID, 37)
	assert.True(t, domain.IsValidationError(err))

	overview, err := engine.SavingsOverview(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, 1, overview.TotalGoals)
	assert.Equal(t, 1, overview.ActiveGoals)
	assert.True(t, overview.TotalTarget.Equal(decimal.NewFromInt(1000)))
	// 150 deposited in the last 90 days
	assert.True(t, overview.MonthlySavingsRate.Equal(decimal.NewFromInt(50)), overview.MonthlySavingsRate.String())
	assert.Len(t, overview.MonthlyTrend, 12)
	require.Len(t, overview.Categories, 1)
	assert.Equal(t, domain.CategoryEducation, overview.Categories[0].Category)
}

func TestProjectionEngine_SpendingPatterns(t *testing.T) {
	f := setupLedgerTest(t)
	ctx := context.Background()
	goal := f.goal(t, 1000)
	seedDeposit(t, f.store, goal, 120, baseTime.AddDate(0, 0, -3))
	seedDeposit(t, f.store, goal, 80, baseTime.AddDate(0, 0, -40))

	engine := NewProjectionEngine(f.store, testLogger(), f.clock.Now)
	summary, err := engine.SpendingPatterns(ctx, f.userID, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TransactionCount)
	assert.True(t, summary.TotalDeposits.Equal(decimal.NewFromInt(120)))
	assert.True(t, summary.NetSavings.Equal(decimal.NewFromInt(120)))

	_, err = engine.SpendingPatterns(ctx, f.userID, 400)
	assert.True(t, domain.IsValidationError(err))
}
