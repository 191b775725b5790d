package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deposit(amount int64, createdAt time.Time, status TransactionStatus) *Transaction {
	return &Transaction{
		Amount:    decimal.NewFromInt(amount),
		Type:      TransactionTypeDeposit,
		Method:    MethodMobileMoney,
		Status:    status,
		CreatedAt: createdAt,
	}
}

func TestDaysRemaining(t *testing.T) {
	assert.Equal(t, 30, DaysRemaining(testNow.Add(30*day), testNow))
	assert.Equal(t, 29, DaysRemaining(testNow.Add(30*day-time.Minute), testNow))
	assert.Equal(t, 0, DaysRemaining(testNow.Add(time.Hour), testNow))
	assert.Equal(t, -1, DaysRemaining(testNow.Add(-time.Hour), testNow))
}

func TestDailyRequiredRate(t *testing.T) {
	goal := &Goal{TargetAmount: decimal.NewFromInt(1000), CurrentAmount: decimal.NewFromInt(500), TargetDate: testNow.Add(30 * day)}

	t.Run("SpreadsRemainingOverWholeDays", func(t *testing.T) {
		rate := DailyRequiredRate(goal, testNow.Add(time.Minute))
		assert.Equal(t, 29, rate.DaysRemaining)
		assert.False(t, rate.Overdue)
		assert.True(t, rate.Amount.Equal(decimal.NewFromInt(500).Div(decimal.NewFromInt(29))))
	})

	t.Run("OverdueWithBalanceOwed", func(t *testing.T) {
		rate := DailyRequiredRate(goal, testNow.Add(31*day))
		assert.True(t, rate.Overdue)
		assert.True(t, rate.Amount.Equal(decimal.NewFromInt(500)))
	})

	t.Run("FundedGoalNeedsNothing", func(t *testing.T) {
		funded := *goal
		funded.CurrentAmount = decimal.NewFromInt(1200)
		rate := DailyRequiredRate(&funded, testNow.Add(31*day))
		assert.False(t, rate.Overdue)
		assert.True(t, rate.Amount.IsZero())
	})
}

func TestRecentVelocity(t *testing.T) {
	history := []*Transaction{
		deposit(300, testNow.Add(-1*day), StatusCompleted),
		deposit(300, testNow.Add(-30*day), StatusCompleted), // window start is inclusive
		deposit(999, testNow.Add(-30*day-time.Second), StatusCompleted),
		deposit(999, testNow, StatusCompleted), // window end is exclusive
		deposit(999, testNow.Add(-2*day), StatusPending),
		{Amount: decimal.NewFromInt(999), Type: TransactionTypeWithdrawal, Status: StatusCompleted, CreatedAt: testNow.Add(-day)},
	}
	v := RecentVelocity(history, 30, testNow)
	assert.True(t, v.Equal(decimal.NewFromInt(20)), v.String())
	assert.True(t, RecentVelocity(history, 0, testNow).IsZero())
}

func TestProjectedCompletionAndOnTrack(t *testing.T) {
	goal := &Goal{TargetAmount: decimal.NewFromInt(1000), CurrentAmount: decimal.NewFromInt(400), TargetDate: testNow.Add(60 * day)}

	t.Run("NoVelocityFallsBackToTargetDate", func(t *testing.T) {
		assert.Equal(t, goal.TargetDate, ProjectedCompletionDate(goal, nil, testNow))
		assert.False(t, IsOnTrack(goal, nil, testNow))
	})

	t.Run("ExtrapolatesVelocity", func(t *testing.T) {
		// 300 over 30 days = 10/day; 600 remaining = 60 days.
		history := []*Transaction{deposit(300, testNow.Add(-5*day), StatusCompleted)}
		assert.Equal(t, testNow.Add(60*day), ProjectedCompletionDate(goal, history, testNow))
		assert.True(t, IsOnTrack(goal, history, testNow), "10/day equals the required rate")
	})

	t.Run("FundedGoalReportsCompletion", func(t *testing.T) {
		done := *goal
		done.CurrentAmount = decimal.NewFromInt(1000)
		completedAt := testNow.Add(-day)
		done.CompletedAt = &completedAt
		assert.Equal(t, completedAt, ProjectedCompletionDate(&done, nil, testNow))
		assert.True(t, IsOnTrack(&done, nil, testNow))
	})
}

func TestMonthlyTrendSeries(t *testing.T) {
	history := []*Transaction{
		deposit(100, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), StatusCompleted),
		deposit(50, time.Date(2026, time.March, 9, 0, 0, 0, 0, time.UTC), StatusCompleted),
		deposit(70, time.Date(2025, time.April, 30, 23, 0, 0, 0, time.UTC), StatusCompleted),
		deposit(999, time.Date(2025, time.March, 31, 23, 59, 0, 0, time.UTC), StatusCompleted),
		deposit(999, time.Date(2026, time.February, 3, 0, 0, 0, 0, time.UTC), StatusFailed),
	}

	series := MonthlyTrendSeries(history, 12, testNow)
	require.Len(t, series, 12)
	assert.Equal(t, "2025-04", series[0].Label)
	assert.Equal(t, "2026-03", series[11].Label)
	assert.True(t, series[0].Deposits.Equal(decimal.NewFromInt(70)))
	assert.True(t, series[10].Deposits.IsZero(), "failed deposits and empty months are zero")
	assert.True(t, series[11].Deposits.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, 2, series[11].Count)
	for i := 1; i < len(series); i++ {
		assert.True(t, series[i].Month.After(series[i-1].Month))
	}
}

func TestCategoryBreakdown(t *testing.T) {
	goals := []*Goal{
		{Category: CategoryVacation, TargetAmount: decimal.NewFromInt(1000), CurrentAmount: decimal.NewFromInt(250)},
		{Category: CategoryVacation, TargetAmount: decimal.NewFromInt(1000), CurrentAmount: decimal.NewFromInt(250)},
		{Category: CategoryEducation, TargetAmount: decimal.NewFromInt(100), CurrentAmount: decimal.NewFromInt(300)},
	}

	out := CategoryBreakdown(goals)
	require.Len(t, out, 2)
	assert.Equal(t, CategoryEducation, out[0].Category)
	assert.True(t, out[0].Percentage.Equal(decimal.NewFromInt(100)), "clamped to 100")
	assert.Equal(t, 2, out[1].GoalCount)
	assert.True(t, out[1].Percentage.Equal(decimal.NewFromInt(25)))
}

func TestClampPercentage(t *testing.T) {
	assert.True(t, ClampPercentage(decimal.NewFromInt(10), decimal.Zero).IsZero())
	assert.True(t, ClampPercentage(decimal.NewFromInt(-10), decimal.NewFromInt(100)).IsZero())
	assert.True(t, ClampPercentage(decimal.NewFromInt(1), decimal.NewFromInt(3)).Equal(decimal.RequireFromString("33.33")))
}

func TestSummarizeSpending(t *testing.T) {
	monday := time.Date(2026, time.March, 9, 10, 0, 0, 0, time.UTC)
	history := []*Transaction{
		deposit(100, monday, StatusCompleted),
		deposit(300, monday.Add(-day), StatusCompleted), // Sunday
		{Amount: decimal.NewFromInt(50), Type: TransactionTypeWithdrawal, Method: MethodCash, Status: StatusCompleted, CreatedAt: monday},
		deposit(999, monday, StatusFailed),
		deposit(999, testNow.Add(-8*day), StatusCompleted),
	}

	sum := SummarizeSpending(history, 7, testNow)
	assert.Equal(t, 3, sum.TransactionCount)
	assert.True(t, sum.TotalDeposits.Equal(decimal.NewFromInt(400)))
	assert.True(t, sum.TotalWithdrawals.Equal(decimal.NewFromInt(50)))
	assert.True(t, sum.NetSavings.Equal(decimal.NewFromInt(350)))
	assert.True(t, sum.AverageDeposit.Equal(decimal.NewFromInt(200)))
	assert.Equal(t, "Sunday", sum.PeakSavingDay)
	assert.Equal(t, 2, sum.Methods[MethodMobileMoney].Count)
	assert.Equal(t, 1, sum.Methods[MethodCash].Count)
}
