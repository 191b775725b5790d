package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// VelocityWindowDays is the window used for projections and the on-track check.
	VelocityWindowDays = 30
	day                = 24 * time.Hour
	// maxProjectionDays keeps projected dates representable as time.Duration.
	maxProjectionDays = 36500
)

var hundred = decimal.NewFromInt(100)

// ClampPercentage is current/target*100 rounded to two places and clamped to [0, 100].
// A non-positive target yields zero.
func ClampPercentage(current, target decimal.Decimal) decimal.Decimal {
	if !target.IsPositive() {
		return decimal.Zero
	}
	pct := current.Mul(hundred).Div(target).Round(2)
	if pct.IsNegative() {
		return decimal.Zero
	}
	if pct.GreaterThan(hundred) {
		return hundred
	}
	return pct
}

// DaysRemaining is the number of whole days from now until targetDate, rounded down.
func DaysRemaining(targetDate, now time.Time) int {
	d := targetDate.Sub(now)
	days := int(d / day)
	if d < 0 && d%day != 0 {
		days--
	}
	return days
}

type RequiredRate struct {
	Amount        decimal.Decimal `json:"amount"`
	DaysRemaining int             `json:"days_remaining"`
	Overdue       bool            `json:"overdue"`
}

// DailyRequiredRate is remaining / days_remaining. With no days left and money still
// owed, the whole remaining amount is due and the result is flagged overdue.
func DailyRequiredRate(goal *Goal, now time.Time) RequiredRate {
	remaining := goal.RemainingAmount()
	days := DaysRemaining(goal.TargetDate, now)
	switch {
	case remaining.IsZero():
		return RequiredRate{Amount: decimal.Zero, DaysRemaining: days}
	case days <= 0:
		return RequiredRate{Amount: remaining, DaysRemaining: days, Overdue: true}
	default:
		return RequiredRate{Amount: remaining.Div(decimal.NewFromInt(int64(days))), DaysRemaining: days}
	}
}

// RecentVelocity averages completed deposits created in [now-windowDays, now) over windowDays.
func RecentVelocity(history []*Transaction, windowDays int, now time.Time) decimal.Decimal {
	if windowDays <= 0 {
		return decimal.Zero
	}
	from := now.Add(-time.Duration(windowDays) * day)
	sum := decimal.Zero
	for _, t := range history {
		if !isCompletedDeposit(t) {
			continue
		}
		if t.CreatedAt.Before(from) || !t.CreatedAt.Before(now) {
			continue
		}
		sum = sum.Add(t.Amount)
	}
	return sum.Div(decimal.NewFromInt(int64(windowDays)))
}

// ProjectedCompletionDate extrapolates the 30-day velocity. With no recent deposits
// the target date is returned; a funded goal reports when it was completed.
func ProjectedCompletionDate(goal *Goal, history []*Transaction, now time.Time) time.Time {
	remaining := goal.RemainingAmount()
	if remaining.IsZero() {
		if goal.CompletedAt != nil {
			return *goal.CompletedAt
		}
		return now
	}
	velocity := RecentVelocity(history, VelocityWindowDays, now)
	if !velocity.IsPositive() {
		return goal.TargetDate
	}
	days := remaining.Div(velocity)
	if days.GreaterThan(decimal.NewFromInt(maxProjectionDays)) {
		days = decimal.NewFromInt(maxProjectionDays)
	}
	offset := days.Mul(decimal.NewFromInt(int64(day))).IntPart()
	return now.Add(time.Duration(offset))
}

// IsOnTrack compares the 30-day velocity with the daily required rate; a tie is on track.
func IsOnTrack(goal *Goal, history []*Transaction, now time.Time) bool {
	velocity := RecentVelocity(history, VelocityWindowDays, now)
	return velocity.GreaterThanOrEqual(DailyRequiredRate(goal, now).Amount)
}

type MonthlyTotal struct {
	Month    time.Time       `json:"month"`
	Label    string          `json:"label"`
	Deposits decimal.Decimal `json:"deposits"`
	Count    int             `json:"count"`
}

// MonthStart returns the first instant of t's calendar month in UTC.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// TrendWindowStart is the first instant covered by MonthlyTrendSeries.
func TrendWindowStart(months int, now time.Time) time.Time {
	return MonthStart(now).AddDate(0, -(months - 1), 0)
}

// MonthlyTrendSeries sums completed deposits per calendar month for the last `months`
// months including the current one, oldest first, with empty months reported as zero.
func MonthlyTrendSeries(history []*Transaction, months int, now time.Time) []MonthlyTotal {
	if months <= 0 {
		return nil
	}
	start := TrendWindowStart(months, now)
	series := make([]MonthlyTotal, months)
	for i := range series {
		m := start.AddDate(0, i, 0)
		series[i] = MonthlyTotal{Month: m, Label: m.Format("2006-01"), Deposits: decimal.Zero}
	}
	end := start.AddDate(0, months, 0)
	for _, t := range history {
		if !isCompletedDeposit(t) {
			continue
		}
		created := t.CreatedAt.UTC()
		if created.Before(start) || !created.Before(end) {
			continue
		}
		idx := (created.Year()-start.Year())*12 + int(created.Month()) - int(start.Month())
		series[idx].Deposits = series[idx].Deposits.Add(t.Amount)
		series[idx].Count++
	}
	return series
}

type CategorySummary struct {
	Category      GoalCategory    `json:"category"`
	GoalCount     int             `json:"goal_count"`
	TargetAmount  decimal.Decimal `json:"target_amount"`
	CurrentAmount decimal.Decimal `json:"current_amount"`
	Percentage    decimal.Decimal `json:"percentage"`
}

// CategoryBreakdown groups goals by category, sorted by category name.
func CategoryBreakdown(goals []*Goal) []CategorySummary {
	byCat := make(map[GoalCategory]*CategorySummary)
	for _, g := range goals {
		s, ok := byCat[g.Category]
		if !ok {
			s = &CategorySummary{Category: g.Category, TargetAmount: decimal.Zero, CurrentAmount: decimal.Zero}
			byCat[g.Category] = s
		}
		s.GoalCount++
		s.TargetAmount = s.TargetAmount.Add(g.TargetAmount)
		s.CurrentAmount = s.CurrentAmount.Add(g.CurrentAmount)
	}

	out := make([]CategorySummary, 0, len(byCat))
	for _, s := range byCat {
		s.Percentage = ClampPercentage(s.CurrentAmount, s.TargetAmount)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

type MethodSummary struct {
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

type SpendingSummary struct {
	PeriodDays       int                                 `json:"period_days"`
	TotalDeposits    decimal.Decimal                     `json:"total_deposits"`
	TotalWithdrawals decimal.Decimal                     `json:"total_withdrawals"`
	NetSavings       decimal.Decimal                     `json:"net_savings"`
	TransactionCount int                                 `json:"transaction_count"`
	AverageDeposit   decimal.Decimal                     `json:"average_deposit"`
	Methods          map[TransactionMethod]MethodSummary `json:"methods"`
	PeakSavingDay    string                              `json:"peak_saving_day,omitempty"`
}

// SummarizeSpending aggregates completed transactions created in [now-periodDays, now).
// The peak day is the weekday with the largest deposit total; ties go to the earlier weekday.
func SummarizeSpending(history []*Transaction, periodDays int, now time.Time) SpendingSummary {
	from := now.Add(-time.Duration(periodDays) * day)
	sum := SpendingSummary{
		PeriodDays:       periodDays,
		TotalDeposits:    decimal.Zero,
		TotalWithdrawals: decimal.Zero,
		AverageDeposit:   decimal.Zero,
		Methods:          make(map[TransactionMethod]MethodSummary),
	}
	var byWeekday [7]decimal.Decimal
	deposits := 0

	for _, t := range history {
		if t.Status != StatusCompleted || t.CreatedAt.Before(from) || !t.CreatedAt.Before(now) {
			continue
		}
		sum.TransactionCount++
		ms := sum.Methods[t.Method]
		ms.Count++
		ms.Amount = ms.Amount.Add(t.Amount)
		sum.Methods[t.Method] = ms

		switch t.Type {
		case TransactionTypeDeposit:
			deposits++
			sum.TotalDeposits = sum.TotalDeposits.Add(t.Amount)
			wd := t.CreatedAt.UTC().Weekday()
			byWeekday[wd] = byWeekday[wd].Add(t.Amount)
		case TransactionTypeWithdrawal:
			sum.TotalWithdrawals = sum.TotalWithdrawals.Add(t.Amount)
		}
	}

	sum.NetSavings = sum.TotalDeposits.Sub(sum.TotalWithdrawals)
	if deposits > 0 {
		sum.AverageDeposit = sum.TotalDeposits.Div(decimal.NewFromInt(int64(deposits))).Round(2)
		peak := time.Sunday
		for wd := time.Sunday; wd <= time.Saturday; wd++ {
			if byWeekday[wd].GreaterThan(byWeekday[peak]) {
				peak = wd
			}
		}
		sum.PeakSavingDay = peak.String()
	}
	return sum
}

func isCompletedDeposit(t *Transaction) bool {
	return t.Type == TransactionTypeDeposit && t.Status == StatusCompleted
}
