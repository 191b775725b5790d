package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/familysavings/golang_services/internal/ledger_service/domain"
)

const (
	rateWindowDays   = 90
	defaultTrendSpan = 12
	maxTrendSpan     = 36
	maxPeriodDays    = 365
)

type VelocityTrend string

const (
	TrendIncreasing VelocityTrend = "increasing"
	TrendDecreasing VelocityTrend = "decreasing"
	TrendSteady     VelocityTrend = "steady"
)

// GoalProgress is the per-goal analytics view.
type GoalProgress struct {
	GoalID              uuid.UUID           `json:"goal_id"`
	Title               string              `json:"title"`
	Category            domain.GoalCategory `json:"category"`
	Status              domain.GoalStatus   `json:"status"`
	TargetAmount        decimal.Decimal     `json:"target_amount"`
	CurrentAmount       decimal.Decimal     `json:"current_amount"`
	RemainingAmount     decimal.Decimal     `json:"remaining_amount"`
	ProgressPercentage  decimal.Decimal     `json:"progress_percentage"`
	DaysRemaining       int                 `json:"days_remaining"`
	DailyRequired       decimal.Decimal     `json:"daily_required"`
	Overdue             bool                `json:"overdue"`
	DailyAverage        decimal.Decimal     `json:"daily_average"`
	ProjectedCompletion time.Time           `json:"projected_completion"`
	OnTrack             bool                `json:"on_track"`
	VelocityTrend       VelocityTrend       `json:"velocity_trend"`
}

type SavingsOverview struct {
	TotalGoals         int                      `json:"total_goals"`
	ActiveGoals        int                      `json:"active_goals"`
	CompletedGoals     int                      `json:"completed_goals"`
	TotalTarget        decimal.Decimal          `json:"total_target"`
	TotalSaved         decimal.Decimal          `json:"total_saved"`
	OverallProgress    decimal.Decimal          `json:"overall_progress"`
	MonthlySavingsRate decimal.Decimal          `json:"monthly_savings_rate"`
	MonthlyTrend       []domain.MonthlyTotal    `json:"monthly_trend"`
	Categories         []domain.CategorySummary `json:"categories"`
}

// ProjectionEngine answers read-only analytics from committed transaction history.
type ProjectionEngine struct {
	store  domain.LedgerStore
	logger *slog.Logger
	clock  func() time.Time
}

func NewProjectionEngine(store domain.LedgerStore, logger *slog.Logger, clock func() time.Time) *ProjectionEngine {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &ProjectionEngine{store: store, logger: logger.With("component", "projection_engine"), clock: clock}
}

func (e *ProjectionEngine) ownedGoal(ctx context.Context, userID, goalID uuid.UUID) (*domain.Goal, error) {
	goal, err := e.store.GetGoal(ctx, goalID)
	if err != nil {
		return nil, err
	}
	if goal.UserID != userID {
		return nil, fmt.Errorf("goal %s: %w", goalID, domain.ErrNotFound)
	}
	return goal, nil
}

// depositHistory loads completed deposits created in [from, now).
func (e *ProjectionEngine) depositHistory(ctx context.Context, filter domain.TransactionFilter, from, now time.Time) ([]*domain.Transaction, error) {
	completed, deposit := domain.StatusCompleted, domain.TransactionTypeDeposit
	filter.Status = &completed
	filter.Type = &deposit
	filter.From = from
	filter.To = now
	history, err := e.store.QueryTransactions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("loading deposit history: %w", err)
	}
	return history, nil
}

func (e *ProjectionEngine) goalHistory(ctx context.Context, goal *domain.Goal, windowDays int, now time.Time) ([]*domain.Transaction, error) {
	from := now.AddDate(0, 0, -windowDays)
	return e.depositHistory(ctx, domain.TransactionFilter{GoalID: &goal.ID}, from, now)
}

func (e *ProjectionEngine) DailyRequiredRate(ctx context.Context, userID, goalID uuid.UUID) (domain.RequiredRate, error) {
	goal, err := e.ownedGoal(ctx, userID, goalID)
	if err != nil {
		return domain.RequiredRate{}, err
	}
	return domain.DailyRequiredRate(goal, e.clock()), nil
}

func (e *ProjectionEngine) RecentVelocity(ctx context.Context, userID, goalID uuid.UUID, windowDays int) (decimal.Decimal, error) {
	if windowDays <= 0 || windowDays > maxPeriodDays {
		return decimal.Zero, domain.NewValidationError("window_days", fmt.Sprintf("must be between 1 and %d", maxPeriodDays))
	}
	goal, err := e.ownedGoal(ctx, userID, goalID)
	if err != nil {
		return decimal.Zero, err
	}
	now := e.clock()
	history, err := e.goalHistory(ctx, goal, windowDays, now)
	if err != nil {
		return decimal.Zero, err
	}
	return domain.RecentVelocity(history, windowDays, now), nil
}

func (e *ProjectionEngine) ProjectedCompletionDate(ctx context.Context, userID, goalID uuid.UUID) (time.Time, error) {
	p, err := e.GoalProgress(ctx, userID, goalID)
	if err != nil {
		return time.Time{}, err
	}
	return p.ProjectedCompletion, nil
}

func (e *ProjectionEngine) IsOnTrack(ctx context.Context, userID, goalID uuid.UUID) (bool, error) {
	p, err := e.GoalProgress(ctx, userID, goalID)
	if err != nil {
		return false, err
	}
	return p.OnTrack, nil
}

func (e *ProjectionEngine) GoalProgress(ctx context.Context, userID, goalID uuid.UUID) (*GoalProgress, error) {
	goal, err := e.ownedGoal(ctx, userID, goalID)
	if err != nil {
		return nil, err
	}
	now := e.clock()
	history, err := e.goalHistory(ctx, goal, 2*domain.VelocityWindowDays, now)
	if err != nil {
		return nil, err
	}
	p := buildGoalProgress(goal, history, now)
	return &p, nil
}

func (e *ProjectionEngine) GoalProgressList(ctx context.Context, userID uuid.UUID) ([]GoalProgress, error) {
	goals, err := e.store.ListGoals(ctx, userID, domain.GoalFilter{})
	if err != nil {
		return nil, err
	}
	now := e.clock()
	history, err := e.depositHistory(ctx, domain.TransactionFilter{UserID: &userID},
		now.AddDate(0, 0, -2*domain.VelocityWindowDays), now)
	if err != nil {
		return nil, err
	}
	byGoal := make(map[uuid.UUID][]*domain.Transaction, len(goals))
	for _, t := range history {
		byGoal[t.GoalID] = append(byGoal[t.GoalID], t)
	}

	out := make([]GoalProgress, 0, len(goals))
	for _, g := range goals {
		out = append(out, buildGoalProgress(g, byGoal[g.ID], now))
	}
	return out, nil
}

func buildGoalProgress(goal *domain.Goal, history []*domain.Transaction, now time.Time) GoalProgress {
	rate := domain.DailyRequiredRate(goal, now)
	recent := domain.RecentVelocity(history, domain.VelocityWindowDays, now)
	prior := domain.RecentVelocity(history, domain.VelocityWindowDays, now.AddDate(0, 0, -domain.VelocityWindowDays))

	trend := TrendSteady
	switch {
	case recent.GreaterThan(prior):
		trend = TrendIncreasing
	case recent.LessThan(prior):
		trend = TrendDecreasing
	}

	return GoalProgress{
		GoalID:              goal.ID,
		Title:               goal.Title,
		Category:            goal.Category,
		Status:              goal.Status,
		TargetAmount:        goal.TargetAmount,
		CurrentAmount:       goal.CurrentAmount,
		RemainingAmount:     goal.RemainingAmount(),
		ProgressPercentage:  goal.ProgressPercentage(),
		DaysRemaining:       max(rate.DaysRemaining, 0),
		DailyRequired:       rate.Amount.Round(2),
		Overdue:             rate.Overdue,
		DailyAverage:        recent.Round(2),
		ProjectedCompletion: domain.ProjectedCompletionDate(goal, history, now),
		OnTrack:             domain.IsOnTrack(goal, history, now),
		VelocityTrend:       trend,
	}
}

func (e *ProjectionEngine) MonthlyTrendSeries(ctx context.Context, userID uuid.UUID, months int) ([]domain.MonthlyTotal, error) {
	if months == 0 {
		months = defaultTrendSpan
	}
	if months < 1 || months > maxTrendSpan {
		return nil, domain.NewValidationError("months", fmt.Sprintf("must be between 1 and %d", maxTrendSpan))
	}
	now := e.clock()
	history, err := e.depositHistory(ctx, domain.TransactionFilter{UserID: &userID}, domain.TrendWindowStart(months, now), now)
	if err != nil {
		return nil, err
	}
	return domain.MonthlyTrendSeries(history, months, now), nil
}

func (e *ProjectionEngine) CategoryBreakdown(ctx context.Context, userID uuid.UUID) ([]domain.CategorySummary, error) {
	goals, err := e.store.ListGoals(ctx, userID, domain.GoalFilter{})
	if err != nil {
		return nil, err
	}
	return domain.CategoryBreakdown(goals), nil
}

func (e *ProjectionEngine) SavingsOverview(ctx context.Context, userID uuid.UUID) (*SavingsOverview, error) {
	goals, err := e.store.ListGoals(ctx, userID, domain.GoalFilter{})
	if err != nil {
		return nil, err
	}
	now := e.clock()
	history, err := e.depositHistory(ctx, domain.TransactionFilter{UserID: &userID}, domain.TrendWindowStart(defaultTrendSpan, now), now)
	if err != nil {
		return nil, err
	}

	o := &SavingsOverview{TotalGoals: len(goals), TotalTarget: decimal.Zero, TotalSaved: decimal.Zero}
	for _, g := range goals {
		o.TotalTarget = o.TotalTarget.Add(g.TargetAmount)
		o.TotalSaved = o.TotalSaved.Add(g.CurrentAmount)
		switch g.Status {
		case domain.GoalStatusActive:
			o.ActiveGoals++
		case domain.GoalStatusCompleted:
			o.CompletedGoals++
		}
	}
	o.OverallProgress = domain.ClampPercentage(o.TotalSaved, o.TotalTarget)
	// deposits over the last 90 days spread across three months
	o.MonthlySavingsRate = domain.RecentVelocity(history, rateWindowDays, now).Mul(decimal.NewFromInt(rateWindowDays / 3)).Round(2)
	o.MonthlyTrend = domain.MonthlyTrendSeries(history, defaultTrendSpan, now)
	o.Categories = domain.CategoryBreakdown(goals)
	return o, nil
}

func (e *ProjectionEngine) SpendingPatterns(ctx context.Context, userID uuid.UUID, periodDays int) (*domain.SpendingSummary, error) {
	if periodDays < 1 || periodDays > maxPeriodDays {
		return nil, domain.NewValidationError("period_days", fmt.Sprintf("must be between 1 and %d", maxPeriodDays))
	}
	now := e.clock()
	completed := domain.StatusCompleted
	history, err := e.store.QueryTransactions(ctx, domain.TransactionFilter{
		UserID: &userID,
		Status: &completed,
		From:   now.AddDate(0, 0, -periodDays),
		To:     now,
	})
	if err != nil {
		return nil, fmt.Errorf("loading transactions: %w", err)
	}
	summary := domain.SummarizeSpending(history, periodDays, now)
	return &summary, nil
}
