package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type GoalStatus string

const (
	GoalStatusActive    GoalStatus = "active"
	GoalStatusCompleted GoalStatus = "completed"
	GoalStatusPaused    GoalStatus = "paused"
	GoalStatusCancelled GoalStatus = "cancelled"
)

func ParseGoalStatus(s string) (GoalStatus, error) {
	switch st := GoalStatus(strings.ToLower(s)); st {
	case GoalStatusActive, GoalStatusCompleted, GoalStatusPaused, GoalStatusCancelled:
		return st, nil
	}
	return "", NewValidationError("status", "unknown goal status "+s)
}

type GoalCategory string

const (
	CategoryEducation   GoalCategory = "education"
	CategoryVacation    GoalCategory = "vacation"
	CategoryEmergency   GoalCategory = "emergency"
	CategoryToys        GoalCategory = "toys"
	CategoryElectronics GoalCategory = "electronics"
	CategoryOther       GoalCategory = "other"
)

func ParseGoalCategory(s string) (GoalCategory, error) {
	switch c := GoalCategory(strings.ToLower(s)); c {
	case CategoryEducation, CategoryVacation, CategoryEmergency, CategoryToys, CategoryElectronics, CategoryOther:
		return c, nil
	}
	return "", NewValidationError("category", "unknown goal category "+s)
}

type GoalPriority string

const (
	PriorityLow    GoalPriority = "low"
	PriorityMedium GoalPriority = "medium"
	PriorityHigh   GoalPriority = "high"
)

func ParseGoalPriority(s string) (GoalPriority, error) {
	switch p := GoalPriority(strings.ToLower(s)); p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return p, nil
	}
	return "", NewValidationError("priority", "unknown goal priority "+s)
}

type AutoSaveFrequency string

const (
	AutoSaveDaily   AutoSaveFrequency = "daily"
	AutoSaveWeekly  AutoSaveFrequency = "weekly"
	AutoSaveMonthly AutoSaveFrequency = "monthly"
)

// AutoSavePolicy is the owner's standing instruction for recurring deposits.
// It is stored with the goal; nothing in the ledger acts on it automatically.
type AutoSavePolicy struct {
	Amount    decimal.Decimal   `json:"amount"`
	Frequency AutoSaveFrequency `json:"frequency"`
}

func (p *AutoSavePolicy) validate() error {
	if !p.Amount.IsPositive() {
		return NewValidationError("auto_save.amount", "must be greater than zero")
	}
	if err := checkScale("auto_save.amount", p.Amount); err != nil {
		return err
	}
	switch p.Frequency {
	case AutoSaveDaily, AutoSaveWeekly, AutoSaveMonthly:
		return nil
	}
	return NewValidationError("auto_save.frequency", "must be daily, weekly or monthly")
}

// Goal is a named savings target owned by one user.
type Goal struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	Title         string          `json:"title"`
	Description   string          `json:"description,omitempty"`
	TargetAmount  decimal.Decimal `json:"target_amount"`
	CurrentAmount decimal.Decimal `json:"current_amount"`
	TargetDate    time.Time       `json:"target_date"`
	Category      GoalCategory    `json:"category"`
	Priority      GoalPriority    `json:"priority"`
	Status        GoalStatus      `json:"status"`
	AutoSave      *AutoSavePolicy `json:"auto_save,omitempty"`
	Version       int64           `json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

type NewGoalParams struct {
	UserID       uuid.UUID
	Title        string
	Description  string
	TargetAmount decimal.Decimal
	TargetDate   time.Time
	Category     GoalCategory
	Priority     GoalPriority
	AutoSave     *AutoSavePolicy
}

// NewGoal validates params and returns an active goal with a zero balance.
func NewGoal(p NewGoalParams, now time.Time) (*Goal, error) {
	if p.UserID == uuid.Nil {
		return nil, NewValidationError("user_id", "is required")
	}
	title := strings.TrimSpace(p.Title)
	if title == "" {
		return nil, NewValidationError("title", "is required")
	}
	if !p.TargetAmount.IsPositive() {
		return nil, NewValidationError("target_amount", "must be greater than zero")
	}
	if err := checkScale("target_amount", p.TargetAmount); err != nil {
		return nil, err
	}
	if !p.TargetDate.After(now) {
		return nil, NewValidationError("target_date", "must be in the future")
	}
	if p.Category == "" {
		p.Category = CategoryOther
	}
	if _, err := ParseGoalCategory(string(p.Category)); err != nil {
		return nil, err
	}
	if p.Priority == "" {
		p.Priority = PriorityMedium
	}
	if _, err := ParseGoalPriority(string(p.Priority)); err != nil {
		return nil, err
	}
	if p.AutoSave != nil {
		if err := p.AutoSave.validate(); err != nil {
			return nil, err
		}
	}

	return &Goal{
		ID:            uuid.New(),
		UserID:        p.UserID,
		Title:         title,
		Description:   strings.TrimSpace(p.Description),
		TargetAmount:  p.TargetAmount,
		CurrentAmount: decimal.Zero,
		TargetDate:    p.TargetDate.UTC(),
		Category:      p.Category,
		Priority:      p.Priority,
		Status:        GoalStatusActive,
		AutoSave:      p.AutoSave,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// GoalUpdate lists owner-editable fields; nil means unchanged. The balance is not editable.
type GoalUpdate struct {
	Title         *string
	Description   *string
	TargetAmount  *decimal.Decimal
	TargetDate    *time.Time
	Category      *GoalCategory
	Priority      *GoalPriority
	Status        *GoalStatus
	AutoSave      *AutoSavePolicy
	ClearAutoSave bool
}

// ApplyUpdate edits the goal in place and reports whether the edit completed it
// (a lowered target can make the balance sufficient).
func (g *Goal) ApplyUpdate(u GoalUpdate, now time.Time) (bool, error) {
	if u.Title != nil {
		title := strings.TrimSpace(*u.Title)
		if title == "" {
			return false, NewValidationError("title", "must not be empty")
		}
		g.Title = title
	}
	if u.Description != nil {
		g.Description = strings.TrimSpace(*u.Description)
	}
	if u.TargetAmount != nil {
		if !u.TargetAmount.IsPositive() {
			return false, NewValidationError("target_amount", "must be greater than zero")
		}
		if err := checkScale("target_amount", *u.TargetAmount); err != nil {
			return false, err
		}
		g.TargetAmount = *u.TargetAmount
	}
	if u.TargetDate != nil {
		if !u.TargetDate.After(now) {
			return false, NewValidationError("target_date", "must be in the future")
		}
		g.TargetDate = u.TargetDate.UTC()
	}
	if u.Category != nil {
		if _, err := ParseGoalCategory(string(*u.Category)); err != nil {
			return false, err
		}
		g.Category = *u.Category
	}
	if u.Priority != nil {
		if _, err := ParseGoalPriority(string(*u.Priority)); err != nil {
			return false, err
		}
		g.Priority = *u.Priority
	}
	if u.Status != nil && *u.Status != g.Status {
		if err := g.changeStatus(*u.Status); err != nil {
			return false, err
		}
	}
	if u.ClearAutoSave {
		g.AutoSave = nil
	} else if u.AutoSave != nil {
		if err := u.AutoSave.validate(); err != nil {
			return false, err
		}
		g.AutoSave = u.AutoSave
	}
	g.UpdatedAt = now
	return g.completeIfReached(now), nil
}

// changeStatus allows active<->paused and active|paused->cancelled.
// Completion is only reached through the balance.
func (g *Goal) changeStatus(to GoalStatus) error {
	if _, err := ParseGoalStatus(string(to)); err != nil {
		return err
	}
	if to == GoalStatusCompleted {
		return NewValidationError("status", "goals complete when the balance reaches the target")
	}
	if g.Status == GoalStatusCompleted || g.Status == GoalStatusCancelled {
		return NewValidationError("status", "goal is "+string(g.Status)+" and can no longer change status")
	}
	g.Status = to
	return nil
}

// RemainingAmount is max(target - current, 0).
func (g *Goal) RemainingAmount() decimal.Decimal {
	rem := g.TargetAmount.Sub(g.CurrentAmount)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// ProgressPercentage is current/target*100 clamped to [0, 100].
func (g *Goal) ProgressPercentage() decimal.Decimal {
	return ClampPercentage(g.CurrentAmount, g.TargetAmount)
}

// completeIfReached moves an active goal to completed once the balance covers the target.
func (g *Goal) completeIfReached(now time.Time) bool {
	if g.Status != GoalStatusActive || g.CurrentAmount.LessThan(g.TargetAmount) {
		return false
	}
	g.Status = GoalStatusCompleted
	at := now
	g.CompletedAt = &at
	return true
}

// checkScale rejects amounts finer than cents; the stores keep two decimal places.
func checkScale(field string, amount decimal.Decimal) error {
	if !amount.Equal(amount.Round(2)) {
		return NewValidationError(field, "must have at most two decimal places")
	}
	return nil
}
