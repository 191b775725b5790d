package http

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/familysavings/golang_services/internal/ledger_service/domain"
)

type AutoSaveDTO struct {
	Amount    decimal.Decimal `json:"amount"`
	Frequency string          `json:"frequency" validate:"required,oneof=daily weekly monthly"`
}

func (a *AutoSaveDTO) policy() *domain.AutoSavePolicy {
	if a == nil {
		return nil
	}
	return &domain.AutoSavePolicy{Amount: a.Amount, Frequency: domain.AutoSaveFrequency(a.Frequency)}
}

type CreateGoalRequest struct {
	Title        string          `json:"title" validate:"required,max=200"`
	Description  string          `json:"description" validate:"max=1000"`
	TargetAmount decimal.Decimal `json:"target_amount"`
	TargetDate   time.Time       `json:"target_date" validate:"required"`
	Category     string          `json:"category" validate:"required,oneof=education vacation emergency toys electronics other"`
	Priority     string          `json:"priority" validate:"omitempty,oneof=low medium high"`
	AutoSave     *AutoSaveDTO    `json:"auto_save" validate:"omitempty"`
}

type UpdateGoalRequest struct {
	Title         *string          `json:"title" validate:"omitempty,max=200"`
	Description   *string          `json:"description" validate:"omitempty,max=1000"`
	TargetAmount  *decimal.Decimal `json:"target_amount"`
	TargetDate    *time.Time       `json:"target_date"`
	Category      *string          `json:"category" validate:"omitempty,oneof=education vacation emergency toys electronics other"`
	Priority      *string          `json:"priority" validate:"omitempty,oneof=low medium high"`
	Status        *string          `json:"status" validate:"omitempty,oneof=active paused cancelled"`
	AutoSave      *AutoSaveDTO     `json:"auto_save" validate:"omitempty"`
	ClearAutoSave bool             `json:"clear_auto_save"`
}

func (u UpdateGoalRequest) toDomain() domain.GoalUpdate {
	upd := domain.GoalUpdate{
		Title:         u.Title,
		Description:   u.Description,
		TargetAmount:  u.TargetAmount,
		TargetDate:    u.TargetDate,
		AutoSave:      u.AutoSave.policy(),
		ClearAutoSave: u.ClearAutoSave,
	}
	if u.Category != nil {
		c := domain.GoalCategory(*u.Category)
		upd.Category = &c
	}
	if u.Priority != nil {
		p := domain.GoalPriority(*u.Priority)
		upd.Priority = &p
	}
	if u.Status != nil {
		s := domain.GoalStatus(*u.Status)
		upd.Status = &s
	}
	return upd
}

type GoalResponse struct {
	*domain.Goal
	RemainingAmount    decimal.Decimal `json:"remaining_amount"`
	ProgressPercentage decimal.Decimal `json:"progress_percentage"`
}

func toGoalResponse(g *domain.Goal) GoalResponse {
	return GoalResponse{Goal: g, RemainingAmount: g.RemainingAmount(), ProgressPercentage: g.ProgressPercentage().Round(2)}
}

func toGoalResponses(goals []*domain.Goal) []GoalResponse {
	out := make([]GoalResponse, 0, len(goals))
	for _, g := range goals {
		out = append(out, toGoalResponse(g))
	}
	return out
}

type CreateTransactionRequest struct {
	GoalID           uuid.UUID       `json:"goal_id" validate:"required"`
	Amount           decimal.Decimal `json:"amount"`
	Type             string          `json:"type" validate:"required,oneof=deposit withdrawal transfer"`
	Method           string          `json:"method" validate:"required,oneof=mobile_money bank_transfer cash card"`
	Description      string          `json:"description" validate:"max=500"`
	PhoneNumber      string          `json:"phone_number" validate:"omitempty,numeric,len=12"`
	AccountReference string          `json:"account_reference" validate:"max=50"`
}

type MobilePaymentRequest struct {
	GoalID           uuid.UUID       `json:"goal_id" validate:"required"`
	Amount           decimal.Decimal `json:"amount"`
	PhoneNumber      string          `json:"phone_number" validate:"required,numeric,len=12"`
	AccountReference string          `json:"account_reference" validate:"max=50"`
	Description      string          `json:"description" validate:"max=500"`
}

type ConfirmTransactionRequest struct {
	Receipt string `json:"receipt" validate:"max=64"`
}

// GatewayFailureResponse reports a mobile payment that was recorded but failed at initiation.
type GatewayFailureResponse struct {
	Error       string              `json:"error"`
	Transaction *domain.Transaction `json:"transaction"`
}

// CallbackAck is the acknowledgement body Daraja expects from callback receivers.
type CallbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}
