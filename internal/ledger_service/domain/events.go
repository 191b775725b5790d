package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventSettlementCompleted EventType = "settlement.completed"
	EventSettlementFailed    EventType = "settlement.failed"
	EventMilestoneCrossed    EventType = "milestone.crossed"
	EventGoalCompleted       EventType = "goal.completed"
)

// Milestones are the progress percentages that raise a milestone event.
var Milestones = []int{25, 50, 75, 100}

// Event is emitted after a settlement commits. Consumers must treat delivery as best-effort.
type Event struct {
	ID              uuid.UUID       `json:"id"`
	Type            EventType       `json:"type"`
	OccurredAt      time.Time       `json:"occurred_at"`
	UserID          uuid.UUID       `json:"user_id"`
	GoalID          uuid.UUID       `json:"goal_id"`
	GoalTitle       string          `json:"goal_title"`
	TransactionID   *uuid.UUID      `json:"transaction_id,omitempty"`
	TransactionType TransactionType `json:"transaction_type,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	CurrentAmount   decimal.Decimal `json:"current_amount"`
	TargetAmount    decimal.Decimal `json:"target_amount"`
	Milestone       int             `json:"milestone,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	ExternalReceipt string          `json:"external_receipt,omitempty"`
}

func newGoalEvent(t EventType, goal *Goal, at time.Time) Event {
	return Event{
		ID:            uuid.New(),
		Type:          t,
		OccurredAt:    at,
		UserID:        goal.UserID,
		GoalID:        goal.ID,
		GoalTitle:     goal.Title,
		CurrentAmount: goal.CurrentAmount,
		TargetAmount:  goal.TargetAmount,
	}
}

func newTransactionEvent(t EventType, txn *Transaction, goal *Goal, at time.Time) Event {
	evt := newGoalEvent(t, goal, at)
	id := txn.ID
	evt.TransactionID = &id
	evt.TransactionType = txn.Type
	evt.Amount = txn.Amount
	evt.ExternalReceipt = txn.ExternalReceipt
	evt.Reason = txn.FailureReason
	return evt
}

// GoalCompletedEvent is raised when an owner edit (lowered target) completes a goal.
func GoalCompletedEvent(goal *Goal, at time.Time) Event {
	return newGoalEvent(EventGoalCompleted, goal, at)
}
