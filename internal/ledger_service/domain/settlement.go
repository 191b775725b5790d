package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type SettlementOutcome string

const (
	OutcomeSuccess SettlementOutcome = "success"
	OutcomeFailure SettlementOutcome = "failure"
)

const ReasonInsufficientBalance = "insufficient goal balance"

// Settlement is the confirmed result of a pending transaction.
type Settlement struct {
	Outcome SettlementOutcome
	// ConfirmedAmount, when positive, replaces the requested amount.
	ConfirmedAmount decimal.Decimal
	ExternalReceipt string
	Reason          string
	At              time.Time
}

// ApplySettlement resolves a pending transaction and applies its balance effect to goal.
// Both are mutated in place; the caller persists them atomically and publishes the
// returned events only after the write commits.
// A transaction accepted before its goal was paused or cancelled still settles
// against that goal; the goal status is left as it is.
func ApplySettlement(txn *Transaction, goal *Goal, s Settlement) ([]Event, error) {
	if txn.Status.IsTerminal() {
		return nil, ErrAlreadyTerminal
	}
	if txn.GoalID != goal.ID {
		return nil, fmt.Errorf("transaction %s does not belong to goal %s", txn.ID, goal.ID)
	}
	at := s.At
	if s.ExternalReceipt != "" {
		txn.ExternalReceipt = s.ExternalReceipt
	}

	switch s.Outcome {
	case OutcomeFailure:
		return []Event{failTransaction(txn, goal, s.Reason, at)}, nil
	case OutcomeSuccess:
	default:
		return nil, NewValidationError("outcome", fmt.Sprintf("unknown settlement outcome %q", s.Outcome))
	}

	if s.ConfirmedAmount.IsPositive() {
		txn.Amount = s.ConfirmedAmount
	}
	if txn.Type == TransactionTypeWithdrawal && txn.Amount.GreaterThan(goal.CurrentAmount) {
		return []Event{failTransaction(txn, goal, ReasonInsufficientBalance, at)}, nil
	}

	before := goal.CurrentAmount
	goal.CurrentAmount = before.Add(txn.SignedAmount())
	goal.UpdatedAt = at
	completed := goal.completeIfReached(at)

	txn.Status = StatusCompleted
	txn.FailureReason = ""
	txn.ProcessedAt = &at

	events := []Event{newTransactionEvent(EventSettlementCompleted, txn, goal, at)}
	for _, m := range CrossedMilestones(before, goal.CurrentAmount, goal.TargetAmount) {
		evt := newTransactionEvent(EventMilestoneCrossed, txn, goal, at)
		evt.Milestone = m
		events = append(events, evt)
	}
	if completed {
		events = append(events, newTransactionEvent(EventGoalCompleted, txn, goal, at))
	}
	return events, nil
}

func failTransaction(txn *Transaction, goal *Goal, reason string, at time.Time) Event {
	if reason == "" {
		reason = "settlement failed"
	}
	txn.Status = StatusFailed
	txn.FailureReason = reason
	txn.ProcessedAt = &at
	return newTransactionEvent(EventSettlementFailed, txn, goal, at)
}

// CancelTransaction withdraws a pending request. It has no balance effect.
func CancelTransaction(txn *Transaction, at time.Time) error {
	if txn.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	txn.Status = StatusCancelled
	txn.ProcessedAt = &at
	return nil
}

// CrossedMilestones returns each milestone m with before% < m <= after%.
func CrossedMilestones(before, after, target decimal.Decimal) []int {
	if !target.IsPositive() || !after.GreaterThan(before) {
		return nil
	}
	hundred := decimal.NewFromInt(100)
	beforePct := before.Mul(hundred).Div(target)
	afterPct := after.Mul(hundred).Div(target)

	var crossed []int
	for _, m := range Milestones {
		mark := decimal.NewFromInt(int64(m))
		if beforePct.LessThan(mark) && afterPct.GreaterThanOrEqual(mark) {
			crossed = append(crossed, m)
		}
	}
	return crossed
}
