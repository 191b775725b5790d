package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	ledger "github.com/familysavings/golang_services/internal/ledger_service/domain"
)

type NotificationType string

const (
	TypePaymentSuccess NotificationType = "payment_success"
	TypePaymentFailed  NotificationType = "payment_failed"
	TypeGoalMilestone  NotificationType = "goal_milestone"
	TypeGoalCompleted  NotificationType = "goal_completed"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Notification is a rendered message addressed to one user.
type Notification struct {
	EventID  uuid.UUID        `json:"event_id"`
	UserID   uuid.UUID        `json:"user_id"`
	GoalID   uuid.UUID        `json:"goal_id"`
	Title    string           `json:"title"`
	Message  string           `json:"message"`
	Type     NotificationType `json:"type"`
	Priority Priority         `json:"priority"`
	Channels []Channel        `json:"channels"`
}

// Render turns a ledger event into the notification the user should receive.
// It returns false for events that do not notify anyone.
func Render(evt ledger.Event) (*Notification, bool) {
	n := &Notification{
		EventID:  evt.ID,
		UserID:   evt.UserID,
		GoalID:   evt.GoalID,
		Priority: PriorityMedium,
		Channels: []Channel{ChannelEmail},
	}

	switch evt.Type {
	case ledger.EventSettlementCompleted:
		n.Type = TypePaymentSuccess
		switch evt.TransactionType {
		case ledger.TransactionTypeDeposit:
			n.Title = "Payment Successful!"
			n.Message = fmt.Sprintf("Your payment of %s to your goal %q has been processed successfully. Keep up the great work on your savings journey!",
				FormatKES(evt.Amount), evt.GoalTitle)
		case ledger.TransactionTypeWithdrawal:
			n.Title = "Withdrawal Processed"
			n.Message = fmt.Sprintf("%s has been withdrawn from your goal %q. Current balance: %s.",
				FormatKES(evt.Amount), evt.GoalTitle, FormatKES(evt.CurrentAmount))
		default:
			return nil, false
		}

	case ledger.EventSettlementFailed:
		n.Type = TypePaymentFailed
		n.Priority = PriorityHigh
		n.Title = "Payment Failed"
		n.Message = fmt.Sprintf("Your %s of %s for goal %q could not be completed", evt.TransactionType, FormatKES(evt.Amount), evt.GoalTitle)
		if evt.Reason != "" {
			n.Message += ": " + evt.Reason
		}
		n.Message += "."

	case ledger.EventMilestoneCrossed:
		// goal.completed covers the final milestone
		if evt.Milestone >= 100 {
			return nil, false
		}
		n.Type = TypeGoalMilestone
		n.Priority = PriorityHigh
		n.Title = fmt.Sprintf("%d%% Goal Achieved!", evt.Milestone)
		n.Message = fmt.Sprintf("Congratulations! You've reached %d%% of your goal %q. Current progress: %s of %s. Keep saving to reach your target.",
			evt.Milestone, evt.GoalTitle, FormatKES(evt.CurrentAmount), FormatKES(evt.TargetAmount))

	case ledger.EventGoalCompleted:
		n.Type = TypeGoalCompleted
		n.Priority = PriorityHigh
		n.Channels = []Channel{ChannelEmail, ChannelSMS}
		n.Title = "Goal Completed!"
		n.Message = fmt.Sprintf("You've successfully completed your goal %q! Final amount saved: %s. Time to set your next savings goal!",
			evt.GoalTitle, FormatKES(evt.CurrentAmount))

	default:
		return nil, false
	}
	return n, true
}

// HasChannel reports whether n is addressed to ch.
func (n *Notification) HasChannel(ch Channel) bool {
	for _, c := range n.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

// FormatKES renders an amount as "KES 1,234.50".
func FormatKES(amount decimal.Decimal) string {
	s := amount.Abs().StringFixed(2)
	whole, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	if amount.IsNegative() {
		b.WriteByte('-')
	}
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return "KES " + b.String() + "." + frac
}
