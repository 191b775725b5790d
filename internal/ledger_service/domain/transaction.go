package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "deposit"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
	TransactionTypeTransfer   TransactionType = "transfer"
)

func ParseTransactionType(s string) (TransactionType, error) {
	switch t := TransactionType(strings.ToLower(s)); t {
	case TransactionTypeDeposit, TransactionTypeWithdrawal, TransactionTypeTransfer:
		return t, nil
	}
	return "", NewValidationError("type", "unknown transaction type "+s)
}

type TransactionMethod string

const (
	MethodMobileMoney  TransactionMethod = "mobile_money"
	MethodBankTransfer TransactionMethod = "bank_transfer"
	MethodCash         TransactionMethod = "cash"
	MethodCard         TransactionMethod = "card"
)

func ParseTransactionMethod(s string) (TransactionMethod, error) {
	switch m := TransactionMethod(strings.ToLower(s)); m {
	case MethodMobileMoney, MethodBankTransfer, MethodCash, MethodCard:
		return m, nil
	}
	return "", NewValidationError("method", "unknown transaction method "+s)
}

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
	StatusCancelled TransactionStatus = "cancelled"
)

func ParseTransactionStatus(s string) (TransactionStatus, error) {
	switch st := TransactionStatus(strings.ToLower(s)); st {
	case StatusPending, StatusCompleted, StatusFailed, StatusCancelled:
		return st, nil
	}
	return "", NewValidationError("status", "unknown transaction status "+s)
}

// IsTerminal reports whether no further transition is allowed.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Transaction is one requested movement of money against a goal.
type Transaction struct {
	ID               uuid.UUID         `json:"id"`
	UserID           uuid.UUID         `json:"user_id"`
	GoalID           uuid.UUID         `json:"goal_id"`
	Amount           decimal.Decimal   `json:"amount"`
	Type             TransactionType   `json:"type"`
	Method           TransactionMethod `json:"method"`
	Status           TransactionStatus `json:"status"`
	Description      string            `json:"description,omitempty"`
	Reference        string            `json:"reference,omitempty"` // gateway correlation id
	ExternalReceipt  string            `json:"external_receipt,omitempty"`
	PhoneNumber      string            `json:"phone_number,omitempty"`
	AccountReference string            `json:"account_reference,omitempty"`
	Fee              decimal.Decimal   `json:"fee"`
	FailureReason    string            `json:"failure_reason,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	ProcessedAt      *time.Time        `json:"processed_at,omitempty"`
}

// SignedAmount is the balance effect of the transaction once completed:
// +amount for deposits, -amount for withdrawals, zero for transfers.
func (t *Transaction) SignedAmount() decimal.Decimal {
	switch t.Type {
	case TransactionTypeDeposit:
		return t.Amount
	case TransactionTypeWithdrawal:
		return t.Amount.Neg()
	default:
		return decimal.Zero
	}
}

const initiationPlaceholderPrefix = "initiating:"

// InitiationPlaceholder is the reference a transaction holds while its gateway
// initiation is in flight. It blocks cancellation and a second initiation.
func InitiationPlaceholder(id uuid.UUID) string {
	return initiationPlaceholderPrefix + id.String()
}

// HasGatewayReference reports whether the gateway accepted the payment and
// returned a correlation id.
func (t *Transaction) HasGatewayReference() bool {
	return t.Reference != "" && !strings.HasPrefix(t.Reference, initiationPlaceholderPrefix)
}

var phonePattern = regexp.MustCompile(`^254\d{9}$`)

// ValidPhoneNumber accepts Kenyan MSISDNs in the 2547XXXXXXXX form.
func ValidPhoneNumber(phone string) bool {
	return phonePattern.MatchString(phone)
}

type NewTransactionParams struct {
	UserID           uuid.UUID
	GoalID           uuid.UUID
	Amount           decimal.Decimal
	Type             TransactionType
	Method           TransactionMethod
	Description      string
	PhoneNumber      string
	AccountReference string
}

// NewTransaction validates params against the goal and returns a pending transaction.
// The caller has already established that goal belongs to p.UserID.
func NewTransaction(p NewTransactionParams, goal *Goal, now time.Time) (*Transaction, error) {
	if !p.Amount.IsPositive() {
		return nil, NewValidationError("amount", "must be greater than zero")
	}
	if err := checkScale("amount", p.Amount); err != nil {
		return nil, err
	}
	if _, err := ParseTransactionType(string(p.Type)); err != nil {
		return nil, err
	}
	if _, err := ParseTransactionMethod(string(p.Method)); err != nil {
		return nil, err
	}
	if goal.Status == GoalStatusCancelled {
		return nil, NewValidationError("goal_id", "goal is cancelled")
	}
	if p.Type == TransactionTypeWithdrawal && p.Amount.GreaterThan(goal.CurrentAmount) {
		return nil, NewValidationError("amount", "withdrawal exceeds the goal balance")
	}
	if p.Method == MethodMobileMoney {
		if !ValidPhoneNumber(p.PhoneNumber) {
			return nil, NewValidationError("phone_number", "must be in the format 254XXXXXXXXX")
		}
		if !p.Amount.Equal(p.Amount.Truncate(0)) {
			return nil, NewValidationError("amount", "mobile money amounts must be whole units")
		}
	}

	accountRef := strings.TrimSpace(p.AccountReference)
	if accountRef == "" {
		accountRef = goal.Title
	}
	return &Transaction{
		ID:               uuid.New(),
		UserID:           p.UserID,
		GoalID:           goal.ID,
		Amount:           p.Amount,
		Type:             p.Type,
		Method:           p.Method,
		Status:           StatusPending,
		Description:      strings.TrimSpace(p.Description),
		PhoneNumber:      p.PhoneNumber,
		AccountReference: accountRef,
		Fee:              decimal.Zero,
		CreatedAt:        now,
	}, nil
}
