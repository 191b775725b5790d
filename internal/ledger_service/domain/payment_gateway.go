package domain

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InitiateRequest struct {
	TransactionID    uuid.UUID
	PhoneNumber      string
	Amount           decimal.Decimal
	AccountReference string
	Description      string
}

type InitiateResponse struct {
	CorrelationID   string
	CustomerMessage string
}

type PaymentOutcome string

const (
	PaymentPending PaymentOutcome = "pending"
	PaymentSuccess PaymentOutcome = "success"
	PaymentFailed  PaymentOutcome = "failed"
)

type PaymentStatus struct {
	Outcome         PaymentOutcome
	ConfirmedAmount decimal.Decimal
	Receipt         string
	Description     string
}

// CallbackEvent is a gateway callback decoded into ledger terms.
type CallbackEvent struct {
	CorrelationID string
	Status        PaymentStatus
}

// PaymentGatewayAdapter is the boundary to an external collection provider.
// Errors are *GatewayError so callers can tell rejection from an unknown outcome.
type PaymentGatewayAdapter interface {
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error)
	QueryStatus(ctx context.Context, correlationID string) (*PaymentStatus, error)
	ParseCallback(ctx context.Context, payload []byte) (*CallbackEvent, error)
}
