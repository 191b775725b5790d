package paymentgateway

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/familysavings/golang_services/internal/ledger_service/domain"
)

// MockGatewayAdapter stands in for M-Pesa in local runs. Every push is accepted
// and every status query reports the configured outcome. Callbacks use the
// Daraja body format, so the callback endpoint can be exercised with curl.
type MockGatewayAdapter struct {
	logger          *slog.Logger
	SimulateOutcome domain.PaymentOutcome
	FailInitiate    bool
}

var _ domain.PaymentGatewayAdapter = (*MockGatewayAdapter)(nil)

func NewMockGatewayAdapter(logger *slog.Logger, outcome domain.PaymentOutcome) *MockGatewayAdapter {
	if outcome == "" {
		outcome = domain.PaymentSuccess
	}
	return &MockGatewayAdapter{logger: logger.With("adapter", "mock_gateway"), SimulateOutcome: outcome}
}

func (m *MockGatewayAdapter) Initiate(ctx context.Context, req domain.InitiateRequest) (*domain.InitiateResponse, error) {
	if m.FailInitiate {
		m.logger.WarnContext(ctx, "Simulated initiation failure", "transaction_id", req.TransactionID)
		return nil, &domain.GatewayError{Op: "stk_push", Definitive: true, Err: errors.New("simulated rejection")}
	}
	id := "ws_CO_mock_" + uuid.NewString()
	m.logger.InfoContext(ctx, "Simulated STK push", "transaction_id", req.TransactionID, "checkout_request_id", id, "amount", req.Amount)
	return &domain.InitiateResponse{CorrelationID: id, CustomerMessage: "Success. Request accepted for processing"}, nil
}

func (m *MockGatewayAdapter) QueryStatus(ctx context.Context, correlationID string) (*domain.PaymentStatus, error) {
	m.logger.DebugContext(ctx, "Simulated status query", "checkout_request_id", correlationID, "outcome", m.SimulateOutcome)
	status := &domain.PaymentStatus{Outcome: m.SimulateOutcome}
	if m.SimulateOutcome == domain.PaymentFailed {
		status.Description = "simulated failure"
	}
	return status, nil
}

func (m *MockGatewayAdapter) ParseCallback(_ context.Context, payload []byte) (*domain.CallbackEvent, error) {
	return parseCallback(payload)
}
