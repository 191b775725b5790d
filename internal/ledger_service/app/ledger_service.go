package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/familysavings/golang_services/internal/ledger_service/domain"
)

// CallbackVerifier authenticates raw gateway callback payloads.
type CallbackVerifier interface {
	Verify(payload []byte, signature string) error
}

type LedgerConfig struct {
	// MaxSettleRetries bounds re-reads after a goal version conflict.
	MaxSettleRetries int
	Clock            func() time.Time
}

// SettleRequest identifies a pending transaction by id or gateway reference and
// carries the confirmed outcome.
type SettleRequest struct {
	TransactionID   uuid.UUID
	Reference       string
	Outcome         domain.SettlementOutcome
	ConfirmedAmount decimal.Decimal
	ExternalReceipt string
	Reason          string
}

// LedgerService owns every write to goal balances. Settle is the only path that
// credits or debits a goal.
type LedgerService struct {
	store    domain.LedgerStore
	gateway  domain.PaymentGatewayAdapter
	events   EventSink
	verifier CallbackVerifier
	logger   *slog.Logger
	cfg      LedgerConfig
	txnLocks *keyedMutex
}

func NewLedgerService(
	store domain.LedgerStore,
	gateway domain.PaymentGatewayAdapter,
	events EventSink,
	verifier CallbackVerifier,
	logger *slog.Logger,
	cfg LedgerConfig,
) *LedgerService {
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	if cfg.MaxSettleRetries < 0 {
		cfg.MaxSettleRetries = 0
	}
	return &LedgerService{
		store:    store,
		gateway:  gateway,
		events:   events,
		verifier: verifier,
		logger:   logger.With("component", "ledger_service"),
		cfg:      cfg,
		txnLocks: newKeyedMutex(),
	}
}

func (s *LedgerService) now() time.Time { return s.cfg.Clock() }

func (s *LedgerService) CreateGoal(ctx context.Context, p domain.NewGoalParams) (*domain.Goal, error) {
	goal, err := domain.NewGoal(p, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateGoal(ctx, goal); err != nil {
		return nil, fmt.Errorf("creating goal: %w", err)
	}
	s.logger.InfoContext(ctx, "Goal created", "goal_id", goal.ID, "user_id", goal.UserID, "target", goal.TargetAmount)
	return goal, nil
}

// GetGoal hides goals owned by other users behind ErrNotFound.
func (s *LedgerService) GetGoal(ctx context.Context, userID, goalID uuid.UUID) (*domain.Goal, error) {
	goal, err := s.store.GetGoal(ctx, goalID)
	if err != nil {
		return nil, err
	}
	if goal.UserID != userID {
		return nil, fmt.Errorf("goal %s: %w", goalID, domain.ErrNotFound)
	}
	return goal, nil
}

func (s *LedgerService) ListGoals(ctx context.Context, userID uuid.UUID, filter domain.GoalFilter) ([]*domain.Goal, error) {
	return s.store.ListGoals(ctx, userID, filter)
}

func (s *LedgerService) UpdateGoal(ctx context.Context, userID, goalID uuid.UUID, update domain.GoalUpdate) (*domain.Goal, error) {
	now := s.now()
	var completed bool
	goal, err := s.store.UpdateGoal(ctx, goalID, func(g *domain.Goal) error {
		if g.UserID != userID {
			return domain.ErrNotFound
		}
		var err error
		completed, err = g.ApplyUpdate(update, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	if completed {
		s.logger.InfoContext(ctx, "Goal completed by owner edit", "goal_id", goal.ID)
		s.events.Dispatch(ctx, []domain.Event{domain.GoalCompletedEvent(goal, now)})
	}
	return goal, nil
}

func (s *LedgerService) DeleteGoal(ctx context.Context, userID, goalID uuid.UUID) error {
	if _, err := s.GetGoal(ctx, userID, goalID); err != nil {
		return err
	}
	if err := s.store.DeleteGoal(ctx, goalID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "Goal deleted", "goal_id", goalID, "user_id", userID)
	return nil
}

// CreateTransaction records a pending transaction. It never touches the goal balance.
func (s *LedgerService) CreateTransaction(ctx context.Context, p domain.NewTransactionParams) (*domain.Transaction, error) {
	goal, err := s.GetGoal(ctx, p.UserID, p.GoalID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewValidationError("goal_id", "goal does not exist")
		}
		return nil, err
	}
	txn, err := domain.NewTransaction(p, goal, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.InsertTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("creating transaction: %w", err)
	}
	s.logger.InfoContext(ctx, "Transaction created",
		"transaction_id", txn.ID, "goal_id", txn.GoalID, "type", txn.Type, "method", txn.Method, "amount", txn.Amount)
	return txn, nil
}

// CreateMobilePayment creates a mobile-money deposit and starts collection in one call.
func (s *LedgerService) CreateMobilePayment(ctx context.Context, p domain.NewTransactionParams) (*domain.Transaction, error) {
	p.Method = domain.MethodMobileMoney
	if p.Type == "" {
		p.Type = domain.TransactionTypeDeposit
	}
	txn, err := s.CreateTransaction(ctx, p)
	if err != nil {
		return nil, err
	}
	return s.InitiateExternalSettlement(ctx, p.UserID, txn.ID)
}

func (s *LedgerService) GetTransaction(ctx context.Context, userID, txnID uuid.UUID) (*domain.Transaction, error) {
	txn, err := s.store.GetTransaction(ctx, txnID)
	if err != nil {
		return nil, err
	}
	if txn.UserID != userID {
		return nil, fmt.Errorf("transaction %s: %w", txnID, domain.ErrNotFound)
	}
	return txn, nil
}

func (s *LedgerService) ListTransactions(ctx context.Context, userID uuid.UUID, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	if filter.GoalID != nil {
		if _, err := s.GetGoal(ctx, userID, *filter.GoalID); err != nil {
			return nil, err
		}
	}
	filter.UserID = &userID
	return s.store.QueryTransactions(ctx, filter)
}

// InitiateExternalSettlement starts a mobile-money collection. The transaction is
// reserved with a placeholder reference first, so it cannot be cancelled or initiated
// twice while the gateway call is in flight; no lock is held during the call itself.
// Any initiation error fails the transaction, since without a correlation id there
// is nothing to poll.
func (s *LedgerService) InitiateExternalSettlement(ctx context.Context, userID, txnID uuid.UUID) (*domain.Transaction, error) {
	txn, err := s.GetTransaction(ctx, userID, txnID)
	if err != nil {
		return nil, err
	}
	switch {
	case txn.Method != domain.MethodMobileMoney:
		return nil, domain.NewValidationError("method", "only mobile money transactions are settled through the gateway")
	case txn.Status != domain.StatusPending:
		return nil, domain.NewValidationError("status", "transaction is already "+string(txn.Status))
	case txn.Reference != "":
		return nil, domain.NewValidationError("reference", "payment was already initiated")
	}

	placeholder := domain.InitiationPlaceholder(txn.ID)
	if err := s.reserve(ctx, txn.ID, placeholder); err != nil {
		return nil, err
	}

	resp, err := s.gateway.Initiate(ctx, domain.InitiateRequest{
		TransactionID:    txn.ID,
		PhoneNumber:      txn.PhoneNumber,
		Amount:           txn.Amount,
		AccountReference: txn.AccountReference,
		Description:      txn.Description,
	})
	if err != nil {
		gatewayCallsTotal.WithLabelValues("initiate", "error").Inc()
		s.logger.WarnContext(ctx, "Payment initiation failed", "transaction_id", txn.ID, "error", err)
		if relErr := s.store.ReplaceReference(ctx, txn.ID, placeholder, ""); relErr != nil {
			s.logger.WarnContext(ctx, "Failed to release initiation reservation", "transaction_id", txn.ID, "error", relErr)
		}
		failed, settleErr := s.Settle(ctx, SettleRequest{
			TransactionID: txn.ID,
			Outcome:       domain.OutcomeFailure,
			Reason:        "gateway initiation failed: " + err.Error(),
		})
		if settleErr != nil {
			return nil, errors.Join(fmt.Errorf("initiating payment: %w", err), settleErr)
		}
		return failed, fmt.Errorf("initiating payment: %w", err)
	}
	gatewayCallsTotal.WithLabelValues("initiate", "accepted").Inc()

	if err := s.store.ReplaceReference(ctx, txn.ID, placeholder, resp.CorrelationID); err != nil {
		// The collection is live at the gateway; the poller expires the transaction if it stays unmatched.
		s.logger.ErrorContext(ctx, "Failed to record gateway reference",
			"transaction_id", txn.ID, "reference", resp.CorrelationID, "error", err)
		return nil, fmt.Errorf("recording gateway reference: %w", err)
	}
	txn.Reference = resp.CorrelationID
	s.logger.InfoContext(ctx, "Payment initiated", "transaction_id", txn.ID, "reference", resp.CorrelationID)
	return txn, nil
}

func (s *LedgerService) reserve(ctx context.Context, id uuid.UUID, placeholder string) error {
	unlock := s.txnLocks.Lock(id)
	defer unlock()
	err := s.store.AttachReference(ctx, id, placeholder)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrAlreadyTerminal):
		return domain.NewValidationError("status", "transaction is no longer pending")
	case domain.IsValidationError(err):
		return domain.NewValidationError("reference", "payment was already initiated")
	default:
		return fmt.Errorf("reserving transaction for initiation: %w", err)
	}
}

// Settle resolves a pending transaction exactly once. Calls on an already
// terminal transaction return it unchanged with a nil error.
func (s *LedgerService) Settle(ctx context.Context, req SettleRequest) (*domain.Transaction, error) {
	id := req.TransactionID
	if id == uuid.Nil {
		if req.Reference == "" {
			return nil, domain.NewValidationError("transaction_id", "transaction id or reference is required")
		}
		txn, err := s.store.GetTransactionByReference(ctx, req.Reference)
		if err != nil {
			return nil, err
		}
		id = txn.ID
	}

	unlock := s.txnLocks.Lock(id)
	defer unlock()

	settlement := domain.Settlement{
		Outcome:         req.Outcome,
		ConfirmedAmount: req.ConfirmedAmount,
		ExternalReceipt: req.ExternalReceipt,
		Reason:          req.Reason,
		At:              s.now(),
	}
	for attempt := 0; ; attempt++ {
		var events []domain.Event
		txn, _, err := s.store.ResolveTransaction(ctx, id, func(t *domain.Transaction, g *domain.Goal) error {
			var err error
			events, err = domain.ApplySettlement(t, g, settlement)
			return err
		})
		switch {
		case err == nil:
			settlementsTotal.WithLabelValues(string(txn.Method), string(txn.Status)).Inc()
			s.logger.InfoContext(ctx, "Transaction settled",
				"transaction_id", txn.ID, "status", txn.Status, "amount", txn.Amount, "reason", txn.FailureReason)
			s.events.Dispatch(ctx, events)
			return txn, nil
		case errors.Is(err, domain.ErrAlreadyTerminal) && txn != nil:
			if req.Outcome == domain.OutcomeSuccess && txn.Status != domain.StatusCompleted {
				settlementsTotal.WithLabelValues(string(txn.Method), "late_success").Inc()
				s.logger.ErrorContext(ctx, "Payment confirmed for a transaction that is no longer pending; funds are not credited",
					"transaction_id", txn.ID, "status", txn.Status, "reason", txn.FailureReason,
					"confirmed_amount", req.ConfirmedAmount, "receipt", req.ExternalReceipt)
				return txn, nil
			}
			settlementsTotal.WithLabelValues(string(txn.Method), "duplicate").Inc()
			s.logger.InfoContext(ctx, "Duplicate settlement ignored", "transaction_id", txn.ID, "status", txn.Status)
			return txn, nil
		case errors.Is(err, domain.ErrConcurrencyConflict) && attempt < s.cfg.MaxSettleRetries:
			settleConflictRetries.Inc()
			s.logger.WarnContext(ctx, "Goal changed during settlement, retrying", "transaction_id", id, "attempt", attempt+1)
		default:
			settlementsTotal.WithLabelValues("unknown", "error").Inc()
			return nil, fmt.Errorf("settling transaction %s: %w", id, err)
		}
	}
}

// ConfirmManualTransaction lets the owner confirm a cash, bank or card transaction.
func (s *LedgerService) ConfirmManualTransaction(ctx context.Context, userID, txnID uuid.UUID, receipt string) (*domain.Transaction, error) {
	txn, err := s.GetTransaction(ctx, userID, txnID)
	if err != nil {
		return nil, err
	}
	if txn.Method == domain.MethodMobileMoney {
		return nil, domain.NewValidationError("method", "mobile money transactions are confirmed by the gateway")
	}
	return s.Settle(ctx, SettleRequest{TransactionID: txn.ID, Outcome: domain.OutcomeSuccess, ExternalReceipt: receipt})
}

// HandleGatewayCallback verifies and applies an inbound gateway notification.
// A nil transaction with a nil error means the callback carried no final outcome.
func (s *LedgerService) HandleGatewayCallback(ctx context.Context, payload []byte, signature string) (*domain.Transaction, error) {
	if s.verifier != nil {
		if err := s.verifier.Verify(payload, signature); err != nil {
			s.logger.WarnContext(ctx, "Rejected gateway callback", "error", err)
			return nil, err
		}
	}
	evt, err := s.gateway.ParseCallback(ctx, payload)
	if err != nil {
		return nil, domain.NewValidationError("payload", err.Error())
	}

	req := SettleRequest{
		Reference:       evt.CorrelationID,
		ConfirmedAmount: evt.Status.ConfirmedAmount,
		ExternalReceipt: evt.Status.Receipt,
	}
	switch evt.Status.Outcome {
	case domain.PaymentSuccess:
		req.Outcome = domain.OutcomeSuccess
	case domain.PaymentFailed:
		req.Outcome = domain.OutcomeFailure
		req.Reason = evt.Status.Description
	default:
		s.logger.InfoContext(ctx, "Gateway callback without final outcome", "reference", evt.CorrelationID)
		return nil, nil
	}
	gatewayCallsTotal.WithLabelValues("callback", string(evt.Status.Outcome)).Inc()
	return s.Settle(ctx, req)
}

// Cancel withdraws a pending transaction. A mobile-money payment that already
// reached the gateway cannot be cancelled; it settles or times out instead.
func (s *LedgerService) Cancel(ctx context.Context, userID, txnID uuid.UUID) (*domain.Transaction, error) {
	txn, err := s.GetTransaction(ctx, userID, txnID)
	if err != nil {
		return nil, err
	}
	errInFlight := domain.NewValidationError("status", "payment is in flight at the gateway and cannot be cancelled")
	if txn.Method == domain.MethodMobileMoney && txn.Reference != "" {
		return nil, errInFlight
	}

	unlock := s.txnLocks.Lock(txn.ID)
	defer unlock()

	cancelled, _, err := s.store.ResolveTransaction(ctx, txn.ID, func(t *domain.Transaction, _ *domain.Goal) error {
		if t.Method == domain.MethodMobileMoney && t.Reference != "" {
			return errInFlight
		}
		return domain.CancelTransaction(t, s.now())
	})
	if errors.Is(err, domain.ErrAlreadyTerminal) && cancelled != nil {
		return nil, domain.NewValidationError("status", "transaction is already "+string(cancelled.Status))
	}
	if err != nil {
		return nil, err
	}
	settlementsTotal.WithLabelValues(string(cancelled.Method), string(cancelled.Status)).Inc()
	s.logger.InfoContext(ctx, "Transaction cancelled", "transaction_id", cancelled.ID)
	return cancelled, nil
}
