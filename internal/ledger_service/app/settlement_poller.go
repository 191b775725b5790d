package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/familysavings/golang_services/internal/ledger_service/domain"
)

const (
	ReasonTimedOut       = "settlement timed out"
	ReasonNeverInitiated = "settlement never initiated"
)

// Settler is the ledger entry point the poller resolves transactions through.
type Settler interface {
	Settle(ctx context.Context, req SettleRequest) (*domain.Transaction, error)
}

type PollerConfig struct {
	// PollDelay leaves fresh transactions to the callback path.
	PollDelay time.Duration
	// Timeout is how long a transaction may stay pending before it is failed.
	Timeout   time.Duration
	BatchSize int
	Clock     func() time.Time
}

// SettlementPoller reconciles pending mobile-money transactions against the gateway.
// Every pending transaction either settles or is failed after Timeout.
type SettlementPoller struct {
	store   domain.LedgerStore
	gateway domain.PaymentGatewayAdapter
	settler Settler
	logger  *slog.Logger
	cfg     PollerConfig
}

func NewSettlementPoller(
	store domain.LedgerStore,
	gateway domain.PaymentGatewayAdapter,
	settler Settler,
	logger *slog.Logger,
	cfg PollerConfig,
) *SettlementPoller {
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &SettlementPoller{
		store:   store,
		gateway: gateway,
		settler: settler,
		logger:  logger.With("component", "settlement_poller"),
		cfg:     cfg,
	}
}

// PollPending examines one batch of overdue pending transactions and returns how many it saw.
func (p *SettlementPoller) PollPending(ctx context.Context) (int, error) {
	timer := prometheus.NewTimer(pollCycleDuration)
	defer timer.ObserveDuration()

	now := p.cfg.Clock()
	pending, err := p.store.ListPendingTransactions(ctx, domain.MethodMobileMoney, now.Add(-p.cfg.PollDelay), p.cfg.BatchSize)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to list pending transactions", "error", err)
		return 0, fmt.Errorf("listing pending transactions: %w", err)
	}
	if len(pending) == 0 {
		p.logger.DebugContext(ctx, "No pending transactions to reconcile")
		return 0, nil
	}

	p.logger.InfoContext(ctx, "Reconciling pending transactions", "count", len(pending))
	for _, txn := range pending {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		outcome := p.reconcile(ctx, txn, now)
		pollOutcomesTotal.WithLabelValues(outcome).Inc()
	}
	return len(pending), nil
}

func (p *SettlementPoller) reconcile(ctx context.Context, txn *domain.Transaction, now time.Time) string {
	expired := now.Sub(txn.CreatedAt) >= p.cfg.Timeout
	if !txn.HasGatewayReference() {
		if !expired {
			return "still_pending"
		}
		return p.expire(ctx, txn.ID, ReasonNeverInitiated)
	}

	status, err := p.gateway.QueryStatus(ctx, txn.Reference)
	if err != nil {
		gatewayCallsTotal.WithLabelValues("query", "error").Inc()
		definitive := domain.IsDefinitiveGatewayError(err)
		p.logger.WarnContext(ctx, "Status query failed", "transaction_id", txn.ID, "reference", txn.Reference,
			"definitive", definitive, "error", err)
		switch {
		case !expired:
			return "error"
		case definitive:
			return p.expire(ctx, txn.ID, ReasonTimedOut)
		default:
			// The payment may have gone through; only a gateway answer or an operator resolves it.
			p.logger.ErrorContext(ctx, "Settlement outcome unknown past timeout, left pending",
				"transaction_id", txn.ID, "reference", txn.Reference, "age", now.Sub(txn.CreatedAt))
			return "unresolved"
		}
	}
	gatewayCallsTotal.WithLabelValues("query", string(status.Outcome)).Inc()

	switch status.Outcome {
	case domain.PaymentSuccess, domain.PaymentFailed:
		settled, err := p.settler.Settle(ctx, settleRequestFor(txn.ID, status))
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to settle polled transaction", "transaction_id", txn.ID, "error", err)
			return "error"
		}
		if settled.Status == domain.StatusCompleted {
			return "settled"
		}
		return "failed"
	default:
		if expired {
			return p.expire(ctx, txn.ID, ReasonTimedOut)
		}
		return "still_pending"
	}
}

func (p *SettlementPoller) expire(ctx context.Context, id uuid.UUID, reason string) string {
	if _, err := p.Expire(ctx, id, reason); err != nil {
		p.logger.ErrorContext(ctx, "Failed to expire transaction", "transaction_id", id, "error", err)
		return "error"
	}
	return "expired"
}

// Repoll asks the gateway for the current status of one transaction and settles
// it when the answer is final. A transaction still pending is returned unchanged.
func (p *SettlementPoller) Repoll(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	txn, err := p.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.Status.IsTerminal() {
		return txn, nil
	}
	if !txn.HasGatewayReference() {
		return txn, domain.NewValidationError("reference", "payment was never initiated; expire it instead")
	}
	status, err := p.gateway.QueryStatus(ctx, txn.Reference)
	if err != nil {
		return txn, fmt.Errorf("querying gateway status: %w", err)
	}
	if status.Outcome == domain.PaymentPending {
		return txn, nil
	}
	return p.settler.Settle(ctx, settleRequestFor(txn.ID, status))
}

// Expire fails a pending transaction. An empty reason means it timed out.
func (p *SettlementPoller) Expire(ctx context.Context, id uuid.UUID, reason string) (*domain.Transaction, error) {
	if reason == "" {
		reason = ReasonTimedOut
	}
	txn, err := p.settler.Settle(ctx, SettleRequest{TransactionID: id, Outcome: domain.OutcomeFailure, Reason: reason})
	if err != nil {
		return nil, err
	}
	p.logger.InfoContext(ctx, "Transaction expired", "transaction_id", id, "status", txn.Status, "reason", reason)
	return txn, nil
}

// Run polls on the cron schedule until ctx is cancelled. Overlapping runs are skipped.
func (p *SettlementPoller) Run(ctx context.Context, schedule string) error {
	logger := cronLogger{p.logger}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(schedule, func() {
		if _, err := p.PollPending(ctx); err != nil && ctx.Err() == nil {
			p.logger.ErrorContext(ctx, "Poll cycle failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("parsing poll schedule %q: %w", schedule, err)
	}

	p.logger.InfoContext(ctx, "Settlement poller started", "schedule", schedule, "timeout", p.cfg.Timeout)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	p.logger.Info("Settlement poller stopped")
	return nil
}

func settleRequestFor(id uuid.UUID, status *domain.PaymentStatus) SettleRequest {
	req := SettleRequest{
		TransactionID:   id,
		ConfirmedAmount: status.ConfirmedAmount,
		ExternalReceipt: status.Receipt,
		Outcome:         domain.OutcomeSuccess,
	}
	if status.Outcome == domain.PaymentFailed {
		req.Outcome = domain.OutcomeFailure
		req.Reason = status.Description
	}
	return req
}

// cronLogger routes cron's own logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
