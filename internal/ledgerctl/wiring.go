package ledgerctl

import (
	"context"
	"log/slog"
	"sync"

	"github.com/familysavings/golang_services/internal/ledger_service/adapters/eventbus"
	"github.com/familysavings/golang_services/internal/ledger_service/adapters/paymentgateway"
	"github.com/familysavings/golang_services/internal/ledger_service/app"
	"github.com/familysavings/golang_services/internal/ledger_service/bootstrap"
	"github.com/familysavings/golang_services/internal/ledger_service/domain"
	"github.com/familysavings/golang_services/internal/platform/config"
	"github.com/familysavings/golang_services/internal/platform/messagebroker"
)

// ConfigOpener wires Deps the way the ledger service does. Settlement events
// raised by operator actions go to NATS when it is reachable.
func ConfigOpener(cfg *config.Config, logger *slog.Logger) Opener {
	return func(ctx context.Context) (*Deps, func(), error) {
		store, closeStore, err := bootstrap.OpenStore(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		gateway, err := bootstrap.NewPaymentGateway(cfg, logger)
		if err != nil {
			closeStore()
			return nil, nil, err
		}

		var publisher app.EventPublisher = logPublisher{logger}
		natsClient, err := messagebroker.NewNatsClient(cfg.NATSUrl, "ledgerctl", logger)
		if err != nil {
			logger.Warn("NATS unavailable, settlement events will only be logged", "error", err)
		} else {
			publisher = eventbus.NewNatsEventPublisher(natsClient, cfg.EventsSubjectPrefix, logger)
		}

		dispatcher := app.NewAsyncEventDispatcher(publisher, cfg.EventBufferSize, logger)
		dispatchCtx, stopDispatch := context.WithCancel(context.Background())
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = dispatcher.Run(dispatchCtx)
		}()

		ledger := app.NewLedgerService(store, gateway, dispatcher, paymentgateway.NewHMACVerifier(cfg.CallbackSigningSecret), logger,
			app.LedgerConfig{MaxSettleRetries: cfg.SettleMaxRetries})
		poller := app.NewSettlementPoller(store, gateway, ledger, logger, app.PollerConfig{
			PollDelay: cfg.SettlementPollDelay,
			Timeout:   cfg.SettlementTimeout,
			BatchSize: cfg.SettlementBatchSize,
		})

		closeAll := func() {
			stopDispatch()
			wg.Wait()
			if natsClient != nil {
				natsClient.Close()
			}
			closeStore()
		}
		return &Deps{Store: store, Operator: poller, Migrate: store.Migrate}, closeAll, nil
	}
}

type logPublisher struct {
	logger *slog.Logger
}

func (p logPublisher) Publish(ctx context.Context, evt domain.Event) error {
	p.logger.InfoContext(ctx, "Settlement event", "event_id", evt.ID, "type", evt.Type, "goal_id", evt.GoalID, "transaction_id", evt.TransactionID)
	return nil
}
