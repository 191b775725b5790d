// Package bootstrap builds the ledger's store and payment gateway from configuration.
// It is shared by the ledger service and the operator CLI.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/familysavings/golang_services/internal/ledger_service/adapters/paymentgateway"
	"github.com/familysavings/golang_services/internal/ledger_service/domain"
	"github.com/familysavings/golang_services/internal/ledger_service/repository/postgres"
	"github.com/familysavings/golang_services/internal/ledger_service/repository/sqlite"
	"github.com/familysavings/golang_services/internal/platform/config"
	"github.com/familysavings/golang_services/internal/platform/database"
)

// Store is a ledger store that can apply its own schema.
type Store interface {
	domain.LedgerStore
	Migrate(ctx context.Context) error
}

// OpenStore connects to the configured STORE_DRIVER. The returned func releases the connection.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, func(), error) {
	switch cfg.StoreDriver {
	case "postgres":
		pool, err := database.NewDBPool(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewPgLedgerStore(pool, logger), pool.Close, nil
	case "sqlite":
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.InfoContext(ctx, "SQLite ledger store opened", "path", cfg.SQLitePath)
		return sqlite.NewSQLiteLedgerStore(db, logger), func() { db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

// NewPaymentGateway returns the configured PAYMENT_GATEWAY adapter.
func NewPaymentGateway(cfg *config.Config, logger *slog.Logger) (domain.PaymentGatewayAdapter, error) {
	switch cfg.PaymentGateway {
	case "mpesa":
		return paymentgateway.NewMpesaAdapter(logger, paymentgateway.MpesaConfig{
			BaseURL:        cfg.MpesaAPIBaseURL(),
			ConsumerKey:    cfg.MpesaConsumerKey,
			ConsumerSecret: cfg.MpesaConsumerSecret,
			Passkey:        cfg.MpesaPasskey,
			Shortcode:      cfg.MpesaShortcode,
			CallbackURL:    cfg.MpesaCallbackURL,
		}, &http.Client{Timeout: cfg.MpesaHTTPTimeout}), nil
	case "mock":
		logger.Warn("Using mock payment gateway", "outcome", cfg.MockGatewayOutcome)
		return paymentgateway.NewMockGatewayAdapter(logger, domain.PaymentOutcome(cfg.MockGatewayOutcome)), nil
	default:
		return nil, fmt.Errorf("unsupported payment gateway %q", cfg.PaymentGateway)
	}
}
