package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/familysavings/golang_services/internal/ledger_service/adapters/paymentgateway"
	"github.com/familysavings/golang_services/internal/ledger_service/domain"
	"github.com/familysavings/golang_services/internal/platform/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenStore_SQLite(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{StoreDriver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "nested", "ledger.db")}

	store, closeStore, err := OpenStore(ctx, cfg, testLogger())
	require.NoError(t, err)
	defer closeStore()

	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "migrations are idempotent")

	_, err = store.GetGoal(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	_, _, err := OpenStore(context.Background(), &config.Config{StoreDriver: "mysql"}, testLogger())
	assert.ErrorContains(t, err, "mysql")
}

func TestNewPaymentGateway(t *testing.T) {
	gw, err := NewPaymentGateway(&config.Config{PaymentGateway: "mock", MockGatewayOutcome: "failed"}, testLogger())
	require.NoError(t, err)
	mock, ok := gw.(*paymentgateway.MockGatewayAdapter)
	require.True(t, ok)
	assert.Equal(t, domain.PaymentFailed, mock.SimulateOutcome)

	gw, err = NewPaymentGateway(&config.Config{PaymentGateway: "mpesa", MpesaEnvironment: "sandbox"}, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &paymentgateway.MpesaAdapter{}, gw)

	_, err = NewPaymentGateway(&config.Config{PaymentGateway: "paypal"}, testLogger())
	assert.Error(t, err)
}
