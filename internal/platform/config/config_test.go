package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndEnvOverrides(t *testing.T) {
	t.Setenv("APP_STORE_DRIVER", "sqlite")
	t.Setenv("APP_SQLITE_PATH", "/tmp/ledger-test.db")
	t.Setenv("APP_SETTLEMENT_TIMEOUT", "20m")
	t.Setenv("APP_RATE_LIMIT_PER_MINUTE", "120")

	cfg, err := Load("config_test")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, "/tmp/ledger-test.db", cfg.SQLitePath)
	assert.Equal(t, 20*time.Minute, cfg.SettlementTimeout)
	assert.Equal(t, 120, cfg.RateLimitPerMinute)
	assert.Equal(t, "savings.events", cfg.EventsSubjectPrefix)
	assert.Equal(t, 3, cfg.SettleMaxRetries)
	assert.Equal(t, 30*time.Second, cfg.MpesaHTTPTimeout)
}

func TestConfig_MpesaAPIBaseURL(t *testing.T) {
	t.Run("Sandbox", func(t *testing.T) {
		cfg := &Config{MpesaEnvironment: "sandbox"}
		assert.Equal(t, mpesaSandboxURL, cfg.MpesaAPIBaseURL())
	})
	t.Run("Production", func(t *testing.T) {
		cfg := &Config{MpesaEnvironment: "Production"}
		assert.Equal(t, mpesaProductionURL, cfg.MpesaAPIBaseURL())
	})
	t.Run("Override", func(t *testing.T) {
		cfg := &Config{MpesaEnvironment: "production", MpesaBaseURL: "http://127.0.0.1:9999/"}
		assert.Equal(t, "http://127.0.0.1:9999", cfg.MpesaAPIBaseURL())
	})
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{StoreDriver: "sqlite", SQLitePath: "ledger.db", PaymentGateway: "mock", MockGatewayOutcome: "success"}
	require.NoError(t, valid.Validate())

	t.Run("UnknownDriver", func(t *testing.T) {
		cfg := valid
		cfg.StoreDriver = "mysql"
		assert.ErrorContains(t, cfg.Validate(), "STORE_DRIVER")
	})
	t.Run("UnknownMockOutcome", func(t *testing.T) {
		cfg := valid
		cfg.MockGatewayOutcome = "maybe"
		assert.ErrorContains(t, cfg.Validate(), "MOCK_GATEWAY_OUTCOME")
	})
	t.Run("MpesaWithoutCredentials", func(t *testing.T) {
		cfg := valid
		cfg.PaymentGateway = "mpesa"
		assert.ErrorContains(t, cfg.Validate(), "MPESA_CONSUMER_KEY")
	})
	t.Run("PostgresWithoutDSN", func(t *testing.T) {
		cfg := valid
		cfg.StoreDriver = "postgres"
		assert.ErrorContains(t, cfg.Validate(), "POSTGRES_DSN")
	})
}
