package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTreasury = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

// setRequiredEnv sets the minimum environment for Load to succeed.
// t.Setenv restores the previous values when the test ends.
func setRequiredEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("SOLANA_RPC_URL", "https://api.devnet.solana.com")
	t.Setenv("PLATFORM_TREASURY_WALLET", testTreasury)
}

func validConfig() *Config {
	return &Config{
		DatabaseURL:          "postgres://localhost/test",
		SolanaRPCURLs:        []string{"https://api.devnet.solana.com"},
		TreasuryWallet:       testTreasury,
		TemporalHost:         "localhost:7233",
		TemporalNamespace:    "default",
		TemporalTaskQueue:    "mintpay-confirmations",
		ConfirmPollInterval:  time.Second,
		ConfirmTimeout:       90 * time.Second,
		ConfirmRequestBudget: 25 * time.Second,
		EURUSD:               1.1,
		SOLUSD:               150,
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
	assert.Equal(t, []string{"https://api.devnet.solana.com"}, cfg.SolanaRPCURLs)
	assert.Equal(t, testTreasury, cfg.TreasuryWallet)
	assert.Equal(t, testTreasury, cfg.MintCreatorWallet, "creator defaults to treasury")
	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "devnet", cfg.SolanaCluster)
	assert.Equal(t, time.Second, cfg.ConfirmPollInterval)
	assert.Equal(t, 90*time.Second, cfg.ConfirmTimeout)
	assert.Equal(t, 25*time.Second, cfg.ConfirmRequestBudget)
	assert.Equal(t, uint64(0), cfg.PaymentToleranceLamports)
	assert.False(t, cfg.PaymentRequireMemo)
	assert.Equal(t, "nftgen:", cfg.PaymentMemoPrefix)
	assert.Equal(t, uint64(10_000_000), cfg.CreationFeeLamports)
	assert.Equal(t, "sd35-medium", cfg.DefaultModel)
	assert.Empty(t, cfg.RedisURL)
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
}

func TestLoad_MissingTreasury(t *testing.T) {
	// The treasury must never silently default to some address.
	setRequiredEnv(t)
	t.Setenv("PLATFORM_TREASURY_WALLET", "")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "PLATFORM_TREASURY_WALLET is required")
}

func TestLoad_MissingRPCURL(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SOLANA_RPC_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SOLANA_RPC_URLS or SOLANA_RPC_URL is required")
}

func TestLoad_RPCURLList(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SOLANA_RPC_URLS", "https://a.example.com, https://b.example.com,,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.SolanaRPCURLs)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"bad poll interval", "CONFIRM_POLL_INTERVAL", "soon", "invalid duration"},
		{"bad tolerance", "PAYMENT_TOLERANCE_LAMPORTS", "-5", "invalid unsigned integer"},
		{"bad memo flag", "PAYMENT_REQUIRE_MEMO", "maybe", "invalid boolean"},
		{"bad rate", "SOL_USD", "lots", "invalid number"},
		{"timeout too short", "CONFIRM_TIMEOUT", "30s", "ConfirmTimeout must be between 60s and 120s"},
		{"timeout too long", "CONFIRM_TIMEOUT", "5m", "ConfirmTimeout must be between 60s and 120s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.key, tt.value)

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SERVER_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("NATS_URL", "nats://nats.example.com:4222")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("TEMPORAL_HOST", "temporal.example.com:7233")
	t.Setenv("SOLANA_CLUSTER", "mainnet-beta")
	t.Setenv("CONFIRM_TIMEOUT", "120s")
	t.Setenv("PAYMENT_TOLERANCE_LAMPORTS", "5000")
	t.Setenv("PAYMENT_REQUIRE_MEMO", "true")
	t.Setenv("MINT_COLLECTION_SEED", "genesis")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "nats://nats.example.com:4222", cfg.NATSURL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, "temporal.example.com:7233", cfg.TemporalHost)
	assert.Equal(t, "mainnet-beta", cfg.SolanaCluster)
	assert.Equal(t, 120*time.Second, cfg.ConfirmTimeout)
	assert.Equal(t, uint64(5000), cfg.PaymentToleranceLamports)
	assert.True(t, cfg.PaymentRequireMemo)
	assert.Equal(t, "genesis", cfg.MintCollectionSeed)
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"missing database", func(c *Config) { c.DatabaseURL = "" }, "DatabaseURL is required"},
		{"missing treasury", func(c *Config) { c.TreasuryWallet = "" }, "TreasuryWallet is required"},
		{"missing rpc", func(c *Config) { c.SolanaRPCURLs = nil }, "SolanaRPCURLs is required"},
		{"poll too fast", func(c *Config) { c.ConfirmPollInterval = time.Millisecond }, "ConfirmPollInterval must be at least 100ms"},
		{"budget exceeds timeout", func(c *Config) { c.ConfirmRequestBudget = 2 * time.Minute }, "ConfirmRequestBudget"},
		{"zero fx rate", func(c *Config) { c.SOLUSD = 0 }, "must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExplorerURL(t *testing.T) {
	cfg := validConfig()

	cfg.SolanaCluster = "devnet"
	assert.Equal(t, "https://explorer.solana.com/tx/abc?cluster=devnet", cfg.ExplorerURL("abc"))

	cfg.SolanaCluster = "mainnet-beta"
	assert.Equal(t, "https://explorer.solana.com/tx/abc", cfg.ExplorerURL("abc"))
}

func TestMustLoad_Panics(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SOLANA_RPC_URL", "")
	t.Setenv("SOLANA_RPC_URLS", "")
	t.Setenv("PLATFORM_TREASURY_WALLET", "")

	assert.Panics(t, func() {
		MustLoad()
	})
}

func TestMustLoad_Success(t *testing.T) {
	setRequiredEnv(t)

	assert.NotPanics(t, func() {
		cfg := MustLoad()
		assert.NotNil(t, cfg)
	})
}
