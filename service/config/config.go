package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Redis configuration (optional, enables rate limiting)
	RedisURL           string
	RateLimitPerMinute int

	// Solana configuration
	SolanaRPCURLs []string
	SolanaCluster string // devnet, testnet or mainnet-beta; used for explorer links

	// Treasury and mint gate configuration
	TreasuryWallet     string
	MintGateProgramID  string
	MintCollectionSeed string
	MintCreatorWallet  string

	// Confirmation configuration
	ConfirmPollInterval  time.Duration
	ConfirmTimeout       time.Duration
	ConfirmRequestBudget time.Duration

	// Payment validation configuration
	PaymentToleranceLamports uint64
	PaymentRequireMemo       bool
	PaymentMemoPrefix        string

	// Pricing configuration
	CreationFeeLamports uint64
	EURUSD              float64
	SOLUSD              float64
	QuoteToleranceBps   int
	DefaultModel        string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Redis configuration
	cfg.RedisURL = os.Getenv("REDIS_URL")
	rateLimit, err := parseInt("RATE_LIMIT_PER_MINUTE", 20)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RateLimitPerMinute = rateLimit
	}

	// Solana configuration. SOLANA_RPC_URLS takes a comma separated list and
	// wins over the single SOLANA_RPC_URL.
	cfg.SolanaRPCURLs = parseList(getEnvOrDefault("SOLANA_RPC_URLS", os.Getenv("SOLANA_RPC_URL")))
	if len(cfg.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URLS or SOLANA_RPC_URL is required"))
	}
	cfg.SolanaCluster = getEnvOrDefault("SOLANA_CLUSTER", "devnet")

	// Treasury configuration. The treasury is never defaulted.
	cfg.TreasuryWallet = os.Getenv("PLATFORM_TREASURY_WALLET")
	if cfg.TreasuryWallet == "" {
		errs = append(errs, fmt.Errorf("PLATFORM_TREASURY_WALLET is required"))
	}
	cfg.MintGateProgramID = getEnvOrDefault("MINT_GATE_PROGRAM_ID", "B3QX4ubjGz1RH3dBKrXwZNyRXtjDMUX2pjApyBBp5KhK")
	cfg.MintCollectionSeed = os.Getenv("MINT_COLLECTION_SEED")
	cfg.MintCreatorWallet = getEnvOrDefault("MINT_CREATOR_WALLET", cfg.TreasuryWallet)

	// Confirmation configuration
	if cfg.ConfirmPollInterval, err = parseDuration("CONFIRM_POLL_INTERVAL", "1s"); err != nil {
		errs = append(errs, err)
	}
	if cfg.ConfirmTimeout, err = parseDuration("CONFIRM_TIMEOUT", "90s"); err != nil {
		errs = append(errs, err)
	}
	if cfg.ConfirmRequestBudget, err = parseDuration("CONFIRM_REQUEST_BUDGET", "25s"); err != nil {
		errs = append(errs, err)
	}

	// Payment validation configuration
	if cfg.PaymentToleranceLamports, err = parseUint("PAYMENT_TOLERANCE_LAMPORTS", 0); err != nil {
		errs = append(errs, err)
	}
	if cfg.PaymentRequireMemo, err = parseBool("PAYMENT_REQUIRE_MEMO", false); err != nil {
		errs = append(errs, err)
	}
	cfg.PaymentMemoPrefix = getEnvOrDefault("PAYMENT_MEMO_PREFIX", "nftgen:")

	// Pricing configuration
	if cfg.CreationFeeLamports, err = parseUint("CREATION_FEE_LAMPORTS", 10_000_000); err != nil {
		errs = append(errs, err)
	}
	if cfg.EURUSD, err = parseFloat("EUR_USD", 1.1); err != nil {
		errs = append(errs, err)
	}
	if cfg.SOLUSD, err = parseFloat("SOL_USD", 150); err != nil {
		errs = append(errs, err)
	}
	if cfg.QuoteToleranceBps, err = parseInt("QUOTE_TOLERANCE_BPS", 200); err != nil {
		errs = append(errs, err)
	}
	cfg.DefaultModel = getEnvOrDefault("DEFAULT_MODEL", "sd35-medium")

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "mintpay-confirmations")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if len(c.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SolanaRPCURLs is required"))
	}

	if c.TreasuryWallet == "" {
		errs = append(errs, fmt.Errorf("TreasuryWallet is required"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.ConfirmPollInterval < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("ConfirmPollInterval must be at least 100ms"))
	}

	if c.ConfirmTimeout < 60*time.Second || c.ConfirmTimeout > 120*time.Second {
		errs = append(errs, fmt.Errorf("ConfirmTimeout must be between 60s and 120s, got %v", c.ConfirmTimeout))
	}

	if c.ConfirmRequestBudget <= 0 || c.ConfirmRequestBudget > c.ConfirmTimeout {
		errs = append(errs, fmt.Errorf("ConfirmRequestBudget must be positive and no greater than ConfirmTimeout"))
	}

	if c.EURUSD <= 0 || c.SOLUSD <= 0 {
		errs = append(errs, fmt.Errorf("EURUSD and SOLUSD must be positive"))
	}

	if c.QuoteToleranceBps < 0 {
		errs = append(errs, fmt.Errorf("QuoteToleranceBps cannot be negative"))
	}

	if c.RateLimitPerMinute < 0 {
		errs = append(errs, fmt.Errorf("RateLimitPerMinute cannot be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// ExplorerURL returns the block explorer link for a transaction signature.
func (c *Config) ExplorerURL(signature string) string {
	if c.SolanaCluster == "" || c.SolanaCluster == "mainnet-beta" || c.SolanaCluster == "mainnet" {
		return fmt.Sprintf("https://explorer.solana.com/tx/%s", signature)
	}
	return fmt.Sprintf("https://explorer.solana.com/tx/%s?cluster=%s", signature, c.SolanaCluster)
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseUint parses an unsigned integer from an environment variable or uses a default.
func parseUint(key string, defaultValue uint64) (uint64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid unsigned integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, value, err)
	}
	return result, nil
}

func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}

// parseList splits a comma separated value, dropping empty entries.
func parseList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
