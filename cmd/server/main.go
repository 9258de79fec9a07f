package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/mintpay/service/config"
	"github.com/brojonat/mintpay/service/db"
	"github.com/brojonat/mintpay/service/metrics"
	natspkg "github.com/brojonat/mintpay/service/nats"
	"github.com/brojonat/mintpay/service/payment"
	"github.com/brojonat/mintpay/service/pricing"
	"github.com/brojonat/mintpay/service/ratelimit"
	"github.com/brojonat/mintpay/service/server"
	"github.com/brojonat/mintpay/service/solana"
	"github.com/brojonat/mintpay/service/temporal"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"cluster", cfg.SolanaCluster,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsCollector := metrics.NewMetrics(prometheus.DefaultRegisterer)

	// Initialize database connection pool
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	store := db.NewStore(dbPool, metricsCollector)
	if err := store.Migrate(ctx); err != nil {
		logger.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}

	// Solana RPC. For premium endpoints, include the API key in the URL.
	rpcURL, err := solana.SelectRandomEndpoint(cfg.SolanaRPCURLs)
	if err != nil {
		logger.Error("failed to select solana RPC endpoint", "error", err)
		os.Exit(1)
	}
	solanaClient := solana.NewClient(solana.NewRPCClient(rpcURL), solana.EndpointLabel(rpcURL), metricsCollector, logger)
	builder := solana.NewBuilder(solanaClient, metricsCollector, logger)
	poller := solana.NewPoller(solanaClient, solana.PollerConfig{
		Interval: cfg.ConfirmPollInterval,
		Timeout:  cfg.ConfirmTimeout,
	}, metricsCollector, logger)
	logger.Info("initialized solana RPC client",
		"endpoint", solana.EndpointLabel(rpcURL),
		"total_endpoints", len(cfg.SolanaRPCURLs),
	)

	treasury, err := solanago.PublicKeyFromBase58(cfg.TreasuryWallet)
	if err != nil {
		logger.Error("invalid treasury wallet", "error", err)
		os.Exit(1)
	}
	mintGate, err := mintGateAccounts(cfg, treasury)
	if err != nil {
		logger.Error("invalid mint gate configuration", "error", err)
		os.Exit(1)
	}

	rates, err := pricing.NewRates(cfg.EURUSD, cfg.SOLUSD, cfg.CreationFeeLamports)
	if err != nil {
		logger.Error("invalid pricing configuration", "error", err)
		os.Exit(1)
	}
	pricer := pricing.NewPricer(rates, cfg.DefaultModel)

	// NATS publisher
	publisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create NATS publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()
	logger.Info("connected to NATS", "url", cfg.NATSURL)

	// Temporal client hands pending confirmations to the worker.
	temporalClient, err := temporal.NewClient(
		cfg.TemporalHost,
		cfg.TemporalNamespace,
		cfg.TemporalTaskQueue,
		cfg.ConfirmTimeout,
		logger,
	)
	if err != nil {
		logger.Error("failed to create temporal client", "error", err)
		os.Exit(1)
	}
	defer temporalClient.Close()

	// Redis is optional; without it create-intent is not rate limited.
	var limiter *ratelimit.Limiter
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, rate limiting will fail open", "error", err)
		}
		limiter = ratelimit.NewLimiter(rdb, cfg.RateLimitPerMinute, time.Minute)
		logger.Info("rate limiting enabled", "per_minute", cfg.RateLimitPerMinute)
	} else {
		logger.Warn("REDIS_URL not set, rate limiting disabled")
	}

	svc := payment.NewService(payment.Config{
		Treasury:          treasury,
		ToleranceLamports: cfg.PaymentToleranceLamports,
		RequireMemo:       cfg.PaymentRequireMemo,
		MemoPrefix:        cfg.PaymentMemoPrefix,
		QuoteToleranceBps: cfg.QuoteToleranceBps,
		MintGate:          mintGate,
		ExplorerURL:       cfg.ExplorerURL,
	}, payment.Deps{
		Store:     store,
		Chain:     solanaClient,
		Confirmer: poller.WithTimeout(cfg.ConfirmRequestBudget),
		Builder:   builder,
		Pricer:    pricer,
		Publisher: publisher,
		Workflows: temporalClient,
		Metrics:   metricsCollector,
		Logger:    logger,
	})

	httpServer := server.New(cfg.ServerAddr, svc, store, limiter, metricsCollector, logger)

	logger.Info("server initialized, all dependencies ready",
		"treasury", treasury.String(),
		"confirm_budget", cfg.ConfirmRequestBudget,
		"confirm_timeout", cfg.ConfirmTimeout,
		"temporal_host", cfg.TemporalHost,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// mintGateAccounts resolves the static mint gate accounts. Buyer is set per request.
func mintGateAccounts(cfg *config.Config, treasury solanago.PublicKey) (solana.MintGateAccounts, error) {
	accounts := solana.MintGateAccounts{Platform: treasury}

	programID, err := solanago.PublicKeyFromBase58(cfg.MintGateProgramID)
	if err != nil {
		return accounts, err
	}
	accounts.ProgramID = programID

	creator, err := solanago.PublicKeyFromBase58(cfg.MintCreatorWallet)
	if err != nil {
		return accounts, err
	}
	accounts.Creator = creator

	// An unset seed leaves mint/start reporting server_misconfigured.
	if cfg.MintCollectionSeed != "" {
		seed, err := solanago.PublicKeyFromBase58(cfg.MintCollectionSeed)
		if err != nil {
			return accounts, err
		}
		accounts.CollectionSeed = seed
	}
	return accounts, nil
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
