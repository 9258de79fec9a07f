package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/brojonat/mintpay/service/config"
	"github.com/brojonat/mintpay/service/db"
	"github.com/brojonat/mintpay/service/metrics"
	natspkg "github.com/brojonat/mintpay/service/nats"
	"github.com/brojonat/mintpay/service/payment"
	"github.com/brojonat/mintpay/service/pricing"
	"github.com/brojonat/mintpay/service/solana"
	"github.com/brojonat/mintpay/service/temporal"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsCollector := metrics.NewMetrics(prometheus.DefaultRegisterer)

	// Initialize metrics HTTP server
	metricsAddr := getEnv("METRICS_ADDR", ":9091")
	metricsServer := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("starting metrics HTTP server", "addr", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

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

	rpcURL, err := solana.SelectRandomEndpoint(cfg.SolanaRPCURLs)
	if err != nil {
		logger.Error("failed to select solana RPC endpoint", "error", err)
		os.Exit(1)
	}
	solanaClient := solana.NewClient(solana.NewRPCClient(rpcURL), solana.EndpointLabel(rpcURL), metricsCollector, logger)

	// The worker waits out the full confirmation timeout, not the HTTP budget.
	poller := solana.NewPoller(solanaClient, solana.PollerConfig{
		Interval: cfg.ConfirmPollInterval,
		Timeout:  cfg.ConfirmTimeout,
	}, metricsCollector, logger)
	logger.Info("initialized solana RPC client",
		"endpoint", solana.EndpointLabel(rpcURL),
		"total_endpoints", len(cfg.SolanaRPCURLs),
		"confirm_timeout", cfg.ConfirmTimeout,
	)

	treasury, err := solanago.PublicKeyFromBase58(cfg.TreasuryWallet)
	if err != nil {
		logger.Error("invalid treasury wallet", "error", err)
		os.Exit(1)
	}

	rates, err := pricing.NewRates(cfg.EURUSD, cfg.SOLUSD, cfg.CreationFeeLamports)
	if err != nil {
		logger.Error("invalid pricing configuration", "error", err)
		os.Exit(1)
	}

	natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create NATS publisher", "error", err)
		os.Exit(1)
	}
	defer natsPublisher.Close()
	logger.Info("connected to NATS", "url", cfg.NATSURL)

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

	// Settlement runs through the same service as the HTTP path. Workflow
	// callers never start further workflows, so Workflows stays nil.
	finalizer := payment.NewService(payment.Config{
		Treasury:          treasury,
		ToleranceLamports: cfg.PaymentToleranceLamports,
		RequireMemo:       cfg.PaymentRequireMemo,
		MemoPrefix:        cfg.PaymentMemoPrefix,
		QuoteToleranceBps: cfg.QuoteToleranceBps,
		ExplorerURL:       cfg.ExplorerURL,
	}, payment.Deps{
		Store:     store,
		Chain:     solanaClient,
		Confirmer: poller,
		Pricer:    pricing.NewPricer(rates, cfg.DefaultModel),
		Publisher: natsPublisher,
		Metrics:   metricsCollector,
		Logger:    logger,
	})

	worker, err := temporal.NewWorker(temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		Store:             store,
		Confirmer:         poller,
		Finalizer:         finalizer,
		Starter:           temporalClient,
		Metrics:           metricsCollector,
		Logger:            logger,
	})
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	// Sweep for intents whose confirmation workflow never started or died.
	resumeInterval, err := time.ParseDuration(getEnv("RESUME_INTERVAL", "5m"))
	if err != nil {
		logger.Error("invalid RESUME_INTERVAL", "error", err)
		os.Exit(1)
	}
	resumeInput := temporal.ResumePendingInput{
		OlderThan: 2 * cfg.ConfirmTimeout,
		MaxAge:    24 * time.Hour,
		Limit:     int32(getEnvInt("RESUME_BATCH", 100)),
	}
	if err := temporal.ConfigureResume(ctx, temporalClient, resumeInterval, resumeInput); err != nil {
		logger.Error("failed to configure resume schedule", "error", err)
		os.Exit(1)
	}
	logger.Info("resume schedule configured",
		"interval", resumeInterval,
		"older_than", resumeInput.OlderThan,
		"limit", resumeInput.Limit,
	)

	logger.Info("temporal worker initialized, all dependencies ready",
		"temporal_host", cfg.TemporalHost,
		"temporal_namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
	)

	workerErrors := make(chan error, 1)
	go func() {
		logger.Info("starting temporal worker")
		workerErrors <- worker.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-workerErrors:
		logger.Error("temporal worker error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		logger.Info("stopping temporal worker")
		worker.Stop()
		logger.Info("temporal worker stopped")

		logger.Info("shutdown complete")
	}
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

// getEnv returns the value of an environment variable or a default if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}
