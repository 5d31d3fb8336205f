package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/solwallet/service/config"
	"github.com/brojonat/solwallet/service/db"
	"github.com/brojonat/solwallet/service/ledger"
	"github.com/brojonat/solwallet/service/metrics"
	natspkg "github.com/brojonat/solwallet/service/nats"
	"github.com/brojonat/solwallet/service/solana"
	"github.com/brojonat/solwallet/service/temporal"
	"github.com/brojonat/solwallet/service/transfer"
	"github.com/brojonat/solwallet/service/wallet"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Load and validate configuration from environment
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The worker signs for exactly one wallet.
	key, err := wallet.LoadKeyfile(cfg.KeypairPath)
	if err != nil {
		logger.Error("failed to load keypair", "path", cfg.KeypairPath, "error", err)
		os.Exit(1)
	}
	logger.Info("loaded keypair", "address", key.Address().String())

	registry := prometheus.NewRegistry()
	metricsCollector := metrics.NewMetrics(registry)

	metricsAddr := cfg.MetricsAddr
	if metricsAddr == "" {
		metricsAddr = ":9091"
	}
	metricsServer := metrics.StartServer(metricsAddr, registry, logger)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	rpcURL, err := solana.SelectRandomEndpoint(cfg.RPCURLs)
	if err != nil {
		logger.Error("failed to select solana RPC endpoint", "error", err)
		os.Exit(1)
	}
	network := solana.NetworkName(rpcURL)
	solanaClient := solana.NewClient(
		solana.NewRPCClient(rpcURL),
		solana.EndpointLabel(rpcURL),
		metricsCollector,
		logger,
		solana.WithCallTimeout(cfg.RPCCallTimeout),
	)
	logger.Info("initialized solana RPC client",
		"endpoint", solana.EndpointLabel(rpcURL),
		"network", network,
		"total_endpoints", len(cfg.RPCURLs),
	)

	fileLedger := ledger.NewFileLedger(cfg.LedgerPath, metricsCollector, logger)

	// Mirrors are optional; the worker runs with only the file ledger.
	var opts []transfer.Option
	if cfg.DatabaseURL != "" {
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

		store := db.NewStore(dbPool, metricsCollector)
		if err := store.EnsureSchema(ctx); err != nil {
			logger.Error("failed to prepare database schema", "error", err)
			os.Exit(1)
		}
		opts = append(opts, transfer.WithStore(store))
		logger.Info("connected to database")
	}

	if cfg.NATSURL != "" {
		natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer natsPublisher.Close()
		opts = append(opts, transfer.WithPublisher(natsPublisher))
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	// The service is only used to record finalized transfers; the
	// workflow drives building, submission and confirmation itself.
	recorder := transfer.NewService(
		solanaClient,
		key,
		solana.NewConfirmer(solanaClient, cfg.ConfirmPollInterval, cfg.ConfirmMaxWait, metricsCollector, logger),
		fileLedger,
		transfer.Config{
			MaxSubmitRetries: cfg.MaxSubmitRetries,
			MaxRebuilds:      cfg.MaxRebuilds,
			RetryDelay:       time.Second,
			Network:          network,
		},
		metricsCollector,
		logger,
		opts...,
	)

	worker, err := temporal.NewWorker(temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		SolanaClient:      solanaClient,
		Signer:            key,
		Ledger:            fileLedger,
		Recorder:          recorder,
		Network:           network,
		Metrics:           metricsCollector,
		Logger:            logger,
	})
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	logger.Info("temporal worker initialized, all dependencies ready",
		"address", key.Address().String(),
		"network", network,
		"temporal_host", cfg.TemporalHost,
		"temporal_namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
	)

	// Start worker in background
	workerErrors := make(chan error, 1)
	go func() {
		logger.Info("starting temporal worker")
		workerErrors <- worker.Start()
	}()

	// Wait for shutdown signal or worker error
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

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
