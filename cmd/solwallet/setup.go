package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/brojonat/solwallet/service/config"
	"github.com/brojonat/solwallet/service/db"
	"github.com/brojonat/solwallet/service/ledger"
	"github.com/brojonat/solwallet/service/metrics"
	natspkg "github.com/brojonat/solwallet/service/nats"
	"github.com/brojonat/solwallet/service/solana"
	"github.com/brojonat/solwallet/service/transfer"
	"github.com/brojonat/solwallet/service/wallet"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
)

// loadConfig reads the environment, then applies any global flags.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if c.IsSet("rpc-url") {
		cfg.RPCURLs = c.StringSlice("rpc-url")
	}
	overrides := []struct {
		flag string
		dst  *string
	}{
		{"keypair", &cfg.KeypairPath},
		{"ledger", &cfg.LedgerPath},
		{"log-level", &cfg.LogLevel},
		{"database-url", &cfg.DatabaseURL},
		{"nats-url", &cfg.NATSURL},
		{"metrics-addr", &cfg.MetricsAddr},
		{"temporal-host", &cfg.TemporalHost},
		{"temporal-namespace", &cfg.TemporalNamespace},
		{"temporal-task-queue", &cfg.TemporalTaskQueue},
	}
	for _, s := range overrides {
		if c.IsSet(s.flag) {
			*s.dst = c.String(s.flag)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
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

// walletEnv holds everything a command needs once the key is loaded.
type walletEnv struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	key     *wallet.KeyMaterial
	client  *solana.Client
	network string
	ledger  *ledger.FileLedger
	store   *db.Store
	service *transfer.Service

	closers []func()
}

// newWalletEnv connects to the RPC node and any configured mirrors.
// Mirrors that cannot be reached are logged and skipped; the file ledger
// is always used.
func newWalletEnv(ctx context.Context, cfg *config.Config, key *wallet.KeyMaterial, logger *slog.Logger) (*walletEnv, error) {
	env := &walletEnv{cfg: cfg, logger: logger, key: key}

	if cfg.MetricsAddr != "" {
		registry := prometheus.NewRegistry()
		env.metrics = metrics.NewMetrics(registry)
		srv := metrics.StartServer(cfg.MetricsAddr, registry, logger)
		env.closers = append(env.closers, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	rpcURL, err := solana.SelectRandomEndpoint(cfg.RPCURLs)
	if err != nil {
		return nil, err
	}
	env.network = solana.NetworkName(rpcURL)
	env.client = solana.NewClient(
		solana.NewRPCClient(rpcURL),
		solana.EndpointLabel(rpcURL),
		env.metrics,
		logger,
		solana.WithCallTimeout(cfg.RPCCallTimeout),
	)
	logger.Info("using solana RPC endpoint",
		"endpoint", solana.EndpointLabel(rpcURL),
		"network", env.network,
	)

	env.ledger = ledger.NewFileLedger(cfg.LedgerPath, env.metrics, logger)

	var opts []transfer.Option
	if cfg.DatabaseURL != "" {
		store, closer, err := openStore(ctx, cfg.DatabaseURL, env.metrics)
		if err != nil {
			logger.Error("database mirror disabled", "error", err)
		} else {
			env.store = store
			env.closers = append(env.closers, closer)
			opts = append(opts, transfer.WithStore(store))
		}
	}
	if cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, env.metrics, logger)
		if err != nil {
			logger.Error("event publishing disabled", "error", err)
		} else {
			env.closers = append(env.closers, func() { _ = publisher.Close() })
			opts = append(opts, transfer.WithPublisher(publisher))
		}
	}

	confirmer := solana.NewConfirmer(env.client, cfg.ConfirmPollInterval, cfg.ConfirmMaxWait, env.metrics, logger)
	env.service = transfer.NewService(
		env.client,
		key,
		confirmer,
		env.ledger,
		transfer.Config{
			MaxSubmitRetries: cfg.MaxSubmitRetries,
			MaxRebuilds:      cfg.MaxRebuilds,
			RetryDelay:       time.Second,
			Network:          env.network,
		},
		env.metrics,
		logger,
		opts...,
	)

	return env, nil
}

// Close releases connections in reverse order of creation.
func (e *walletEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func openStore(ctx context.Context, databaseURL string, m *metrics.Metrics) (*db.Store, func(), error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool, m)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	return store, pool.Close, nil
}

// loadKey loads the keypair without prompting; used by one-shot commands.
func loadKey(cfg *config.Config) (*wallet.KeyMaterial, error) {
	key, err := wallet.LoadKeyfile(cfg.KeypairPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load keypair: %w", err)
	}
	return key, nil
}

// commandEnv is the shared setup for one-shot commands.
func commandEnv(c *cli.Context) (*walletEnv, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	logger := setupLogger(cfg.LogLevel)

	key, err := loadKey(cfg)
	if err != nil {
		return nil, err
	}
	return newWalletEnv(c.Context, cfg, key, logger)
}
