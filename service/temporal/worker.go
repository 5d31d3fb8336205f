package temporal

import (
	"fmt"
	"log/slog"

	"github.com/brojonat/solwallet/service/ledger"
	"github.com/brojonat/solwallet/service/metrics"
	"github.com/brojonat/solwallet/service/solana"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// WorkerConfig contains configuration for the Temporal worker.
type WorkerConfig struct {
	// Temporal connection settings
	TemporalHost      string
	TemporalNamespace string
	TaskQueue         string

	// Dependencies
	SolanaClient solana.LedgerClient
	Signer       solana.Signer
	Ledger       *ledger.FileLedger
	Recorder     Recorder
	Network      string
	Metrics      *metrics.Metrics // Optional: if nil, no metrics will be recorded
	Logger       *slog.Logger
}

// Worker wraps a Temporal worker and provides lifecycle management.
type Worker struct {
	client client.Client
	worker worker.Worker
	logger *slog.Logger
}

// workerOptions runs one activity at a time: every activity signs or
// submits for the same key.
func workerOptions() worker.Options {
	return worker.Options{
		MaxConcurrentActivityExecutionSize:     1,
		MaxConcurrentWorkflowTaskExecutionSize: 10,
	}
}

// NewWorker creates and configures a new Temporal worker.
// The worker will process workflows and activities on the configured task queue.
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	logger := config.Logger.With("component", "temporal_worker")

	logger.Info("creating temporal worker",
		"host", config.TemporalHost,
		"namespace", config.TemporalNamespace,
		"task_queue", config.TaskQueue,
		"address", config.Signer.Address().String(),
	)

	c, err := client.Dial(client.Options{
		HostPort:  config.TemporalHost,
		Namespace: config.TemporalNamespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal: %w", err)
	}

	w := worker.New(c, config.TaskQueue, workerOptions())

	w.RegisterWorkflow(TransferWorkflow)
	logger.Info("registered workflow", "name", "TransferWorkflow")

	activities := NewActivities(
		config.SolanaClient,
		config.Signer,
		config.Ledger,
		config.Recorder,
		config.Network,
		config.Metrics,
		logger,
	)

	w.RegisterActivity(activities.BuildTransfer)
	w.RegisterActivity(activities.SendTransfer)
	w.RegisterActivity(activities.CheckTransfer)
	w.RegisterActivity(activities.RecordTransfer)

	logger.Info("registered activities",
		"activities", []string{"BuildTransfer", "SendTransfer", "CheckTransfer", "RecordTransfer"},
	)

	return &Worker{
		client: c,
		worker: w,
		logger: logger,
	}, nil
}

// Start begins processing workflows and activities.
// This method blocks until Stop is called or an error occurs.
func (w *Worker) Start() error {
	w.logger.Info("starting temporal worker")
	err := w.worker.Run(worker.InterruptCh())
	if err != nil {
		w.logger.Error("worker stopped with error", "error", err)
		return fmt.Errorf("worker stopped with error: %w", err)
	}
	w.logger.Info("worker stopped gracefully")
	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	w.logger.Info("stopping temporal worker")
	w.worker.Stop()
	w.client.Close()
	w.logger.Info("temporal worker stopped")
}
