package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"
)

// Client starts durable transfers on a Temporal cluster.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// ExecuteTransfer starts TransferWorkflow and blocks until it completes.
// The workflow ID is derived from the transfer so a second start while one
// is running is rejected by Temporal.
func (c *Client) ExecuteTransfer(ctx context.Context, input TransferInput) (*TransferResult, error) {
	id := transferWorkflowID(input, time.Now())

	c.logger.Debug("starting transfer workflow",
		"workflow_id", id,
		"from", input.From,
		"recipient", input.Recipient,
		"lamports", input.Lamports,
	)

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: c.taskQueue,
		Memo: map[string]interface{}{
			"from":       input.From,
			"recipient":  input.Recipient,
			"lamports":   input.Lamports,
			"created_by": "solwallet",
		},
	}, TransferWorkflow, input)
	if err != nil {
		c.logger.Error("failed to start transfer workflow",
			"workflow_id", id,
			"error", err,
		)
		return nil, fmt.Errorf("failed to start workflow %q: %w", id, err)
	}

	c.logger.Info("transfer workflow started",
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)

	var result TransferResult
	if err := run.Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("workflow %q failed: %w", id, err)
	}

	c.logger.Info("transfer workflow completed",
		"workflow_id", id,
		"signature", result.Signature,
	)
	return &result, nil
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

func transferWorkflowID(input TransferInput, now time.Time) string {
	return fmt.Sprintf("transfer-%s-%s-%d-%d", input.From, input.Recipient, input.Lamports, now.Unix())
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
