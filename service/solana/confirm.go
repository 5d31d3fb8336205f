package solana

import (
	"context"
	"log/slog"
	"time"

	"github.com/brojonat/solwallet/service/metrics"
	"github.com/gagliardetto/solana-go"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultMaxWait      = 2 * time.Minute
)

// Confirmer polls a LedgerClient until a signature is finalized, fails, or
// the wait is exhausted.
type Confirmer struct {
	client   LedgerClient
	interval time.Duration
	maxWait  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics

	// OnProgress, when set, is called each time the observed commitment
	// changes.
	OnProgress func(Commitment)
}

// NewConfirmer creates a Confirmer. Non-positive durations fall back to
// DefaultPollInterval and DefaultMaxWait. If metrics is nil, no metrics
// will be recorded.
func NewConfirmer(client LedgerClient, interval, maxWait time.Duration, m *metrics.Metrics, logger *slog.Logger) *Confirmer {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &Confirmer{
		client:   client,
		interval: interval,
		maxWait:  maxWait,
		logger:   logger,
		metrics:  m,
	}
}

// WaitForFinalized blocks until sig reaches finalized commitment.
//
// It returns a *ConfirmationError wrapping ErrTransactionFailed when the
// transaction failed on chain or its blockhash expired before it landed
// (Expired set), and ErrConfirmationTimeout when maxWait elapses or ctx is
// done. Processed and confirmed are never reported as success.
func (c *Confirmer) WaitForFinalized(ctx context.Context, sig solana.Signature, blockhash solana.Hash) (*SignatureStatus, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.maxWait)
	defer cancel()

	logger := c.logger.With("signature", sig.String())
	last := CommitmentUnknown

	for {
		status, err := c.client.GetSignatureStatus(ctx, sig)
		if err == nil && status.Commitment == CommitmentUnknown {
			if c.blockhashExpired(ctx, blockhash, logger) {
				// It may have landed between the two calls, or aged out of
				// the node's recent status cache.
				status, err = c.client.FindSignatureStatus(ctx, sig)
				if err == nil && status.Commitment == CommitmentUnknown {
					c.finish("expired", start)
					return nil, &ConfirmationError{
						Err:        ErrTransactionFailed,
						Reason:     "blockhash expired before the transaction landed",
						Commitment: last,
						Expired:    true,
					}
				}
			}
		}

		if err != nil {
			logger.WarnContext(ctx, "failed to poll signature status", "error", err)
			if c.metrics != nil {
				c.metrics.RecordRPCRetry("GetSignatureStatuses", "poll_error")
			}
		} else {
			if c.metrics != nil {
				c.metrics.RecordConfirmationPoll(status.Commitment.String())
			}
			if status.Commitment != last {
				last = status.Commitment
				logger.DebugContext(ctx, "commitment changed", "commitment", last.String(), "slot", status.Slot)
				if c.OnProgress != nil {
					c.OnProgress(last)
				}
			}

			switch status.Commitment {
			case CommitmentFinalized:
				c.finish("finalized", start)
				logger.InfoContext(ctx, "transaction finalized",
					"slot", status.Slot,
					"elapsed", time.Since(start),
				)
				return status, nil
			case CommitmentFailed:
				c.finish("failed", start)
				return nil, &ConfirmationError{
					Err:        ErrTransactionFailed,
					Reason:     status.Err,
					Commitment: CommitmentFailed,
				}
			}
		}

		select {
		case <-ctx.Done():
			c.finish("timeout", start)
			return nil, &ConfirmationError{
				Err:        ErrConfirmationTimeout,
				Reason:     ctx.Err().Error(),
				Commitment: last,
			}
		case <-time.After(c.interval):
		}
	}
}

// blockhashExpired reports whether the node has definitely stopped
// accepting blockhash. Errors count as "not known to be expired".
func (c *Confirmer) blockhashExpired(ctx context.Context, blockhash solana.Hash, logger *slog.Logger) bool {
	valid, err := c.client.IsBlockhashValid(ctx, blockhash)
	if err != nil {
		logger.WarnContext(ctx, "failed to check blockhash validity", "error", err)
		return false
	}
	return !valid
}

func (c *Confirmer) finish(outcome string, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordConfirmation(outcome, time.Since(start).Seconds())
	}
}
