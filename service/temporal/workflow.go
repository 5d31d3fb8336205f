package temporal

import (
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/solwallet/service/solana"
	"github.com/brojonat/solwallet/service/wallet"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// maxSendAttempts bounds how often the workflow resends one signed
// transaction after network failures.
const maxSendAttempts = 5

// TransferWorkflow sends SOL and waits for the transaction to finalize
// before recording it.
//
// The workflow performs these steps:
// 1. Sign the transfer against a fresh blockhash (BuildTransfer)
// 2. Submit it (SendTransfer), resending the same transaction after
// network failures; a stale blockhash goes back to step 1
// 3. Poll until finalized, failed or expired (CheckTransfer)
// 4. Append it to the ledger and mirrors (RecordTransfer)
//
// Once any send attempt has failed on the network, the transaction may
// have been delivered. The workflow then polls that signature before
// signing a replacement and only rebuilds once it has expired unseen.
func TransferWorkflow(ctx workflow.Context, input TransferInput) (*TransferResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("TransferWorkflow started",
		"from", input.From,
		"recipient", input.Recipient,
		"lamports", input.Lamports,
	)

	if input.Lamports == 0 {
		return nil, temporalsdk.NewNonRetryableApplicationError("amount must be greater than zero", ErrTypeInvalidRequest, nil)
	}

	pollInterval := input.PollInterval
	if pollInterval <= 0 {
		pollInterval = solana.DefaultPollInterval
	}
	maxWait := input.MaxWait
	if maxWait <= 0 {
		maxWait = solana.DefaultMaxWait
	}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    5,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	// Sends are retried by sendTransfer so the workflow can see which
	// attempts failed on the network.
	sendOptions := activityOptions
	sendOptions.RetryPolicy = &temporalsdk.RetryPolicy{MaximumAttempts: 1}
	sendCtx := workflow.WithActivityOptions(ctx, sendOptions)

	result := &TransferResult{
		From:      input.From,
		To:        input.Recipient,
		Lamports:  input.Lamports,
		AmountSOL: wallet.Lamports(input.Lamports).String(),
	}

	var built *BuildTransferResult
	for {
		err := workflow.ExecuteActivity(ctx, a.BuildTransfer, BuildTransferInput{
			From:      input.From,
			Recipient: input.Recipient,
			Lamports:  input.Lamports,
		}).Get(ctx, &built)
		if err != nil {
			return nil, fmt.Errorf("failed to build transfer: %w", err)
		}

		inDoubt, err := sendTransfer(sendCtx, built)
		if err == nil {
			break
		}
		if inDoubt {
			logger.Warn("send outcome unknown, checking signature",
				"signature", built.Signature,
				"error", err,
			)
			expired, waitErr := awaitFinalized(ctx, built, pollInterval, maxWait)
			if waitErr == nil {
				logger.Warn("transfer landed despite send error", "signature", built.Signature)
				result.Signature = built.Signature
				return recordTransfer(ctx, input, result)
			}
			if !expired {
				return nil, waitErr
			}
		}

		rebuild := errorType(err) == ErrTypeStaleBlockhash || (inDoubt && isNetworkError(err))
		if rebuild && result.Rebuilds < input.MaxRebuilds {
			result.Rebuilds++
			logger.Warn("transaction can no longer land, rebuilding",
				"stale_signature", built.Signature,
				"rebuild", result.Rebuilds,
				"error", err,
			)
			continue
		}
		return nil, fmt.Errorf("failed to send transfer: %w", err)
	}

	result.Signature = built.Signature
	logger.Info("transfer submitted", "signature", built.Signature)

	if _, err := awaitFinalized(ctx, built, pollInterval, maxWait); err != nil {
		return nil, err
	}
	return recordTransfer(ctx, input, result)
}

// sendTransfer submits built, resending the same signed transaction after
// network failures. inDoubt reports whether any attempt failed in a way
// that may still have delivered it.
func sendTransfer(ctx workflow.Context, built *BuildTransferResult) (bool, error) {
	inDoubt := false
	backoff := time.Second
	for attempt := 1; ; attempt++ {
		err := workflow.ExecuteActivity(ctx, a.SendTransfer, SendTransferInput{
			Transaction: built.Transaction,
			Signature:   built.Signature,
		}).Get(ctx, nil)
		if err == nil || !isNetworkError(err) {
			return inDoubt, err
		}
		inDoubt = true
		if attempt == maxSendAttempts {
			return inDoubt, err
		}
		workflow.GetLogger(ctx).Warn("send failed, resending",
			"signature", built.Signature,
			"attempt", attempt,
			"error", err,
		)
		if err := workflow.Sleep(ctx, backoff); err != nil {
			return inDoubt, err
		}
		if backoff *= 2; backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}
}

// awaitFinalized polls built's signature until it finalizes, fails on
// chain, expires or maxWait passes. It returns nil only when finalized;
// expired reports that the transaction can never land.
func awaitFinalized(ctx workflow.Context, built *BuildTransferResult, pollInterval, maxWait time.Duration) (bool, error) {
	logger := workflow.GetLogger(ctx)
	deadline := workflow.Now(ctx).Add(maxWait)
	for {
		if err := workflow.Sleep(ctx, pollInterval); err != nil {
			return false, err
		}

		var check *CheckTransferResult
		err := workflow.ExecuteActivity(ctx, a.CheckTransfer, CheckTransferInput{
			Signature: built.Signature,
			Blockhash: built.Blockhash,
		}).Get(ctx, &check)
		if err != nil {
			// Status reads are idempotent; keep polling until the deadline.
			logger.Warn("failed to check transfer", "signature", built.Signature, "error", err)
		} else {
			logger.Debug("transfer status", "signature", built.Signature, "commitment", check.Commitment)

			switch {
			case check.Commitment == solana.CommitmentFinalized.String():
				return false, nil
			case check.Commitment == solana.CommitmentFailed.String():
				return false, temporalsdk.NewNonRetryableApplicationError(
					fmt.Sprintf("transaction %s failed on chain: %s", built.Signature, check.Err),
					ErrTypeTransactionFailed, nil)
			case check.Expired:
				return true, temporalsdk.NewNonRetryableApplicationError(
					fmt.Sprintf("transaction %s expired before it landed", built.Signature),
					ErrTypeTransactionFailed, nil)
			}
		}

		if !workflow.Now(ctx).Before(deadline) {
			return false, temporalsdk.NewNonRetryableApplicationError(
				fmt.Sprintf("transaction %s not finalized after %s", built.Signature, maxWait),
				ErrTypeConfirmationTimeout, nil)
		}
	}
}

func recordTransfer(ctx workflow.Context, input TransferInput, result *TransferResult) (*TransferResult, error) {
	var recorded *RecordTransferResult
	err := workflow.ExecuteActivity(ctx, a.RecordTransfer, RecordTransferInput{
		From:      input.From,
		To:        input.Recipient,
		Lamports:  input.Lamports,
		Signature: result.Signature,
	}).Get(ctx, &recorded)
	if err != nil {
		return nil, fmt.Errorf("failed to record transfer %s: %w", result.Signature, err)
	}
	result.Warnings = recorded.Warnings

	workflow.GetLogger(ctx).Info("TransferWorkflow completed",
		"signature", result.Signature,
		"rebuilds", result.Rebuilds,
	)
	return result, nil
}

// isNetworkError reports whether a send failed without a verdict from the
// node. Activity timeouts carry no application error type.
func isNetworkError(err error) bool {
	t := errorType(err)
	return t == ErrTypeNetworkUnavailable || t == ""
}

// errorType returns the application error type carried by err, or "".
func errorType(err error) string {
	var appErr *temporalsdk.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Type()
	}
	return ""
}
