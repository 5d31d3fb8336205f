package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solwallet/service/ledger"
	"github.com/brojonat/solwallet/service/metrics"
	"github.com/brojonat/solwallet/service/solana"
	"github.com/brojonat/solwallet/service/transfer"
	"github.com/brojonat/solwallet/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// Application error types. Activities return these as non-retryable
// errors; the workflow branches on them.
const (
	ErrTypeInvalidRequest      = "InvalidRequest"
	ErrTypeNetworkUnavailable  = "NetworkUnavailable"
	ErrTypeSigning             = "SigningFailed"
	ErrTypeStaleBlockhash      = "StaleBlockhash"
	ErrTypeInsufficientFunds   = "InsufficientFunds"
	ErrTypeRejected            = "Rejected"
	ErrTypeTransactionFailed   = "TransactionFailed"
	ErrTypeConfirmationTimeout = "ConfirmationTimeout"
)

// TransferInput contains the input parameters for a durable transfer.
type TransferInput struct {
	From      string `json:"from"` // must match the worker's key
	Recipient string `json:"recipient"`
	Lamports  uint64 `json:"lamports"`

	PollInterval time.Duration `json:"poll_interval"`
	MaxWait      time.Duration `json:"max_wait"`
	MaxRebuilds  int           `json:"max_rebuilds"`
}

// TransferResult contains the result of a durable transfer.
type TransferResult struct {
	Signature string   `json:"signature"`
	From      string   `json:"from"`
	To        string   `json:"to"`
	Lamports  uint64   `json:"lamports"`
	AmountSOL string   `json:"amount_sol"`
	Rebuilds  int      `json:"rebuilds"`
	Warnings  []string `json:"warnings,omitempty"`
}

// BuildTransferInput contains parameters for the BuildTransfer activity.
type BuildTransferInput struct {
	From      string `json:"from"`
	Recipient string `json:"recipient"`
	Lamports  uint64 `json:"lamports"`
}

// BuildTransferResult is a signed transaction ready to send.
type BuildTransferResult struct {
	Transaction          string `json:"transaction"` // base64 wire encoding
	Signature            string `json:"signature"`
	Blockhash            string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"last_valid_block_height"`
}

// SendTransferInput contains parameters for the SendTransfer activity.
type SendTransferInput struct {
	Transaction string `json:"transaction"`
	Signature   string `json:"signature"`
}

// CheckTransferInput contains parameters for the CheckTransfer activity.
type CheckTransferInput struct {
	Signature string `json:"signature"`
	Blockhash string `json:"blockhash"`
}

// CheckTransferResult is one observation of a submitted transaction.
type CheckTransferResult struct {
	Commitment string `json:"commitment"` // solana.Commitment String()
	Err        string `json:"err,omitempty"`
	// Expired is set when the blockhash is no longer valid and the
	// transaction is unknown even to the node's full history, so it can
	// never land.
	Expired bool `json:"expired"`
}

// RecordTransferInput contains parameters for the RecordTransfer activity.
type RecordTransferInput struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Lamports  uint64 `json:"lamports"`
	Signature string `json:"signature"`
}

// RecordTransferResult reports mirror failures that did not fail the record.
type RecordTransferResult struct {
	AlreadyRecorded bool     `json:"already_recorded"`
	Warnings        []string `json:"warnings,omitempty"`
}

// Recorder persists finalized transfers. *transfer.Service implements it.
type Recorder interface {
	RecordTransfer(ctx context.Context, rec *ledger.Record) error
}

var _ Recorder = (*transfer.Service)(nil)

// Activities holds the dependencies needed by Temporal activities.
// All dependencies are explicit.
type Activities struct {
	client   solana.LedgerClient
	signer   solana.Signer
	ledger   *ledger.FileLedger
	recorder Recorder
	network  string
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(
	client solana.LedgerClient,
	signer solana.Signer,
	fileLedger *ledger.FileLedger,
	recorder Recorder,
	network string,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		client:   client,
		signer:   signer,
		ledger:   fileLedger,
		recorder: recorder,
		network:  network,
		metrics:  m,
		logger:   logger,
	}
}

// BuildTransfer fetches a fresh blockhash and signs the transfer with the
// worker's key. Network failures are retried by Temporal; invalid input and
// signing failures are not.
func (a *Activities) BuildTransfer(ctx context.Context, input BuildTransferInput) (*BuildTransferResult, error) {
	if input.From != a.signer.Address().String() {
		return nil, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("worker key %s cannot sign for %s", a.signer.Address(), input.From),
			ErrTypeInvalidRequest, nil)
	}

	recipient, err := wallet.ParseAddress(input.Recipient)
	if err != nil {
		return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidRequest, err)
	}

	bh, err := a.client.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch blockhash: %w", err)
	}

	env, err := solana.BuildTransfer(a.signer, wallet.TransferRequest{
		Recipient: recipient,
		Amount:    wallet.Lamports(input.Lamports),
	}, bh)
	if err != nil {
		var signErr *solana.SigningError
		if errors.As(err, &signErr) {
			return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), ErrTypeSigning, err)
		}
		return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidRequest, err)
	}

	encoded, err := env.Base64()
	if err != nil {
		return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), ErrTypeSigning, err)
	}

	a.logger.InfoContext(ctx, "built transfer",
		"signature", env.Signature.String(),
		"blockhash", bh.Hash.String(),
		"lamports", input.Lamports,
	)

	return &BuildTransferResult{
		Transaction:          encoded,
		Signature:            env.Signature.String(),
		Blockhash:            bh.Hash.String(),
		LastValidBlockHeight: bh.LastValidBlockHeight,
	}, nil
}

// SendTransfer submits a signed transaction once. Every failure is
// non-retryable here: a network failure may still have delivered the
// transaction, so the workflow decides whether to resend it or settle the
// signature first. A node that reports the transaction as already
// processed has accepted it, which counts as success.
func (a *Activities) SendTransfer(ctx context.Context, input SendTransferInput) error {
	tx, err := solanago.TransactionFromBase64(input.Transaction)
	if err != nil {
		return temporalsdk.NewNonRetryableApplicationError("failed to decode transaction", ErrTypeInvalidRequest, err)
	}
	if len(tx.Signatures) != 1 {
		return temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("transaction has %d signatures, want 1", len(tx.Signatures)), ErrTypeInvalidRequest, nil)
	}

	env := &solana.Envelope{Tx: tx, Signature: tx.Signatures[0]}
	_, err = a.client.SendTransaction(ctx, env)
	if a.metrics != nil {
		a.metrics.RecordSubmission(transfer.SubmissionResult(err))
	}
	switch {
	case err == nil:
		a.logger.InfoContext(ctx, "transfer submitted", "signature", input.Signature)
		return nil
	case errors.Is(err, solana.ErrAlreadyProcessed):
		a.logger.InfoContext(ctx, "node already has transfer", "signature", input.Signature)
		return nil
	case errors.Is(err, solana.ErrNetworkUnavailable):
		return temporalsdk.NewNonRetryableApplicationError(err.Error(), ErrTypeNetworkUnavailable, err)
	case errors.Is(err, solana.ErrStaleBlockhash):
		return temporalsdk.NewNonRetryableApplicationError(err.Error(), ErrTypeStaleBlockhash, err)
	case errors.Is(err, solana.ErrInsufficientFunds):
		return temporalsdk.NewNonRetryableApplicationError(err.Error(), ErrTypeInsufficientFunds, err)
	default:
		return temporalsdk.NewNonRetryableApplicationError(err.Error(), ErrTypeRejected, err)
	}
}

// CheckTransfer reads the current status of a submitted transaction.
func (a *Activities) CheckTransfer(ctx context.Context, input CheckTransferInput) (*CheckTransferResult, error) {
	sig, err := solanago.SignatureFromBase58(input.Signature)
	if err != nil {
		return nil, temporalsdk.NewNonRetryableApplicationError("invalid signature", ErrTypeInvalidRequest, err)
	}
	blockhash, err := solanago.HashFromBase58(input.Blockhash)
	if err != nil {
		return nil, temporalsdk.NewNonRetryableApplicationError("invalid blockhash", ErrTypeInvalidRequest, err)
	}

	status, err := a.client.GetSignatureStatus(ctx, sig)
	if err != nil {
		return nil, err
	}
	if a.metrics != nil {
		a.metrics.RecordConfirmationPoll(status.Commitment.String())
	}

	result := &CheckTransferResult{Commitment: status.Commitment.String(), Err: status.Err}
	if status.Commitment != solana.CommitmentUnknown {
		return result, nil
	}

	valid, err := a.client.IsBlockhashValid(ctx, blockhash)
	if err != nil {
		return nil, err
	}
	if valid {
		return result, nil
	}

	// It may have landed between the two calls, or aged out of the node's
	// recent status cache.
	status, err = a.client.FindSignatureStatus(ctx, sig)
	if err != nil {
		return nil, err
	}
	result.Commitment = status.Commitment.String()
	result.Err = status.Err
	result.Expired = status.Commitment == solana.CommitmentUnknown
	return result, nil
}

// RecordTransfer appends the finalized transfer to the ledger and mirrors.
// A signature that is already in the ledger is not appended twice.
func (a *Activities) RecordTransfer(ctx context.Context, input RecordTransferInput) (*RecordTransferResult, error) {
	sig, err := solanago.SignatureFromBase58(input.Signature)
	if err != nil {
		return nil, temporalsdk.NewNonRetryableApplicationError("invalid signature", ErrTypeInvalidRequest, err)
	}
	from, err := wallet.ParseAddress(input.From)
	if err != nil {
		return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidRequest, err)
	}
	to, err := wallet.ParseAddress(input.To)
	if err != nil {
		return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidRequest, err)
	}

	has, err := a.ledger.Has(sig)
	if err != nil {
		return nil, err
	}
	if has {
		a.logger.InfoContext(ctx, "transfer already recorded", "signature", input.Signature)
		return &RecordTransferResult{AlreadyRecorded: true}, nil
	}

	rec := &ledger.Record{
		From:      from,
		To:        to,
		Amount:    wallet.Lamports(input.Lamports),
		Signature: sig,
		Network:   a.network,
		Timestamp: time.Now().UTC(),
	}
	if err := a.recorder.RecordTransfer(ctx, rec); err != nil {
		return nil, err
	}

	return &RecordTransferResult{Warnings: rec.Warnings}, nil
}
