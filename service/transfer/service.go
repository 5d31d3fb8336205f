// Package transfer drives a single SOL transfer from a validated request to
// a finalized, recorded transaction.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solwallet/service/db"
	"github.com/brojonat/solwallet/service/ledger"
	"github.com/brojonat/solwallet/service/metrics"
	"github.com/brojonat/solwallet/service/nats"
	"github.com/brojonat/solwallet/service/solana"
	"github.com/brojonat/solwallet/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
)

// Stages reported in TransferError.
const (
	StageBlockhash = "fetch blockhash"
	StageSign      = "sign"
	StageSubmit    = "submit"
	StageConfirm   = "confirm"
	StageRecord    = "record"
)

// TransferError names the sender, recipient and amount of a failed
// transfer together with the stage that failed.
type TransferError struct {
	From      solanago.PublicKey
	To        solanago.PublicKey
	Amount    wallet.Lamports
	Stage     string
	Signature solanago.Signature // zero unless the transaction was submitted
	Err       error
}

func (e *TransferError) Error() string {
	msg := fmt.Sprintf("transfer of %s SOL from %s to %s failed at %s", e.Amount, e.From, e.To, e.Stage)
	if !e.Signature.IsZero() {
		msg += fmt.Sprintf(" (signature %s)", e.Signature)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// TransferStore is the Postgres mirror. *db.Store implements it.
type TransferStore interface {
	InsertTransfer(ctx context.Context, params db.InsertTransferParams) (bool, error)
}

var _ TransferStore = (*db.Store)(nil)

// Config bounds the retry behavior of a transfer.
type Config struct {
	// MaxSubmitRetries is how many times the same signed envelope is resent
	// after a network failure while its blockhash is still valid.
	MaxSubmitRetries int
	// MaxRebuilds is how many times a transfer is re-signed against a new
	// blockhash after the node reports the old one stale.
	MaxRebuilds int
	// RetryDelay is the pause before resending after a network failure.
	RetryDelay time.Duration
	// Network is recorded with each transfer ("devnet", "mainnet", ...).
	Network string
}

// Service performs transfers for one key.
type Service struct {
	client    solana.LedgerClient
	signer    solana.Signer
	confirmer *solana.Confirmer
	ledger    *ledger.FileLedger
	store     TransferStore
	publisher nats.Publisher
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics

	// OnProgress, when set, receives short operator-facing status lines.
	OnProgress func(msg string)
}

// Option configures optional mirrors.
type Option func(*Service)

// WithStore mirrors recorded transfers into Postgres.
func WithStore(store TransferStore) Option {
	return func(s *Service) { s.store = store }
}

// WithPublisher publishes recorded transfers to NATS.
func WithPublisher(publisher nats.Publisher) Option {
	return func(s *Service) { s.publisher = publisher }
}

// NewService creates a transfer Service. If metrics is nil, no metrics
// will be recorded.
func NewService(
	client solana.LedgerClient,
	signer solana.Signer,
	confirmer *solana.Confirmer,
	fileLedger *ledger.FileLedger,
	cfg Config,
	m *metrics.Metrics,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		client:    client,
		signer:    signer,
		confirmer: confirmer,
		ledger:    fileLedger,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
	}
	for _, opt := range opts {
		opt(s)
	}
	if confirmer != nil {
		confirmer.OnProgress = func(c solana.Commitment) {
			s.progress(fmt.Sprintf("Transaction %s...", c))
		}
	}
	return s
}

// Address returns the sending address.
func (s *Service) Address() solanago.PublicKey {
	return s.signer.Address()
}

// Balance returns the sender's balance.
func (s *Service) Balance(ctx context.Context) (wallet.Lamports, error) {
	lamports, err := s.client.GetBalance(ctx, s.signer.Address())
	if err != nil {
		return 0, err
	}
	return wallet.Lamports(lamports), nil
}

func (s *Service) progress(msg string) {
	if s.OnProgress != nil {
		s.OnProgress(msg)
	}
}

// Transfer sends req and blocks until the transaction is finalized and
// recorded in the ledger. Every failure is a *TransferError.
//
// A stale blockhash causes a rebuild against a fresh one (new signature);
// network failures resend the same signed envelope while its blockhash is
// valid. After a network failure the old signature is confirmed or seen to
// expire before any rebuild, so one request never moves funds twice.
// Insufficient funds and on-chain failures are not retried.
func (s *Service) Transfer(ctx context.Context, req wallet.TransferRequest) (*ledger.Record, error) {
	start := time.Now()
	from := s.signer.Address()
	logger := s.logger.With(
		"from", from.String(),
		"to", req.Recipient.String(),
		"lamports", req.Amount.Uint64(),
	)

	fail := func(stage string, sig solanago.Signature, err error) (*ledger.Record, error) {
		logger.ErrorContext(ctx, "transfer failed", "stage", stage, "signature", sig.String(), "error", err)
		if s.metrics != nil {
			s.metrics.RecordTransfer(outcomeOf(err), req.Amount.Uint64(), time.Since(start).Seconds())
		}
		return nil, &TransferError{
			From:      from,
			To:        req.Recipient,
			Amount:    req.Amount,
			Stage:     stage,
			Signature: sig,
			Err:       err,
		}
	}

	var (
		env       *solana.Envelope
		sig       solanago.Signature
		finalized bool
	)
	for rebuild := 0; ; rebuild++ {
		s.progress("Creating transaction, please wait...")

		bh, err := s.client.GetLatestBlockhash(ctx)
		if err != nil {
			return fail(StageBlockhash, solanago.Signature{}, err)
		}

		env, err = solana.BuildTransfer(s.signer, req, bh)
		if err != nil {
			return fail(StageSign, solanago.Signature{}, err)
		}

		s.progress("Sending transaction...")
		var inDoubt bool
		sig, inDoubt, err = s.submit(ctx, env, logger)
		if err == nil {
			break
		}

		if inDoubt {
			// An earlier send may have reached the node. Nothing new is
			// signed until this signature is known to have expired unseen.
			s.progress("Checking whether the transaction landed...")
			_, cerr := s.confirmer.WaitForFinalized(ctx, env.Signature, env.Blockhash.Hash)
			if cerr == nil {
				logger.WarnContext(ctx, "transaction landed despite submission error",
					"signature", env.Signature.String(),
					"error", err,
				)
				sig, finalized = env.Signature, true
				break
			}
			if !solana.IsExpired(cerr) {
				return fail(StageConfirm, env.Signature, cerr)
			}
		}

		canRebuild := errors.Is(err, solana.ErrStaleBlockhash) ||
			(inDoubt && errors.Is(err, solana.ErrNetworkUnavailable))
		if canRebuild && rebuild < s.cfg.MaxRebuilds {
			logger.WarnContext(ctx, "blockhash stale, rebuilding",
				"stale_signature", env.Signature.String(),
				"rebuild", rebuild+1,
			)
			if s.metrics != nil {
				s.metrics.RecordRebuild()
			}
			continue
		}
		return fail(StageSubmit, env.Signature, err)
	}

	logger = logger.With("signature", sig.String())
	if !finalized {
		logger.InfoContext(ctx, "transaction submitted, waiting for finality")
		if _, err := s.confirmer.WaitForFinalized(ctx, sig, env.Blockhash.Hash); err != nil {
			return fail(StageConfirm, sig, err)
		}
	}

	rec := ledger.Record{
		From:      from,
		To:        req.Recipient,
		Amount:    req.Amount,
		Signature: sig,
		Network:   s.cfg.Network,
		Timestamp: time.Now().UTC(),
	}
	if err := s.RecordTransfer(ctx, &rec); err != nil {
		return fail(StageRecord, sig, err)
	}

	if s.metrics != nil {
		s.metrics.RecordTransfer("finalized", req.Amount.Uint64(), time.Since(start).Seconds())
	}
	logger.InfoContext(ctx, "transfer finalized", "elapsed", time.Since(start))
	return &rec, nil
}

// submit sends env, resending the identical envelope after network failures
// while its blockhash is still valid. A blockhash that expires while
// retrying is reported as ErrStaleBlockhash.
//
// inDoubt is true when an attempt failed in a way that may still have
// delivered the transaction; the caller must resolve env.Signature before
// signing a replacement. A node that already has the transaction counts as
// accepted.
func (s *Service) submit(ctx context.Context, env *solana.Envelope, logger *slog.Logger) (solanago.Signature, bool, error) {
	inDoubt := false
	for attempt := 0; ; attempt++ {
		sig, err := s.client.SendTransaction(ctx, env)
		if s.metrics != nil {
			s.metrics.RecordSubmission(SubmissionResult(err))
		}
		if err == nil {
			return sig, false, nil
		}
		if errors.Is(err, solana.ErrAlreadyProcessed) {
			logger.InfoContext(ctx, "node already has this transaction",
				"signature", env.Signature.String(),
				"attempt", attempt+1,
			)
			return env.Signature, false, nil
		}
		if !errors.Is(err, solana.ErrNetworkUnavailable) {
			return solanago.Signature{}, inDoubt, err
		}

		inDoubt = true
		if attempt >= s.cfg.MaxSubmitRetries {
			return solanago.Signature{}, true, err
		}

		valid, verr := s.client.IsBlockhashValid(ctx, env.Blockhash.Hash)
		if verr == nil && !valid {
			return solanago.Signature{}, true, &solana.SubmissionError{
				Err:    solana.ErrStaleBlockhash,
				Detail: "blockhash expired while retrying submission",
			}
		}

		logger.WarnContext(ctx, "submission failed, resending same transaction",
			"signature", env.Signature.String(),
			"attempt", attempt+1,
			"error", err,
		)
		if s.metrics != nil {
			s.metrics.RecordRPCRetry("SendTransaction", "network")
		}

		select {
		case <-ctx.Done():
			return solanago.Signature{}, true, &solana.SubmissionError{
				Err:    solana.ErrNetworkUnavailable,
				Detail: ctx.Err().Error(),
			}
		case <-time.After(s.cfg.RetryDelay):
		}
	}
}

// RecordTransfer appends rec to the file ledger, then mirrors it to
// Postgres and NATS when configured. Only the file write can fail the
// call; mirror failures are logged and listed in rec.Warnings.
func (s *Service) RecordTransfer(ctx context.Context, rec *ledger.Record) error {
	if err := s.ledger.Append(ctx, *rec); err != nil {
		return err
	}

	if s.store != nil {
		_, err := s.store.InsertTransfer(ctx, db.InsertTransferParams{
			Signature:   rec.Signature.String(),
			FromAddress: rec.From.String(),
			ToAddress:   rec.To.String(),
			Lamports:    int64(rec.Amount.Uint64()),
			Network:     rec.Network,
			FinalizedAt: rec.Timestamp,
		})
		if s.metrics != nil {
			s.metrics.RecordLedgerWrite("postgres", err)
		}
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to mirror transfer to database",
				"signature", rec.Signature.String(),
				"error", err,
			)
			rec.Warnings = append(rec.Warnings, fmt.Sprintf("database mirror failed: %v", err))
		}
	}

	if s.publisher != nil {
		err := s.publisher.PublishTransfer(ctx, nats.FromRecord(*rec))
		if s.metrics != nil {
			s.metrics.RecordLedgerWrite("nats", err)
		}
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to publish transfer event",
				"signature", rec.Signature.String(),
				"error", err,
			)
			rec.Warnings = append(rec.Warnings, fmt.Sprintf("event publish failed: %v", err))
		}
	}

	return nil
}

// SubmissionResult is the metrics label for a submission outcome.
func SubmissionResult(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, solana.ErrAlreadyProcessed):
		return "already_processed"
	case errors.Is(err, solana.ErrStaleBlockhash):
		return "stale_blockhash"
	case errors.Is(err, solana.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, solana.ErrNetworkUnavailable):
		return "network_unavailable"
	default:
		return "rejected"
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, solana.ErrConfirmationTimeout):
		return "timeout"
	case errors.Is(err, solana.ErrTransactionFailed):
		return "failed"
	case errors.Is(err, solana.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, solana.ErrNetworkUnavailable):
		return "network_unavailable"
	default:
		return "error"
	}
}
