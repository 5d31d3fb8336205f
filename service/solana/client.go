package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solwallet/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetBalance(
		ctx context.Context,
		account solana.PublicKey,
		commitment rpc.CommitmentType,
	) (*rpc.GetBalanceResult, error)

	GetLatestBlockhash(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (*rpc.GetLatestBlockhashResult, error)

	SendTransactionWithOpts(
		ctx context.Context,
		tx *solana.Transaction,
		opts rpc.TransactionOpts,
	) (solana.Signature, error)

	GetSignatureStatuses(
		ctx context.Context,
		searchTransactionHistory bool,
		signatures ...solana.Signature,
	) (*rpc.GetSignatureStatusesResult, error)

	IsBlockhashValid(
		ctx context.Context,
		blockhash solana.Hash,
		commitment rpc.CommitmentType,
	) (*rpc.IsValidBlockhashResult, error)

	GetSignaturesForAddress(
		ctx context.Context,
		address solana.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)
}

// LedgerClient is the remote node as seen by the transfer flow.
// *Client implements it; tests substitute fakes.
type LedgerClient interface {
	GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error)
	GetLatestBlockhash(ctx context.Context) (Blockhash, error)
	SendTransaction(ctx context.Context, env *Envelope) (solana.Signature, error)
	GetSignatureStatus(ctx context.Context, signature solana.Signature) (*SignatureStatus, error)
	FindSignatureStatus(ctx context.Context, signature solana.Signature) (*SignatureStatus, error)
	IsBlockhashValid(ctx context.Context, blockhash solana.Hash) (bool, error)
}

// DefaultCallTimeout bounds a single RPC round trip.
const DefaultCallTimeout = 5 * time.Second

// Client wraps the RPC client with per-call timeouts, error classification,
// logging, and metrics.
type Client struct {
	rpc         RPCClient
	logger      *slog.Logger
	metrics     *metrics.Metrics
	endpoint    string // RPC endpoint identifier for metrics (e.g., "mainnet", "devnet", rpc host)
	callTimeout time.Duration
	commitment  rpc.CommitmentType
}

var _ LedgerClient = (*Client)(nil)

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithCallTimeout sets the per-call timeout. Non-positive values are ignored.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithCommitment sets the commitment used for reads and preflight.
func WithCommitment(commitment rpc.CommitmentType) ClientOption {
	return func(c *Client) {
		if commitment != "" {
			c.commitment = commitment
		}
	}
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "mainnet", "devnet", or RPC hostname).
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		rpc:         rpcClient,
		logger:      logger,
		metrics:     m,
		endpoint:    endpoint,
		callTimeout: DefaultCallTimeout,
		commitment:  rpc.CommitmentConfirmed,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// call runs fn under the per-call timeout and records metrics.
func (c *Client) call(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		c.logger.DebugContext(ctx, "rpc call failed",
			"method", method,
			"endpoint", c.endpoint,
			"duration_seconds", duration,
			"error", err,
		)
	}
	if c.metrics != nil {
		c.metrics.RecordRPCCall(method, status, c.endpoint, duration)
	}
	return err
}

// readError wraps a failed read call. Connectivity failures wrap
// ErrNetworkUnavailable so callers can tell them apart.
func readError(method string, err error) error {
	kind, detail := classifyRPCError(err)
	if errors.Is(kind, ErrNetworkUnavailable) {
		return fmt.Errorf("%s: %w: %s", method, ErrNetworkUnavailable, detail)
	}
	return fmt.Errorf("%s: %w", method, err)
}

// GetBalance returns the balance of address in lamports.
func (c *Client) GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error) {
	var out *rpc.GetBalanceResult
	err := c.call(ctx, "GetBalance", func(ctx context.Context) error {
		var err error
		out, err = c.rpc.GetBalance(ctx, address, c.commitment)
		return err
	})
	if err != nil {
		return 0, readError("getBalance", err)
	}
	if out == nil {
		return 0, fmt.Errorf("getBalance: empty response")
	}
	return out.Value, nil
}

// GetLatestBlockhash fetches a fresh blockhash to sign against.
func (c *Client) GetLatestBlockhash(ctx context.Context) (Blockhash, error) {
	var out *rpc.GetLatestBlockhashResult
	err := c.call(ctx, "GetLatestBlockhash", func(ctx context.Context) error {
		var err error
		out, err = c.rpc.GetLatestBlockhash(ctx, c.commitment)
		return err
	})
	if err != nil {
		return Blockhash{}, readError("getLatestBlockhash", err)
	}
	if out == nil || out.Value == nil || out.Value.Blockhash.IsZero() {
		return Blockhash{}, fmt.Errorf("getLatestBlockhash: empty response")
	}

	c.logger.DebugContext(ctx, "fetched latest blockhash",
		"blockhash", out.Value.Blockhash.String(),
		"last_valid_block_height", out.Value.LastValidBlockHeight,
	)

	return Blockhash{
		Hash:                 out.Value.Blockhash,
		LastValidBlockHeight: out.Value.LastValidBlockHeight,
		FetchedAt:            time.Now(),
	}, nil
}

// SendTransaction submits a signed envelope. Failures are *SubmissionError.
// Submitting the same envelope twice is safe: the network deduplicates by
// signature.
func (c *Client) SendTransaction(ctx context.Context, env *Envelope) (solana.Signature, error) {
	opts := rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: c.commitment,
	}

	var sig solana.Signature
	err := c.call(ctx, "SendTransaction", func(ctx context.Context) error {
		var err error
		sig, err = c.rpc.SendTransactionWithOpts(ctx, env.Tx, opts)
		return err
	})
	if err != nil {
		kind, detail := classifyRPCError(err)
		c.logger.WarnContext(ctx, "sendTransaction rejected",
			"signature", env.Signature.String(),
			"kind", kind,
			"detail", detail,
		)
		return solana.Signature{}, &SubmissionError{Err: kind, Detail: detail}
	}

	if !sig.Equals(env.Signature) {
		// The node echoes the first signature; a mismatch means the
		// envelope was altered after signing.
		c.logger.WarnContext(ctx, "node returned unexpected signature",
			"expected", env.Signature.String(),
			"got", sig.String(),
		)
	}

	return sig, nil
}

// GetSignatureStatus returns the current status of a signature from the
// node's recent status cache. A signature the node has not seen recently is
// reported as CommitmentUnknown.
func (c *Client) GetSignatureStatus(ctx context.Context, signature solana.Signature) (*SignatureStatus, error) {
	return c.signatureStatus(ctx, signature, false)
}

// FindSignatureStatus is like GetSignatureStatus but also searches the
// node's full transaction history. It is slower; use it before concluding
// that a transaction never landed.
func (c *Client) FindSignatureStatus(ctx context.Context, signature solana.Signature) (*SignatureStatus, error) {
	return c.signatureStatus(ctx, signature, true)
}

func (c *Client) signatureStatus(ctx context.Context, signature solana.Signature, searchHistory bool) (*SignatureStatus, error) {
	var out *rpc.GetSignatureStatusesResult
	err := c.call(ctx, "GetSignatureStatuses", func(ctx context.Context) error {
		var err error
		out, err = c.rpc.GetSignatureStatuses(ctx, searchHistory, signature)
		return err
	})

	status := &SignatureStatus{Signature: signature, Commitment: CommitmentUnknown}
	if errors.Is(err, rpc.ErrNotFound) {
		return status, nil
	}
	if err != nil {
		return nil, readError("getSignatureStatuses", err)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return status, nil
	}

	result := out.Value[0]
	status.Slot = result.Slot
	if result.Err != nil {
		status.Commitment = CommitmentFailed
		status.Err = fmt.Sprintf("%v", result.Err)
		return status, nil
	}
	status.Commitment = commitmentFromRPC(result.ConfirmationStatus)
	return status, nil
}

// IsBlockhashValid reports whether the node still accepts blockhash.
func (c *Client) IsBlockhashValid(ctx context.Context, blockhash solana.Hash) (bool, error) {
	var out *rpc.IsValidBlockhashResult
	err := c.call(ctx, "IsBlockhashValid", func(ctx context.Context) error {
		var err error
		out, err = c.rpc.IsBlockhashValid(ctx, blockhash, c.commitment)
		return err
	})
	if err != nil {
		return false, readError("isBlockhashValid", err)
	}
	if out == nil {
		return false, fmt.Errorf("isBlockhashValid: empty response")
	}
	return out.Value, nil
}
