package solana

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

var (
	// ErrStaleBlockhash means the node no longer accepts the blockhash the
	// transaction was signed against. Recover by rebuilding and re-signing.
	ErrStaleBlockhash = errors.New("blockhash expired")

	// ErrInsufficientFunds means the sender cannot cover amount plus fee.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNetworkUnavailable covers timeouts and transport failures talking
	// to the node. The same signed envelope may be resent while its
	// blockhash is still valid.
	ErrNetworkUnavailable = errors.New("network unavailable")

	// ErrAlreadyProcessed means the node has already seen this exact
	// signed transaction. A resend that gets it was delivered earlier; the
	// signature should be confirmed, never rebuilt.
	ErrAlreadyProcessed = errors.New("transaction already processed")

	// ErrTransactionFailed means the transaction reached a terminal failed
	// state: executed with an error or expired without landing.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrConfirmationTimeout means finality was not observed in time.
	// The transaction may still land; it must not be treated as success.
	ErrConfirmationTimeout = errors.New("transaction confirmation timeout")
)

// SubmissionError is returned by SendTransaction.
// Err is one of ErrStaleBlockhash, ErrInsufficientFunds,
// ErrNetworkUnavailable, ErrAlreadyProcessed, or the node's own error when
// it fits none of them.
type SubmissionError struct {
	Err    error
	Detail string
}

func (e *SubmissionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("submission failed: %v", e.Err)
	}
	return fmt.Sprintf("submission failed: %v: %s", e.Err, e.Detail)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// Recoverable reports whether the request can be retried (by resubmitting
// or rebuilding) rather than abandoned.
func (e *SubmissionError) Recoverable() bool {
	return errors.Is(e.Err, ErrStaleBlockhash) || errors.Is(e.Err, ErrNetworkUnavailable)
}

// ConfirmationError is returned by the confirmation loop.
// Err is ErrTransactionFailed or ErrConfirmationTimeout.
type ConfirmationError struct {
	Err        error
	Reason     string
	Commitment Commitment // last observed

	// Expired is set when the blockhash expired and the signature was not
	// found anywhere in the node's history. Only then is it safe to sign a
	// replacement transaction.
	Expired bool
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("%v (last seen %s): %s", e.Err, e.Commitment, e.Reason)
}

func (e *ConfirmationError) Unwrap() error {
	return e.Err
}

// IsExpired reports whether err is a ConfirmationError for a transaction
// that expired without landing.
func IsExpired(err error) bool {
	var confErr *ConfirmationError
	return errors.As(err, &confErr) && confErr.Expired
}

// SigningError means the envelope could not be signed. It is not retried.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("failed to sign transaction: %v", e.Err)
}

func (e *SigningError) Unwrap() error {
	return e.Err
}

// classifyRPCError maps an RPC failure to the submission taxonomy.
// The second return is the node message, if any.
func classifyRPCError(err error) (error, string) {
	if err == nil {
		return nil, ""
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrNetworkUnavailable, err.Error()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrNetworkUnavailable, netErr.Error()
	}

	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		// Preflight failures carry simulation logs in Data, which is where
		// "insufficient lamports" shows up for system transfers.
		haystack := rpcErr.Message
		if rpcErr.Data != nil {
			haystack += " " + fmt.Sprint(rpcErr.Data)
		}
		return classifyMessage(haystack, rpcErr.Message, rpcErr)
	}

	var httpErr *jsonrpc.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.Code == 429 || httpErr.Code >= 500 {
			return ErrNetworkUnavailable, fmt.Sprintf("http status %d", httpErr.Code)
		}
		return classifyMessage(httpErr.Error(), httpErr.Error(), err)
	}

	return classifyMessage(err.Error(), err.Error(), err)
}

func classifyMessage(haystack, msg string, original error) (error, string) {
	lower := strings.ToLower(haystack)
	switch {
	case strings.Contains(lower, "already been processed"),
		strings.Contains(lower, "alreadyprocessed"):
		return ErrAlreadyProcessed, msg
	case strings.Contains(lower, "blockhash not found"),
		strings.Contains(lower, "block height exceeded"),
		strings.Contains(lower, "blockhashnotfound"):
		return ErrStaleBlockhash, msg
	case strings.Contains(lower, "insufficient funds"),
		strings.Contains(lower, "insufficient lamports"),
		strings.Contains(lower, "insufficientfunds"),
		strings.Contains(lower, "no record of a prior credit"):
		return ErrInsufficientFunds, msg
	case strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "connection reset"),
		strings.Contains(lower, "no such host"),
		strings.Contains(lower, "timeout"),
		strings.Contains(lower, "429"),
		strings.Contains(lower, "eof"):
		return ErrNetworkUnavailable, msg
	}
	return original, msg
}
