package solana

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
)

func TestClassifyRPCError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), ErrNetworkUnavailable},
		{"canceled", context.Canceled, ErrNetworkUnavailable},
		{"block height exceeded", &jsonrpc.RPCError{Message: "Transaction simulation failed: block height exceeded"}, ErrStaleBlockhash},
		{"server error", jsonrpc.NewHTTPError(503, errors.New("503 Service Unavailable")), ErrNetworkUnavailable},
		{"eof", errors.New("unexpected EOF"), ErrNetworkUnavailable},
		{"already processed", &jsonrpc.RPCError{Code: -32002, Message: "Transaction simulation failed: This transaction has already been processed"}, ErrAlreadyProcessed},
		{"already processed variant", errors.New("AlreadyProcessed"), ErrAlreadyProcessed},
		{"insufficient funds for fee", &jsonrpc.RPCError{Message: "Transaction simulation failed: Error processing Instruction 0: insufficient funds for fee"}, ErrInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, _ := classifyRPCError(tt.err)
			assert.ErrorIs(t, kind, tt.want)
		})
	}
}

func TestClassifyRPCError_Unrecognized(t *testing.T) {
	original := &jsonrpc.RPCError{Code: -32602, Message: "invalid params"}

	kind, detail := classifyRPCError(original)

	assert.Same(t, original, kind)
	assert.Equal(t, "invalid params", detail)

	sub := &SubmissionError{Err: kind, Detail: detail}
	assert.False(t, sub.Recoverable())
}

func TestConfirmationError(t *testing.T) {
	err := fmt.Errorf("transfer: %w", &ConfirmationError{
		Err:        ErrConfirmationTimeout,
		Reason:     "context deadline exceeded",
		Commitment: CommitmentConfirmed,
	})

	assert.ErrorIs(t, err, ErrConfirmationTimeout)
	assert.NotErrorIs(t, err, ErrTransactionFailed)
	assert.Contains(t, err.Error(), "last seen confirmed")
}
