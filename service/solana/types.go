package solana

import (
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Commitment is the confirmation state of a submitted transaction as
// observed by this client.
type Commitment int

const (
	// CommitmentUnknown means the node has no status for the signature yet.
	CommitmentUnknown Commitment = iota
	CommitmentProcessed
	CommitmentConfirmed
	CommitmentFinalized
	// CommitmentFailed is terminal: the transaction executed with an error
	// or expired without landing.
	CommitmentFailed
)

func (c Commitment) String() string {
	switch c {
	case CommitmentProcessed:
		return "processed"
	case CommitmentConfirmed:
		return "confirmed"
	case CommitmentFinalized:
		return "finalized"
	case CommitmentFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether polling can stop at this commitment.
func (c Commitment) IsTerminal() bool {
	return c == CommitmentFinalized || c == CommitmentFailed
}

func commitmentFromRPC(status rpc.ConfirmationStatusType) Commitment {
	switch status {
	case rpc.ConfirmationStatusProcessed:
		return CommitmentProcessed
	case rpc.ConfirmationStatusConfirmed:
		return CommitmentConfirmed
	case rpc.ConfirmationStatusFinalized:
		return CommitmentFinalized
	default:
		return CommitmentUnknown
	}
}

// SignatureStatus is the observed status of a transaction signature.
type SignatureStatus struct {
	Signature  solana.Signature
	Commitment Commitment
	Slot       uint64
	Err        string // on-chain error, empty unless Commitment is CommitmentFailed
}

// Blockhash is a recent blockhash together with the last block height at
// which transactions referencing it are accepted.
type Blockhash struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
	FetchedAt            time.Time
}

// Transfer is a native SOL transfer observed on chain.
type Transfer struct {
	Signature   string
	Slot        uint64
	BlockTime   time.Time
	FromAddress string
	ToAddress   string
	Amount      uint64
	Err         *string // nil if the transaction succeeded
}
