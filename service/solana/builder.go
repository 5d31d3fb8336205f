package solana

import (
	"errors"
	"fmt"

	"github.com/brojonat/solwallet/service/wallet"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

// Signer produces ed25519 signatures for a single address.
// *wallet.KeyMaterial implements it.
type Signer interface {
	Address() solana.PublicKey
	Sign(message []byte) (solana.Signature, error)
}

var _ Signer = (*wallet.KeyMaterial)(nil)

// Envelope is a fully signed transfer transaction ready for submission.
// Resending the same Envelope is idempotent; rebuilding against a new
// blockhash yields a new Signature.
type Envelope struct {
	Tx        *solana.Transaction
	Blockhash Blockhash
	Signature solana.Signature
	From      solana.PublicKey
	To        solana.PublicKey
	Lamports  uint64
}

// Base64 returns the wire encoding of the signed transaction.
func (e *Envelope) Base64() (string, error) {
	return e.Tx.ToBase64()
}

// BuildTransfer assembles a single System Program transfer from the signer
// to req.Recipient, binds it to bh and signs it. The signer pays the fee.
func BuildTransfer(signer Signer, req wallet.TransferRequest, bh Blockhash) (*Envelope, error) {
	if bh.Hash.IsZero() {
		return nil, fmt.Errorf("cannot build transfer: blockhash is empty")
	}
	if req.Amount == 0 {
		return nil, fmt.Errorf("cannot build transfer: amount is zero")
	}

	from := signer.Address()
	if from.Equals(req.Recipient) {
		return nil, fmt.Errorf("cannot build transfer: recipient is the sending address")
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(req.Amount.Uint64(), from, req.Recipient).Build(),
		},
		bh.Hash,
		solana.TransactionPayer(from),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble transaction: %w", err)
	}

	message, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message: %w", err)
	}

	sig, err := signer.Sign(message)
	if err != nil {
		return nil, &SigningError{Err: err}
	}
	if sig.IsZero() {
		return nil, &SigningError{Err: errors.New("signer returned an empty signature")}
	}

	tx.Signatures = []solana.Signature{sig}
	if required := int(tx.Message.Header.NumRequiredSignatures); required != 1 || len(tx.Signatures) != required {
		return nil, &SigningError{
			Err: fmt.Errorf("have %d signatures, message requires %d", len(tx.Signatures), required),
		}
	}

	return &Envelope{
		Tx:        tx,
		Blockhash: bh,
		Signature: sig,
		From:      from,
		To:        req.Recipient,
		Lamports:  req.Amount.Uint64(),
	}, nil
}
