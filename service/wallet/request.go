package wallet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// ErrBadAddress is returned when a recipient cannot be decoded as an address.
var ErrBadAddress = errors.New("invalid address")

// ValidationError describes operator input that was rejected.
// It wraps ErrBadAddress or ErrBadAmount.
type ValidationError struct {
	Field string // "recipient" or "amount"
	Input string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Input, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// TransferRequest is a validated single-recipient transfer.
type TransferRequest struct {
	Recipient solana.PublicKey
	Amount    Lamports
}

// ParseAddress decodes a base58 address that must be exactly 32 bytes.
func ParseAddress(text string) (solana.PublicKey, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return solana.PublicKey{}, fmt.Errorf("%w: address is empty", ErrBadAddress)
	}
	pk, err := solana.PublicKeyFromBase58(text)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %v", ErrBadAddress, err)
	}
	return pk, nil
}

// ValidateTransfer turns raw operator input into a TransferRequest.
// No network access happens here.
func ValidateTransfer(recipientText, amountText string) (TransferRequest, error) {
	recipient, err := ParseAddress(recipientText)
	if err != nil {
		return TransferRequest{}, &ValidationError{Field: "recipient", Input: recipientText, Err: err}
	}

	amount, err := ParseSOL(amountText)
	if err != nil {
		return TransferRequest{}, &ValidationError{Field: "amount", Input: amountText, Err: err}
	}

	return TransferRequest{Recipient: recipient, Amount: amount}, nil
}

// String renders the request for operator-facing messages.
func (r TransferRequest) String() string {
	return fmt.Sprintf("%s SOL to %s", r.Amount, r.Recipient)
}
