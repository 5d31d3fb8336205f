package wallet

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// LamportsPerSOL is the fixed scale between the display unit (SOL) and the
// base unit (lamports).
const LamportsPerSOL = solana.LAMPORTS_PER_SOL

// solDecimals is the number of fractional digits a lamport amount can carry
// when expressed in SOL.
const solDecimals = 9

var maxLamports = new(big.Int).SetUint64(^uint64(0))

// Lamports is an amount denominated in the network's base unit.
type Lamports uint64

// ParseSOL converts a user-supplied decimal SOL amount to lamports.
//
// Digits beyond the ninth fractional place are truncated toward zero, so the
// result is never larger than what the operator typed. Amounts that are not
// numeric, not positive, that truncate to zero lamports, or that overflow a
// uint64 are rejected with ErrBadAmount.
func ParseSOL(text string) (Lamports, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, fmt.Errorf("%w: amount is empty", ErrBadAmount)
	}

	d, err := decimal.NewFromString(text)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrBadAmount, text)
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("%w: %q must be greater than zero", ErrBadAmount, text)
	}
	// Exponents outside this window either overflow a uint64 of lamports or
	// carry more digits than anyone types; bail out before big.Int rescaling.
	if d.Exponent() > 20 {
		return 0, fmt.Errorf("%w: %q is too large", ErrBadAmount, text)
	}
	if d.Exponent() < -1000 {
		return 0, fmt.Errorf("%w: %q has too many decimal places", ErrBadAmount, text)
	}

	lamports := d.Shift(solDecimals).Truncate(0).BigInt()
	if lamports.Sign() == 0 {
		return 0, fmt.Errorf("%w: %q is smaller than one lamport", ErrBadAmount, text)
	}
	if lamports.Cmp(maxLamports) > 0 {
		return 0, fmt.Errorf("%w: %q is too large", ErrBadAmount, text)
	}

	return Lamports(lamports.Uint64()), nil
}

// MustParseSOL is like ParseSOL but panics on error. Intended for tests and
// constants.
func MustParseSOL(text string) Lamports {
	l, err := ParseSOL(text)
	if err != nil {
		panic(err)
	}
	return l
}

// SOL returns the amount in display units.
func (l Lamports) SOL() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(l)), -solDecimals)
}

// String formats the amount in SOL without trailing zeros (e.g. "2.5").
func (l Lamports) String() string {
	return l.SOL().String()
}

// Uint64 returns the raw lamport count.
func (l Lamports) Uint64() uint64 {
	return uint64(l)
}

// ErrBadAmount is returned when an amount cannot be used for a transfer.
var ErrBadAmount = errors.New("invalid amount")
