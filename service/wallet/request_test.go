package wallet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const systemProgram = "11111111111111111111111111111111"

func TestValidateTransfer(t *testing.T) {
	req, err := ValidateTransfer(" "+systemProgram+" ", "2.5")
	require.NoError(t, err)
	assert.Equal(t, systemProgram, req.Recipient.String())
	assert.Equal(t, Lamports(2_500_000_000), req.Amount)
	assert.Equal(t, "2.5 SOL to "+systemProgram, req.String())
}

func TestValidateTransfer_BadAddress(t *testing.T) {
	inputs := []string{
		"",
		"abc",                                            // decodes, wrong length
		"0OIl0OIl0OIl0OIl0OIl0OIl0OIl0OIl",               // characters outside base58
		systemProgram + "1",                              // 33 bytes
		"5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA", // wrong length
		"not an address!",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			_, err := ValidateTransfer(input, "1")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrBadAddress)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, "recipient", verr.Field)
			assert.Equal(t, input, verr.Input)
		})
	}
}

func TestValidateTransfer_BadAmount(t *testing.T) {
	for _, input := range []string{"abc", "0", "-3", "", "1e-12"} {
		t.Run(input, func(t *testing.T) {
			_, err := ValidateTransfer(systemProgram, input)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrBadAmount)
			assert.NotErrorIs(t, err, ErrBadAddress)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, "amount", verr.Field)
		})
	}
}

func TestValidateTransfer_AddressCheckedFirst(t *testing.T) {
	_, err := ValidateTransfer("bad", "abc")
	assert.ErrorIs(t, err, ErrBadAddress)
}
