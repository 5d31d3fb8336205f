package solana

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transferData(instruction uint32, lamports uint64) []byte {
	// [0..4]  = instruction type (u32, 2 = Transfer)
	// [4..12] = lamports (u64)
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], instruction)
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	return data
}

func TestParseSystemTransfer(t *testing.T) {
	from := testAddress(t, 1)
	to := testAddress(t, 2)
	keys := []solana.PublicKey{from, to, solana.SystemProgramID}

	got, err := parseSystemTransfer(solana.CompiledInstruction{
		ProgramIDIndex: 2,
		Accounts:       []uint16{0, 1},
		Data:           transferData(SystemProgramTransferInstruction, 1_000_000_000),
	}, keys)

	require.NoError(t, err)
	assert.Equal(t, from, got.From)
	assert.Equal(t, to, got.To)
	assert.Equal(t, uint64(1_000_000_000), got.Lamports)
}

func TestParseSystemTransfer_Rejects(t *testing.T) {
	keys := []solana.PublicKey{testAddress(t, 1), testAddress(t, 2), solana.SystemProgramID}

	tests := []struct {
		name        string
		instruction solana.CompiledInstruction
	}{
		{
			name:        "short data",
			instruction: solana.CompiledInstruction{Accounts: []uint16{0, 1}, Data: []byte{2, 0, 0, 0}},
		},
		{
			name: "not a transfer",
			instruction: solana.CompiledInstruction{
				Accounts: []uint16{0, 1},
				Data:     transferData(0, 1), // CreateAccount
			},
		},
		{
			name: "missing accounts",
			instruction: solana.CompiledInstruction{
				Accounts: []uint16{0},
				Data:     transferData(SystemProgramTransferInstruction, 1),
			},
		},
		{
			name: "account index out of bounds",
			instruction: solana.CompiledInstruction{
				Accounts: []uint16{0, 9},
				Data:     transferData(SystemProgramTransferInstruction, 1),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseSystemTransfer(tt.instruction, keys)
			assert.Error(t, err)
		})
	}
}

func TestSignatureToDomain(t *testing.T) {
	blockTime := solana.UnixTimeSeconds(time.Now().Unix())
	sig := &rpc.TransactionSignature{
		Signature: solana.Signature{9},
		Slot:      77,
		BlockTime: &blockTime,
		Err:       map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}},
	}

	got := signatureToDomain(sig)

	assert.Equal(t, sig.Signature.String(), got.Signature)
	assert.Equal(t, uint64(77), got.Slot)
	assert.Equal(t, blockTime.Time(), got.BlockTime)
	require.NotNil(t, got.Err)
	assert.Contains(t, *got.Err, "InstructionError")
}

func TestParseTransferFromResult_FailedTransactionSkipsDecoding(t *testing.T) {
	sig := &rpc.TransactionSignature{Signature: solana.Signature{1}, Err: "boom"}

	// A nil envelope would fail to decode; failed transactions never get that far.
	got, err := parseTransferFromResult(sig, &rpc.GetTransactionResult{})

	require.NoError(t, err)
	assert.Zero(t, got.Amount)
	require.NotNil(t, got.Err)
}
