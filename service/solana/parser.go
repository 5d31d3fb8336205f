package solana

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// System Program instruction types
const (
	SystemProgramTransferInstruction = uint32(2)
)

// systemTransfer is a decoded System Program Transfer instruction.
type systemTransfer struct {
	From     solana.PublicKey
	To       solana.PublicKey
	Lamports uint64
}

// signatureToDomain converts an RPC TransactionSignature to our domain Transfer.
// Only metadata is filled in; amounts need the full transaction.
func signatureToDomain(sig *rpc.TransactionSignature) *Transfer {
	t := &Transfer{
		Signature: sig.Signature.String(),
		Slot:      sig.Slot,
	}

	if sig.BlockTime != nil {
		t.BlockTime = sig.BlockTime.Time()
	} else {
		t.BlockTime = time.Time{}
	}

	if sig.Err != nil {
		errMsg := fmt.Sprintf("transaction failed: %v", sig.Err)
		t.Err = &errMsg
	}

	return t
}

// parseTransferFromResult fills in the first native SOL transfer found in
// a full transaction. Transactions without one are returned as metadata only.
func parseTransferFromResult(sig *rpc.TransactionSignature, result *rpc.GetTransactionResult) (*Transfer, error) {
	t := signatureToDomain(sig)

	if sig.Err != nil || result == nil || result.Transaction == nil {
		return t, nil
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	accountKeys := tx.Message.AccountKeys
	for _, instruction := range tx.Message.Instructions {
		if int(instruction.ProgramIDIndex) >= len(accountKeys) {
			continue
		}
		if !accountKeys[instruction.ProgramIDIndex].Equals(solana.SystemProgramID) {
			continue
		}
		transfer, err := parseSystemTransfer(instruction, accountKeys)
		if err != nil {
			continue
		}
		t.FromAddress = transfer.From.String()
		t.ToAddress = transfer.To.String()
		t.Amount = transfer.Lamports
		break
	}

	return t, nil
}

// parseSystemTransfer decodes a System Program Transfer instruction.
func parseSystemTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (*systemTransfer, error) {
	// System Transfer instruction format:
	// [0..4]  = instruction type (u32, should be 2 for Transfer)
	// [4..12] = lamports (u64)
	if len(instruction.Data) < 12 {
		return nil, fmt.Errorf("instruction data too short: %d bytes", len(instruction.Data))
	}

	instructionType := binary.LittleEndian.Uint32(instruction.Data[0:4])
	if instructionType != SystemProgramTransferInstruction {
		return nil, fmt.Errorf("not a transfer instruction: type %d", instructionType)
	}

	// System Transfer accounts: [from, to]
	if len(instruction.Accounts) < 2 {
		return nil, fmt.Errorf("transfer instruction has %d accounts, want 2", len(instruction.Accounts))
	}
	fromIdx, toIdx := int(instruction.Accounts[0]), int(instruction.Accounts[1])
	if fromIdx >= len(accountKeys) || toIdx >= len(accountKeys) {
		return nil, fmt.Errorf("transfer account index out of bounds")
	}

	return &systemTransfer{
		From:     accountKeys[fromIdx],
		To:       accountKeys[toIdx],
		Lamports: binary.LittleEndian.Uint64(instruction.Data[4:12]),
	}, nil
}
