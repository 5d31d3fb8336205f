package nats

import (
	"time"

	"github.com/brojonat/solwallet/service/ledger"
)

// TransferEvent represents a finalized transfer published to NATS.
// This is published to the subject "transfers.{from_address}" in JetStream.
type TransferEvent struct {
	Signature string `json:"signature"`

	FromAddress string `json:"from_address"`
	ToAddress   string `json:"to_address"`

	AmountLamports uint64 `json:"amount_lamports"`
	AmountSOL      string `json:"amount_sol"`
	Network        string `json:"network"`

	FinalizedAt time.Time `json:"finalized_at"`
	PublishedAt time.Time `json:"published_at"`
}

// FromRecord converts a ledger record to a TransferEvent for publishing.
func FromRecord(rec ledger.Record) *TransferEvent {
	return &TransferEvent{
		Signature:      rec.Signature.String(),
		FromAddress:    rec.From.String(),
		ToAddress:      rec.To.String(),
		AmountLamports: rec.Amount.Uint64(),
		AmountSOL:      rec.Amount.String(),
		Network:        rec.Network,
		FinalizedAt:    rec.Timestamp,
		PublishedAt:    time.Now().UTC(),
	}
}

// Subject returns the subject the event is published on.
func (e *TransferEvent) Subject() string {
	return SubjectPrefix + e.FromAddress
}
