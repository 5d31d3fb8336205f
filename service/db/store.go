package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/solwallet/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a transfer is not in the database.
var ErrNotFound = errors.New("transfer not found")

const schema = `
CREATE TABLE IF NOT EXISTS transfers (
    signature        TEXT PRIMARY KEY,
    from_address     TEXT NOT NULL,
    to_address       TEXT NOT NULL,
    amount_lamports  BIGINT NOT NULL CHECK (amount_lamports > 0),
    network          TEXT NOT NULL,
    finalized_at     TIMESTAMPTZ NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_transfers_from_finalized
    ON transfers (from_address, finalized_at DESC);
`

// Store mirrors finalized transfers into Postgres.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If metrics is nil, no metrics will be recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// Transfer represents a finalized transfer in our system.
type Transfer struct {
	Signature   string
	FromAddress string
	ToAddress   string
	Lamports    int64
	Network     string // "mainnet", "devnet", "testnet" or "localnet"
	FinalizedAt time.Time
	CreatedAt   time.Time
}

// InsertTransferParams contains the parameters for recording a transfer.
type InsertTransferParams struct {
	Signature   string
	FromAddress string
	ToAddress   string
	Lamports    int64
	Network     string
	FinalizedAt time.Time
}

// ListTransfersParams contains pagination parameters.
type ListTransfersParams struct {
	FromAddress string
	Network     string
	Limit       int32
	Offset      int32
}

func (s *Store) observe(operation string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery(operation, "transfers", time.Since(start).Seconds(), err)
	}
}

// EnsureSchema creates the transfers table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) (err error) {
	defer func(start time.Time) { s.observe("ensure_schema", start, err) }(time.Now())

	if _, err = s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// InsertTransfer records a transfer. Inserting the same signature twice is
// a no-op; the boolean reports whether a row was written.
func (s *Store) InsertTransfer(ctx context.Context, params InsertTransferParams) (inserted bool, err error) {
	defer func(start time.Time) { s.observe("insert", start, err) }(time.Now())

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO transfers (signature, from_address, to_address, amount_lamports, network, finalized_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (signature) DO NOTHING`,
		params.Signature,
		params.FromAddress,
		params.ToAddress,
		params.Lamports,
		params.Network,
		params.FinalizedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert transfer %s: %w", params.Signature, err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetTransfer retrieves a transfer by its signature.
func (s *Store) GetTransfer(ctx context.Context, signature string) (_ *Transfer, err error) {
	defer func(start time.Time) { s.observe("get", start, err) }(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT signature, from_address, to_address, amount_lamports, network, finalized_at, created_at
		FROM transfers
		WHERE signature = $1`,
		signature,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer %s: %w", signature, err)
	}

	t, err := pgx.CollectExactlyOneRow(rows, scanTransfer)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer %s: %w", signature, err)
	}
	return t, nil
}

// ListTransfers returns transfers sent from an address, newest first.
// An empty Network matches all networks.
func (s *Store) ListTransfers(ctx context.Context, params ListTransfersParams) (_ []*Transfer, err error) {
	defer func(start time.Time) { s.observe("list", start, err) }(time.Now())

	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT signature, from_address, to_address, amount_lamports, network, finalized_at, created_at
		FROM transfers
		WHERE from_address = $1 AND ($2 = '' OR network = $2)
		ORDER BY finalized_at DESC
		LIMIT $3 OFFSET $4`,
		params.FromAddress,
		params.Network,
		limit,
		params.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}

	transfers, err := pgx.CollectRows(rows, scanTransfer)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	return transfers, nil
}

func scanTransfer(row pgx.CollectableRow) (*Transfer, error) {
	var t Transfer
	err := row.Scan(
		&t.Signature,
		&t.FromAddress,
		&t.ToAddress,
		&t.Lamports,
		&t.Network,
		&t.FinalizedAt,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
