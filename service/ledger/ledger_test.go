package ledger

import (
	"context"
	"crypto/ed25519"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/solwallet/service/wallet"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAddress(seedByte byte) solana.PublicKey {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = seedByte
	}
	return solana.PublicKeyFromBytes(ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey))
}

func testRecord(sigByte byte, amount string) Record {
	return Record{
		From:      testAddress(1),
		To:        testAddress(2),
		Amount:    wallet.MustParseSOL(amount),
		Signature: solana.Signature{sigByte},
		Network:   "devnet",
		Timestamp: time.Now().UTC(),
	}
}

func newTestLedger(t *testing.T) *FileLedger {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewFileLedger(filepath.Join(t.TempDir(), "logs.txt"), nil, logger)
}

func TestRecord_Block(t *testing.T) {
	rec := testRecord(7, "2.5")

	want := "============================\n" +
		"From : " + rec.From.String() + ",\n" +
		"To : " + rec.To.String() + ",\n" +
		"Sol : 2.5,\n" +
		"Transaction Signature : " + rec.Signature.String() + "\n" +
		"============================\n\n"

	assert.Equal(t, want, rec.Block())
}

func TestFileLedger_ReadAll_NoFile(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.ReadAll()

	assert.ErrorIs(t, err, ErrNoHistory)
}

func TestFileLedger_AppendThenReadAll(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	first := testRecord(1, "2.5")
	second := testRecord(2, "0.000000001")
	require.NoError(t, l.Append(ctx, first))
	require.NoError(t, l.Append(ctx, second))

	content, err := l.ReadAll()
	require.NoError(t, err)

	assert.Equal(t, first.Block()+second.Block(), content)
	assert.Equal(t, 1, strings.Count(content, first.Signature.String()))
	assert.Contains(t, content, "Sol : 0.000000001,")
}

func TestFileLedger_AppendPreservesExistingContent(t *testing.T) {
	l := newTestLedger(t)
	existing := "============================\nFrom : legacy,\n============================\n\n"
	require.NoError(t, os.WriteFile(l.Path(), []byte(existing), 0o600))

	rec := testRecord(3, "1")
	require.NoError(t, l.Append(context.Background(), rec))

	content, err := l.ReadAll()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(content, existing))
	assert.True(t, strings.HasSuffix(content, rec.Block()))
}

func TestFileLedger_FileMode(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Append(context.Background(), testRecord(4, "1")))

	info, err := os.Stat(l.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileLedger_AppendFailsInMissingDirectory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := NewFileLedger(filepath.Join(t.TempDir(), "missing", "logs.txt"), nil, logger)

	err := l.Append(context.Background(), testRecord(5, "1"))

	assert.Error(t, err)
}

func TestFileLedger_Has(t *testing.T) {
	l := newTestLedger(t)
	rec := testRecord(6, "1")

	has, err := l.Has(rec.Signature)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, l.Append(context.Background(), rec))

	has, err = l.Has(rec.Signature)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = l.Has(solana.Signature{99})
	require.NoError(t, err)
	assert.False(t, has)
}
