// Package ledger keeps the local append-only log of completed transfers.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/brojonat/solwallet/service/metrics"
	"github.com/brojonat/solwallet/service/wallet"
	"github.com/gagliardetto/solana-go"
)

// ErrNoHistory is returned by ReadAll when nothing has been recorded yet.
var ErrNoHistory = errors.New("no transfer history")

const separator = "============================"

// Record is a finalized transfer. Records are never mutated once appended.
type Record struct {
	From      solana.PublicKey
	To        solana.PublicKey
	Amount    wallet.Lamports
	Signature solana.Signature
	Network   string
	Timestamp time.Time

	// Warnings lists mirrors (database, event stream) that failed to take
	// the record. The local file is always written first.
	Warnings []string
}

// Block renders the record in the log file format. Each block is bounded
// by separator lines so readers never see a partial record.
func (r Record) Block() string {
	var b strings.Builder
	b.WriteString(separator + "\n")
	fmt.Fprintf(&b, "From : %s,\n", r.From)
	fmt.Fprintf(&b, "To : %s,\n", r.To)
	fmt.Fprintf(&b, "Sol : %s,\n", r.Amount)
	fmt.Fprintf(&b, "Transaction Signature : %s\n", r.Signature)
	b.WriteString(separator + "\n\n")
	return b.String()
}

// FileLedger appends records to a human-readable text file.
type FileLedger struct {
	path    string
	logger  *slog.Logger
	metrics *metrics.Metrics
	mu      sync.Mutex
}

// NewFileLedger creates a ledger backed by path. The file is created on
// first Append. If metrics is nil, no metrics will be recorded.
func NewFileLedger(path string, m *metrics.Metrics, logger *slog.Logger) *FileLedger {
	return &FileLedger{path: path, logger: logger, metrics: m}
}

// Path returns the backing file path.
func (l *FileLedger) Path() string {
	return l.path
}

// Append writes rec to the end of the file with a single write and syncs
// it before returning. Earlier records are never touched.
func (l *FileLedger) Append(ctx context.Context, rec Record) (err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	defer func() {
		if l.metrics != nil {
			l.metrics.RecordLedgerWrite("file", err)
		}
	}()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open ledger %s: %w", l.path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close ledger %s: %w", l.path, cerr)
		}
	}()

	if _, err := f.WriteString(rec.Block()); err != nil {
		return fmt.Errorf("failed to write ledger %s: %w", l.path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync ledger %s: %w", l.path, err)
	}

	l.logger.DebugContext(ctx, "appended transfer record",
		"path", l.path,
		"signature", rec.Signature.String(),
	)
	return nil
}

// Has reports whether a record with signature has already been appended.
func (l *FileLedger) Has(signature solana.Signature) (bool, error) {
	content, err := l.ReadAll()
	if errors.Is(err, ErrNoHistory) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return strings.Contains(content, "Transaction Signature : "+signature.String()+"\n"), nil
}

// ReadAll returns the full file contents, or ErrNoHistory when the file
// does not exist or is empty.
func (l *FileLedger) ReadAll() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	content, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNoHistory
	}
	if err != nil {
		return "", fmt.Errorf("failed to read ledger %s: %w", l.path, err)
	}
	if strings.TrimSpace(string(content)) == "" {
		return "", ErrNoHistory
	}
	return string(content), nil
}
