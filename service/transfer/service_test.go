package transfer

import (
	"context"
	"crypto/ed25519"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/solwallet/service/db"
	"github.com/brojonat/solwallet/service/ledger"
	"github.com/brojonat/solwallet/service/nats"
	"github.com/brojonat/solwallet/service/solana"
	"github.com/brojonat/solwallet/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeLedgerClient is an in-memory node. Each GetLatestBlockhash returns a
// new blockhash; SendTransaction pops sendErrs in order and accepts once
// the queue is empty. Accepted signatures finalize on the first poll, and
// resending one is rejected as already processed.
type fakeLedgerClient struct {
	mu sync.Mutex

	balance      uint64
	sendErrs     []error
	onChainError string // accepted transactions fail with this when set
	expired      bool   // IsBlockhashValid result is !expired

	blockhashes    int
	sent           []*solana.Envelope
	accepted       map[solanago.Signature]bool
	historyLookups int
}

// deliveredErr is a send error the client sees after the node has already
// accepted the transaction, such as a response lost to a timeout.
type deliveredErr struct {
	error
}

func newFakeLedgerClient() *fakeLedgerClient {
	return &fakeLedgerClient{
		balance:  5 * solanago.LAMPORTS_PER_SOL,
		accepted: make(map[solanago.Signature]bool),
	}
}

func (f *fakeLedgerClient) GetBalance(ctx context.Context, address solanago.PublicKey) (uint64, error) {
	return f.balance, nil
}

func (f *fakeLedgerClient) GetLatestBlockhash(ctx context.Context) (solana.Blockhash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.blockhashes++
	var h solanago.Hash
	for i := range h {
		h[i] = byte(f.blockhashes)
	}
	return solana.Blockhash{Hash: h, LastValidBlockHeight: uint64(100 + f.blockhashes), FetchedAt: time.Now()}, nil
}

func (f *fakeLedgerClient) SendTransaction(ctx context.Context, env *solana.Envelope) (solanago.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sent = append(f.sent, env)
	if f.accepted[env.Signature] {
		return solanago.Signature{}, submissionError(solana.ErrAlreadyProcessed)
	}
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if d, ok := err.(deliveredErr); ok {
			f.accepted[env.Signature] = true
			return solanago.Signature{}, d.error
		}
		if err != nil {
			return solanago.Signature{}, err
		}
	}
	f.accepted[env.Signature] = true
	return env.Signature, nil
}

func (f *fakeLedgerClient) GetSignatureStatus(ctx context.Context, sig solanago.Signature) (*solana.SignatureStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status(sig), nil
}

func (f *fakeLedgerClient) FindSignatureStatus(ctx context.Context, sig solanago.Signature) (*solana.SignatureStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyLookups++
	return f.status(sig), nil
}

func (f *fakeLedgerClient) status(sig solanago.Signature) *solana.SignatureStatus {
	status := &solana.SignatureStatus{Signature: sig, Commitment: solana.CommitmentUnknown}
	if !f.accepted[sig] {
		return status
	}
	if f.onChainError != "" {
		status.Commitment = solana.CommitmentFailed
		status.Err = f.onChainError
		return status
	}
	status.Commitment = solana.CommitmentFinalized
	return status
}

func (f *fakeLedgerClient) IsBlockhashValid(ctx context.Context, blockhash solanago.Hash) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.expired, nil
}

func (f *fakeLedgerClient) sentEnvelopes() []*solana.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*solana.Envelope(nil), f.sent...)
}

// MockStore mocks the Postgres mirror.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) InsertTransfer(ctx context.Context, params db.InsertTransferParams) (bool, error) {
	args := m.Called(ctx, params)
	return args.Bool(0), args.Error(1)
}

func submissionError(kind error) error {
	return &solana.SubmissionError{Err: kind, Detail: "test"}
}

func testKey(t *testing.T, seedByte byte) *wallet.KeyMaterial {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = seedByte
	}
	key, err := wallet.LoadKey(ed25519.NewKeyFromSeed(seed))
	require.NoError(t, err)
	return key
}

type fixture struct {
	client  *fakeLedgerClient
	sender  *wallet.KeyMaterial
	ledger  *ledger.FileLedger
	service *Service
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := newFakeLedgerClient()
	sender := testKey(t, 1)
	fileLedger := ledger.NewFileLedger(filepath.Join(t.TempDir(), "logs.txt"), nil, logger)
	confirmer := solana.NewConfirmer(client, time.Millisecond, time.Second, nil, logger)

	return &fixture{
		client:  client,
		sender:  sender,
		ledger:  fileLedger,
		service: NewService(client, sender, confirmer, fileLedger, cfg, nil, logger, opts...),
	}
}

func defaultConfig() Config {
	return Config{MaxSubmitRetries: 3, MaxRebuilds: 3, RetryDelay: time.Millisecond, Network: "devnet"}
}

func transferRequest(t *testing.T, recipient solanago.PublicKey, amount string) wallet.TransferRequest {
	t.Helper()
	req, err := wallet.ValidateTransfer(recipient.String(), amount)
	require.NoError(t, err)
	return req
}

func TestTransfer_RecordsFinalizedTransfer(t *testing.T) {
	f := newFixture(t, defaultConfig())
	recipient := testKey(t, 2).Address()

	var progress []string
	f.service.OnProgress = func(msg string) { progress = append(progress, msg) }

	balance, err := f.service.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "5", balance.String())

	rec, err := f.service.Transfer(context.Background(), transferRequest(t, recipient, "2.5"))
	require.NoError(t, err)

	sent := f.client.sentEnvelopes()
	require.Len(t, sent, 1)
	assert.Equal(t, uint64(2_500_000_000), sent[0].Lamports)

	assert.Equal(t, f.sender.Address(), rec.From)
	assert.Equal(t, recipient, rec.To)
	assert.Equal(t, "2.5", rec.Amount.String())
	assert.Equal(t, sent[0].Signature, rec.Signature)
	assert.Equal(t, "devnet", rec.Network)
	assert.Empty(t, rec.Warnings)

	content, err := f.ledger.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, rec.Block(), content)
	assert.Equal(t, 1, strings.Count(content, "Transaction Signature :"))

	assert.Contains(t, progress, "Sending transaction...")
	assert.Contains(t, progress, "Transaction finalized...")
}

func TestTransfer_StaleBlockhashRebuildsWithNewSignature(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.client.sendErrs = []error{submissionError(solana.ErrStaleBlockhash)}

	rec, err := f.service.Transfer(context.Background(), transferRequest(t, testKey(t, 2).Address(), "1"))
	require.NoError(t, err)

	sent := f.client.sentEnvelopes()
	require.Len(t, sent, 2)
	assert.NotEqual(t, sent[0].Blockhash.Hash, sent[1].Blockhash.Hash)
	assert.NotEqual(t, sent[0].Signature, sent[1].Signature)
	assert.Equal(t, sent[1].Signature, rec.Signature)
	assert.Equal(t, 2, f.client.blockhashes)
}

func TestTransfer_NetworkFailureResendsSameEnvelope(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.client.sendErrs = []error{
		submissionError(solana.ErrNetworkUnavailable),
		submissionError(solana.ErrNetworkUnavailable),
	}

	rec, err := f.service.Transfer(context.Background(), transferRequest(t, testKey(t, 2).Address(), "1"))
	require.NoError(t, err)

	sent := f.client.sentEnvelopes()
	require.Len(t, sent, 3)
	for _, env := range sent {
		assert.Same(t, sent[0], env)
	}
	assert.Equal(t, sent[0].Signature, rec.Signature)
	assert.Equal(t, 1, f.client.blockhashes)
}

func TestTransfer_NetworkFailureAfterExpiryRebuilds(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.client.sendErrs = []error{submissionError(solana.ErrNetworkUnavailable)}
	f.client.expired = true

	_, err := f.service.Transfer(context.Background(), transferRequest(t, testKey(t, 2).Address(), "1"))
	require.NoError(t, err)

	sent := f.client.sentEnvelopes()
	require.Len(t, sent, 2)
	assert.NotEqual(t, sent[0].Signature, sent[1].Signature)
	// The first signature was searched for before a replacement was signed.
	assert.Equal(t, 1, f.client.historyLookups)
}

func TestTransfer_DeliveredSendIsNotSentTwice(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.client.sendErrs = []error{deliveredErr{submissionError(solana.ErrNetworkUnavailable)}}
	f.client.expired = true

	rec, err := f.service.Transfer(context.Background(), transferRequest(t, testKey(t, 2).Address(), "2.5"))
	require.NoError(t, err)

	sent := f.client.sentEnvelopes()
	require.Len(t, sent, 1)
	assert.Equal(t, sent[0].Signature, rec.Signature)
	assert.Equal(t, 1, f.client.blockhashes)

	content, err := f.ledger.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(content, "Transaction Signature :"))
	assert.Contains(t, content, rec.Signature.String())
}

func TestTransfer_ResendAlreadyProcessedIsAccepted(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.client.sendErrs = []error{deliveredErr{submissionError(solana.ErrNetworkUnavailable)}}

	rec, err := f.service.Transfer(context.Background(), transferRequest(t, testKey(t, 2).Address(), "1"))
	require.NoError(t, err)

	sent := f.client.sentEnvelopes()
	require.Len(t, sent, 2)
	assert.Same(t, sent[0], sent[1])
	assert.Equal(t, sent[0].Signature, rec.Signature)

	content, err := f.ledger.ReadAll()
	require.NoError(t, err)
	assert.Contains(t, content, rec.Signature.String())
}

func TestTransfer_DeliveredAfterRetriesExhausted(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxSubmitRetries = 0
	f := newFixture(t, cfg)
	f.client.sendErrs = []error{deliveredErr{submissionError(solana.ErrNetworkUnavailable)}}

	rec, err := f.service.Transfer(context.Background(), transferRequest(t, testKey(t, 2).Address(), "1"))
	require.NoError(t, err)

	sent := f.client.sentEnvelopes()
	require.Len(t, sent, 1)
	assert.Equal(t, sent[0].Signature, rec.Signature)
}

func TestTransfer_NetworkRetriesExhausted(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxSubmitRetries = 1
	f := newFixture(t, cfg)
	f.client.sendErrs = []error{
		submissionError(solana.ErrNetworkUnavailable),
		submissionError(solana.ErrNetworkUnavailable),
	}

	_, err := f.service.Transfer(context.Background(), transferRequest(t, testKey(t, 2).Address(), "1"))

	// Neither landing nor expiry is observed, so the outcome stays open
	// and the operator gets the signature to look up.
	var transferErr *TransferError
	require.ErrorAs(t, err, &transferErr)
	assert.Equal(t, StageConfirm, transferErr.Stage)
	assert.ErrorIs(t, err, solana.ErrConfirmationTimeout)

	sent := f.client.sentEnvelopes()
	require.Len(t, sent, 2)
	assert.Equal(t, sent[0].Signature, transferErr.Signature)
	assert.Equal(t, 1, f.client.blockhashes)
}

func TestTransfer_InsufficientFundsIsFatal(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.client.sendErrs = []error{submissionError(solana.ErrInsufficientFunds)}
	recipient := testKey(t, 2).Address()

	rec, err := f.service.Transfer(context.Background(), transferRequest(t, recipient, "10"))

	assert.Nil(t, rec)
	var transferErr *TransferError
	require.ErrorAs(t, err, &transferErr)
	assert.ErrorIs(t, err, solana.ErrInsufficientFunds)
	assert.Equal(t, StageSubmit, transferErr.Stage)
	assert.Equal(t, f.client.sentEnvelopes()[0].Signature, transferErr.Signature)
	assert.Equal(t, f.sender.Address(), transferErr.From)
	assert.Equal(t, recipient, transferErr.To)
	assert.Equal(t, "10", transferErr.Amount.String())
	assert.Contains(t, err.Error(), recipient.String())
	assert.Contains(t, err.Error(), "10 SOL")

	assert.Len(t, f.client.sentEnvelopes(), 1)
	_, err = f.ledger.ReadAll()
	assert.ErrorIs(t, err, ledger.ErrNoHistory)
}

func TestTransfer_StaleBlockhashRebuildsBounded(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxRebuilds = 1
	f := newFixture(t, cfg)
	f.client.sendErrs = []error{
		submissionError(solana.ErrStaleBlockhash),
		submissionError(solana.ErrStaleBlockhash),
	}

	_, err := f.service.Transfer(context.Background(), transferRequest(t, testKey(t, 2).Address(), "1"))

	assert.ErrorIs(t, err, solana.ErrStaleBlockhash)
	assert.Len(t, f.client.sentEnvelopes(), 2)
}

func TestTransfer_OnChainFailureIsNotRecorded(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.client.onChainError = "InstructionError"

	_, err := f.service.Transfer(context.Background(), transferRequest(t, testKey(t, 2).Address(), "1"))

	var transferErr *TransferError
	require.ErrorAs(t, err, &transferErr)
	assert.Equal(t, StageConfirm, transferErr.Stage)
	assert.False(t, transferErr.Signature.IsZero())
	assert.ErrorIs(t, err, solana.ErrTransactionFailed)
	assert.Contains(t, err.Error(), "InstructionError")

	_, err = f.ledger.ReadAll()
	assert.ErrorIs(t, err, ledger.ErrNoHistory)
}

func TestTransfer_LedgerWriteFailure(t *testing.T) {
	f := newFixture(t, defaultConfig())
	// A directory where the file should be makes the append fail.
	require.NoError(t, os.Mkdir(f.ledger.Path(), 0o700))

	_, err := f.service.Transfer(context.Background(), transferRequest(t, testKey(t, 2).Address(), "1"))

	var transferErr *TransferError
	require.ErrorAs(t, err, &transferErr)
	assert.Equal(t, StageRecord, transferErr.Stage)
	assert.False(t, transferErr.Signature.IsZero())
}

func TestTransfer_Mirrors(t *testing.T) {
	store := new(MockStore)
	publisher := nats.NewMockPublisher()
	f := newFixture(t, defaultConfig(), WithStore(store), WithPublisher(publisher))
	recipient := testKey(t, 2).Address()

	store.On("InsertTransfer", mock.Anything, mock.MatchedBy(func(p db.InsertTransferParams) bool {
		return p.ToAddress == recipient.String() && p.Lamports == 1_500_000_000 && p.Network == "devnet"
	})).Return(true, nil).Once()

	rec, err := f.service.Transfer(context.Background(), transferRequest(t, recipient, "1.5"))
	require.NoError(t, err)
	assert.Empty(t, rec.Warnings)

	store.AssertExpectations(t)
	events := publisher.GetPublishedEvents()
	require.Len(t, events, 1)
	assert.Equal(t, rec.Signature.String(), events[0].Signature)
	assert.Equal(t, uint64(1_500_000_000), events[0].AmountLamports)
}

func TestTransfer_MirrorFailuresBecomeWarnings(t *testing.T) {
	store := new(MockStore)
	publisher := nats.NewMockPublisher()
	publisher.SetPublishError(errors.New("nats: no responders"))
	f := newFixture(t, defaultConfig(), WithStore(store), WithPublisher(publisher))

	store.On("InsertTransfer", mock.Anything, mock.Anything).Return(false, errors.New("connection refused"))

	rec, err := f.service.Transfer(context.Background(), transferRequest(t, testKey(t, 2).Address(), "1"))
	require.NoError(t, err)

	require.Len(t, rec.Warnings, 2)
	assert.Contains(t, rec.Warnings[0], "database mirror failed")
	assert.Contains(t, rec.Warnings[1], "event publish failed")

	// The file ledger still has the record.
	content, err := f.ledger.ReadAll()
	require.NoError(t, err)
	assert.Contains(t, content, rec.Signature.String())
}
