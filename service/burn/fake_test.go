package burn

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/tokenburn/service/keypair"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

var (
	testMint     = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	testTreasury = solana.MustPublicKeyFromBase58("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
	testHash     = solana.Hash{1, 2, 3, 4, 5, 6, 7, 8}
)

type pollResponse struct {
	conf Confirmation
	err  error
}

// fakeNetwork records every call and answers from canned values.
type fakeNetwork struct {
	mu sync.Mutex

	mint         MintInfo
	mintErr      error
	account      *TokenAccount
	accountErr   error
	blockhash    Blockhash
	blockhashErr error
	// submitSig is the signature of the last submitted transaction.
	submitSig solana.Signature
	submitErr error
	onSubmit  func()
	// polls are answered in order; the last one repeats.
	polls  []pollResponse
	onPoll func(n int)

	calls     []string
	submitted [][]byte
	pollCount int
}

func newFakeNetwork(signer solana.PublicKey, balance uint64) *fakeNetwork {
	ata, err := AssociatedTokenAddress(signer, testMint, solana.TokenProgramID)
	if err != nil {
		panic(err)
	}
	return &fakeNetwork{
		mint: MintInfo{Address: testMint, Decimals: 6, TokenProgram: solana.TokenProgramID},
		account: &TokenAccount{
			Address: ata,
			Owner:   signer,
			Mint:    testMint,
			Amount:  balance,
		},
		blockhash: Blockhash{Hash: testHash, LastValidBlockHeight: 1000},
		polls:     []pollResponse{{conf: Confirmation{Status: StatusConfirmed, Slot: 42}}},
	}
}

func (f *fakeNetwork) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeNetwork) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeNetwork) count(call string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeNetwork) FetchMint(ctx context.Context, mint solana.PublicKey) (MintInfo, error) {
	f.record("FetchMint")
	if err := ctx.Err(); err != nil {
		return MintInfo{}, err
	}
	return f.mint, f.mintErr
}

func (f *fakeNetwork) FetchTokenAccount(ctx context.Context, owner solana.PublicKey, mint MintInfo) (*TokenAccount, error) {
	f.record("FetchTokenAccount")
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	return f.account, nil
}

func (f *fakeNetwork) FetchRecentBlockhash(ctx context.Context) (Blockhash, error) {
	f.record("FetchRecentBlockhash")
	return f.blockhash, f.blockhashErr
}

func (f *fakeNetwork) Submit(ctx context.Context, signedTx []byte) (solana.Signature, error) {
	f.record("Submit")
	if f.onSubmit != nil {
		f.onSubmit()
	}

	var sig solana.Signature
	if tx, err := solana.TransactionFromBytes(signedTx); err == nil && len(tx.Signatures) > 0 {
		sig = tx.Signatures[0]
	}
	f.mu.Lock()
	f.submitted = append(f.submitted, append([]byte(nil), signedTx...))
	f.submitSig = sig
	f.mu.Unlock()

	if f.submitErr != nil {
		return solana.Signature{}, f.submitErr
	}
	return sig, nil
}

func (f *fakeNetwork) PollConfirmation(ctx context.Context, sig solana.Signature, timeout time.Duration) (Confirmation, error) {
	f.record("PollConfirmation")
	f.mu.Lock()
	f.pollCount++
	n := f.pollCount
	resp := f.polls[min(n, len(f.polls))-1]
	hook := f.onPoll
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if err := ctx.Err(); err != nil {
		return Confirmation{}, err
	}
	return resp.conf, resp.err
}

// keyLoader hands out a freshly generated credential and remembers it.
type keyLoader struct {
	mu    sync.Mutex
	cred  *keypair.Credential
	pub   solana.PublicKey
	err   error
	calls int
}

func newKeyLoader(t *testing.T) *keyLoader {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return &keyLoader{pub: key.PublicKey(), cred: mustCredential(t, key)}
}

func mustCredential(t *testing.T, key solana.PrivateKey) *keypair.Credential {
	t.Helper()
	cred, err := keypair.New(key)
	require.NoError(t, err)
	return cred
}

func (l *keyLoader) Load(path string) (Signer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return l.cred, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := DefaultConfig(testTreasury)
	cfg.ConfirmInitialInterval = time.Millisecond
	cfg.ConfirmMaxInterval = 4 * time.Millisecond
	cfg.ConfirmTimeout = 60 * time.Millisecond
	cfg.RequestTimeout = time.Second
	return cfg
}

func newTestEngine(t *testing.T, network Network, loader *keyLoader) *Engine {
	t.Helper()
	engine, err := NewEngine(testConfig(), network, nil, testLogger())
	require.NoError(t, err)
	return engine.WithKeyLoader(loader.Load)
}

func validInput() Input {
	return Input{
		MintAddress: testMint.String(),
		Amount:      "1000000",
		FeeSOL:      "0.01",
		KeypairPath: "/keys/id.json",
	}
}

var errTransport = errors.New("dial tcp: connection refused")
