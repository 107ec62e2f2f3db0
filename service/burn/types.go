package burn

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Input is a burn request as typed by the user. Nothing has been parsed yet.
type Input struct {
	MintAddress string
	// Amount is an integer count of the token's smallest unit.
	Amount string
	// FeeSOL is a decimal SOL amount, e.g. "0.01".
	FeeSOL      string
	KeypairPath string
}

// Request is a parsed burn. It carries no key material.
type Request struct {
	Mint        solana.PublicKey
	Amount      uint64
	FeeLamports uint64
}

// MintInfo describes an SPL mint as read from chain.
type MintInfo struct {
	Address  solana.PublicKey
	Decimals uint8
	// TokenProgram is the mint account's owner: SPL Token or Token-2022.
	TokenProgram solana.PublicKey
}

// TokenAccount is the signer's associated token account for a mint.
type TokenAccount struct {
	Address solana.PublicKey
	Owner   solana.PublicKey
	Mint    solana.PublicKey
	Amount  uint64
}

type Blockhash struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
}

// Status is the lifecycle of a submitted transaction.
type Status int

const (
	StatusNotSubmitted Status = iota
	StatusPending
	StatusConfirmed
	StatusFailed
)

var statusNames = [...]string{
	StatusNotSubmitted: "not_submitted",
	StatusPending:      "pending",
	StatusConfirmed:    "confirmed",
	StatusFailed:       "failed",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}

// Confirmation is the answer to one signature status query.
type Confirmation struct {
	Status Status
	Slot   uint64
	// Err is the on-chain execution error when Status is StatusFailed.
	Err string
}

// Network is everything the orchestrator needs from a Solana node.
//
// Implementations return *Error values for classified failures. Errors that are
// not *Error are treated as network_unavailable before submission and as
// submission_rejected from Submit.
type Network interface {
	// FetchMint reads the mint's decimals and owning token program.
	FetchMint(ctx context.Context, mint solana.PublicKey) (MintInfo, error)
	// FetchTokenAccount returns nil, nil when owner has no associated account for mint.
	FetchTokenAccount(ctx context.Context, owner solana.PublicKey, mint MintInfo) (*TokenAccount, error)
	FetchRecentBlockhash(ctx context.Context) (Blockhash, error)
	// Submit broadcasts a signed, serialized transaction exactly once.
	Submit(ctx context.Context, signedTx []byte) (solana.Signature, error)
	// PollConfirmation performs a single status query bounded by timeout.
	PollConfirmation(ctx context.Context, sig solana.Signature, timeout time.Duration) (Confirmation, error)
}

// Signer is a loaded credential. Only the orchestrator holds one, for one run.
type Signer interface {
	PublicKey() solana.PublicKey
	SignTransaction(tx *solana.Transaction) error
	Release()
}

// KeyLoader turns a user-chosen path into a Signer.
type KeyLoader func(path string) (Signer, error)
