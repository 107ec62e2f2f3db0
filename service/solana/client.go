package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/tokenburn/service/burn"
	"github.com/brojonat/tokenburn/service/metrics"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"golang.org/x/time/rate"
)

// Token account layout sizes. Token-2022 accounts with extensions are longer and
// carry an account type byte right after the base token account layout.
const (
	mintAccountSize  = 82
	tokenAccountSize = 165
	accountTypeMint  = 1
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetAccountInfo(
		ctx context.Context,
		account solana.PublicKey,
		opts *rpc.GetAccountInfoOpts,
	) (*rpc.GetAccountInfoResult, error)

	GetLatestBlockhash(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (*rpc.GetLatestBlockhashResult, error)

	SendRawTransaction(
		ctx context.Context,
		rawTx []byte,
		opts rpc.TransactionOpts,
	) (solana.Signature, error)

	GetSignatureStatuses(
		ctx context.Context,
		searchTransactionHistory bool,
		signatures ...solana.Signature,
	) (*rpc.GetSignatureStatusesResult, error)

	GetHealth(ctx context.Context) (string, error)
}

// Options tunes a Client.
type Options struct {
	// Commitment is the level at which a transaction counts as confirmed:
	// rpc.CommitmentConfirmed or rpc.CommitmentFinalized.
	Commitment rpc.CommitmentType
	// RateLimit is the maximum number of RPC calls per second. Zero disables limiting.
	RateLimit float64
	RateBurst int
}

// Client implements burn.Network on top of a Solana JSON-RPC node.
type Client struct {
	rpc        RPCClient
	logger     *slog.Logger
	metrics    *metrics.Metrics
	endpoint   string // RPC endpoint identifier for metrics (e.g., "mainnet", "devnet", rpc host)
	commitment rpc.CommitmentType
	limiter    *rate.Limiter
}

var _ burn.Network = (*Client)(nil)

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "mainnet", "devnet", or RPC hostname).
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, opts Options, m *metrics.Metrics, logger *slog.Logger) *Client {
	commitment := opts.Commitment
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := max(opts.RateBurst, 1)
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return &Client{
		rpc:        rpcClient,
		logger:     logger,
		metrics:    m,
		endpoint:   endpoint,
		commitment: commitment,
		limiter:    limiter,
	}
}

// call runs one RPC method behind the rate limiter and records its metrics.
func call[T any](ctx context.Context, c *Client, method string, fn func(context.Context) (T, error)) (T, error) {
	if c.limiter != nil {
		waitStart := time.Now()
		if err := c.limiter.Wait(ctx); err != nil {
			var zero T
			return zero, fmt.Errorf("rate limiter: %w", err)
		}
		if c.metrics != nil {
			c.metrics.RecordRateLimitWait(c.endpoint, time.Since(waitStart).Seconds())
		}
	}

	start := time.Now()
	out, err := fn(ctx)
	duration := time.Since(start).Seconds()

	status := "success"
	switch {
	case errors.Is(err, rpc.ErrNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	if c.metrics != nil {
		c.metrics.RecordRPCCall(method, status, c.endpoint, duration)
		if isRateLimited(err) {
			c.metrics.RecordRateLimitHit(c.endpoint)
		}
	}
	return out, err
}

func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *jsonrpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.Code == 429 {
		return true
	}
	return strings.Contains(err.Error(), "429")
}

// unavailable classifies a read failure. A failure caused by the caller's own
// cancellation is returned unclassified so it can be reported as such.
func (c *Client) unavailable(ctx context.Context, err error, format string, args ...any) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
	}
	return burn.Wrap(burn.KindNetworkUnavailable, err, format, args...)
}

func (c *Client) FetchMint(ctx context.Context, mint solana.PublicKey) (burn.MintInfo, error) {
	out, err := call(ctx, c, "GetAccountInfo", func(ctx context.Context) (*rpc.GetAccountInfoResult, error) {
		return c.rpc.GetAccountInfo(ctx, mint, &rpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: rpc.CommitmentConfirmed,
		})
	})
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && (out == nil || out.Value == nil)) {
		return burn.MintInfo{}, burn.Errorf(burn.KindMintNotFound, "mint %s does not exist", mint)
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to fetch mint account", "mint", mint.String(), "error", err)
		return burn.MintInfo{}, c.unavailable(ctx, err, "failed to fetch mint %s", mint)
	}

	owner := out.Value.Owner
	if !burn.IsTokenProgram(owner) {
		return burn.MintInfo{}, burn.Errorf(burn.KindMintNotFound, "account %s is owned by %s, not a token program", mint, owner)
	}

	data := out.GetBinary()
	if !isMintLayout(data) {
		return burn.MintInfo{}, burn.Errorf(burn.KindMintNotFound, "account %s is not a token mint", mint)
	}
	var m token.Mint
	if err := bin.NewBinDecoder(data).Decode(&m); err != nil {
		return burn.MintInfo{}, burn.Wrap(burn.KindMintNotFound, err, "account %s could not be decoded as a mint", mint)
	}
	if !m.IsInitialized {
		return burn.MintInfo{}, burn.Errorf(burn.KindMintNotFound, "mint %s is not initialized", mint)
	}

	c.logger.DebugContext(ctx, "fetched mint",
		"mint", mint.String(),
		"decimals", m.Decimals,
		"token_program", owner.String(),
	)
	return burn.MintInfo{Address: mint, Decimals: m.Decimals, TokenProgram: owner}, nil
}

// isMintLayout tells a mint apart from a token account owned by the same program.
func isMintLayout(data []byte) bool {
	if len(data) == mintAccountSize {
		return true
	}
	return len(data) > tokenAccountSize && data[tokenAccountSize] == accountTypeMint
}

func (c *Client) FetchTokenAccount(ctx context.Context, owner solana.PublicKey, mint burn.MintInfo) (*burn.TokenAccount, error) {
	ata, err := burn.AssociatedTokenAddress(owner, mint.Address, mint.TokenProgram)
	if err != nil {
		return nil, burn.Wrap(burn.KindInternal, err, "failed to derive token account for %s", owner)
	}

	out, err := call(ctx, c, "GetAccountInfo", func(ctx context.Context) (*rpc.GetAccountInfoResult, error) {
		return c.rpc.GetAccountInfo(ctx, ata, &rpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: rpc.CommitmentConfirmed,
		})
	})
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && (out == nil || out.Value == nil)) {
		c.logger.DebugContext(ctx, "associated token account does not exist",
			"owner", owner.String(),
			"mint", mint.Address.String(),
			"token_account", ata.String(),
		)
		return nil, nil
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to fetch token account", "token_account", ata.String(), "error", err)
		return nil, c.unavailable(ctx, err, "failed to fetch token account %s", ata)
	}
	if !out.Value.Owner.Equals(mint.TokenProgram) {
		return nil, nil
	}

	var acct token.Account
	if err := bin.NewBinDecoder(out.GetBinary()).Decode(&acct); err != nil {
		return nil, burn.Wrap(burn.KindInternal, err, "token account %s could not be decoded", ata)
	}
	if acct.State == token.Uninitialized {
		return nil, nil
	}
	if !acct.Mint.Equals(mint.Address) || !acct.Owner.Equals(owner) {
		return nil, burn.Errorf(burn.KindInternal, "token account %s does not belong to %s for mint %s", ata, owner, mint.Address)
	}

	return &burn.TokenAccount{
		Address: ata,
		Owner:   acct.Owner,
		Mint:    acct.Mint,
		Amount:  acct.Amount,
	}, nil
}

func (c *Client) FetchRecentBlockhash(ctx context.Context) (burn.Blockhash, error) {
	out, err := call(ctx, c, "GetLatestBlockhash", func(ctx context.Context) (*rpc.GetLatestBlockhashResult, error) {
		return c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to fetch recent blockhash", "error", err)
		return burn.Blockhash{}, c.unavailable(ctx, err, "failed to fetch recent blockhash")
	}
	if out == nil || out.Value == nil {
		return burn.Blockhash{}, burn.Errorf(burn.KindNetworkUnavailable, "node returned no blockhash")
	}
	return burn.Blockhash{
		Hash:                 out.Value.Blockhash,
		LastValidBlockHeight: out.Value.LastValidBlockHeight,
	}, nil
}

// Submit sends the transaction once. Node-side JSON-RPC errors, including failed
// preflight simulation, are rejections; anything else is a transport failure.
func (c *Client) Submit(ctx context.Context, signedTx []byte) (solana.Signature, error) {
	sig, err := call(ctx, c, "SendTransaction", func(ctx context.Context) (solana.Signature, error) {
		return c.rpc.SendRawTransaction(ctx, signedTx, rpc.TransactionOpts{
			SkipPreflight:       false,
			PreflightCommitment: rpc.CommitmentConfirmed,
		})
	})
	if err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			reason := rejectionReason(rpcErr)
			c.logger.WarnContext(ctx, "node rejected transaction",
				"code", rpcErr.Code,
				"reason", reason,
			)
			return solana.Signature{}, &burn.Error{
				Kind:    burn.KindSubmissionRejected,
				Message: "node rejected the transaction",
				Reason:  reason,
				Err:     err,
			}
		}
		c.logger.ErrorContext(ctx, "failed to send transaction", "error", err)
		return solana.Signature{}, burn.Wrap(burn.KindNetworkUnavailable, err, "failed to reach node to send transaction")
	}
	return sig, nil
}

// rejectionReason renders the node's message plus the simulation error, if any.
func rejectionReason(rpcErr *jsonrpc.RPCError) string {
	reason := rpcErr.Message
	data, ok := rpcErr.Data.(map[string]any)
	if !ok {
		return reason
	}
	if simErr, ok := data["err"]; ok && simErr != nil {
		reason += " (" + formatChainError(simErr) + ")"
	}
	return reason
}

func formatChainError(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// PollConfirmation queries the signature status once.
func (c *Client) PollConfirmation(ctx context.Context, sig solana.Signature, timeout time.Duration) (burn.Confirmation, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := call(ctx, c, "GetSignatureStatuses", func(ctx context.Context) (*rpc.GetSignatureStatusesResult, error) {
		return c.rpc.GetSignatureStatuses(ctx, false, sig)
	})
	if err != nil {
		return burn.Confirmation{}, c.unavailable(ctx, err, "failed to query status of %s", sig)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return burn.Confirmation{Status: burn.StatusPending}, nil
	}

	st := out.Value[0]
	if st.Err != nil {
		return burn.Confirmation{Status: burn.StatusFailed, Slot: st.Slot, Err: formatChainError(st.Err)}, nil
	}
	if c.reached(st.ConfirmationStatus) {
		return burn.Confirmation{Status: burn.StatusConfirmed, Slot: st.Slot}, nil
	}
	c.logger.DebugContext(ctx, "transaction not yet at target commitment",
		"signature", sig.String(),
		"status", string(st.ConfirmationStatus),
		"target", string(c.commitment),
	)
	return burn.Confirmation{Status: burn.StatusPending, Slot: st.Slot}, nil
}

func (c *Client) reached(status rpc.ConfirmationStatusType) bool {
	switch status {
	case rpc.ConfirmationStatusFinalized:
		return true
	case rpc.ConfirmationStatusConfirmed:
		return c.commitment != rpc.CommitmentFinalized
	}
	return false
}

// Health reports whether the node considers itself healthy.
func (c *Client) Health(ctx context.Context) error {
	out, err := call(ctx, c, "GetHealth", c.rpc.GetHealth)
	if err != nil {
		return fmt.Errorf("rpc health check failed: %w", err)
	}
	if out != rpc.HealthOk {
		return fmt.Errorf("rpc node reports %q", out)
	}
	return nil
}
