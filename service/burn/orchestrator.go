package burn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/tokenburn/service/keypair"
	"github.com/brojonat/tokenburn/service/metrics"
	"github.com/gagliardetto/solana-go"
)

// State is a step of the burn state machine.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateBuilding
	StateSigning
	StateSubmitting
	StateConfirming
	StateSucceeded
	StateFailed
)

var stateNames = [...]string{
	StateIdle:       "idle",
	StateValidating: "validating",
	StateBuilding:   "building",
	StateSigning:    "signing",
	StateSubmitting: "submitting",
	StateConfirming: "confirming",
	StateSucceeded:  "succeeded",
	StateFailed:     "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// ErrOrchestratorUsed is returned when Run is called a second time.
var ErrOrchestratorUsed = errors.New("orchestrator already ran; create a new one per burn")

// Result is the outcome of one burn.
type Result struct {
	ID          string    `json:"id"`
	State       State     `json:"state"`
	Status      Status    `json:"status"`
	Signature   string    `json:"signature,omitempty"`
	Signer      string    `json:"signer,omitempty"`
	Mint        string    `json:"mint,omitempty"`
	Amount      uint64    `json:"amount,omitempty"`
	FeeLamports uint64    `json:"fee_lamports,omitempty"`
	Decimals    uint8     `json:"decimals,omitempty"`
	Slot        uint64    `json:"slot,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Err         *Error    `json:"error,omitempty"`
}

// Submitted reports whether the transaction reached the network.
func (r *Result) Submitted() bool {
	return r.Status != StatusNotSubmitted
}

// Orchestrator drives a single burn from key loading to confirmation.
// It is single use; see Engine.NewOrchestrator.
type Orchestrator struct {
	id        string
	cfg       Config
	validator Validator
	network   Network
	loadKey   KeyLoader
	metrics   *metrics.Metrics
	logger    *slog.Logger
	onFinish  func(context.Context, *Result)
	sleep     func(context.Context, time.Duration) error

	// tokenProgram is the mint's owner, known once Building succeeds.
	tokenProgram solana.PublicKey

	mu          sync.Mutex
	started     bool
	state       State
	enteredAt   time.Time
	transitions []State
}

// ID returns the operation id assigned at creation.
func (o *Orchestrator) ID() string {
	return o.id
}

// State returns the current state. Safe to call while Run is in progress.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Transitions returns every state entered so far, starting with StateIdle.
func (o *Orchestrator) Transitions() []State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]State(nil), o.transitions...)
}

func (o *Orchestrator) transition(ctx context.Context, to State) {
	o.mu.Lock()
	from := o.state
	if from.Terminal() {
		o.mu.Unlock()
		o.logger.ErrorContext(ctx, "ignoring transition out of terminal state",
			"burn_id", o.id, "from", from.String(), "to", to.String())
		return
	}
	now := time.Now()
	spent := now.Sub(o.enteredAt)
	o.state = to
	o.enteredAt = now
	o.transitions = append(o.transitions, to)
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.RecordBurnPhase(from.String(), spent.Seconds())
	}
	o.logger.DebugContext(ctx, "burn state transition",
		"burn_id", o.id, "from", from.String(), "to", to.String())
}

// Run executes the burn described by in and blocks until a terminal state.
//
// The returned Result is never nil once the orchestrator has started; on failure
// it is returned together with the same *Error found in Result.Err.
func (o *Orchestrator) Run(ctx context.Context, in Input) (*Result, error) {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return nil, ErrOrchestratorUsed
	}
	o.started = true
	o.enteredAt = time.Now()
	o.mu.Unlock()

	if o.metrics != nil {
		done := o.metrics.RecordBurnStarted()
		defer done()
	}

	start := time.Now()
	res := &Result{ID: o.id, StartedAt: start.UTC()}

	err := o.run(ctx, in, res)
	res.FinishedAt = time.Now().UTC()

	logger := o.logger.With("burn_id", o.id)
	if err != nil {
		res.Err = AsError(err)
		o.transition(ctx, StateFailed)
		attrs := []any{
			"kind", res.Err.Kind.String(),
			"category", string(res.Err.Kind.Category()),
			"error", res.Err.Error(),
		}
		if res.Signature != "" {
			attrs = append(attrs, "signature", res.Signature)
		}
		if res.Err.Kind.Category() == CategoryAmbiguous {
			logger.WarnContext(ctx, "burn outcome unknown; check the signature independently", attrs...)
		} else {
			logger.ErrorContext(ctx, "burn failed", attrs...)
		}
	} else {
		o.transition(ctx, StateSucceeded)
		logger.InfoContext(ctx, "burn confirmed",
			"signature", res.Signature,
			"mint", res.Mint,
			"amount", res.Amount,
			"fee_lamports", res.FeeLamports,
			"slot", res.Slot,
		)
	}
	res.State = o.State()

	if o.metrics != nil {
		kind := ""
		if res.Err != nil {
			kind = res.Err.Kind.String()
		} else {
			o.metrics.RecordBurned(TokenProgramName(o.tokenProgram), res.Amount, res.FeeLamports)
		}
		o.metrics.RecordBurn(res.State.String(), kind, time.Since(start).Seconds())
	}

	if o.onFinish != nil {
		o.onFinish(context.WithoutCancel(ctx), res)
	}

	if res.Err != nil {
		return res, res.Err
	}
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, in Input, res *Result) error {
	// Idle: the credential is acquired first and owned by this call only.
	signer, err := o.loadKey(in.KeypairPath)
	if err != nil {
		return classifyKeyError(err)
	}
	defer signer.Release()
	signerKey := signer.PublicKey()
	res.Signer = signerKey.String()

	if ctx.Err() != nil {
		return Wrap(KindCancelled, ctx.Err(), "burn cancelled before submission")
	}

	o.transition(ctx, StateValidating)
	req, err := o.validator.Parse(in)
	if err != nil {
		return err
	}
	if err := o.validator.Validate(req, nil); err != nil {
		return err
	}
	res.Mint = req.Mint.String()
	res.Amount = req.Amount
	res.FeeLamports = req.FeeLamports

	o.transition(ctx, StateBuilding)
	tx, mint, err := o.build(ctx, req, signerKey)
	if err != nil {
		return err
	}
	res.Decimals = mint.Decimals
	o.tokenProgram = mint.TokenProgram

	o.transition(ctx, StateSigning)
	raw, sig, err := sign(signer, tx)
	signer.Release()
	if err != nil {
		return err
	}

	// Last point at which cancelling leaves nothing on chain.
	if ctx.Err() != nil {
		return Wrap(KindCancelled, ctx.Err(), "burn cancelled before submission")
	}

	// The signature identifies the transaction from here on, whatever Submit reports.
	res.Signature = sig.String()
	o.transition(ctx, StateSubmitting)
	if err := o.submit(ctx, raw, sig); err != nil {
		if KindOf(err) == KindSubmissionRejected {
			res.Signature = ""
			return err
		}
		// The bytes may have reached the node; the signature status decides.
		res.Status = StatusPending
		o.logger.WarnContext(ctx, "submit outcome unknown, checking signature status",
			"burn_id", o.id,
			"signature", res.Signature,
			"error", err,
		)
		o.transition(ctx, StateConfirming)
		return o.confirm(ctx, sig, res)
	}
	res.Status = StatusPending
	o.logger.InfoContext(ctx, "burn transaction submitted", "burn_id", o.id, "signature", res.Signature)

	o.transition(ctx, StateConfirming)
	return o.confirm(ctx, sig, res)
}

func classifyKeyError(err error) error {
	switch {
	case errors.Is(err, keypair.ErrKeyFileNotFound):
		return Wrap(KindKeyFileNotFound, err, "key file could not be opened")
	case errors.Is(err, keypair.ErrKeyFileUnreadable):
		return Wrap(KindKeyFileNotFound, err, "key file exists but could not be read")
	case errors.Is(err, keypair.ErrKeyFormat):
		return Wrap(KindKeyFormat, err, "key file is not a valid Solana keypair")
	}
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	return Wrap(KindInternal, err, "failed to load key")
}

// build performs the network reads in order and assembles the transaction.
func (o *Orchestrator) build(ctx context.Context, req Request, signer solana.PublicKey) (*solana.Transaction, MintInfo, error) {
	mint, err := o.network.FetchMint(ctx, req.Mint)
	if err != nil {
		return nil, MintInfo{}, preSubmitError(ctx, err, "failed to fetch mint")
	}

	account, err := o.network.FetchTokenAccount(ctx, signer, mint)
	if err != nil {
		return nil, MintInfo{}, preSubmitError(ctx, err, "failed to fetch token account")
	}
	if account == nil {
		return nil, MintInfo{}, Errorf(KindAccountNotFound, "%s holds no token account for mint %s", signer, req.Mint)
	}
	if err := o.validator.Validate(req, &account.Amount); err != nil {
		return nil, MintInfo{}, err
	}

	blockhash, err := o.network.FetchRecentBlockhash(ctx)
	if err != nil {
		return nil, MintInfo{}, preSubmitError(ctx, err, "failed to fetch recent blockhash")
	}

	tx, err := BuildTransaction(BuildParams{
		Request:   req,
		Signer:    signer,
		Treasury:  o.cfg.Treasury,
		Mint:      mint,
		Account:   account,
		Blockhash: blockhash,
	})
	if err != nil {
		return nil, MintInfo{}, err
	}

	err = Verify(tx, Expectation{
		Request:      req,
		Decimals:     mint.Decimals,
		TokenProgram: mint.TokenProgram,
		TokenAccount: account.Address,
		Signer:       signer,
		Treasury:     o.cfg.Treasury,
	})
	if err != nil {
		return nil, MintInfo{}, err
	}
	return tx, mint, nil
}

// preSubmitError classifies a failure that happened before anything was broadcast.
func preSubmitError(ctx context.Context, err error, msg string) error {
	if ctx.Err() != nil {
		return Wrap(KindCancelled, err, "burn cancelled before submission")
	}
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	return Wrap(KindNetworkUnavailable, err, "%s", msg)
}

// sign returns the wire bytes and the fee payer's signature, which is the
// transaction id.
func sign(signer Signer, tx *solana.Transaction) ([]byte, solana.Signature, error) {
	if err := signer.SignTransaction(tx); err != nil {
		return nil, solana.Signature{}, Wrap(KindInternal, err, "failed to sign transaction")
	}
	if len(tx.Signatures) == 0 {
		return nil, solana.Signature{}, Errorf(KindInternal, "signed transaction carries no signature")
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, solana.Signature{}, Wrap(KindInternal, err, "failed to serialize signed transaction")
	}
	return raw, tx.Signatures[0], nil
}

// submit broadcasts once. Cancellation is ignored from here on so the
// call cannot be interrupted halfway with an unknown outcome.
// Anything other than a submission_rejected error means the outcome is unknown.
func (o *Orchestrator) submit(ctx context.Context, raw []byte, sig solana.Signature) error {
	submitCtx := context.WithoutCancel(ctx)
	if o.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		submitCtx, cancel = context.WithTimeout(submitCtx, o.cfg.RequestTimeout)
		defer cancel()
	}

	got, err := o.network.Submit(submitCtx, raw)
	if err != nil {
		var be *Error
		if errors.As(err, &be) {
			return be
		}
		return Wrap(KindNetworkUnavailable, err, "failed to send transaction")
	}
	if !got.Equals(sig) {
		o.logger.WarnContext(ctx, "node returned an unexpected signature",
			"burn_id", o.id, "expected", sig.String(), "got", got.String())
	}
	return nil
}

// confirm polls with exponential backoff until the transaction lands, fails,
// the confirmation timeout passes or ctx is cancelled.
func (o *Orchestrator) confirm(ctx context.Context, sig solana.Signature, res *Result) error {
	pollCtx, cancel := context.WithTimeout(ctx, o.cfg.ConfirmTimeout)
	defer cancel()

	polls := 0
	defer func() {
		if o.metrics != nil {
			o.metrics.RecordConfirmationPolls(res.Status.String(), polls)
		}
	}()

	interval := o.cfg.ConfirmInitialInterval
	for {
		polls++
		conf, err := o.network.PollConfirmation(pollCtx, sig, o.cfg.RequestTimeout)
		switch {
		case err != nil:
			if pollCtx.Err() != nil {
				return o.confirmationEnded(ctx, sig)
			}
			o.logger.WarnContext(ctx, "signature status query failed, will retry",
				"burn_id", o.id,
				"signature", sig.String(),
				"attempt", polls,
				"error", err,
			)
			if o.metrics != nil {
				o.metrics.RecordRPCRetry("getSignatureStatuses", "poll_error")
			}
		case conf.Status == StatusConfirmed:
			res.Status = StatusConfirmed
			res.Slot = conf.Slot
			return nil
		case conf.Status == StatusFailed:
			res.Status = StatusFailed
			res.Slot = conf.Slot
			return &Error{
				Kind:      KindTransactionFailed,
				Message:   "transaction executed with an error",
				Reason:    conf.Err,
				Signature: sig.String(),
			}
		}

		if err := o.sleep(pollCtx, interval); err != nil {
			return o.confirmationEnded(ctx, sig)
		}

		interval *= 2
		if interval > o.cfg.ConfirmMaxInterval {
			interval = o.cfg.ConfirmMaxInterval
		}
	}
}

// confirmationEnded distinguishes a caller cancel from the confirmation timeout.
// Either way the transaction was broadcast and its outcome is unknown.
func (o *Orchestrator) confirmationEnded(ctx context.Context, sig solana.Signature) error {
	if ctx.Err() != nil {
		return &Error{
			Kind:      KindConfirmationAbandoned,
			Message:   "transaction was submitted but confirmation was abandoned; check the signature before retrying",
			Signature: sig.String(),
			Err:       ctx.Err(),
		}
	}
	return &Error{
		Kind:      KindConfirmationTimeout,
		Message:   fmt.Sprintf("transaction was not confirmed within %s; check the signature before retrying", o.cfg.ConfirmTimeout),
		Signature: sig.String(),
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
