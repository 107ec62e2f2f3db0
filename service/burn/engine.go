package burn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/tokenburn/service/keypair"
	"github.com/brojonat/tokenburn/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// Config holds the engine settings that stay fixed for the process lifetime.
type Config struct {
	Treasury       solana.PublicKey
	MinFeeLamports uint64
	MaxFeeLamports uint64

	ConfirmInitialInterval time.Duration
	ConfirmMaxInterval     time.Duration
	ConfirmTimeout         time.Duration
	// RequestTimeout bounds each status query and the submit call.
	RequestTimeout time.Duration
}

// DefaultConfig returns the confirmation settings used when nothing is configured.
func DefaultConfig(treasury solana.PublicKey) Config {
	return Config{
		Treasury:               treasury,
		MinFeeLamports:         0,
		MaxFeeLamports:         100_000_000,
		ConfirmInitialInterval: 500 * time.Millisecond,
		ConfirmMaxInterval:     8 * time.Second,
		ConfirmTimeout:         90 * time.Second,
		RequestTimeout:         15 * time.Second,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.Treasury.IsZero() {
		errs = append(errs, fmt.Errorf("treasury address is required"))
	}
	if c.MinFeeLamports > c.MaxFeeLamports {
		errs = append(errs, fmt.Errorf("min fee (%d lamports) exceeds max fee (%d lamports)", c.MinFeeLamports, c.MaxFeeLamports))
	}
	if c.ConfirmInitialInterval <= 0 {
		errs = append(errs, fmt.Errorf("confirm initial interval must be positive"))
	}
	if c.ConfirmMaxInterval < c.ConfirmInitialInterval {
		errs = append(errs, fmt.Errorf("confirm max interval must be at least the initial interval"))
	}
	if c.ConfirmTimeout <= 0 {
		errs = append(errs, fmt.Errorf("confirm timeout must be positive"))
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("request timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// Engine creates orchestrators that share a network client and configuration.
// It holds no per-burn state; concurrent burns from the same signer are not
// coordinated and must be serialized by the caller.
type Engine struct {
	cfg      Config
	network  Network
	loadKey  KeyLoader
	metrics  *metrics.Metrics
	logger   *slog.Logger
	onFinish func(context.Context, *Result)
}

// NewEngine validates cfg and returns an Engine. metrics may be nil.
func NewEngine(cfg Config, network Network, m *metrics.Metrics, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid burn engine config: %w", err)
	}
	if network == nil {
		return nil, fmt.Errorf("network client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:     cfg,
		network: network,
		loadKey: LoadKeypair,
		metrics: m,
		logger:  logger,
	}, nil
}

// WithKeyLoader replaces the file-based key loader.
func (e *Engine) WithKeyLoader(loader KeyLoader) *Engine {
	e.loadKey = loader
	return e
}

// OnFinish registers a hook that receives every terminal Result. The hook runs on
// the burn's goroutine with a context that is no longer cancellable.
func (e *Engine) OnFinish(fn func(context.Context, *Result)) *Engine {
	e.onFinish = fn
	return e
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Validator returns the input validator configured with the engine's fee bounds.
func (e *Engine) Validator() Validator {
	return Validator{MinFeeLamports: e.cfg.MinFeeLamports, MaxFeeLamports: e.cfg.MaxFeeLamports}
}

// NewOrchestrator returns a fresh orchestrator for exactly one burn.
func (e *Engine) NewOrchestrator() *Orchestrator {
	return &Orchestrator{
		id:          uuid.NewString(),
		cfg:         e.cfg,
		validator:   e.Validator(),
		network:     e.network,
		loadKey:     e.loadKey,
		metrics:     e.metrics,
		logger:      e.logger,
		onFinish:    e.onFinish,
		sleep:       sleepContext,
		state:       StateIdle,
		transitions: []State{StateIdle},
	}
}

// Burn runs one burn on a new orchestrator.
func (e *Engine) Burn(ctx context.Context, in Input) (*Result, error) {
	return e.NewOrchestrator().Run(ctx, in)
}

// LoadKeypair reads a Solana key file from disk.
func LoadKeypair(path string) (Signer, error) {
	cred, err := keypair.Load(path)
	if err != nil {
		return nil, err
	}
	return cred, nil
}
