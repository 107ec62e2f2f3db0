package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/brojonat/tokenburn/client"
	"github.com/brojonat/tokenburn/service/burn"
	"github.com/brojonat/tokenburn/service/config"
	"github.com/brojonat/tokenburn/service/keypair"
	natspub "github.com/brojonat/tokenburn/service/nats"
	"github.com/brojonat/tokenburn/service/solana"
	"github.com/urfave/cli/v2"
)

// Exit codes for a failed burn, so scripts can tell "nothing happened" from
// "something may have happened".
const (
	exitFailure   = 1
	exitInput     = 2
	exitAmbiguous = 3
)

func defaultKeypairPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "solana", "id.json")
}

func keypairFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "keypair",
		Aliases: []string{"k"},
		Usage:   "Path to the signer's key file (solana-keygen JSON array or base58)",
		EnvVars: []string{"SOLANA_KEYPAIR"},
		Value:   defaultKeypairPath(),
	}
}

func burnCommand() *cli.Command {
	return &cli.Command{
		Name:  "burn",
		Usage: "Burn tokens and pay the SOL fee in one transaction",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "mint",
				Aliases:  []string{"m"},
				Usage:    "Token mint address",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "amount",
				Aliases:  []string{"a"},
				Usage:    "Amount to burn in base units (10^decimals base units = 1 token)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "fee",
				Aliases:  []string{"f"},
				Usage:    "SOL fee paid to the treasury, e.g. 0.01",
				Required: true,
			},
			keypairFlag(),
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "Run the burn on a burnd server instead of locally",
				EnvVars: []string{"TOKENBURN_SERVER"},
			},
		},
		Action: func(c *cli.Context) error {
			// Ctrl-C cancels the burn; after broadcast it only stops waiting.
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			in := burn.Input{
				MintAddress: c.String("mint"),
				Amount:      c.String("amount"),
				FeeSOL:      c.String("fee"),
				KeypairPath: c.String("keypair"),
			}

			var (
				res *burn.Result
				err error
			)
			if serverURL := c.String("server"); serverURL != "" {
				res, err = remoteBurn(ctx, serverURL, in)
			} else {
				res, err = localBurn(ctx, in)
			}

			if res == nil && err != nil {
				var be *burn.Error
				if errors.As(err, &be) {
					return cli.Exit(err.Error(), exitCodeFor(be.Kind))
				}
				return err
			}

			if jsonOutput(c) {
				if perr := printJSON(c, res); perr != nil {
					return perr
				}
			} else {
				printResult(c, res)
			}

			if err != nil {
				return cli.Exit(err.Error(), exitCodeFor(burn.KindOf(err)))
			}
			return nil
		},
	}
}

func exitCodeFor(kind burn.Kind) int {
	switch kind.Category() {
	case burn.CategoryInput:
		return exitInput
	case burn.CategoryAmbiguous:
		return exitAmbiguous
	}
	return exitFailure
}

func remoteBurn(ctx context.Context, serverURL string, in burn.Input) (*burn.Result, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only errors to stderr
	}))
	cl := client.NewClient(serverURL, nil, logger)
	return cl.Burn(ctx, client.BurnRequest{
		MintAddress: in.MintAddress,
		Amount:      in.Amount,
		FeeSOL:      in.FeeSOL,
		KeypairPath: in.KeypairPath,
	})
}

func localBurn(ctx context.Context, in burn.Input) (*burn.Result, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := setupLogger(cfg.LogLevel)

	endpoint, err := solana.SelectRandomEndpoint(cfg.SolanaRPCURLs)
	if err != nil {
		return nil, err
	}
	network := solana.NewClient(solana.NewRPCClient(endpoint), cfg.SolanaNetwork, cfg.ClientOptions(), nil, logger)

	engine, err := burn.NewEngine(cfg.EngineConfig(), network, nil, logger)
	if err != nil {
		return nil, err
	}

	if cfg.NATSURL != "" {
		publisher, err := natspub.NewPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, nil, logger)
		if err != nil {
			logger.Warn("outcome notifications disabled", "error", err)
		} else {
			defer publisher.Close()
			engine.OnFinish(natspub.Notifier(publisher, logger))
		}
	}

	return engine.Burn(ctx, in)
}

func printResult(c *cli.Context, res *burn.Result) {
	w := c.App.Writer
	line := "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

	fmt.Fprintln(w, line)
	switch {
	case res.State == burn.StateSucceeded:
		fmt.Fprintln(w, "✓ Burn confirmed")
	case res.Err != nil && res.Err.Kind.Category() == burn.CategoryAmbiguous:
		fmt.Fprintln(w, "? Burn submitted, outcome unknown")
	default:
		fmt.Fprintln(w, "✗ Burn failed")
	}
	fmt.Fprintln(w, line)

	fmt.Fprintf(w, "ID:          %s\n", res.ID)
	if res.Mint != "" {
		fmt.Fprintf(w, "Mint:        %s\n", res.Mint)
	}
	if res.Signer != "" {
		fmt.Fprintf(w, "Signer:      %s\n", res.Signer)
	}
	if res.Amount > 0 {
		fmt.Fprintf(w, "Amount:      %d base units (%d decimals)\n", res.Amount, res.Decimals)
	}
	if res.FeeLamports > 0 {
		fmt.Fprintf(w, "Fee:         %s SOL\n", burn.FormatSOL(res.FeeLamports))
	}
	if res.Signature != "" {
		fmt.Fprintf(w, "Signature:   %s\n", res.Signature)
	}
	fmt.Fprintf(w, "Status:      %s\n", res.Status)
	if res.Slot > 0 {
		fmt.Fprintf(w, "Slot:        %d\n", res.Slot)
	}
	if !res.StartedAt.IsZero() && !res.FinishedAt.IsZero() {
		fmt.Fprintf(w, "Duration:    %s\n", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
	}
	if res.Err != nil {
		fmt.Fprintf(w, "Error:       %s\n", res.Err.Kind)
		fmt.Fprintf(w, "  %s\n", res.Err.Message)
		if res.Err.Reason != "" {
			fmt.Fprintf(w, "  reason: %s\n", res.Err.Reason)
		}
		if res.Err.Kind.Category() == burn.CategoryAmbiguous {
			fmt.Fprintln(w, "  The transaction was broadcast; check the signature on an explorer before retrying.")
		}
	}
	fmt.Fprintln(w, line)
}

func pubkeyCommand() *cli.Command {
	return &cli.Command{
		Name:      "pubkey",
		Usage:     "Show the signer address of a key file",
		ArgsUsage: "[KEYPAIR]",
		Flags:     []cli.Flag{keypairFlag()},
		Action: func(c *cli.Context) error {
			path := c.String("keypair")
			if c.NArg() > 0 {
				path = c.Args().Get(0)
			}

			cred, err := keypair.Load(path)
			if err != nil {
				return fmt.Errorf("failed to load key file: %w", err)
			}
			defer cred.Release()

			if jsonOutput(c) {
				return printJSON(c, map[string]string{"pubkey": cred.PublicKey().String()})
			}
			fmt.Fprintln(c.App.Writer, cred.PublicKey().String())
			return nil
		},
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Show the effective burn configuration",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "Show a burnd server's configuration instead of the local one",
				EnvVars: []string{"TOKENBURN_SERVER"},
			},
		},
		Action: func(c *cli.Context) error {
			var view client.ServerConfig
			var endpoints []string

			if serverURL := c.String("server"); serverURL != "" {
				cl := client.NewClient(serverURL, &http.Client{Timeout: 10 * time.Second}, nil)
				remote, err := cl.Config(c.Context)
				if err != nil {
					return fmt.Errorf("failed to fetch server config: %w", err)
				}
				view = *remote
			} else {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				view = client.ServerConfig{
					Network:        cfg.SolanaNetwork,
					Treasury:       cfg.TreasuryAddress.String(),
					MinFeeLamports: cfg.MinFeeLamports,
					MaxFeeLamports: cfg.MaxFeeLamports,
					MinFeeSOL:      burn.FormatSOL(cfg.MinFeeLamports),
					MaxFeeSOL:      burn.FormatSOL(cfg.MaxFeeLamports),
					Commitment:     string(cfg.ConfirmCommitment),
					ConfirmTimeout: cfg.ConfirmTimeout,
				}
				endpoints = redactEndpoints(cfg.SolanaRPCURLs)
			}

			if jsonOutput(c) {
				return printJSON(c, struct {
					client.ServerConfig
					ConfirmTimeout string   `json:"confirm_timeout"`
					RPCHosts       []string `json:"rpc_hosts,omitempty"`
				}{view, view.ConfirmTimeout.String(), endpoints})
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Network:          %s\n", view.Network)
			fmt.Fprintf(w, "Treasury:         %s\n", view.Treasury)
			fmt.Fprintf(w, "Fee range:        %s - %s SOL\n", view.MinFeeSOL, view.MaxFeeSOL)
			fmt.Fprintf(w, "Commitment:       %s\n", view.Commitment)
			fmt.Fprintf(w, "Confirm timeout:  %s\n", view.ConfirmTimeout)
			for _, host := range endpoints {
				fmt.Fprintf(w, "RPC endpoint:     %s\n", host)
			}
			return nil
		},
	}
}

// redactEndpoints keeps only the host of each RPC URL; provider API keys live in
// the path or query string.
func redactEndpoints(urls []string) []string {
	hosts := make([]string, 0, len(urls))
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			hosts = append(hosts, "(unparseable)")
			continue
		}
		hosts = append(hosts, u.Scheme+"://"+u.Host)
	}
	return hosts
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
