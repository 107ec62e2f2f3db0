package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "tokenburn",
		Usage: "Burn SPL tokens and pay a SOL fee in a single transaction",
		Description: `Burns an amount of an SPL token from the signer's associated token account and
transfers a SOL fee to the configured treasury, atomically, then waits for confirmation.

Burns run locally (SOLANA_RPC_URL and TREASURY_ADDRESS must be set) or on a burnd
server with --server.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			burnCommand(),
			pubkeyCommand(),
			configCommand(),
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "burnd server URL for server commands",
				EnvVars: []string{"TOKENBURN_SERVER_URL"},
				Value:   "http://127.0.0.1:8787",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "Filter JSON output through a jq expression (implies --json)",
			},
		},
	}
}
