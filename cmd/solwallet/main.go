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
		Name:  "solwallet",
		Usage: "Interactive Solana wallet",
		Description: `Loads a local keypair, shows the balance and transfer history, and sends
SOL transfers, waiting until each one is finalized before recording it.

Run without a command for the interactive menu.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Action:  menuAction,
		Commands: []*cli.Command{
			addressCommand(),
			balanceCommand(),
			transferCommand(),
			historyCommand(),
		},
		// Global flags available to all commands. Each overrides the
		// environment variable of the same name.
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "rpc-url",
				Usage:   "Solana RPC URL (repeatable; one is picked at random)",
				EnvVars: []string{"SOLANA_RPC_URLS"},
			},
			&cli.StringFlag{
				Name:    "keypair",
				Aliases: []string{"k"},
				Usage:   "Path to the keypair JSON file",
				EnvVars: []string{"KEYPAIR_PATH"},
			},
			&cli.StringFlag{
				Name:    "ledger",
				Usage:   "Path to the transfer log file",
				EnvVars: []string{"LEDGER_PATH"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Postgres URL for the transfer mirror (optional)",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL for transfer events (optional)",
				EnvVars: []string{"NATS_URL"},
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "Address to serve Prometheus metrics on (optional)",
				EnvVars: []string{"METRICS_ADDR"},
			},
			&cli.StringFlag{
				Name:    "temporal-host",
				Usage:   "Temporal server address",
				EnvVars: []string{"TEMPORAL_HOST"},
			},
			&cli.StringFlag{
				Name:    "temporal-namespace",
				Usage:   "Temporal namespace",
				EnvVars: []string{"TEMPORAL_NAMESPACE"},
			},
			&cli.StringFlag{
				Name:    "temporal-task-queue",
				Usage:   "Temporal task queue served by the worker",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
			},
		},
	}
}
