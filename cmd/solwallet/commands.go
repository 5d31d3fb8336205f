package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/brojonat/solwallet/service/db"
	"github.com/brojonat/solwallet/service/ledger"
	"github.com/brojonat/solwallet/service/solana"
	"github.com/brojonat/solwallet/service/temporal"
	"github.com/brojonat/solwallet/service/wallet"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

func addressCommand() *cli.Command {
	return &cli.Command{
		Name:  "address",
		Usage: "Print the wallet address",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			key, err := loadKey(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, key.Address())
			return nil
		},
	}
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:  "balance",
		Usage: "Show the wallet balance",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			env, err := commandEnv(c)
			if err != nil {
				return err
			}
			defer env.Close()

			balance, err := env.service.Balance(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get balance: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, map[string]interface{}{
					"address":  env.key.Address().String(),
					"lamports": balance.Uint64(),
					"sol":      balance.String(),
					"network":  env.network,
				})
			}
			fmt.Fprintf(c.App.Writer, "💎 Balance - %s SOL\n", balance)
			return nil
		},
	}
}

// transferOutput is the JSON form of a completed transfer.
type transferOutput struct {
	Signature      string   `json:"signature"`
	From           string   `json:"from"`
	To             string   `json:"to"`
	AmountLamports uint64   `json:"amount_lamports"`
	AmountSOL      string   `json:"amount_sol"`
	Network        string   `json:"network,omitempty"`
	Durable        bool     `json:"durable"`
	Rebuilds       int      `json:"rebuilds,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}

func transferCommand() *cli.Command {
	return &cli.Command{
		Name:  "transfer",
		Usage: "Send SOL and wait until the transaction is finalized",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "to",
				Usage:    "Recipient address",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "amount",
				Usage:    "Amount in SOL (e.g., 2.5)",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "durable",
				Usage: "Run the transfer as a Temporal workflow on a solwallet worker",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			req, err := wallet.ValidateTransfer(c.String("to"), c.String("amount"))
			if err != nil {
				return err
			}

			var out *transferOutput
			if c.Bool("durable") {
				out, err = durableTransfer(c, req)
			} else {
				out, err = directTransfer(c, req)
			}
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, out)
			}
			w := c.App.Writer
			fmt.Fprintln(w, "🚀 Transaction sent successfully.")
			fmt.Fprintf(w, "  From: %s\n", out.From)
			fmt.Fprintf(w, "  To: %s\n", out.To)
			fmt.Fprintf(w, "  Sol: %s\n", out.AmountSOL)
			fmt.Fprintf(w, "  Signature: %s\n", out.Signature)
			for _, warning := range out.Warnings {
				fmt.Fprintf(w, "⚠️  %s\n", warning)
			}
			return nil
		},
	}
}

func directTransfer(c *cli.Context, req wallet.TransferRequest) (*transferOutput, error) {
	env, err := commandEnv(c)
	if err != nil {
		return nil, err
	}
	defer env.Close()

	if !c.Bool("json") {
		env.service.OnProgress = func(msg string) {
			fmt.Fprintln(c.App.ErrWriter, msg)
		}
	}

	rec, err := env.service.Transfer(c.Context, req)
	if err != nil {
		return nil, err
	}
	return &transferOutput{
		Signature:      rec.Signature.String(),
		From:           rec.From.String(),
		To:             rec.To.String(),
		AmountLamports: rec.Amount.Uint64(),
		AmountSOL:      rec.Amount.String(),
		Network:        rec.Network,
		Warnings:       rec.Warnings,
	}, nil
}

func durableTransfer(c *cli.Context, req wallet.TransferRequest) (*transferOutput, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	logger := setupLogger(cfg.LogLevel)

	key, err := loadKey(cfg)
	if err != nil {
		return nil, err
	}

	tc, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
	if err != nil {
		return nil, err
	}
	defer tc.Close()

	if !c.Bool("json") {
		fmt.Fprintf(c.App.ErrWriter, "Submitting %s to worker queue %s, waiting for finality...\n", req, cfg.TemporalTaskQueue)
	}

	result, err := tc.ExecuteTransfer(c.Context, temporal.TransferInput{
		From:         key.Address().String(),
		Recipient:    req.Recipient.String(),
		Lamports:     req.Amount.Uint64(),
		PollInterval: cfg.ConfirmPollInterval,
		MaxWait:      cfg.ConfirmMaxWait,
		MaxRebuilds:  cfg.MaxRebuilds,
	})
	if err != nil {
		return nil, fmt.Errorf("transfer of %s SOL from %s to %s failed: %w", req.Amount, key.Address(), req.Recipient, err)
	}

	return &transferOutput{
		Signature:      result.Signature,
		From:           result.From,
		To:             result.To,
		AmountLamports: result.Lamports,
		AmountSOL:      result.AmountSOL,
		Durable:        true,
		Rebuilds:       result.Rebuilds,
		Warnings:       result.Warnings,
	}, nil
}

// historyEntry is the structured form of a transfer shown by history --json.
type historyEntry struct {
	Signature      string     `json:"signature"`
	From           string     `json:"from"`
	To             string     `json:"to"`
	AmountLamports uint64     `json:"amount_lamports"`
	AmountSOL      string     `json:"amount_sol"`
	Network        string     `json:"network,omitempty"`
	Time           *time.Time `json:"time,omitempty"`
	Err            *string    `json:"err,omitempty"`
}

func entryFromDB(t *db.Transfer) historyEntry {
	lamports := wallet.Lamports(t.Lamports)
	finalized := t.FinalizedAt
	return historyEntry{
		Signature:      t.Signature,
		From:           t.FromAddress,
		To:             t.ToAddress,
		AmountLamports: lamports.Uint64(),
		AmountSOL:      lamports.String(),
		Network:        t.Network,
		Time:           &finalized,
	}
}

func entryFromChain(t *solana.Transfer, network string) historyEntry {
	e := historyEntry{
		Signature:      t.Signature,
		From:           t.FromAddress,
		To:             t.ToAddress,
		AmountLamports: t.Amount,
		AmountSOL:      wallet.Lamports(t.Amount).String(),
		Network:        network,
		Err:            t.Err,
	}
	if !t.BlockTime.IsZero() {
		blockTime := t.BlockTime
		e.Time = &blockTime
	}
	return e
}

// historySource resolves "auto" to a concrete source.
func historySource(source string, jsonOutput bool, databaseURL string) (string, error) {
	switch source {
	case "", "auto":
		if !jsonOutput {
			return "file", nil
		}
		if databaseURL != "" {
			return "db", nil
		}
		return "chain", nil
	case "file":
		if jsonOutput {
			return "", fmt.Errorf("history from the log file is text only; use --source db or --source chain with --json")
		}
		return source, nil
	case "db":
		if databaseURL == "" {
			return "", fmt.Errorf("--source db requires DATABASE_URL or --database-url")
		}
		return source, nil
	case "chain":
		return source, nil
	default:
		return "", fmt.Errorf("unknown history source %q (want auto, file, db or chain)", source)
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show transfer history",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "source",
				Usage: "Where to read history from: auto, file, db or chain",
				Value: "auto",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of transfers (db and chain sources)",
				Value:   20,
			},
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter each entry must satisfy (repeatable, requires --json)",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			jsonOutput := c.Bool("json")
			jqFilters := c.StringSlice("jq")
			if len(jqFilters) > 0 && !jsonOutput {
				return fmt.Errorf("--jq requires --json")
			}

			source, err := historySource(c.String("source"), jsonOutput, cfg.DatabaseURL)
			if err != nil {
				return err
			}

			if source == "file" {
				fileLedger := ledger.NewFileLedger(cfg.LedgerPath, nil, setupLogger(cfg.LogLevel))
				return printFileHistory(c.App.Writer, fileLedger)
			}

			compiled, err := compileJQ(jqFilters)
			if err != nil {
				return err
			}

			env, err := commandEnv(c)
			if err != nil {
				return err
			}
			defer env.Close()

			var entries []historyEntry
			switch source {
			case "db":
				if env.store == nil {
					return fmt.Errorf("database is not available")
				}
				transfers, err := env.store.ListTransfers(c.Context, db.ListTransfersParams{
					FromAddress: env.key.Address().String(),
					Network:     env.network,
					Limit:       int32(c.Int("limit")),
				})
				if err != nil {
					return fmt.Errorf("failed to list transfers: %w", err)
				}
				for _, t := range transfers {
					entries = append(entries, entryFromDB(t))
				}
			case "chain":
				transfers, err := env.client.RecentTransfers(c.Context, solana.RecentTransfersParams{
					Wallet: env.key.Address(),
					Limit:  c.Int("limit"),
					Delay:  100 * time.Millisecond,
				})
				if err != nil {
					return fmt.Errorf("failed to read history from chain: %w", err)
				}
				for _, t := range transfers {
					entries = append(entries, entryFromChain(t, env.network))
				}
			}

			entries, err = filterEntries(entries, compiled)
			if err != nil {
				return err
			}

			if jsonOutput {
				return outputJSON(c.App.Writer, entries)
			}
			printEntries(c.App.Writer, entries)
			fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d transfers\n", len(entries))
			return nil
		},
	}
}

func printFileHistory(w io.Writer, fileLedger *ledger.FileLedger) error {
	content, err := fileLedger.ReadAll()
	if errors.Is(err, ledger.ErrNoHistory) {
		return fmt.Errorf("cannot find '%s' file to read the history", fileLedger.Path())
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(w, strings.TrimSpace(content))
	return nil
}

func printEntries(w io.Writer, entries []historyEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SIGNATURE\tFROM\tTO\tSOL\tTIME")
	for _, e := range entries {
		when := "-"
		if e.Time != nil {
			when = e.Time.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.Signature,
			orUnknown(e.From),
			orUnknown(e.To),
			e.AmountSOL,
			when,
		)
	}
	tw.Flush()
}

func orUnknown(s string) string {
	if s == "" {
		return "(unknown)"
	}
	return s
}

func compileJQ(filters []string) ([]*gojq.Code, error) {
	compiled := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		compiled[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return compiled, nil
}

// filterEntries keeps entries for which every jq filter is truthy.
func filterEntries(entries []historyEntry, filters []*gojq.Code) ([]historyEntry, error) {
	if len(filters) == 0 {
		return entries, nil
	}

	kept := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		// gojq operates on plain JSON values, not structs.
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal history entry: %w", err)
		}
		var value interface{}
		if err := json.Unmarshal(data, &value); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history entry: %w", err)
		}

		if matchesAll(value, filters) {
			kept = append(kept, e)
		}
	}
	return kept, nil
}

func matchesAll(value interface{}, filters []*gojq.Code) bool {
	for _, code := range filters {
		iter := code.Run(value)
		v, ok := iter.Next()
		if !ok {
			return false
		}
		if _, isErr := v.(error); isErr {
			return false
		}
		if !isTruthy(v) {
			return false
		}
	}
	return true
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	// Everything else (numbers, strings, objects, arrays) is truthy
	return true
}

func outputJSON(w io.Writer, v interface{}) error {
	if w == nil {
		w = os.Stdout
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
