package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/brojonat/solwallet/service/ledger"
	"github.com/brojonat/solwallet/service/solana"
	"github.com/brojonat/solwallet/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

// errExit ends the interactive session. It is returned up the call chain
// instead of exiting from nested code.
var errExit = errors.New("exit requested")

const ansiClear = "\033[H\033[2J"

// transferService is the part of transfer.Service the menu drives.
type transferService interface {
	Address() solanago.PublicKey
	Balance(ctx context.Context) (wallet.Lamports, error)
	Transfer(ctx context.Context, req wallet.TransferRequest) (*ledger.Record, error)
}

// historyReader is the part of ledger.FileLedger the menu reads.
type historyReader interface {
	Path() string
	ReadAll() (string, error)
}

type menu struct {
	in      *bufio.Reader
	out     io.Writer
	service transferService
	history historyReader
	clear   bool
}

func newMenu(in io.Reader, out io.Writer, service transferService, history historyReader) *menu {
	br, ok := in.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(in)
	}
	return &menu{
		in:      br,
		out:     out,
		service: service,
		history: history,
		clear:   true,
	}
}

func menuAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	// JSON log lines on stderr would interleave with the menu.
	if !c.IsSet("log-level") {
		cfg.LogLevel = "warn"
	}
	logger := setupLogger(cfg.LogLevel)

	in := bufio.NewReader(os.Stdin)
	key, err := loadKeyLoop(c.Context, cfg.KeypairPath, in, os.Stdout)
	if errors.Is(err, errExit) {
		return nil
	}
	if err != nil {
		return err
	}

	env, err := newWalletEnv(c.Context, cfg, key, logger)
	if err != nil {
		return err
	}
	defer env.Close()

	m := newMenu(in, os.Stdout, env.service, env.ledger)
	env.service.OnProgress = func(msg string) {
		fmt.Fprintln(m.out, msg)
	}
	return m.run(c.Context)
}

// loadKeyLoop loads the keypair, asking the operator to place the file
// and press enter for as long as it is missing. A malformed keyfile is
// returned as an error. EOF on in returns errExit.
func loadKeyLoop(ctx context.Context, path string, in *bufio.Reader, out io.Writer) (*wallet.KeyMaterial, error) {
	for {
		key, err := wallet.LoadKeyfile(path)
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, wallet.ErrKeyfileNotFound) {
			return nil, fmt.Errorf("failed to load keypair: %w", err)
		}

		fmt.Fprintf(out, "Please place your valid keypair(.json) file at %s and press enter... 📁\n", path)
		if _, err := readLine(in); err != nil {
			return nil, errExit
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// run shows the menu until the operator exits. Only session-fatal errors
// are returned.
func (m *menu) run(ctx context.Context) error {
	for {
		err := m.showMenu(ctx)
		if errors.Is(err, errExit) {
			m.terminate()
			return nil
		}
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// showMenu renders one menu screen and dispatches a single selection.
func (m *menu) showMenu(ctx context.Context) error {
	m.clearScreen()

	fmt.Fprint(m.out, "\n================== Menu ===================\n\n")
	balance, err := m.service.Balance(ctx)
	if err != nil {
		fmt.Fprintf(m.out, "⚠️  Cannot reach the network: %v\n\n", err)
	} else {
		fmt.Fprintf(m.out, "💎 Balance - %s SOL\n\n", balance)
	}
	fmt.Fprintln(m.out, "1. Show History")
	fmt.Fprintln(m.out, "2. Transfer Sol")
	fmt.Fprint(m.out, "3. Exit\n\n")
	fmt.Fprintln(m.out, "Enter a option :")

	for {
		line, err := readLine(m.in)
		if err != nil {
			return errExit
		}

		option, err := strconv.Atoi(line)
		if err != nil || option == 0 {
			fmt.Fprintln(m.out, "Please enter a number.")
			continue
		}

		switch option {
		case 1:
			return m.showHistory()
		case 2:
			return m.transfer(ctx)
		case 3:
			return errExit
		default:
			fmt.Fprintln(m.out, "Please enter valid option.")
		}
	}
}

func (m *menu) showHistory() error {
	m.clearScreen()

	content, err := m.history.ReadAll()
	if errors.Is(err, ledger.ErrNoHistory) {
		fmt.Fprintf(m.out, "⚠️  Cannot find '%s' file to read the history! Press enter to return back to the menu...\n", m.history.Path())
		return m.waitForEnter()
	}
	if err != nil {
		fmt.Fprintf(m.out, "⚠️  %v\n", err)
		return m.pause()
	}

	fmt.Fprint(m.out, strings.TrimSpace(content))
	fmt.Fprint(m.out, "\n\n")
	return m.pause()
}

func (m *menu) transfer(ctx context.Context) error {
	m.clearScreen()
	fmt.Fprint(m.out, "\n=================== Transfer ===================\n\n")

	req, err := m.promptTransfer()
	if err != nil {
		return err
	}
	fmt.Fprintln(m.out)

	rec, err := m.service.Transfer(ctx, req)
	if err != nil {
		fmt.Fprintf(m.out, "❌ %v\n\n", err)
		var signErr *solana.SigningError
		if errors.As(err, &signErr) {
			return err
		}
		return m.pause()
	}

	fmt.Fprintln(m.out, "🚀 Transaction sent successfully.")
	fmt.Fprintf(m.out, "   Signature: %s\n", rec.Signature)
	for _, w := range rec.Warnings {
		fmt.Fprintf(m.out, "⚠️  %s\n", w)
	}
	fmt.Fprintln(m.out)
	return m.pause()
}

// promptTransfer reads a recipient and an amount, re-prompting for
// whichever field fails validation.
func (m *menu) promptTransfer() (wallet.TransferRequest, error) {
	var recipient, amount string
	askRecipient, askAmount := true, true
	for {
		if askRecipient {
			fmt.Fprintln(m.out, "Enter recipient address :")
			line, err := readLine(m.in)
			if err != nil {
				return wallet.TransferRequest{}, errExit
			}
			recipient = line
		}
		if askAmount {
			fmt.Fprintln(m.out, "\nEnter sol amount to send :")
			line, err := readLine(m.in)
			if err != nil {
				return wallet.TransferRequest{}, errExit
			}
			amount = line
		}

		req, err := wallet.ValidateTransfer(recipient, amount)
		if err == nil {
			if req.Recipient.Equals(m.service.Address()) {
				fmt.Fprintln(m.out, "⚠️  Recipient is your own address.")
				askRecipient, askAmount = true, false
				continue
			}
			return req, nil
		}

		fmt.Fprintf(m.out, "⚠️  %v\n", err)
		askRecipient = errors.Is(err, wallet.ErrBadAddress)
		askAmount = !askRecipient
	}
}

func (m *menu) pause() error {
	fmt.Fprintln(m.out, "Press enter to return to menu...")
	return m.waitForEnter()
}

func (m *menu) waitForEnter() error {
	if _, err := readLine(m.in); err != nil {
		return errExit
	}
	return nil
}

func (m *menu) terminate() {
	m.clearScreen()
	fmt.Fprintln(m.out, "📢 Wallet Closed.")
}

func (m *menu) clearScreen() {
	if m.clear {
		fmt.Fprint(m.out, ansiClear)
	}
}

// readLine returns the next line without its trailing newline. A final
// line without a newline is returned before io.EOF.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
