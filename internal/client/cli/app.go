// Package cli is the deglet command-line wallet: it signs up or logs in,
// keeps a local cache of the sealed wallets and talks to the cosigner
// routes on the user's behalf.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/dmitrijs2005/deglet/internal/client"
	"github.com/dmitrijs2005/deglet/internal/common"
)

var ErrUsage = errors.New("usage")

// API is the part of client.Client the CLI drives.
type API interface {
	Signup(ctx context.Context, username string, password []byte, iterations int) error
	Login(ctx context.Context, username string, password []byte) error
	Unlock(ctx context.Context, password []byte) (string, error)
	Logout(ctx context.Context) error
	Sync(ctx context.Context) (int, error)
	CachedWallets(ctx context.Context) ([]client.Blob, error)
	BlobCount(ctx context.Context) (int64, error)
	StoreWallet(ctx context.Context, id string, wallet any, maxChanges *int64) (*client.Blob, error)
	UpdateWallet(ctx context.Context, id string, wallet any) (*client.BlobUpdate, error)
	JoinCosigner(ctx context.Context, walletID, secret string) error
	NewAddress(ctx context.Context, walletID string, num int64) (json.RawMessage, error)
	Balance(ctx context.Context, walletID string) (json.RawMessage, error)
}

type App struct {
	api        API
	out        io.Writer
	iterations int
	password   func(io.Writer) ([]byte, error)
}

func NewApp(api API, out io.Writer, iterations int) *App {
	if iterations < common.MinIterCount {
		iterations = common.MinIterCount
	}
	return &App{api: api, out: out, iterations: iterations, password: GetPassword}
}

const usage = `usage: deglet [flags] <command> [args]

commands:
  signup <username>            create an account
  login <username>             log in and cache the account locally
  logout                       forget the account and cached wallets
  sync                         refresh cached wallets from the server
  wallets                      list cached wallets
  count                        number of wallets stored on the server
  store <wallet-id> <file> [max-changes]
                               seal a JSON wallet file and store it
  update <wallet-id> <file>    replace a stored wallet with a larger one
  join <wallet-id> <secret>    join the cosigner for a wallet
  address <wallet-id> [num]    derive new receive addresses
  balance <wallet-id>          show a wallet balance`

// Run executes the command named by args[0].
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(a.out, usage)
		return ErrUsage
	}

	cmd, args := args[0], args[1:]
	switch cmd {
	case "help":
		fmt.Fprintln(a.out, usage)
		return nil
	case "signup":
		return a.signup(ctx, args)
	case "login":
		return a.login(ctx, args)
	case "logout":
		if err := a.api.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "Logged out")
		return nil
	case "wallets":
		return a.wallets(ctx)
	case "sync", "count", "store", "update", "join", "address", "balance":
		if err := a.unlock(ctx); err != nil {
			return err
		}
	default:
		fmt.Fprintln(a.out, "Unknown command:", cmd)
		return ErrUsage
	}

	switch cmd {
	case "sync":
		n, err := a.api.Sync(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Synced %d wallet(s)\n", n)
	case "count":
		n, err := a.api.BlobCount(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, n)
	case "store":
		return a.store(ctx, args)
	case "update":
		return a.update(ctx, args)
	case "join":
		if len(args) != 2 {
			return usageErr("join <wallet-id> <secret>")
		}
		if err := a.api.JoinCosigner(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "Joined cosigner for", args[0])
	case "address":
		return a.address(ctx, args)
	case "balance":
		if len(args) != 1 {
			return usageErr("balance <wallet-id>")
		}
		raw, err := a.api.Balance(ctx, args[0])
		if err != nil {
			return err
		}
		return a.printJSON(raw)
	}
	return nil
}

func usageErr(form string) error {
	return fmt.Errorf("%w: %s", ErrUsage, form)
}

func (a *App) signup(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageErr("signup <username>")
	}
	pw, err := a.password(a.out)
	if err != nil {
		return err
	}
	defer wipe(pw)

	if err := a.api.Signup(ctx, args[0], pw, a.iterations); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Signed up as", args[0])
	return nil
}

func (a *App) login(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageErr("login <username>")
	}
	pw, err := a.password(a.out)
	if err != nil {
		return err
	}
	defer wipe(pw)

	if err := a.api.Login(ctx, args[0], pw); err != nil {
		return err
	}
	n, err := a.api.Sync(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Logged in as %s, %d wallet(s)\n", args[0], n)
	return nil
}

func (a *App) unlock(ctx context.Context) error {
	pw, err := a.password(a.out)
	if err != nil {
		return err
	}
	defer wipe(pw)

	_, err = a.api.Unlock(ctx, pw)
	return err
}

func (a *App) wallets(ctx context.Context) error {
	list, err := a.api.CachedWallets(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(a.out, "No wallets")
		return nil
	}
	for _, w := range list {
		created := time.Unix(w.CreatedAt, 0).UTC().Format(time.RFC3339)
		fmt.Fprintf(a.out, "%s  %s  %d bytes\n", w.ID, created, len(w.Blob))
	}
	return nil
}

func (a *App) store(ctx context.Context, args []string) error {
	const form = "store <wallet-id> <file> [max-changes]"
	if len(args) < 2 || len(args) > 3 {
		return usageErr(form)
	}
	var maxChanges *int64
	if len(args) == 3 {
		n, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return usageErr(form)
		}
		maxChanges = &n
	}
	wallet, err := readWallet(args[1])
	if err != nil {
		return err
	}
	b, err := a.api.StoreWallet(ctx, args[0], wallet, maxChanges)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Stored wallet %s, %d bytes\n", b.ID, len(b.Blob))
	return nil
}

func (a *App) update(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usageErr("update <wallet-id> <file>")
	}
	wallet, err := readWallet(args[1])
	if err != nil {
		return err
	}
	upd, err := a.api.UpdateWallet(ctx, args[0], wallet)
	if err != nil {
		return err
	}
	if !upd.Updated {
		fmt.Fprintln(a.out, "Wallet not updated:", args[0])
		return nil
	}
	fmt.Fprintf(a.out, "Updated wallet %s", upd.ID)
	if upd.UpdatesLeft != nil {
		fmt.Fprintf(a.out, ", %d update(s) left", *upd.UpdatesLeft)
	}
	fmt.Fprintln(a.out)
	return nil
}

// readWallet loads a wallet document; it must be valid JSON.
func readWallet(path string) (json.RawMessage, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wallet: %w", err)
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("read wallet: %s is not valid JSON", path)
	}
	return json.RawMessage(b), nil
}

func (a *App) address(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return usageErr("address <wallet-id> [num]")
	}
	num := int64(1)
	if len(args) == 2 {
		n, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return usageErr("address <wallet-id> [num]")
		}
		num = n
	}
	raw, err := a.api.NewAddress(ctx, args[0], num)
	if err != nil {
		return err
	}
	return a.printJSON(raw)
}

func (a *App) printJSON(raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, string(b))
	return err
}
