package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"arrayledger/cmd/internal/passphrase"
	"arrayledger/config"
	"arrayledger/core"
	"arrayledger/crypto"
	"arrayledger/native/vault"
	"arrayledger/observability/logging"
)

const (
	defaultConfig  = "./array.toml"
	defaultPassEnv = "ARRAY_KEYSTORE_PASS"
)

type command struct {
	usage string
	run   func(c *cli, args []string) error
}

var commands = map[string]command{
	"keygen":         {"create the admin keystore and record its address in the config", runKeygen},
	"new-account":    {"create a keystore for a depositor", runNewAccount},
	"init":           {"initialise the program state with the admin from the config", runInit},
	"register-vault": {"register a supported token vault (admin)", runRegisterVault},
	"credit":         {"credit funds to a wallet (admin)", runCredit},
	"create-user":    {"create the depositor record of the signing keystore", runCreateUser},
	"set-delegate":   {"set or clear the delegate of the signing keystore's user", runSetDelegate},
	"open":           {"bind a position slot to a vault", runOpen},
	"deposit":        {"deposit into a position", runMovement("deposit")},
	"withdraw":       {"withdraw from a position", runMovement("withdraw")},
	"close":          {"release an empty position slot", runClose},
	"show-user":      {"print a user's positions", runShowUser},
	"show-vault":     {"print a supported token vault", runShowVault},
	"vaults":         {"list supported token vaults", runVaults},
	"balance":        {"print a wallet balance", runBalance},
	"audit":          {"check a vault's aggregate against its positions", runAudit},
}

var commandOrder = []string{
	"keygen", "new-account", "init", "register-vault", "credit", "create-user", "set-delegate",
	"open", "deposit", "withdraw", "close", "show-user", "show-vault", "vaults", "balance", "audit",
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) < 1 {
		usage(out)
		return fmt.Errorf("command required")
	}
	cmd, ok := commands[args[0]]
	if !ok {
		usage(out)
		return fmt.Errorf("unknown command %q", args[0])
	}
	c := &cli{out: out, ctx: context.Background()}
	return cmd.run(c, args[1:])
}

func usage(out io.Writer) {
	fmt.Fprintln(out, "Usage: arrayctl <command> [flags]")
	fmt.Fprintln(out)
	for _, name := range commandOrder {
		fmt.Fprintf(out, "  %-15s %s\n", name, commands[name].usage)
	}
}

// cli carries the flags shared by every command.
type cli struct {
	out        io.Writer
	ctx        context.Context
	configPath string
	keystore   string
	passEnv    string
	pass       *passphrase.Source
}

func (c *cli) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.out)
	fs.StringVar(&c.configPath, "config", defaultConfig, "Path to the ledger config file")
	fs.StringVar(&c.keystore, "keystore", "", "Signing keystore (defaults to the admin keystore)")
	fs.StringVar(&c.passEnv, "pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	return fs
}

func (c *cli) passphrase() (string, error) {
	if c.pass == nil {
		c.pass = passphrase.NewSource(c.passEnv, "keystore")
	}
	return c.pass.Get()
}

func (c *cli) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// open loads the config and opens the ledger. The returned function closes
// the database.
func (c *cli) open() (*config.Config, *core.Ledger, func(), error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	logger := logging.New(os.Stderr, "arrayctl", "", logging.ParseLevel(os.Getenv("ARRAY_LOG_LEVEL")))
	ledger, db, err := core.Open(cfg, core.WithLogger(logger))
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, ledger, db.Close, nil
}

// signer unlocks the signing keystore and returns its address.
func (c *cli) signer(cfg *config.Config) (crypto.Address, error) {
	path := c.keystore
	if path == "" {
		path = cfg.AdminKeystorePath
	}
	pass, err := c.passphrase()
	if err != nil {
		return crypto.Address{}, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("unlock keystore %s: %w", path, err)
	}
	return key.PubKey().Address(), nil
}

// withSigner opens the ledger, unlocks the signer and runs fn.
func (c *cli) withSigner(fn func(cfg *config.Config, l *core.Ledger, signer crypto.Address) error) error {
	cfg, ledger, closeDB, err := c.open()
	if err != nil {
		return err
	}
	defer closeDB()
	signer, err := c.signer(cfg)
	if err != nil {
		return err
	}
	return fn(cfg, ledger, signer)
}

func (c *cli) withLedger(fn func(l *core.Ledger) error) error {
	_, ledger, closeDB, err := c.open()
	if err != nil {
		return err
	}
	defer closeDB()
	return fn(ledger)
}

func parseAddress(raw, name string, fallback crypto.Address) (crypto.Address, error) {
	if raw == "" {
		if fallback.IsZero() {
			return crypto.Address{}, fmt.Errorf("--%s is required", name)
		}
		return fallback, nil
	}
	addr, err := crypto.DecodeAddress(raw)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("--%s: %w", name, err)
	}
	return addr, nil
}

func parseIndex(raw string) (uint16, error) {
	index, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("--vault must be an integer in [0, 65535]")
	}
	return uint16(index), nil
}

func parseAmount(raw string) (uint64, error) {
	amount, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("--amount must be an unsigned 64-bit integer")
	}
	return amount, nil
}

func printUser(out io.Writer, user *vault.User) {
	fmt.Fprintf(out, "user       %s\n", user.Address)
	fmt.Fprintf(out, "authority  %s\n", user.Authority)
	if !user.Delegate.IsZero() {
		fmt.Fprintf(out, "delegate   %s\n", user.Delegate)
	}
	for slot, p := range user.Positions {
		if p.IsEmpty() {
			continue
		}
		fmt.Fprintf(out, "slot %d     vault=%d route=%s deposited=%d\n", slot, p.VaultIndex, p.Route(), p.DepositedAmount)
	}
}

func printVault(out io.Writer, v *vault.SupportedTokenVault) {
	fmt.Fprintf(out, "vault %d    mint=%s balance=%s address=%s\n", v.Index, v.Mint, v.Balance.Dec(), v.Address)
}

func printReceipt(out io.Writer, op string, r *vault.Receipt) {
	fmt.Fprintf(out, "%s %d via %s: slot=%d position=%d vault_balance=%s", op, r.Amount, r.Route, r.Slot, r.Position, r.VaultBalance)
	if r.Released {
		fmt.Fprint(out, " (slot released)")
	}
	fmt.Fprintln(out)
}
