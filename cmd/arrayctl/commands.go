package main

import (
	"fmt"

	"arrayledger/config"
	"arrayledger/core"
	"arrayledger/crypto"
	"arrayledger/native/vault"
)

func runKeygen(c *cli, args []string) error {
	fs := c.flags("keygen")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	pass, err := c.passphrase()
	if err != nil {
		return err
	}
	admin, err := config.EnsureAdminKeystore(c.configPath, cfg, pass)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "admin %s (keystore %s)\n", admin, cfg.AdminKeystorePath)
	return nil
}

func runNewAccount(c *cli, args []string) error {
	fs := c.flags("new-account")
	outPath := fs.String("out", "", "Output path for the keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *outPath == "" {
		return fmt.Errorf("--out is required")
	}
	pass, err := c.passphrase()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(*outPath, key, pass); err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	fmt.Fprintf(c.out, "account %s (keystore %s)\n", key.PubKey().Address(), *outPath)
	return nil
}

func runInit(c *cli, args []string) error {
	fs := c.flags("init")
	delegate := fs.String("delegate", "", "Default delegate for new users (overrides the config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return c.withSigner(func(cfg *config.Config, l *core.Ledger, signer crypto.Address) error {
		admin, err := cfg.AdminAddress()
		if err != nil {
			return err
		}
		if !signer.Equal(admin) {
			return fmt.Errorf("signing keystore %s is not the configured admin %s", signer, admin)
		}
		fallback, err := cfg.DefaultDelegateAddress()
		if err != nil {
			return err
		}
		defaultDelegate := fallback
		if *delegate != "" {
			if defaultDelegate, err = parseAddress(*delegate, "delegate", crypto.Address{}); err != nil {
				return err
			}
		}
		program, err := l.Bootstrap(c.ctx, admin, defaultDelegate)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "initialised: admin=%s signer=%s\n", program.Admin, program.Signer)
		return nil
	})
}

func runRegisterVault(c *cli, args []string) error {
	fs := c.flags("register-vault")
	mint := fs.String("mint", "", "Asset identifier of the vault")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return c.withSigner(func(_ *config.Config, l *core.Ledger, signer crypto.Address) error {
		v, err := l.RegisterVault(c.ctx, signer, *mint)
		if err != nil {
			return err
		}
		printVault(c.out, v)
		return nil
	})
}

func runCredit(c *cli, args []string) error {
	fs := c.flags("credit")
	owner := fs.String("owner", "", "Wallet to credit")
	mint := fs.String("mint", "", "Asset identifier")
	amount := fs.String("amount", "", "Amount in base units")
	if err := fs.Parse(args); err != nil {
		return err
	}
	value, err := parseAmount(*amount)
	if err != nil {
		return err
	}
	return c.withSigner(func(_ *config.Config, l *core.Ledger, signer crypto.Address) error {
		target, err := parseAddress(*owner, "owner", crypto.Address{})
		if err != nil {
			return err
		}
		if err := l.Credit(c.ctx, signer, target, *mint, value); err != nil {
			return err
		}
		balance, err := l.Balance(c.ctx, target, *mint)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "credited %d; balance %d\n", value, balance)
		return nil
	})
}

func runCreateUser(c *cli, args []string) error {
	fs := c.flags("create-user")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return c.withSigner(func(_ *config.Config, l *core.Ledger, signer crypto.Address) error {
		user, created, err := l.CreateUser(c.ctx, signer)
		if err != nil {
			return err
		}
		if !created {
			fmt.Fprintln(c.out, "user already exists")
		}
		printUser(c.out, user)
		return nil
	})
}

func runSetDelegate(c *cli, args []string) error {
	fs := c.flags("set-delegate")
	delegate := fs.String("delegate", "", "Delegate address; empty clears the delegate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return c.withSigner(func(_ *config.Config, l *core.Ledger, signer crypto.Address) error {
		var target crypto.Address
		if *delegate != "" {
			var err error
			if target, err = parseAddress(*delegate, "delegate", crypto.Address{}); err != nil {
				return err
			}
		}
		user, err := l.SetDelegate(c.ctx, signer, signer, target)
		if err != nil {
			return err
		}
		printUser(c.out, user)
		return nil
	})
}

// positionFlags are shared by the commands acting on one of a user's slots.
type positionFlags struct {
	owner *string
	vault *string
}

func (c *cli) positionFlags(name string) (*positionFlags, func([]string) error) {
	fs := c.flags(name)
	p := &positionFlags{
		owner: fs.String("owner", "", "Authority of the user (defaults to the signer)"),
		vault: fs.String("vault", "", "Vault index"),
	}
	return p, fs.Parse
}

func (p *positionFlags) resolve(signer crypto.Address) (crypto.Address, uint16, error) {
	owner, err := parseAddress(*p.owner, "owner", signer)
	if err != nil {
		return crypto.Address{}, 0, err
	}
	index, err := parseIndex(*p.vault)
	if err != nil {
		return crypto.Address{}, 0, err
	}
	return owner, index, nil
}

func runOpen(c *cli, args []string) error {
	p, parse := c.positionFlags("open")
	if err := parse(args); err != nil {
		return err
	}
	return c.withSigner(func(_ *config.Config, l *core.Ledger, signer crypto.Address) error {
		owner, index, err := p.resolve(signer)
		if err != nil {
			return err
		}
		slot, err := l.OpenPosition(c.ctx, signer, owner, index)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "vault %d bound to slot %d\n", index, slot)
		return nil
	})
}

func runMovement(op string) func(c *cli, args []string) error {
	return func(c *cli, args []string) error {
		fs := c.flags(op)
		owner := fs.String("owner", "", "Authority of the user (defaults to the signer)")
		vaultIndex := fs.String("vault", "", "Vault index")
		amount := fs.String("amount", "", "Amount in base units")
		protocol := fs.String("protocol", "", "External protocol; empty keeps funds in ledger custody")
		reserve := fs.String("reserve", "", "Protocol reserve or market")
		if err := fs.Parse(args); err != nil {
			return err
		}
		value, err := parseAmount(*amount)
		if err != nil {
			return err
		}
		p := &positionFlags{owner: owner, vault: vaultIndex}
		route := vault.Route{Protocol: *protocol, Reserve: *reserve}
		return c.withSigner(func(_ *config.Config, l *core.Ledger, signer crypto.Address) error {
			target, index, err := p.resolve(signer)
			if err != nil {
				return err
			}
			var receipt *vault.Receipt
			if op == "withdraw" {
				receipt, err = l.Withdraw(c.ctx, signer, target, index, value, route)
			} else {
				receipt, err = l.Deposit(c.ctx, signer, target, index, value, route)
			}
			if err != nil {
				return err
			}
			printReceipt(c.out, op, receipt)
			return nil
		})
	}
}

func runClose(c *cli, args []string) error {
	p, parse := c.positionFlags("close")
	if err := parse(args); err != nil {
		return err
	}
	return c.withSigner(func(_ *config.Config, l *core.Ledger, signer crypto.Address) error {
		owner, index, err := p.resolve(signer)
		if err != nil {
			return err
		}
		if err := l.ClosePosition(c.ctx, signer, owner, index); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "vault %d position closed\n", index)
		return nil
	})
}

func runShowUser(c *cli, args []string) error {
	fs := c.flags("show-user")
	owner := fs.String("owner", "", "Authority of the user")
	if err := fs.Parse(args); err != nil {
		return err
	}
	authority, err := parseAddress(*owner, "owner", crypto.Address{})
	if err != nil {
		return err
	}
	return c.withLedger(func(l *core.Ledger) error {
		user, err := l.User(c.ctx, authority)
		if err != nil {
			return err
		}
		printUser(c.out, user)
		return nil
	})
}

func runShowVault(c *cli, args []string) error {
	fs := c.flags("show-vault")
	raw := fs.String("vault", "", "Vault index")
	if err := fs.Parse(args); err != nil {
		return err
	}
	index, err := parseIndex(*raw)
	if err != nil {
		return err
	}
	return c.withLedger(func(l *core.Ledger) error {
		v, err := l.Vault(c.ctx, index)
		if err != nil {
			return err
		}
		printVault(c.out, v)
		return nil
	})
}

func runVaults(c *cli, args []string) error {
	fs := c.flags("vaults")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return c.withLedger(func(l *core.Ledger) error {
		vaults, err := l.Vaults(c.ctx)
		if err != nil {
			return err
		}
		for _, v := range vaults {
			printVault(c.out, v)
		}
		return nil
	})
}

func runBalance(c *cli, args []string) error {
	fs := c.flags("balance")
	owner := fs.String("owner", "", "Wallet address")
	mint := fs.String("mint", "", "Asset identifier")
	if err := fs.Parse(args); err != nil {
		return err
	}
	target, err := parseAddress(*owner, "owner", crypto.Address{})
	if err != nil {
		return err
	}
	return c.withLedger(func(l *core.Ledger) error {
		balance, err := l.Balance(c.ctx, target, *mint)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%d\n", balance)
		return nil
	})
}

func runAudit(c *cli, args []string) error {
	fs := c.flags("audit")
	raw := fs.String("vault", "", "Vault index")
	if err := fs.Parse(args); err != nil {
		return err
	}
	index, err := parseIndex(*raw)
	if err != nil {
		return err
	}
	return c.withLedger(func(l *core.Ledger) error {
		audit, err := l.AuditVault(c.ctx, index)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "vault %d aggregate=%s positions=%s (%d slots)\n", audit.VaultIndex, audit.Aggregate, audit.PositionSum, audit.Positions)
		for _, addr := range audit.MirrorMismatches {
			fmt.Fprintf(c.out, "mirror mismatch %s\n", addr)
		}
		if !audit.Balanced() {
			return fmt.Errorf("vault %d is not balanced", index)
		}
		fmt.Fprintln(c.out, "balanced")
		return nil
	})
}
