package core

import (
	"context"

	"arrayledger/crypto"
	"arrayledger/native/vault"
)

// Bootstrap initialises the program state.
func (l *Ledger) Bootstrap(ctx context.Context, admin, defaultDelegate crypto.Address) (*vault.ProgramState, error) {
	var out *vault.ProgramState
	err := l.Execute(ctx, "init", func(u *Unit) error {
		var err error
		out, err = u.Vault.InitProgramState(admin, defaultDelegate)
		return err
	})
	return out, err
}

func (l *Ledger) RegisterVault(ctx context.Context, caller crypto.Address, mint string) (*vault.SupportedTokenVault, error) {
	var out *vault.SupportedTokenVault
	err := l.Execute(ctx, "register_vault", func(u *Unit) error {
		var err error
		out, err = u.Vault.RegisterVault(caller, mint)
		return err
	})
	return out, err
}

// Credit mints funds into owner's wallet. Only the program admin may credit.
func (l *Ledger) Credit(ctx context.Context, caller, owner crypto.Address, mint string, amount uint64) error {
	return l.Execute(ctx, "credit", func(u *Unit) error {
		program, err := u.Vault.ProgramState()
		if err != nil {
			return err
		}
		if !caller.Equal(program.Admin) {
			return vault.ErrUnauthorizedUser
		}
		if amount == 0 {
			return vault.ErrInvalidAmount
		}
		return u.Bank.Credit(owner, mint, amount)
	})
}

// CreateUser creates the depositor owned by authority; the boolean reports
// whether the record is new.
func (l *Ledger) CreateUser(ctx context.Context, authority crypto.Address) (*vault.User, bool, error) {
	var (
		out     *vault.User
		created bool
	)
	err := l.Execute(ctx, "create_user", func(u *Unit) error {
		var err error
		out, created, err = u.Vault.CreateUser(authority)
		return err
	})
	return out, created, err
}

func (l *Ledger) SetDelegate(ctx context.Context, caller, owner, delegate crypto.Address) (*vault.User, error) {
	var out *vault.User
	err := l.Execute(ctx, "set_delegate", func(u *Unit) error {
		var err error
		out, err = u.Vault.SetDelegate(caller, owner, delegate)
		return err
	})
	return out, err
}

func (l *Ledger) OpenPosition(ctx context.Context, caller, owner crypto.Address, index uint16) (int, error) {
	slot := -1
	err := l.Execute(ctx, "open_position", func(u *Unit) error {
		var err error
		slot, err = u.Vault.OpenPosition(caller, owner, index)
		return err
	})
	return slot, err
}

func (l *Ledger) Deposit(ctx context.Context, caller, owner crypto.Address, index uint16, amount uint64, route vault.Route) (*vault.Receipt, error) {
	var out *vault.Receipt
	err := l.Execute(ctx, "deposit", func(u *Unit) error {
		var err error
		out, err = u.Vault.Deposit(caller, owner, index, amount, route)
		return err
	})
	return out, err
}

func (l *Ledger) Withdraw(ctx context.Context, caller, owner crypto.Address, index uint16, amount uint64, route vault.Route) (*vault.Receipt, error) {
	var out *vault.Receipt
	err := l.Execute(ctx, "withdraw", func(u *Unit) error {
		var err error
		out, err = u.Vault.Withdraw(caller, owner, index, amount, route)
		return err
	})
	return out, err
}

func (l *Ledger) ClosePosition(ctx context.Context, caller, owner crypto.Address, index uint16) error {
	return l.Execute(ctx, "close_position", func(u *Unit) error {
		return u.Vault.ClosePosition(caller, owner, index)
	})
}

func (l *Ledger) ProgramState(ctx context.Context) (*vault.ProgramState, error) {
	var out *vault.ProgramState
	err := l.View(ctx, func(u *Unit) error {
		var err error
		out, err = u.Vault.ProgramState()
		return err
	})
	return out, err
}

func (l *Ledger) User(ctx context.Context, authority crypto.Address) (*vault.User, error) {
	var out *vault.User
	err := l.View(ctx, func(u *Unit) error {
		var err error
		out, err = u.Vault.User(authority)
		return err
	})
	return out, err
}

func (l *Ledger) UserTokenVault(ctx context.Context, authority crypto.Address, index uint16) (*vault.UserTokenVault, error) {
	var out *vault.UserTokenVault
	err := l.View(ctx, func(u *Unit) error {
		var err error
		out, err = u.Vault.UserTokenVault(authority, index)
		return err
	})
	return out, err
}

func (l *Ledger) Vault(ctx context.Context, index uint16) (*vault.SupportedTokenVault, error) {
	var out *vault.SupportedTokenVault
	err := l.View(ctx, func(u *Unit) error {
		var err error
		out, err = u.Vault.Vault(index)
		return err
	})
	return out, err
}

func (l *Ledger) Vaults(ctx context.Context) ([]*vault.SupportedTokenVault, error) {
	var out []*vault.SupportedTokenVault
	err := l.View(ctx, func(u *Unit) error {
		var err error
		out, err = u.Vault.Vaults()
		return err
	})
	return out, err
}

// Balance returns owner's wallet balance of mint.
func (l *Ledger) Balance(ctx context.Context, owner crypto.Address, mint string) (uint64, error) {
	var out uint64
	err := l.View(ctx, func(u *Unit) error {
		var err error
		out, err = u.Bank.Balance(owner, mint)
		return err
	})
	return out, err
}

func (l *Ledger) AuditVault(ctx context.Context, index uint16) (*vault.Audit, error) {
	var out *vault.Audit
	err := l.View(ctx, func(u *Unit) error {
		var err error
		out, err = u.Vault.AuditVault(index)
		return err
	})
	return out, err
}
