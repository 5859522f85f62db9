package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"arrayledger/config"
	"arrayledger/core/events"
	"arrayledger/crypto"
	"arrayledger/native/vault"
	"arrayledger/native/vault/adapters/lendingmarket"
	"arrayledger/storage"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Emit(ev events.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventType())
	}
	return out
}

func account(seed string) crypto.Address {
	return crypto.NewAddress(crypto.AccountPrefix, crypto.DeriveAddress([]byte("core-test"), []byte(seed)).Bytes())
}

func bootstrapped(t *testing.T, opts ...Option) (*Ledger, crypto.Address, uint16) {
	t.Helper()
	l := NewLedger(storage.NewMemDB(), opts...)
	admin := account("admin")
	ctx := context.Background()
	if _, err := l.Bootstrap(ctx, admin, crypto.Address{}); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	v, err := l.RegisterVault(ctx, admin, "USDC")
	if err != nil {
		t.Fatalf("register vault: %v", err)
	}
	return l, admin, v.Index
}

func TestExecuteDiscardsFailedUnit(t *testing.T) {
	rec := &recorder{}
	l, _, index := bootstrapped(t, WithEmitter(rec))
	ctx := context.Background()
	user := account("user")
	before := len(rec.types())

	boom := errors.New("boom")
	err := l.Execute(ctx, "partial", func(u *Unit) error {
		if _, _, err := u.Vault.CreateUser(user); err != nil {
			return err
		}
		if err := u.Bank.Credit(user, "USDC", 100); err != nil {
			return err
		}
		if _, err := u.Vault.Deposit(user, user, index, 40, vault.Route{}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := l.User(ctx, user); !errors.Is(err, vault.ErrUserNotFound) {
		t.Fatalf("expected user creation to be discarded, got %v", err)
	}
	if bal, _ := l.Balance(ctx, user, "USDC"); bal != 0 {
		t.Fatalf("expected credit to be discarded, got %d", bal)
	}
	v, _ := l.Vault(ctx, index)
	if !v.Balance.IsZero() {
		t.Fatalf("expected aggregate to be discarded, got %s", v.Balance)
	}
	if got := len(rec.types()); got != before {
		t.Fatalf("events from a discarded unit were published: %v", rec.types()[before:])
	}
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	rec := &recorder{}
	l, admin, index := bootstrapped(t, WithEmitter(rec))
	ctx := context.Background()
	user := account("user")
	if _, _, err := l.CreateUser(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := l.Credit(ctx, admin, user, "USDC", 10); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := l.Deposit(ctx, user, user, index, 10, vault.Route{}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	want := []string{
		events.TypeVaultRegistered,
		events.TypeVaultUserCreated,
		events.TypeVaultPositionOpened,
		events.TypeVaultDeposited,
	}
	got := rec.types()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestCancellationAtUnitBoundary(t *testing.T) {
	l, _, _ := bootstrapped(t)
	user := account("user")

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	err := l.Execute(canceled, "noop", func(*Unit) error {
		ran = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || ran {
		t.Fatalf("expected canceled unit not to run, got err=%v ran=%v", err, ran)
	}

	ctx, cancelMid := context.WithCancel(context.Background())
	err = l.Execute(ctx, "credit", func(u *Unit) error {
		if err := u.Bank.Credit(user, "USDC", 5); err != nil {
			return err
		}
		cancelMid()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if bal, _ := l.Balance(context.Background(), user, "USDC"); bal != 0 {
		t.Fatalf("canceled unit committed: balance %d", bal)
	}
	if err := l.Credit(context.Background(), user, user, "USDC", 5); !errors.Is(err, vault.ErrUnauthorizedUser) {
		t.Fatalf("expected non-admin credit to fail, got %v", err)
	}
}

func TestConcurrentDepositsConserveAggregate(t *testing.T) {
	l, admin, index := bootstrapped(t)
	ctx := context.Background()
	const users = 16
	var wg sync.WaitGroup
	errs := make(chan error, users)
	for i := 0; i < users; i++ {
		user := account(fmt.Sprintf("user-%d", i))
		if _, _, err := l.CreateUser(ctx, user); err != nil {
			t.Fatalf("create user: %v", err)
		}
		if err := l.Credit(ctx, admin, user, "USDC", 100); err != nil {
			t.Fatalf("credit: %v", err)
		}
		wg.Add(1)
		go func(user crypto.Address) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if _, err := l.Deposit(ctx, user, user, index, 10, vault.Route{}); err != nil {
					errs <- err
					return
				}
			}
			if _, err := l.Withdraw(ctx, user, user, index, 20, vault.Route{}); err != nil {
				errs <- err
			}
		}(user)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent op: %v", err)
	}
	v, err := l.Vault(ctx, index)
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	if v.Balance.Uint64() != users*30 {
		t.Fatalf("expected aggregate %d, got %s", users*30, v.Balance)
	}
	audit, err := l.AuditVault(ctx, index)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !audit.Balanced() || audit.Positions != users {
		t.Fatalf("unbalanced audit %+v", audit)
	}
}

func TestOpenFromConfigPersists(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		DataDir: dir,
		LendingMarket: config.LendingMarket{Reserves: []config.Reserve{
			{ID: "usdc-main", Mint: "USDC"},
		}},
		Margin: config.Margin{Markets: []config.Market{{Index: 0, Mint: "USDC"}}},
	}
	l, db, err := Open(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := l.Protocols(); fmt.Sprint(got) != "[lendingmarket margin]" {
		t.Fatalf("unexpected protocols %v", got)
	}
	ctx := context.Background()
	admin, user := account("admin"), account("user")
	if _, err := l.Bootstrap(ctx, admin, crypto.Address{}); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	v, err := l.RegisterVault(ctx, admin, "USDC")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, _, err := l.CreateUser(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := l.Credit(ctx, admin, user, "USDC", 50); err != nil {
		t.Fatalf("credit: %v", err)
	}
	route := vault.Route{Protocol: lendingmarket.Name, Reserve: "usdc-main"}
	if _, err := l.Deposit(ctx, user, user, v.Index, 50, route); err != nil {
		t.Fatalf("routed deposit: %v", err)
	}
	db.Close()

	reopened, db, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	u, err := reopened.User(ctx, user)
	if err != nil {
		t.Fatalf("user after reopen: %v", err)
	}
	slot := u.Slot(v.Index)
	if slot < 0 || u.Positions[slot].DepositedAmount != 50 || u.Positions[slot].Protocol != lendingmarket.Name {
		t.Fatalf("unexpected position after reopen %+v", u.Positions)
	}
}

func TestPausedConfigBlocksDeposits(t *testing.T) {
	cfg := &config.Config{DataDir: t.TempDir(), Paused: []string{"vault"}}
	l, db, err := Open(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	ctx := context.Background()
	admin, user := account("admin"), account("user")
	if _, err := l.Bootstrap(ctx, admin, crypto.Address{}); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	v, _ := l.RegisterVault(ctx, admin, "USDC")
	if _, _, err := l.CreateUser(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := l.OpenPosition(ctx, user, user, v.Index); err == nil {
		t.Fatalf("expected paused module to reject open")
	}
}
