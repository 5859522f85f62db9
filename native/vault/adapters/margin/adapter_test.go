package margin

import (
	"errors"
	"testing"

	"arrayledger/core/state"
	"arrayledger/crypto"
	"arrayledger/native/bank"
	"arrayledger/native/vault"
	"arrayledger/storage"
)

func setup(t *testing.T, markets ...Market) (*Adapter, *state.Manager, vault.ProtocolCall) {
	t.Helper()
	adapter, err := New(markets...)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	store := state.NewManager(storage.NewMemDB())
	wallet := crypto.DeriveAddress([]byte("wallet"))
	if err := bank.NewLedger(store).Credit(wallet, "USDC", 1_000); err != nil {
		t.Fatalf("credit: %v", err)
	}
	return adapter, store, vault.ProtocolCall{
		Identity: crypto.DeriveAddress([]byte("identity")),
		Signer:   vault.SignerAddress(),
		Reserve:  "0",
		Funds:    wallet,
		Mint:     "USDC",
		Amount:   250,
	}
}

func TestDepositOpensSubAccount(t *testing.T) {
	adapter, store, call := setup(t, Market{Index: 0, Mint: "USDC"})
	if _, err := LoadSubAccount(store, call.Identity); !errors.Is(err, ErrNoSubAccount) {
		t.Fatalf("expected ErrNoSubAccount before deposit, got %v", err)
	}
	if err := adapter.Deposit(store, call); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	sub, err := LoadSubAccount(store, call.Identity)
	if err != nil {
		t.Fatalf("load sub-account: %v", err)
	}
	if !sub.Authority.Equal(call.Identity) || !sub.Delegate.Equal(call.Signer) {
		t.Fatalf("unexpected sub-account %+v", sub)
	}
	if got, _ := SpotBalance(store, call.Identity, 0); got != 250 {
		t.Fatalf("expected spot 250, got %d", got)
	}
	if got, _ := bank.NewLedger(store).Balance(MarketVault(0), "USDC"); got != 250 {
		t.Fatalf("expected market vault 250, got %d", got)
	}
}

func TestWithdrawChecksSpotBalance(t *testing.T) {
	adapter, store, call := setup(t, Market{Index: 0, Mint: "USDC"})
	if err := adapter.Withdraw(store, call); !errors.Is(err, ErrNoSubAccount) {
		t.Fatalf("expected ErrNoSubAccount, got %v", err)
	}
	if err := adapter.Deposit(store, call); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	call.Amount = 251
	if err := adapter.Withdraw(store, call); !errors.Is(err, ErrInsufficientSpot) {
		t.Fatalf("expected ErrInsufficientSpot, got %v", err)
	}
	call.Amount = 250
	if err := adapter.Withdraw(store, call); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got, _ := bank.NewLedger(store).Balance(call.Funds, "USDC"); got != 1_000 {
		t.Fatalf("expected wallet 1000, got %d", got)
	}
}

func TestReduceOnlyMarket(t *testing.T) {
	adapter, store, call := setup(t, Market{Index: 0, Mint: "USDC"})
	if err := adapter.Deposit(store, call); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	reduceOnly, err := New(Market{Index: 0, Mint: "USDC", ReduceOnly: true})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := reduceOnly.Deposit(store, call); !errors.Is(err, ErrReduceOnly) {
		t.Fatalf("expected ErrReduceOnly, got %v", err)
	}
	if err := reduceOnly.Withdraw(store, call); err != nil {
		t.Fatalf("reduce-only withdraw: %v", err)
	}
}

func TestMarketLookup(t *testing.T) {
	adapter, store, call := setup(t, Market{Index: 3, Mint: "SOL"})
	for _, reserve := range []string{"x", "70000", "0"} {
		call.Reserve = reserve
		if err := adapter.Deposit(store, call); !errors.Is(err, ErrUnknownMarket) {
			t.Fatalf("reserve %q: expected ErrUnknownMarket, got %v", reserve, err)
		}
	}
	call.Reserve = "3"
	if err := adapter.Deposit(store, call); !errors.Is(err, ErrMintMismatch) {
		t.Fatalf("expected ErrMintMismatch, got %v", err)
	}
	if _, err := New(Market{Index: 1, Mint: "A"}, Market{Index: 1, Mint: "B"}); err == nil {
		t.Fatalf("expected duplicate market to fail")
	}
}
