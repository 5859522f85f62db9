package bank

import (
	"errors"
	"math"
	"testing"

	"arrayledger/core/state"
	"arrayledger/crypto"
	"arrayledger/storage"
)

func newTestLedger() *Ledger {
	return NewLedger(state.NewManager(storage.NewMemDB()))
}

func addr(seed string) crypto.Address {
	return crypto.DeriveAddress([]byte("bank-test"), []byte(seed))
}

func TestCreditAndBalance(t *testing.T) {
	ledger := newTestLedger()
	alice := addr("alice")
	if err := ledger.Credit(alice, "usdc", 500); err != nil {
		t.Fatalf("credit: %v", err)
	}
	got, err := ledger.Balance(alice, " USDC ")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got != 500 {
		t.Fatalf("expected 500, got %d", got)
	}
	supply, err := ledger.Supply("USDC")
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if supply.Uint64() != 500 {
		t.Fatalf("expected supply 500, got %s", supply)
	}
	if err := ledger.Credit(alice, "USDC", math.MaxUint64); err == nil {
		t.Fatalf("expected overflow")
	}
}

func TestTransferMovesFunds(t *testing.T) {
	ledger := newTestLedger()
	alice, bob := addr("alice"), addr("bob")
	if err := ledger.Credit(alice, "USDC", 100); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := ledger.Transfer(alice, bob, "USDC", 40); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	a, _ := ledger.Balance(alice, "USDC")
	b, _ := ledger.Balance(bob, "USDC")
	if a != 60 || b != 40 {
		t.Fatalf("unexpected balances alice=%d bob=%d", a, b)
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	ledger := newTestLedger()
	alice, bob := addr("alice"), addr("bob")
	if err := ledger.Credit(alice, "USDC", 10); err != nil {
		t.Fatalf("credit: %v", err)
	}
	err := ledger.Transfer(alice, bob, "USDC", 11)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	a, _ := ledger.Balance(alice, "USDC")
	if a != 10 {
		t.Fatalf("balance changed on failed transfer: %d", a)
	}
}

func TestTransferValidation(t *testing.T) {
	ledger := newTestLedger()
	if err := ledger.Transfer(crypto.Address{}, addr("b"), "USDC", 1); !errors.Is(err, ErrInvalidAccount) {
		t.Fatalf("expected ErrInvalidAccount, got %v", err)
	}
	if err := ledger.Transfer(addr("a"), addr("b"), "  ", 1); !errors.Is(err, ErrInvalidMint) {
		t.Fatalf("expected ErrInvalidMint, got %v", err)
	}
	if err := ledger.Transfer(addr("a"), crypto.Address{}, "USDC", 0); !errors.Is(err, ErrInvalidAccount) {
		t.Fatalf("expected ErrInvalidAccount for zero recipient, got %v", err)
	}
}

func TestSelfTransferIsNoop(t *testing.T) {
	ledger := newTestLedger()
	alice := addr("alice")
	if err := ledger.Credit(alice, "USDC", 5); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := ledger.Transfer(alice, alice, "USDC", 5); err != nil {
		t.Fatalf("self transfer: %v", err)
	}
	if got, _ := ledger.Balance(alice, "USDC"); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
}
