// Package lendingmarket adapts a reserve-based lending market to the vault's
// protocol contract. Each reserve accepts one mint, can be paused, and caps
// total supplied liquidity. Deposits are tracked per obligation, keyed by the
// depositor identity the vault presents.
package lendingmarket

import (
	"errors"
	"fmt"
	"strings"

	"arrayledger/crypto"
	"arrayledger/native/balance"
	"arrayledger/native/bank"
	"arrayledger/native/vault"
)

// Name is the protocol identifier used in routes.
const Name = "lendingmarket"

var (
	ErrUnknownReserve         = errors.New("lendingmarket: unknown reserve")
	ErrReservePaused          = errors.New("lendingmarket: reserve paused")
	ErrMintMismatch           = errors.New("lendingmarket: mint does not match reserve")
	ErrSupplyCapExceeded      = errors.New("lendingmarket: supply cap exceeded")
	ErrInsufficientCollateral = errors.New("lendingmarket: obligation holds less than requested")
	ErrMissingIdentity        = errors.New("lendingmarket: depositor identity required")
)

// Reserve is the static definition of one lending reserve.
type Reserve struct {
	ID     string
	Mint   string
	Paused bool
	// SupplyCap bounds total liquidity in the reserve. Zero means uncapped.
	SupplyCap uint64
}

// Adapter routes vault funds into lending reserves.
type Adapter struct {
	reserves map[string]Reserve
}

// New validates the reserve definitions and returns an adapter.
func New(reserves ...Reserve) (*Adapter, error) {
	a := &Adapter{reserves: make(map[string]Reserve, len(reserves))}
	for _, r := range reserves {
		r.ID = strings.TrimSpace(r.ID)
		r.Mint = bank.NormalizeMint(r.Mint)
		if r.ID == "" {
			return nil, fmt.Errorf("lendingmarket: reserve id required")
		}
		if r.Mint == "" {
			return nil, fmt.Errorf("lendingmarket: reserve %s: mint required", r.ID)
		}
		if _, dup := a.reserves[r.ID]; dup {
			return nil, fmt.Errorf("lendingmarket: duplicate reserve %s", r.ID)
		}
		a.reserves[r.ID] = r
	}
	return a, nil
}

func (a *Adapter) Protocol() string { return Name }

// LiquidityAddress is where a reserve holds supplied funds.
func LiquidityAddress(reserveID string) crypto.Address {
	return crypto.DeriveAddress([]byte(Name), []byte("liquidity"), []byte(reserveID))
}

func liquidityKey(reserveID string) []byte {
	return []byte("lendingmarket/liquidity/" + reserveID)
}

func obligationKey(reserveID string, owner crypto.Address) []byte {
	return append([]byte("lendingmarket/obligation/"+reserveID+"/"), owner.Bytes()...)
}

func (a *Adapter) lookup(call vault.ProtocolCall) (Reserve, error) {
	r, ok := a.reserves[call.Reserve]
	if !ok {
		return Reserve{}, fmt.Errorf("%w: %q", ErrUnknownReserve, call.Reserve)
	}
	if r.Mint != bank.NormalizeMint(call.Mint) {
		return Reserve{}, fmt.Errorf("%w: reserve %s holds %s, got %s", ErrMintMismatch, r.ID, r.Mint, call.Mint)
	}
	if call.Identity.IsZero() {
		return Reserve{}, ErrMissingIdentity
	}
	return r, nil
}

func getUint(store vault.Storage, key []byte) (uint64, error) {
	var v uint64
	if _, err := store.KVGet(key, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// Deposit supplies funds to the reserve and credits the caller's obligation.
func (a *Adapter) Deposit(store vault.Storage, call vault.ProtocolCall) error {
	r, err := a.lookup(call)
	if err != nil {
		return err
	}
	if r.Paused {
		return fmt.Errorf("%w: %s", ErrReservePaused, r.ID)
	}
	liquidity, err := getUint(store, liquidityKey(r.ID))
	if err != nil {
		return err
	}
	nextLiquidity, err := balance.Add64(liquidity, call.Amount)
	if err != nil {
		return err
	}
	if r.SupplyCap > 0 && nextLiquidity > r.SupplyCap {
		return fmt.Errorf("%w: %s cap %d", ErrSupplyCapExceeded, r.ID, r.SupplyCap)
	}
	obligation, err := getUint(store, obligationKey(r.ID, call.Identity))
	if err != nil {
		return err
	}
	nextObligation, err := balance.Add64(obligation, call.Amount)
	if err != nil {
		return err
	}
	if err := bank.NewLedger(store).Transfer(call.Funds, LiquidityAddress(r.ID), r.Mint, call.Amount); err != nil {
		return err
	}
	if err := store.KVPut(liquidityKey(r.ID), nextLiquidity); err != nil {
		return err
	}
	return store.KVPut(obligationKey(r.ID, call.Identity), nextObligation)
}

// Withdraw redeems funds from the caller's obligation. Paused reserves still
// honour withdrawals.
func (a *Adapter) Withdraw(store vault.Storage, call vault.ProtocolCall) error {
	r, err := a.lookup(call)
	if err != nil {
		return err
	}
	obligation, err := getUint(store, obligationKey(r.ID, call.Identity))
	if err != nil {
		return err
	}
	nextObligation, err := balance.Sub64(obligation, call.Amount)
	if err != nil {
		return fmt.Errorf("%w: have %d, want %d", ErrInsufficientCollateral, obligation, call.Amount)
	}
	liquidity, err := getUint(store, liquidityKey(r.ID))
	if err != nil {
		return err
	}
	nextLiquidity, err := balance.Sub64(liquidity, call.Amount)
	if err != nil {
		return err
	}
	if err := bank.NewLedger(store).Transfer(LiquidityAddress(r.ID), call.Funds, r.Mint, call.Amount); err != nil {
		return err
	}
	if err := store.KVPut(liquidityKey(r.ID), nextLiquidity); err != nil {
		return err
	}
	return store.KVPut(obligationKey(r.ID, call.Identity), nextObligation)
}

// Obligation returns the amount owner has supplied to the reserve.
func Obligation(store vault.Storage, reserveID string, owner crypto.Address) (uint64, error) {
	return getUint(store, obligationKey(reserveID, owner))
}

// Liquidity returns the total supplied to the reserve.
func Liquidity(store vault.Storage, reserveID string) (uint64, error) {
	return getUint(store, liquidityKey(reserveID))
}
