// Package bank is the asset transfer primitive: per-mint, per-address token
// balances that the vault engine and the protocol adapters move funds
// between.
package bank

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"arrayledger/crypto"
	"arrayledger/native/balance"
)

var (
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	ErrInvalidAccount    = errors.New("bank: account address required")
	ErrInvalidMint       = errors.New("bank: mint required")
)

// Storage abstracts the subset of state manager functionality required by
// the ledger.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var (
	balancePrefix = []byte("bank/balance/")
	supplyPrefix  = []byte("bank/supply/")
)

// Ledger moves token balances inside the current unit's state.
type Ledger struct {
	store Storage
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store Storage) *Ledger {
	return &Ledger{store: store}
}

// NormalizeMint canonicalises an asset identifier.
func NormalizeMint(mint string) string {
	return strings.ToUpper(strings.TrimSpace(mint))
}

func balanceKey(mint string, owner crypto.Address) []byte {
	key := make([]byte, 0, len(balancePrefix)+len(mint)+1+crypto.AddressLength)
	key = append(key, balancePrefix...)
	key = append(key, mint...)
	key = append(key, '/')
	return append(key, owner.Bytes()...)
}

func supplyKey(mint string) []byte {
	return append(append([]byte(nil), supplyPrefix...), mint...)
}

func validate(owner crypto.Address, mint string) (string, error) {
	if owner.IsZero() {
		return "", ErrInvalidAccount
	}
	normalized := NormalizeMint(mint)
	if normalized == "" {
		return "", ErrInvalidMint
	}
	return normalized, nil
}

// Balance returns the amount of mint held by owner.
func (l *Ledger) Balance(owner crypto.Address, mint string) (uint64, error) {
	if l == nil || l.store == nil {
		return 0, fmt.Errorf("bank: ledger not initialised")
	}
	normalized, err := validate(owner, mint)
	if err != nil {
		return 0, err
	}
	var amount uint64
	if _, err := l.store.KVGet(balanceKey(normalized, owner), &amount); err != nil {
		return 0, err
	}
	return amount, nil
}

func (l *Ledger) setBalance(owner crypto.Address, mint string, amount uint64) error {
	return l.store.KVPut(balanceKey(mint, owner), amount)
}

// Supply returns the total amount of mint ever credited into the ledger.
func (l *Ledger) Supply(mint string) (*big.Int, error) {
	if l == nil || l.store == nil {
		return nil, fmt.Errorf("bank: ledger not initialised")
	}
	total := new(big.Int)
	if _, err := l.store.KVGet(supplyKey(NormalizeMint(mint)), &total); err != nil {
		return nil, err
	}
	return total, nil
}

// Credit mints amount of the asset into owner's balance. It is used to
// bootstrap balances; regular flows move funds with Transfer.
func (l *Ledger) Credit(owner crypto.Address, mint string, amount uint64) error {
	if l == nil || l.store == nil {
		return fmt.Errorf("bank: ledger not initialised")
	}
	normalized, err := validate(owner, mint)
	if err != nil {
		return err
	}
	current, err := l.Balance(owner, normalized)
	if err != nil {
		return err
	}
	next, err := balance.Add64(current, amount)
	if err != nil {
		return err
	}
	supply, err := l.Supply(normalized)
	if err != nil {
		return err
	}
	supply128, err := balance.FromBig(supply)
	if err != nil {
		return err
	}
	delta, _ := balance.FromBig(new(big.Int).SetUint64(amount))
	nextSupply, err := balance.Add128(supply128, delta)
	if err != nil {
		return err
	}
	if err := l.setBalance(owner, normalized, next); err != nil {
		return err
	}
	return l.store.KVPut(supplyKey(normalized), balance.ToBig(nextSupply))
}

// Transfer moves amount of mint from one address to another.
func (l *Ledger) Transfer(from, to crypto.Address, mint string, amount uint64) error {
	if l == nil || l.store == nil {
		return fmt.Errorf("bank: ledger not initialised")
	}
	normalized, err := validate(from, mint)
	if err != nil {
		return err
	}
	if to.IsZero() {
		return ErrInvalidAccount
	}
	source, err := l.Balance(from, normalized)
	if err != nil {
		return err
	}
	remaining, err := balance.Sub64(source, amount)
	if err != nil {
		return fmt.Errorf("%w: have %d, need %d %s", ErrInsufficientFunds, source, amount, normalized)
	}
	if amount == 0 || from.Equal(to) {
		return nil
	}
	dest, err := l.Balance(to, normalized)
	if err != nil {
		return err
	}
	credited, err := balance.Add64(dest, amount)
	if err != nil {
		return err
	}
	if err := l.setBalance(from, normalized, remaining); err != nil {
		return err
	}
	return l.setBalance(to, normalized, credited)
}
