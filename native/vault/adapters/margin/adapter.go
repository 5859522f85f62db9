// Package margin adapts a spot-margin venue to the vault's protocol contract.
// Markets are addressed by a numeric index carried in the route reserve, and
// every depositor identity gets a sub-account that is created on first
// deposit.
package margin

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"arrayledger/crypto"
	"arrayledger/native/balance"
	"arrayledger/native/bank"
	"arrayledger/native/vault"
)

// Name is the protocol identifier used in routes.
const Name = "margin"

var (
	ErrUnknownMarket    = errors.New("margin: unknown spot market")
	ErrReduceOnly       = errors.New("margin: market is reduce-only")
	ErrMintMismatch     = errors.New("margin: mint does not match market")
	ErrInsufficientSpot = errors.New("margin: spot balance below requested amount")
	ErrNoSubAccount     = errors.New("margin: sub-account not initialised")
	ErrMissingIdentity  = errors.New("margin: depositor identity required")
)

// Market is the static definition of a spot market.
type Market struct {
	Index      uint16
	Mint       string
	ReduceOnly bool
}

// SubAccount is the venue-side account opened for a depositor identity.
type SubAccount struct {
	Authority crypto.Address
	Delegate  crypto.Address
	ID        uint16
}

type storedSubAccount struct {
	Authority [crypto.AddressLength]byte
	Delegate  [crypto.AddressLength]byte
	ID        uint64
}

// Adapter routes vault funds into spot markets.
type Adapter struct {
	markets map[uint16]Market
}

// New validates the market definitions and returns an adapter.
func New(markets ...Market) (*Adapter, error) {
	a := &Adapter{markets: make(map[uint16]Market, len(markets))}
	for _, m := range markets {
		m.Mint = bank.NormalizeMint(m.Mint)
		if m.Mint == "" {
			return nil, fmt.Errorf("margin: market %d: mint required", m.Index)
		}
		if _, dup := a.markets[m.Index]; dup {
			return nil, fmt.Errorf("margin: duplicate market %d", m.Index)
		}
		a.markets[m.Index] = m
	}
	return a, nil
}

func (a *Adapter) Protocol() string { return Name }

// MarketVault is where a market holds deposited funds.
func MarketVault(index uint16) crypto.Address {
	return crypto.DeriveAddress([]byte(Name), []byte("spot_market_vault"), []byte(strconv.FormatUint(uint64(index), 10)))
}

func subAccountKey(identity crypto.Address) []byte {
	return append([]byte("margin/subaccount/"), identity.Bytes()...)
}

func spotKey(identity crypto.Address, market uint16) []byte {
	key := append([]byte("margin/spot/"), identity.Bytes()...)
	return append(key, byte(market>>8), byte(market))
}

func (a *Adapter) market(call vault.ProtocolCall) (Market, error) {
	index, err := strconv.ParseUint(strings.TrimSpace(call.Reserve), 10, 16)
	if err != nil {
		return Market{}, fmt.Errorf("%w: %q", ErrUnknownMarket, call.Reserve)
	}
	m, ok := a.markets[uint16(index)]
	if !ok {
		return Market{}, fmt.Errorf("%w: %d", ErrUnknownMarket, index)
	}
	if m.Mint != bank.NormalizeMint(call.Mint) {
		return Market{}, fmt.Errorf("%w: market %d holds %s, got %s", ErrMintMismatch, m.Index, m.Mint, call.Mint)
	}
	if call.Identity.IsZero() {
		return Market{}, ErrMissingIdentity
	}
	return m, nil
}

// LoadSubAccount returns the sub-account for identity, or ErrNoSubAccount.
func LoadSubAccount(store vault.Storage, identity crypto.Address) (*SubAccount, error) {
	var rec storedSubAccount
	ok, err := store.KVGet(subAccountKey(identity), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoSubAccount
	}
	return &SubAccount{
		Authority: crypto.AddressFromArray(crypto.ProgramPrefix, rec.Authority),
		Delegate:  crypto.AddressFromArray(crypto.ProgramPrefix, rec.Delegate),
		ID:        uint16(rec.ID),
	}, nil
}

func ensureSubAccount(store vault.Storage, call vault.ProtocolCall) error {
	ok, err := store.KVGet(subAccountKey(call.Identity), nil)
	if err != nil || ok {
		return err
	}
	return store.KVPut(subAccountKey(call.Identity), storedSubAccount{
		Authority: call.Identity.Array(),
		Delegate:  call.Signer.Array(),
	})
}

// SpotBalance returns the identity's deposited balance in a market.
func SpotBalance(store vault.Storage, identity crypto.Address, market uint16) (uint64, error) {
	var v uint64
	if _, err := store.KVGet(spotKey(identity, market), &v); err != nil {
		return 0, err
	}
	return v, nil
}

// Deposit moves funds into the market vault, opening the sub-account first
// when needed.
func (a *Adapter) Deposit(store vault.Storage, call vault.ProtocolCall) error {
	m, err := a.market(call)
	if err != nil {
		return err
	}
	if m.ReduceOnly {
		return fmt.Errorf("%w: %d", ErrReduceOnly, m.Index)
	}
	if err := ensureSubAccount(store, call); err != nil {
		return err
	}
	current, err := SpotBalance(store, call.Identity, m.Index)
	if err != nil {
		return err
	}
	next, err := balance.Add64(current, call.Amount)
	if err != nil {
		return err
	}
	if err := bank.NewLedger(store).Transfer(call.Funds, MarketVault(m.Index), m.Mint, call.Amount); err != nil {
		return err
	}
	return store.KVPut(spotKey(call.Identity, m.Index), next)
}

// Withdraw returns funds from the market vault. Reduce-only markets still
// allow withdrawals.
func (a *Adapter) Withdraw(store vault.Storage, call vault.ProtocolCall) error {
	m, err := a.market(call)
	if err != nil {
		return err
	}
	if _, err := LoadSubAccount(store, call.Identity); err != nil {
		return err
	}
	current, err := SpotBalance(store, call.Identity, m.Index)
	if err != nil {
		return err
	}
	next, err := balance.Sub64(current, call.Amount)
	if err != nil {
		return fmt.Errorf("%w: have %d, want %d", ErrInsufficientSpot, current, call.Amount)
	}
	if err := bank.NewLedger(store).Transfer(MarketVault(m.Index), call.Funds, m.Mint, call.Amount); err != nil {
		return err
	}
	return store.KVPut(spotKey(call.Identity, m.Index), next)
}
