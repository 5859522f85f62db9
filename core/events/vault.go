package events

import (
	"math/big"
	"strconv"

	"arrayledger/core/types"
	"arrayledger/crypto"
)

const (
	TypeVaultUserCreated    = "vault.user_created"
	TypeVaultRegistered     = "vault.registered"
	TypeVaultPositionOpened = "vault.position_opened"
	TypeVaultDeposited      = "vault.deposited"
	TypeVaultWithdrawn      = "vault.withdrawn"
	TypeVaultPositionClosed = "vault.position_closed"
	TypeVaultDelegateSet    = "vault.delegate_set"
)

// VaultUserCreated is emitted when a depositor record is created.
type VaultUserCreated struct {
	Authority crypto.Address
	User      crypto.Address
	Delegate  crypto.Address
}

func (VaultUserCreated) EventType() string { return TypeVaultUserCreated }

func (e VaultUserCreated) Event() *types.Event {
	return &types.Event{Type: TypeVaultUserCreated, Attributes: map[string]string{
		"authority": e.Authority.String(),
		"user":      e.User.String(),
		"delegate":  e.Delegate.String(),
	}}
}

// VaultDelegateSet is emitted when a user's delegate changes.
type VaultDelegateSet struct {
	Authority crypto.Address
	Delegate  crypto.Address
}

func (VaultDelegateSet) EventType() string { return TypeVaultDelegateSet }

func (e VaultDelegateSet) Event() *types.Event {
	return &types.Event{Type: TypeVaultDelegateSet, Attributes: map[string]string{
		"authority": e.Authority.String(),
		"delegate":  e.Delegate.String(),
	}}
}

// VaultRegistered is emitted when a supported token vault is added.
type VaultRegistered struct {
	Index uint16
	Mint  string
}

func (VaultRegistered) EventType() string { return TypeVaultRegistered }

func (e VaultRegistered) Event() *types.Event {
	return &types.Event{Type: TypeVaultRegistered, Attributes: map[string]string{
		"vault": strconv.FormatUint(uint64(e.Index), 10),
		"mint":  e.Mint,
	}}
}

// VaultPosition identifies a slot in a user's table. It is emitted as
// vault.position_opened or vault.position_closed depending on Closed.
type VaultPosition struct {
	Authority  crypto.Address
	VaultIndex uint16
	Slot       int
	Closed     bool
}

func (e VaultPosition) EventType() string {
	if e.Closed {
		return TypeVaultPositionClosed
	}
	return TypeVaultPositionOpened
}

func (e VaultPosition) Event() *types.Event {
	return &types.Event{Type: e.EventType(), Attributes: map[string]string{
		"authority": e.Authority.String(),
		"vault":     strconv.FormatUint(uint64(e.VaultIndex), 10),
		"slot":      strconv.Itoa(e.Slot),
	}}
}

// VaultMovement captures a committed deposit or withdrawal.
type VaultMovement struct {
	Authority  crypto.Address
	VaultIndex uint16
	Slot       int
	Protocol   string
	Reserve    string
	Amount     uint64
	Position   uint64
	Aggregate  *big.Int
	Withdrawal bool
	Released   bool
}

func (e VaultMovement) EventType() string {
	if e.Withdrawal {
		return TypeVaultWithdrawn
	}
	return TypeVaultDeposited
}

func (e VaultMovement) Event() *types.Event {
	aggregate := big.NewInt(0)
	if e.Aggregate != nil {
		aggregate = new(big.Int).Set(e.Aggregate)
	}
	attrs := map[string]string{
		"authority": e.Authority.String(),
		"vault":     strconv.FormatUint(uint64(e.VaultIndex), 10),
		"slot":      strconv.Itoa(e.Slot),
		"amount":    strconv.FormatUint(e.Amount, 10),
		"position":  strconv.FormatUint(e.Position, 10),
		"aggregate": aggregate.String(),
	}
	if e.Protocol != "" {
		attrs["protocol"] = e.Protocol
		attrs["reserve"] = e.Reserve
	}
	if e.Released {
		attrs["released"] = "true"
	}
	return &types.Event{Type: e.EventType(), Attributes: attrs}
}
