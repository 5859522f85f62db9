package vault

import (
	"fmt"

	"arrayledger/native/balance"
)

// ResolveSlot returns the slot the user holds for vaultIndex. A bound slot
// for the vault always wins; otherwise, when allowAllocate is set, the first
// empty slot in storage order is bound to the vault. The boolean reports
// whether a slot was allocated by this call.
func (u *User) ResolveSlot(vaultIndex uint16, allowAllocate bool) (int, bool, error) {
	slot, allocated := u.Slot(vaultIndex), false
	if slot < 0 && allowAllocate {
		for i := range u.Positions {
			if u.Positions[i].IsEmpty() {
				u.Positions[i] = Position{
					VaultIndex:     vaultIndex,
					UserTokenVault: UserTokenVaultAddress(u.Address, vaultIndex),
				}
				slot, allocated = i, true
				break
			}
		}
	}
	if slot < 0 {
		return -1, false, fmt.Errorf("%w: vault %d", ErrNoPositionSlot, vaultIndex)
	}
	if u.Positions[slot].VaultIndex != vaultIndex {
		return -1, false, fmt.Errorf("%w: slot %d holds vault %d, want %d", ErrInvalidVaultIndex, slot, u.Positions[slot].VaultIndex, vaultIndex)
	}
	return slot, allocated, nil
}

// ApplyDelta adds delta to the position, or subtracts it when withdraw is set.
// The position is left untouched on error.
func (p *Position) ApplyDelta(delta uint64, withdraw bool) error {
	next, err := balance.Apply64(p.DepositedAmount, delta, withdraw)
	if err != nil {
		return err
	}
	if withdraw && delta > p.DepositedAmount {
		return ErrUnderflow
	}
	p.DepositedAmount = next
	return nil
}

// BindRoute records where the position's funds are held. A funded position
// keeps its route until it is drained.
func (p *Position) BindRoute(route Route) error {
	if p.Route() == route {
		return nil
	}
	if p.DepositedAmount > 0 {
		return fmt.Errorf("%w: slot routed to %s, got %s", ErrRouteMismatch, p.Route(), route)
	}
	p.Protocol = route.Protocol
	p.ProtocolVault = route.Reserve
	return nil
}

// Release returns the slot to empty.
func (p *Position) Release() {
	*p = Position{}
}

// Slot returns the index of the bound slot for vaultIndex, or -1.
func (u *User) Slot(vaultIndex uint16) int {
	for i := range u.Positions {
		if !u.Positions[i].IsEmpty() && u.Positions[i].VaultIndex == vaultIndex {
			return i
		}
	}
	return -1
}

// BoundSlots counts the slots currently bound to a vault.
func (u *User) BoundSlots() int {
	count := 0
	for i := range u.Positions {
		if !u.Positions[i].IsEmpty() {
			count++
		}
	}
	return count
}
