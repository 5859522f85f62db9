package vault

import (
	"fmt"
	"math"

	"github.com/holiman/uint256"

	"arrayledger/native/balance"
)

// AdjustBalance applies delta to the vault aggregate, subtracting when
// withdraw is set. The aggregate is left untouched on error.
func (v *SupportedTokenVault) AdjustBalance(delta uint64, withdraw bool) error {
	next, err := balance.Apply128(v.Balance, uint256.NewInt(delta), withdraw)
	if err != nil {
		return err
	}
	v.Balance = next
	return nil
}

// adjustBalance loads the registry entry for index, applies delta and writes
// it back. The only validation is that the index exists.
func (s ledgerStore) adjustBalance(index uint16, delta uint64, withdraw bool) (*SupportedTokenVault, error) {
	v, err := s.vault(index)
	if err != nil {
		return nil, err
	}
	if err := v.AdjustBalance(delta, withdraw); err != nil {
		return nil, fmt.Errorf("vault %d aggregate: %w", index, err)
	}
	if err := s.putVault(v); err != nil {
		return nil, err
	}
	return v, nil
}

// registerVault appends a new entry under the next sequential index.
func (s ledgerStore) registerVault(state *ProgramState, mint string) (*SupportedTokenVault, error) {
	if state.VaultCount == math.MaxUint16 {
		return nil, fmt.Errorf("vault registry: %w", ErrOverflow)
	}
	v := &SupportedTokenVault{
		Index:   state.VaultCount,
		Mint:    mint,
		Address: SupportedVaultAddress(state.VaultCount),
		Balance: new(uint256.Int),
	}
	if err := s.putVault(v); err != nil {
		return nil, err
	}
	state.VaultCount++
	if err := s.putProgramState(state); err != nil {
		return nil, err
	}
	return v, nil
}

func (s ledgerStore) vaults(count uint16) ([]*SupportedTokenVault, error) {
	out := make([]*SupportedTokenVault, 0, count)
	for i := uint16(0); i < count; i++ {
		v, err := s.vault(i)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
