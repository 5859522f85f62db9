package vault

import (
	"math/big"

	"arrayledger/native/balance"
)

// AuditVault recomputes the sum of every position bound to index across all
// users and compares it with the registry aggregate. Users whose mirror
// record disagrees with their position are reported as mismatches.
func (e *Engine) AuditVault(index uint16) (*Audit, error) {
	st, err := e.store()
	if err != nil {
		return nil, err
	}
	v, err := st.vault(index)
	if err != nil {
		return nil, err
	}
	authorities, err := st.userAuthorities()
	if err != nil {
		return nil, err
	}
	audit := &Audit{
		VaultIndex:  index,
		Aggregate:   balance.ToBig(v.Balance),
		PositionSum: new(big.Int),
	}
	for _, authority := range authorities {
		user, err := st.user(authority)
		if err != nil {
			return nil, err
		}
		var expected uint64
		if slot := user.Slot(index); slot >= 0 {
			expected = user.Positions[slot].DepositedAmount
			audit.Positions++
			audit.PositionSum.Add(audit.PositionSum, new(big.Int).SetUint64(expected))
		}
		mirror, err := st.userTokenVault(user.Address, index)
		if err != nil {
			return nil, err
		}
		mirrored := uint64(0)
		if mirror != nil {
			if !mirror.DepositedAmount.IsUint64() {
				audit.MirrorMismatches = append(audit.MirrorMismatches, authority)
				continue
			}
			mirrored = mirror.DepositedAmount.Uint64()
		}
		if mirrored != expected {
			audit.MirrorMismatches = append(audit.MirrorMismatches, authority)
		}
	}
	return audit, nil
}
