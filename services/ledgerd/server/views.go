package server

import (
	"arrayledger/core/types"
	"arrayledger/native/vault"
)

type programView struct {
	Admin           string `json:"admin"`
	Signer          string `json:"signer"`
	DefaultDelegate string `json:"default_delegate,omitempty"`
	VaultCount      uint16 `json:"vault_count"`
}

type vaultView struct {
	Index   uint16 `json:"index"`
	Mint    string `json:"mint"`
	Address string `json:"address"`
	Balance string `json:"balance"`
}

type positionView struct {
	Slot            int    `json:"slot"`
	VaultIndex      uint16 `json:"vault_index"`
	Protocol        string `json:"protocol,omitempty"`
	Reserve         string `json:"reserve,omitempty"`
	UserTokenVault  string `json:"user_token_vault"`
	DepositedAmount uint64 `json:"deposited_amount,string"`
}

type userView struct {
	Address   string         `json:"address"`
	Authority string         `json:"authority"`
	Delegate  string         `json:"delegate,omitempty"`
	Positions []positionView `json:"positions"`
}

type userTokenVaultView struct {
	Address         string `json:"address"`
	Owner           string `json:"owner"`
	Mint            string `json:"mint"`
	VaultIndex      uint16 `json:"vault_index"`
	DepositedAmount string `json:"deposited_amount"`
}

type receiptView struct {
	Owner        string `json:"owner"`
	VaultIndex   uint16 `json:"vault_index"`
	Slot         int    `json:"slot"`
	Route        string `json:"route"`
	Amount       uint64 `json:"amount,string"`
	Position     uint64 `json:"position,string"`
	VaultBalance string `json:"vault_balance"`
	Released     bool   `json:"released,omitempty"`
}

type auditView struct {
	VaultIndex       uint16   `json:"vault_index"`
	Aggregate        string   `json:"aggregate"`
	PositionSum      string   `json:"position_sum"`
	Positions        int      `json:"positions"`
	MirrorMismatches []string `json:"mirror_mismatches,omitempty"`
	Balanced         bool     `json:"balanced"`
}

func viewProgram(p *vault.ProgramState) programView {
	return programView{
		Admin:           p.Admin.String(),
		Signer:          p.Signer.String(),
		DefaultDelegate: p.DefaultDelegate.String(),
		VaultCount:      p.VaultCount,
	}
}

func viewVault(v *vault.SupportedTokenVault) vaultView {
	return vaultView{Index: v.Index, Mint: v.Mint, Address: v.Address.String(), Balance: v.Balance.Dec()}
}

func viewUser(u *vault.User) userView {
	out := userView{
		Address:   u.Address.String(),
		Authority: u.Authority.String(),
		Delegate:  u.Delegate.String(),
		Positions: []positionView{},
	}
	for slot, p := range u.Positions {
		if p.IsEmpty() {
			continue
		}
		out.Positions = append(out.Positions, positionView{
			Slot:            slot,
			VaultIndex:      p.VaultIndex,
			Protocol:        p.Protocol,
			Reserve:         p.ProtocolVault,
			UserTokenVault:  p.UserTokenVault.String(),
			DepositedAmount: p.DepositedAmount,
		})
	}
	return out
}

func viewUserTokenVault(m *vault.UserTokenVault) userTokenVaultView {
	return userTokenVaultView{
		Address:         m.Address.String(),
		Owner:           m.Owner.String(),
		Mint:            m.Mint,
		VaultIndex:      m.VaultIndex,
		DepositedAmount: m.DepositedAmount.Dec(),
	}
}

func viewReceipt(r *vault.Receipt) receiptView {
	return receiptView{
		Owner:        r.Owner.String(),
		VaultIndex:   r.VaultIndex,
		Slot:         r.Slot,
		Route:        r.Route.String(),
		Amount:       r.Amount,
		Position:     r.Position,
		VaultBalance: r.VaultBalance.String(),
		Released:     r.Released,
	}
}

func viewAudit(a *vault.Audit) auditView {
	out := auditView{
		VaultIndex:  a.VaultIndex,
		Aggregate:   a.Aggregate.String(),
		PositionSum: a.PositionSum.String(),
		Positions:   a.Positions,
		Balanced:    a.Balanced(),
	}
	for _, addr := range a.MirrorMismatches {
		out.MirrorMismatches = append(out.MirrorMismatches, addr.String())
	}
	return out
}

// eventView is the payload written to event stream subscribers.
type eventView struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func viewEvent(ev *types.Event) eventView {
	attrs := make(map[string]string, len(ev.Attributes))
	for k, v := range ev.Attributes {
		attrs[k] = v
	}
	return eventView{Type: ev.Type, Attributes: attrs}
}
