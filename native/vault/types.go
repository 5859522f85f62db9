package vault

import (
	"encoding/binary"
	"math/big"
	"strings"

	"github.com/holiman/uint256"

	"arrayledger/crypto"
)

// PositionSlots is the fixed number of positions every user can hold.
const PositionSlots = 8

const moduleName = "vault"

// Derivation seeds for ledger-owned addresses.
var (
	seedSigner         = []byte("signer")
	seedUser           = []byte("user")
	seedUserVault      = []byte("user_vault_account")
	seedSupportedVault = []byte("supported_token_vault")
)

// ProgramState is the process-wide configuration of the ledger. It is loaded
// by the engine at the start of every operation that needs it and passed
// explicitly to the helpers that consume it.
type ProgramState struct {
	Admin           crypto.Address
	Signer          crypto.Address
	DefaultDelegate crypto.Address
	VaultCount      uint16
}

// SupportedTokenVault is one registry entry: an asset and the aggregate of
// every position bound to it.
type SupportedTokenVault struct {
	Index   uint16
	Mint    string
	Address crypto.Address
	Balance *uint256.Int
}

// Route names where a position's funds are held. The zero route keeps the
// funds in the user's own custody account.
type Route struct {
	Protocol string
	Reserve  string
}

// Direct reports whether the route keeps funds in ledger custody.
func (r Route) Direct() bool {
	return r.Protocol == "" && r.Reserve == ""
}

func (r Route) normalize() Route {
	return Route{
		Protocol: strings.ToLower(strings.TrimSpace(r.Protocol)),
		Reserve:  strings.TrimSpace(r.Reserve),
	}
}

func (r Route) String() string {
	if r.Direct() {
		return "direct"
	}
	return r.Protocol + "/" + r.Reserve
}

// Position is one slot of a user's table.
type Position struct {
	VaultIndex      uint16
	Protocol        string
	ProtocolVault   string
	UserTokenVault  crypto.Address
	DepositedAmount uint64
}

// IsEmpty reports whether the slot is free for allocation. Vault index zero is
// a valid index, so the bound mirror address is what marks a slot as taken.
func (p Position) IsEmpty() bool {
	return p.UserTokenVault.IsZero() && p.DepositedAmount == 0 && p.Protocol == "" && p.ProtocolVault == ""
}

// Route returns the protocol route recorded on the position.
func (p Position) Route() Route {
	return Route{Protocol: p.Protocol, Reserve: p.ProtocolVault}
}

// User is a depositor and its fixed table of positions.
type User struct {
	Address   crypto.Address
	Authority crypto.Address
	Delegate  crypto.Address
	Positions [PositionSlots]Position
}

// Authorized reports whether caller may act for the user.
func (u *User) Authorized(caller crypto.Address) bool {
	if u == nil || caller.IsZero() {
		return false
	}
	if caller.Equal(u.Authority) {
		return true
	}
	return !u.Delegate.IsZero() && caller.Equal(u.Delegate)
}

// UserTokenVault mirrors a position's balance under an address derived from
// the user and the vault index. Funds on the direct route are held at this
// address.
type UserTokenVault struct {
	Address         crypto.Address
	Owner           crypto.Address
	Mint            string
	VaultIndex      uint16
	DepositedAmount *uint256.Int
}

// Receipt describes the outcome of a committed deposit or withdrawal.
type Receipt struct {
	Owner        crypto.Address
	VaultIndex   uint16
	Slot         int
	Route        Route
	Amount       uint64
	Position     uint64
	VaultBalance *big.Int
	Released     bool
}

// Audit is the result of a conservation check over one vault.
type Audit struct {
	VaultIndex       uint16
	Aggregate        *big.Int
	PositionSum      *big.Int
	Positions        int
	MirrorMismatches []crypto.Address
}

// Balanced reports whether the aggregate equals the position sum and every
// mirror agrees with its position.
func (a *Audit) Balanced() bool {
	if a == nil {
		return false
	}
	return a.Aggregate.Cmp(a.PositionSum) == 0 && len(a.MirrorMismatches) == 0
}

func indexBytes(index uint16) []byte {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], index)
	return buf[:]
}

// SignerAddress returns the program signer used when presenting user
// identities to external protocols.
func SignerAddress() crypto.Address {
	return crypto.DeriveAddress(seedSigner)
}

// UserAddress returns the composite identity of the user owned by authority.
func UserAddress(authority crypto.Address) crypto.Address {
	return crypto.DeriveAddress(seedUser, authority.Bytes())
}

// UserTokenVaultAddress returns the mirror and custody address for a user's
// position in the given vault.
func UserTokenVaultAddress(user crypto.Address, index uint16) crypto.Address {
	return crypto.DeriveAddress(seedUserVault, user.Bytes(), indexBytes(index))
}

// SupportedVaultAddress returns the registry address of a vault.
func SupportedVaultAddress(index uint16) crypto.Address {
	return crypto.DeriveAddress(seedSupportedVault, indexBytes(index))
}
