package vault

import (
	"fmt"
	"math/big"

	"arrayledger/crypto"
	"arrayledger/native/balance"
)

// Storage abstracts the state manager functionality required by the engine
// and the protocol adapters.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

var (
	programStateKey      = []byte("vault/program")
	userIndexKey         = []byte("vault/users")
	vaultPrefix          = []byte("vault/token-vault/")
	userPrefix           = []byte("vault/user/")
	userTokenVaultPrefix = []byte("vault/user-token-vault/")
)

func vaultKey(index uint16) []byte {
	return append(append([]byte(nil), vaultPrefix...), indexBytes(index)...)
}

func userKey(authority crypto.Address) []byte {
	return append(append([]byte(nil), userPrefix...), authority.Bytes()...)
}

func userTokenVaultKey(user crypto.Address, index uint16) []byte {
	key := append(append([]byte(nil), userTokenVaultPrefix...), user.Bytes()...)
	return append(key, indexBytes(index)...)
}

type storedProgramState struct {
	Admin           [crypto.AddressLength]byte
	Signer          [crypto.AddressLength]byte
	DefaultDelegate [crypto.AddressLength]byte
	VaultCount      uint64
}

type storedVault struct {
	Index   uint64
	Mint    string
	Address [crypto.AddressLength]byte
	Balance *big.Int
}

type storedPosition struct {
	VaultIndex      uint64
	Protocol        string
	ProtocolVault   string
	UserTokenVault  [crypto.AddressLength]byte
	DepositedAmount uint64
}

type storedUser struct {
	Address   [crypto.AddressLength]byte
	Authority [crypto.AddressLength]byte
	Delegate  [crypto.AddressLength]byte
	Positions []storedPosition
}

type storedUserTokenVault struct {
	Address    [crypto.AddressLength]byte
	Owner      [crypto.AddressLength]byte
	Mint       string
	VaultIndex uint64
	Deposited  *big.Int
}

func accountAddr(raw [crypto.AddressLength]byte) crypto.Address {
	return crypto.AddressFromArray(crypto.AccountPrefix, raw)
}

func programAddr(raw [crypto.AddressLength]byte) crypto.Address {
	return crypto.AddressFromArray(crypto.ProgramPrefix, raw)
}

func toIndex(v uint64) (uint16, error) {
	if v > 0xFFFF {
		return 0, fmt.Errorf("vault: stored index %d out of range", v)
	}
	return uint16(v), nil
}

// ledgerStore translates between domain records and their stored form.
type ledgerStore struct {
	kv Storage
}

func (s ledgerStore) programState() (*ProgramState, error) {
	var rec storedProgramState
	ok, err := s.kv.KVGet(programStateKey, &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialised
	}
	count, err := toIndex(rec.VaultCount)
	if err != nil {
		return nil, err
	}
	return &ProgramState{
		Admin:           accountAddr(rec.Admin),
		Signer:          programAddr(rec.Signer),
		DefaultDelegate: accountAddr(rec.DefaultDelegate),
		VaultCount:      count,
	}, nil
}

func (s ledgerStore) putProgramState(state *ProgramState) error {
	return s.kv.KVPut(programStateKey, storedProgramState{
		Admin:           state.Admin.Array(),
		Signer:          state.Signer.Array(),
		DefaultDelegate: state.DefaultDelegate.Array(),
		VaultCount:      uint64(state.VaultCount),
	})
}

func (s ledgerStore) vault(index uint16) (*SupportedTokenVault, error) {
	var rec storedVault
	ok, err := s.kv.KVGet(vaultKey(index), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: index %d", ErrVaultNotFound, index)
	}
	stored, err := toIndex(rec.Index)
	if err != nil {
		return nil, err
	}
	amount, err := balance.FromBig(rec.Balance)
	if err != nil {
		return nil, err
	}
	return &SupportedTokenVault{
		Index:   stored,
		Mint:    rec.Mint,
		Address: programAddr(rec.Address),
		Balance: amount,
	}, nil
}

func (s ledgerStore) putVault(v *SupportedTokenVault) error {
	return s.kv.KVPut(vaultKey(v.Index), storedVault{
		Index:   uint64(v.Index),
		Mint:    v.Mint,
		Address: v.Address.Array(),
		Balance: balance.ToBig(v.Balance),
	})
}

func (s ledgerStore) user(authority crypto.Address) (*User, error) {
	var rec storedUser
	ok, err := s.kv.KVGet(userKey(authority), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, authority)
	}
	if len(rec.Positions) != PositionSlots {
		return nil, fmt.Errorf("vault: stored user has %d slots", len(rec.Positions))
	}
	user := &User{
		Address:   programAddr(rec.Address),
		Authority: accountAddr(rec.Authority),
		Delegate:  accountAddr(rec.Delegate),
	}
	for i, p := range rec.Positions {
		index, err := toIndex(p.VaultIndex)
		if err != nil {
			return nil, err
		}
		user.Positions[i] = Position{
			VaultIndex:      index,
			Protocol:        p.Protocol,
			ProtocolVault:   p.ProtocolVault,
			UserTokenVault:  programAddr(p.UserTokenVault),
			DepositedAmount: p.DepositedAmount,
		}
	}
	return user, nil
}

func (s ledgerStore) hasUser(authority crypto.Address) (bool, error) {
	return s.kv.KVGet(userKey(authority), nil)
}

func (s ledgerStore) putUser(user *User) error {
	rec := storedUser{
		Address:   user.Address.Array(),
		Authority: user.Authority.Array(),
		Delegate:  user.Delegate.Array(),
		Positions: make([]storedPosition, PositionSlots),
	}
	for i, p := range user.Positions {
		rec.Positions[i] = storedPosition{
			VaultIndex:      uint64(p.VaultIndex),
			Protocol:        p.Protocol,
			ProtocolVault:   p.ProtocolVault,
			UserTokenVault:  p.UserTokenVault.Array(),
			DepositedAmount: p.DepositedAmount,
		}
	}
	return s.kv.KVPut(userKey(user.Authority), rec)
}

func (s ledgerStore) indexUser(authority crypto.Address) error {
	return s.kv.KVAppend(userIndexKey, authority.Bytes())
}

func (s ledgerStore) userAuthorities() ([]crypto.Address, error) {
	var raw [][]byte
	if err := s.kv.KVGetList(userIndexKey, &raw); err != nil {
		return nil, err
	}
	out := make([]crypto.Address, 0, len(raw))
	for _, b := range raw {
		if len(b) != crypto.AddressLength {
			return nil, fmt.Errorf("vault: malformed user index entry")
		}
		out = append(out, crypto.NewAddress(crypto.AccountPrefix, b))
	}
	return out, nil
}

// userTokenVault returns the mirror record, or nil when it was never created.
func (s ledgerStore) userTokenVault(user crypto.Address, index uint16) (*UserTokenVault, error) {
	var rec storedUserTokenVault
	ok, err := s.kv.KVGet(userTokenVaultKey(user, index), &rec)
	if err != nil || !ok {
		return nil, err
	}
	stored, err := toIndex(rec.VaultIndex)
	if err != nil {
		return nil, err
	}
	amount, err := balance.FromBig(rec.Deposited)
	if err != nil {
		return nil, err
	}
	return &UserTokenVault{
		Address:         programAddr(rec.Address),
		Owner:           programAddr(rec.Owner),
		Mint:            rec.Mint,
		VaultIndex:      stored,
		DepositedAmount: amount,
	}, nil
}

func (s ledgerStore) putUserTokenVault(v *UserTokenVault) error {
	return s.kv.KVPut(userTokenVaultKey(v.Owner, v.VaultIndex), storedUserTokenVault{
		Address:    v.Address.Array(),
		Owner:      v.Owner.Array(),
		Mint:       v.Mint,
		VaultIndex: uint64(v.VaultIndex),
		Deposited:  balance.ToBig(v.DepositedAmount),
	})
}
