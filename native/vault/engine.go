package vault

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"arrayledger/core/events"
	"arrayledger/crypto"
	"arrayledger/native/balance"
	"arrayledger/native/bank"
	nativecommon "arrayledger/native/common"
)

// Engine orchestrates the user-facing state transitions of the vault. Every
// method assumes it runs inside a single atomic unit: writes go to the
// configured state and are only made durable if the whole call succeeds.
// Engine performs no compensation of its own.
type Engine struct {
	state    Storage
	adapters map[string]ProtocolAdapter
	pauses   nativecommon.PauseView
	emitter  events.Emitter
}

// NewEngine constructs an engine with no adapters registered.
func NewEngine() *Engine {
	return &Engine{
		adapters: make(map[string]ProtocolAdapter),
		emitter:  events.NoopEmitter{},
	}
}

// SetState wires the engine to the state of the current unit.
func (e *Engine) SetState(state Storage) { e.state = state }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the sink for events produced by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

func (e *Engine) emit(ev events.Event) {
	if e.emitter != nil {
		e.emitter.Emit(ev)
	}
}

func (e *Engine) store() (ledgerStore, error) {
	if e == nil || e.state == nil {
		return ledgerStore{}, errNilState
	}
	return ledgerStore{kv: e.state}, nil
}

// InitProgramState bootstraps the ledger. It may only run once.
func (e *Engine) InitProgramState(admin, defaultDelegate crypto.Address) (*ProgramState, error) {
	st, err := e.store()
	if err != nil {
		return nil, err
	}
	if admin.IsZero() {
		return nil, fmt.Errorf("%w: admin", ErrInvalidAddress)
	}
	if _, err := st.programState(); err == nil {
		return nil, ErrAlreadyInitialised
	} else if !errors.Is(err, ErrNotInitialised) {
		return nil, err
	}
	state := &ProgramState{
		Admin:           admin,
		Signer:          SignerAddress(),
		DefaultDelegate: defaultDelegate,
	}
	if err := st.putProgramState(state); err != nil {
		return nil, err
	}
	return state, nil
}

// ProgramState returns the bootstrapped program configuration.
func (e *Engine) ProgramState() (*ProgramState, error) {
	st, err := e.store()
	if err != nil {
		return nil, err
	}
	return st.programState()
}

// RegisterVault adds a supported token vault for mint under the next
// sequential index. Only the program admin may register vaults.
func (e *Engine) RegisterVault(caller crypto.Address, mint string) (*SupportedTokenVault, error) {
	st, err := e.store()
	if err != nil {
		return nil, err
	}
	normalized := bank.NormalizeMint(mint)
	if normalized == "" {
		return nil, ErrInvalidMint
	}
	program, err := st.programState()
	if err != nil {
		return nil, err
	}
	if !caller.Equal(program.Admin) {
		return nil, ErrUnauthorizedUser
	}
	v, err := st.registerVault(program, normalized)
	if err != nil {
		return nil, err
	}
	e.emit(events.VaultRegistered{Index: v.Index, Mint: v.Mint})
	return v, nil
}

// Vault returns the registry entry for index.
func (e *Engine) Vault(index uint16) (*SupportedTokenVault, error) {
	st, err := e.store()
	if err != nil {
		return nil, err
	}
	return st.vault(index)
}

// Vaults returns every registry entry in index order.
func (e *Engine) Vaults() ([]*SupportedTokenVault, error) {
	st, err := e.store()
	if err != nil {
		return nil, err
	}
	program, err := st.programState()
	if err != nil {
		return nil, err
	}
	return st.vaults(program.VaultCount)
}

// CreateUser creates the depositor record owned by authority. Calling it for
// an existing user returns the stored record and false.
func (e *Engine) CreateUser(authority crypto.Address) (*User, bool, error) {
	st, err := e.store()
	if err != nil {
		return nil, false, err
	}
	if authority.IsZero() {
		return nil, false, fmt.Errorf("%w: authority", ErrInvalidAddress)
	}
	program, err := st.programState()
	if err != nil {
		return nil, false, err
	}
	exists, err := st.hasUser(authority)
	if err != nil {
		return nil, false, err
	}
	if exists {
		user, err := st.user(authority)
		return user, false, err
	}
	user := &User{
		Address:   UserAddress(authority),
		Authority: authority,
		Delegate:  program.DefaultDelegate,
	}
	if err := st.putUser(user); err != nil {
		return nil, false, err
	}
	if err := st.indexUser(authority); err != nil {
		return nil, false, err
	}
	e.emit(events.VaultUserCreated{Authority: authority, User: user.Address, Delegate: user.Delegate})
	return user, true, nil
}

// SetDelegate replaces the user's delegate. Only the authority may do so; a
// zero delegate removes delegation.
func (e *Engine) SetDelegate(caller, owner, delegate crypto.Address) (*User, error) {
	st, err := e.store()
	if err != nil {
		return nil, err
	}
	user, err := st.user(owner)
	if err != nil {
		return nil, err
	}
	if !caller.Equal(user.Authority) {
		return nil, ErrUnauthorizedUser
	}
	user.Delegate = delegate
	if err := st.putUser(user); err != nil {
		return nil, err
	}
	e.emit(events.VaultDelegateSet{Authority: user.Authority, Delegate: delegate})
	return user, nil
}

// User returns the depositor record owned by authority.
func (e *Engine) User(authority crypto.Address) (*User, error) {
	st, err := e.store()
	if err != nil {
		return nil, err
	}
	return st.user(authority)
}

// UserTokenVault returns the mirror record of the user's position in index.
func (e *Engine) UserTokenVault(authority crypto.Address, index uint16) (*UserTokenVault, error) {
	st, err := e.store()
	if err != nil {
		return nil, err
	}
	user, err := st.user(authority)
	if err != nil {
		return nil, err
	}
	mirror, err := st.userTokenVault(user.Address, index)
	if err != nil {
		return nil, err
	}
	if mirror == nil {
		return nil, fmt.Errorf("%w: no user token vault for index %d", ErrVaultNotFound, index)
	}
	return mirror, nil
}

// authorizedUser runs the checks shared by every user operation: the module
// must not be paused, the user must exist and caller must act for it.
func (e *Engine) authorizedUser(st ledgerStore, caller, owner crypto.Address) (*User, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	user, err := st.user(owner)
	if err != nil {
		return nil, err
	}
	if !user.Authorized(caller) {
		return nil, ErrUnauthorizedUser
	}
	return user, nil
}

// mirrorFor returns the user's mirror record for v, creating it at zero
// when the user never touched the vault before. Nothing is written.
func (st ledgerStore) mirrorFor(user *User, v *SupportedTokenVault) (*UserTokenVault, bool, error) {
	mirror, err := st.userTokenVault(user.Address, v.Index)
	if err != nil {
		return nil, false, err
	}
	if mirror != nil {
		return mirror, false, nil
	}
	return &UserTokenVault{
		Address:         UserTokenVaultAddress(user.Address, v.Index),
		Owner:           user.Address,
		Mint:            v.Mint,
		VaultIndex:      v.Index,
		DepositedAmount: new(uint256.Int),
	}, true, nil
}

// OpenPosition binds a slot for the vault, allocating one if needed, and
// returns its index. Opening an already bound vault is a no-op.
func (e *Engine) OpenPosition(caller, owner crypto.Address, index uint16) (int, error) {
	st, err := e.store()
	if err != nil {
		return -1, err
	}
	user, err := e.authorizedUser(st, caller, owner)
	if err != nil {
		return -1, err
	}
	v, err := st.vault(index)
	if err != nil {
		return -1, err
	}
	slot, allocated, err := user.ResolveSlot(index, true)
	if err != nil {
		return -1, err
	}
	if !allocated {
		return slot, nil
	}
	mirror, created, err := st.mirrorFor(user, v)
	if err != nil {
		return -1, err
	}
	if created {
		if err := st.putUserTokenVault(mirror); err != nil {
			return -1, err
		}
	}
	if err := st.putUser(user); err != nil {
		return -1, err
	}
	e.emit(events.VaultPosition{Authority: user.Authority, VaultIndex: index, Slot: slot})
	return slot, nil
}

// Deposit moves amount from the user's authority into custody, or into the
// protocol reserve named by route, and only then credits the position, its
// mirror and the vault aggregate.
func (e *Engine) Deposit(caller, owner crypto.Address, index uint16, amount uint64, route Route) (*Receipt, error) {
	st, err := e.store()
	if err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	route = route.normalize()
	user, err := e.authorizedUser(st, caller, owner)
	if err != nil {
		return nil, err
	}
	program, err := st.programState()
	if err != nil {
		return nil, err
	}
	v, err := st.vault(index)
	if err != nil {
		return nil, err
	}
	slot, allocated, err := user.ResolveSlot(index, true)
	if err != nil {
		return nil, err
	}
	pos := &user.Positions[slot]
	if err := pos.BindRoute(route); err != nil {
		return nil, err
	}
	mirror, _, err := st.mirrorFor(user, v)
	if err != nil {
		return nil, err
	}

	if route.Direct() {
		if err := bank.NewLedger(e.state).Transfer(user.Authority, pos.UserTokenVault, v.Mint, amount); err != nil {
			return nil, fmt.Errorf("vault deposit: %w", err)
		}
	} else {
		call := ProtocolCall{Identity: user.Address, Signer: program.Signer, Funds: user.Authority, Mint: v.Mint, Amount: amount}
		if err := e.callAdapter("deposit", route, call); err != nil {
			return nil, err
		}
	}

	v, err = st.adjustBalance(index, amount, false)
	if err != nil {
		return nil, err
	}
	if err := pos.ApplyDelta(amount, false); err != nil {
		return nil, err
	}
	mirrored, err := balance.Add128(mirror.DepositedAmount, uint256.NewInt(amount))
	if err != nil {
		return nil, err
	}
	mirror.DepositedAmount = mirrored
	if err := st.putUserTokenVault(mirror); err != nil {
		return nil, err
	}
	if err := st.putUser(user); err != nil {
		return nil, err
	}

	if allocated {
		e.emit(events.VaultPosition{Authority: user.Authority, VaultIndex: index, Slot: slot})
	}
	receipt := &Receipt{
		Owner:        user.Authority,
		VaultIndex:   index,
		Slot:         slot,
		Route:        route,
		Amount:       amount,
		Position:     pos.DepositedAmount,
		VaultBalance: balance.ToBig(v.Balance),
	}
	e.emit(movementEvent(receipt, false))
	return receipt, nil
}

// Withdraw debits the position, its mirror and the vault aggregate, then
// returns amount to the user's authority from custody or from the protocol
// reserve named by route. Insufficient balance surfaces as ErrUnderflow from
// the ledger arithmetic. A slot drained to zero is released.
func (e *Engine) Withdraw(caller, owner crypto.Address, index uint16, amount uint64, route Route) (*Receipt, error) {
	st, err := e.store()
	if err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	route = route.normalize()
	user, err := e.authorizedUser(st, caller, owner)
	if err != nil {
		return nil, err
	}
	program, err := st.programState()
	if err != nil {
		return nil, err
	}
	v, err := st.vault(index)
	if err != nil {
		return nil, err
	}
	slot, _, err := user.ResolveSlot(index, false)
	if err != nil {
		return nil, err
	}
	pos := &user.Positions[slot]
	if pos.DepositedAmount > 0 && pos.Route() != route {
		return nil, fmt.Errorf("%w: slot routed to %s, got %s", ErrRouteMismatch, pos.Route(), route)
	}
	custody := pos.UserTokenVault

	if err := pos.ApplyDelta(amount, true); err != nil {
		return nil, err
	}
	if err := v.AdjustBalance(amount, true); err != nil {
		return nil, fmt.Errorf("vault %d aggregate: %w", index, err)
	}
	mirror, _, err := st.mirrorFor(user, v)
	if err != nil {
		return nil, err
	}
	mirrored, err := balance.Sub128(mirror.DepositedAmount, uint256.NewInt(amount))
	if err != nil {
		return nil, err
	}
	mirror.DepositedAmount = mirrored

	if route.Direct() {
		if err := bank.NewLedger(e.state).Transfer(custody, user.Authority, v.Mint, amount); err != nil {
			return nil, fmt.Errorf("vault withdraw: %w", err)
		}
	} else {
		call := ProtocolCall{Identity: user.Address, Signer: program.Signer, Funds: user.Authority, Mint: v.Mint, Amount: amount}
		if err := e.callAdapter("withdraw", route, call); err != nil {
			return nil, err
		}
	}

	remaining := pos.DepositedAmount
	released := remaining == 0
	if released {
		pos.Release()
	}
	if err := st.putVault(v); err != nil {
		return nil, err
	}
	if err := st.putUserTokenVault(mirror); err != nil {
		return nil, err
	}
	if err := st.putUser(user); err != nil {
		return nil, err
	}

	receipt := &Receipt{
		Owner:        user.Authority,
		VaultIndex:   index,
		Slot:         slot,
		Route:        route,
		Amount:       amount,
		Position:     remaining,
		VaultBalance: balance.ToBig(v.Balance),
		Released:     released,
	}
	e.emit(movementEvent(receipt, true))
	return receipt, nil
}

// ClosePosition releases a bound slot that holds no balance.
func (e *Engine) ClosePosition(caller, owner crypto.Address, index uint16) error {
	st, err := e.store()
	if err != nil {
		return err
	}
	user, err := e.authorizedUser(st, caller, owner)
	if err != nil {
		return err
	}
	slot := user.Slot(index)
	if slot < 0 {
		return fmt.Errorf("%w: vault %d", ErrNoPositionSlot, index)
	}
	if user.Positions[slot].DepositedAmount != 0 {
		return ErrPositionNotEmpty
	}
	user.Positions[slot].Release()
	if err := st.putUser(user); err != nil {
		return err
	}
	e.emit(events.VaultPosition{Authority: user.Authority, VaultIndex: index, Slot: slot, Closed: true})
	return nil
}

func movementEvent(r *Receipt, withdrawal bool) events.VaultMovement {
	return events.VaultMovement{
		Authority:  r.Owner,
		VaultIndex: r.VaultIndex,
		Slot:       r.Slot,
		Protocol:   r.Route.Protocol,
		Reserve:    r.Route.Reserve,
		Amount:     r.Amount,
		Position:   r.Position,
		Aggregate:  r.VaultBalance,
		Withdrawal: withdrawal,
		Released:   r.Released,
	}
}
