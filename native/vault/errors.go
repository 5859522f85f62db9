package vault

import (
	"errors"
	"fmt"

	"arrayledger/native/balance"
)

var (
	// ErrOverflow and ErrUnderflow are shared with the arithmetic helpers so
	// callers can match either package's sentinel.
	ErrOverflow  = balance.ErrOverflow
	ErrUnderflow = balance.ErrUnderflow

	ErrNoPositionSlot     = errors.New("vault: no free position slot")
	ErrInvalidVaultIndex  = errors.New("vault: position bound to a different vault")
	ErrUnauthorizedUser   = errors.New("vault: caller is not the user authority or delegate")
	ErrExternalCallFailed = errors.New("vault: external protocol call failed")

	ErrRouteMismatch      = errors.New("vault: position is routed to a different protocol reserve")
	ErrInvalidAmount      = errors.New("vault: amount must be positive")
	ErrPositionNotEmpty   = errors.New("vault: position still holds a balance")
	ErrAlreadyInitialised = errors.New("vault: program state already initialised")
	ErrNotInitialised     = errors.New("vault: program state not initialised")
	ErrVaultNotFound      = errors.New("vault: supported token vault not found")
	ErrUserNotFound       = errors.New("vault: user not found")
	ErrUnknownProtocol    = errors.New("vault: protocol adapter not registered")
	ErrInvalidMint        = errors.New("vault: mint required")
	ErrInvalidAddress     = errors.New("vault: address required")

	errNilState = errors.New("vault engine: state not configured")
)

// ExternalCallError carries the reason an external protocol rejected a call.
// It matches ErrExternalCallFailed under errors.Is and unwraps to the reason.
type ExternalCallError struct {
	Protocol string
	Reserve  string
	Op       string
	Err      error
}

func (e *ExternalCallError) Error() string {
	return fmt.Sprintf("%s: %s %s/%s: %v", ErrExternalCallFailed, e.Op, e.Protocol, e.Reserve, e.Err)
}

func (e *ExternalCallError) Is(target error) bool {
	return target == ErrExternalCallFailed
}

func (e *ExternalCallError) Unwrap() error { return e.Err }
