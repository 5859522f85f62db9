// Package balance implements the checked arithmetic every ledger mutation goes
// through. Position balances use the 64-bit range while vault aggregates and
// mirrored user vault balances use a 128-bit range so that cross-user sums can
// never wrap.
package balance

import (
	"errors"
	"math/big"
	"math/bits"

	"github.com/holiman/uint256"
)

var (
	ErrOverflow  = errors.New("balance: overflow")
	ErrUnderflow = errors.New("balance: underflow")
	// ErrOutOfRange is returned when a value handed to the 128-bit helpers
	// does not fit the 128-bit range to begin with.
	ErrOutOfRange = errors.New("balance: value exceeds 128-bit range")
)

// MaxUint128 is the largest value representable by aggregate balances.
var MaxUint128 = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))

// Add64 returns a+b or ErrOverflow when the sum does not fit in 64 bits.
func Add64(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// Sub64 returns a-b or ErrUnderflow when b exceeds a.
func Sub64(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrUnderflow
	}
	return diff, nil
}

// Add128 returns a+b as a fresh value. Nil operands are treated as zero.
func Add128(a, b *uint256.Int) (*uint256.Int, error) {
	x, y := orZero(a), orZero(b)
	if x.Gt(MaxUint128) || y.Gt(MaxUint128) {
		return nil, ErrOutOfRange
	}
	sum, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow || sum.Gt(MaxUint128) {
		return nil, ErrOverflow
	}
	return sum, nil
}

// Sub128 returns a-b as a fresh value. Nil operands are treated as zero.
func Sub128(a, b *uint256.Int) (*uint256.Int, error) {
	x, y := orZero(a), orZero(b)
	if x.Gt(MaxUint128) || y.Gt(MaxUint128) {
		return nil, ErrOutOfRange
	}
	if y.Gt(x) {
		return nil, ErrUnderflow
	}
	return new(uint256.Int).Sub(x, y), nil
}

// Apply64 adds or subtracts delta from current depending on the direction.
func Apply64(current, delta uint64, withdraw bool) (uint64, error) {
	if withdraw {
		return Sub64(current, delta)
	}
	return Add64(current, delta)
}

// Apply128 is the 128-bit counterpart of Apply64.
func Apply128(current, delta *uint256.Int, withdraw bool) (*uint256.Int, error) {
	if withdraw {
		return Sub128(current, delta)
	}
	return Add128(current, delta)
}

// FromBig converts a stored big integer into a 128-bit balance. Nil decodes
// as zero; negative or oversized values are rejected.
func FromBig(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, ErrUnderflow
	}
	out, overflow := uint256.FromBig(v)
	if overflow || out.Gt(MaxUint128) {
		return nil, ErrOutOfRange
	}
	return out, nil
}

// ToBig converts a 128-bit balance into a big integer suitable for RLP.
func ToBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
