package balance

import (
	"errors"
	"math"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
)

func TestAdd64(t *testing.T) {
	cases := []struct {
		name    string
		a, b    uint64
		want    uint64
		wantErr error
	}{
		{name: "zero", a: 0, b: 0, want: 0},
		{name: "simple", a: 40, b: 60, want: 100},
		{name: "max", a: math.MaxUint64 - 1, b: 1, want: math.MaxUint64},
		{name: "overflow", a: math.MaxUint64, b: 1, wantErr: ErrOverflow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Add64(tc.a, tc.b)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected error %v, got %v", tc.wantErr, err)
			}
			if err == nil && got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestSub64(t *testing.T) {
	if got, err := Sub64(100, 40); err != nil || got != 60 {
		t.Fatalf("expected 60, got %d (%v)", got, err)
	}
	if got, err := Sub64(60, 60); err != nil || got != 0 {
		t.Fatalf("expected 0, got %d (%v)", got, err)
	}
	if _, err := Sub64(60, 100); !errors.Is(err, ErrUnderflow) {
		t.Fatalf("expected ErrUnderflow, got %v", err)
	}
}

func TestApply64Direction(t *testing.T) {
	if got, _ := Apply64(10, 5, false); got != 15 {
		t.Fatalf("deposit direction: expected 15, got %d", got)
	}
	if got, _ := Apply64(10, 5, true); got != 5 {
		t.Fatalf("withdraw direction: expected 5, got %d", got)
	}
}

func TestAdd128ToleratesSumsBeyond64Bits(t *testing.T) {
	a := uint256.NewInt(math.MaxUint64)
	sum, err := Add128(a, a)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	want := new(big.Int).Mul(new(big.Int).SetUint64(math.MaxUint64), big.NewInt(2))
	if sum.ToBig().Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, sum.Dec())
	}
	if a.Uint64() != math.MaxUint64 {
		t.Fatalf("operand mutated: %s", a.Dec())
	}
}

func TestAdd128Overflow(t *testing.T) {
	if _, err := Add128(MaxUint128, uint256.NewInt(1)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
	got, err := Add128(MaxUint128, nil)
	if err != nil || !got.Eq(MaxUint128) {
		t.Fatalf("expected max, got %v (%v)", got, err)
	}
}

func TestSub128(t *testing.T) {
	if _, err := Sub128(uint256.NewInt(5), uint256.NewInt(6)); !errors.Is(err, ErrUnderflow) {
		t.Fatalf("expected ErrUnderflow, got %v", err)
	}
	got, err := Sub128(uint256.NewInt(6), uint256.NewInt(6))
	if err != nil || !got.IsZero() {
		t.Fatalf("expected zero, got %v (%v)", got, err)
	}
	tooBig := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	if _, err := Sub128(tooBig, uint256.NewInt(1)); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestFromBig(t *testing.T) {
	if v, err := FromBig(nil); err != nil || !v.IsZero() {
		t.Fatalf("nil should decode as zero, got %v (%v)", v, err)
	}
	if _, err := FromBig(big.NewInt(-1)); !errors.Is(err, ErrUnderflow) {
		t.Fatalf("expected ErrUnderflow for negative input, got %v", err)
	}
	over := new(big.Int).Lsh(big.NewInt(1), 128)
	if _, err := FromBig(over); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	v, err := FromBig(big.NewInt(12345))
	if err != nil || v.Uint64() != 12345 {
		t.Fatalf("expected 12345, got %v (%v)", v, err)
	}
	if ToBig(v).Int64() != 12345 {
		t.Fatalf("round trip mismatch")
	}
}
