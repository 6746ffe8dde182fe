// Package bigint is the host side of the 256-bit modular multiplication
// accelerator. Values are eight little-endian 32-bit limbs, the layout the
// BIGINT ecall reads from and writes to guest memory.
package bigint

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// Operand geometry.
const (
	WidthWords = 8
	WidthBytes = WidthWords * 4

	// OpMultiply is the only accelerator operation.
	OpMultiply uint32 = 0
)

var (
	ErrOverflow   = errors.New("bigint: product overflows 256 bits")
	ErrNotReduced = errors.New("bigint: modular arithmetic inputs not in reduced form")
)

// BigInt is a fixed-width 256-bit unsigned integer, least significant limb
// first.
type BigInt [WidthWords]uint32

// Zero returns the additive identity.
func Zero() BigInt { return BigInt{} }

// One returns the multiplicative identity.
func One() BigInt { return BigInt{1} }

// FromWords copies the first WidthWords limbs of w.
func FromWords(w []uint32) BigInt {
	var b BigInt
	copy(b[:], w)
	return b
}

// Words returns the limbs as a slice.
func (b BigInt) Words() []uint32 {
	out := make([]uint32, WidthWords)
	copy(out, b[:])
	return out
}

// FromUint256 converts from uint256.Int, whose limbs are 64-bit and also
// least significant first.
func FromUint256(u *uint256.Int) BigInt {
	var b BigInt
	for i, limb := range u {
		b[2*i] = uint32(limb)
		b[2*i+1] = uint32(limb >> 32)
	}
	return b
}

// ToUint256 converts to uint256.Int.
func (b BigInt) ToUint256() *uint256.Int {
	u := new(uint256.Int)
	for i := range u {
		u[i] = uint64(b[2*i]) | uint64(b[2*i+1])<<32
	}
	return u
}

// ToBig converts to math/big.
func (b BigInt) ToBig() *big.Int {
	return b.ToUint256().ToBig()
}

// IsZero reports whether b is zero.
func (b BigInt) IsZero() bool {
	return b == BigInt{}
}

// Cmp compares b and o, returning -1, 0 or +1.
func (b BigInt) Cmp(o BigInt) int {
	for i := WidthWords - 1; i >= 0; i-- {
		switch {
		case b[i] < o[i]:
			return -1
		case b[i] > o[i]:
			return 1
		}
	}
	return 0
}

// AddAssign sets b = b + o mod 2^256 and returns the carry out.
func (b *BigInt) AddAssign(o *BigInt) bool {
	var carry uint64
	for i := range b {
		tmp := uint64(b[i]) + uint64(o[i]) + carry
		b[i] = uint32(tmp)
		carry = tmp >> 32
	}
	return carry != 0
}

// SubAssign sets b = b - o mod 2^256 and returns the borrow out.
func (b *BigInt) SubAssign(o *BigInt) bool {
	var borrow uint64
	for i := range b {
		tmp := 1<<32 + uint64(b[i]) - uint64(o[i]) - borrow
		b[i] = uint32(tmp)
		borrow = 1 - tmp>>32
	}
	return borrow != 0
}

func (b BigInt) String() string {
	return fmt.Sprintf("0x%064x", b.ToBig())
}

// MulMod computes x*y mod n through a 512-bit intermediate. When n is zero
// it returns the plain product instead and fails if that does not fit in
// 256 bits. This is exactly what the accelerator computes.
func MulMod(x, y, n *BigInt) (BigInt, error) {
	ux, uy := x.ToUint256(), y.ToUint256()
	if n.IsZero() {
		z, overflow := new(uint256.Int).MulOverflow(ux, uy)
		if overflow {
			return BigInt{}, fmt.Errorf("%w: %s * %s", ErrOverflow, x, y)
		}
		return FromUint256(z), nil
	}
	return FromUint256(new(uint256.Int).MulMod(ux, uy, n.ToUint256())), nil
}

// Coprocessor performs the accelerator's modular multiplication.
type Coprocessor interface {
	MulMod(x, y, n *BigInt) (BigInt, error)
}

// Host computes on the host CPU.
type Host struct{}

func (Host) MulMod(x, y, n *BigInt) (BigInt, error) { return MulMod(x, y, n) }
