// Package fixedpoint holds the unsigned big-integer helpers used by the
// statistics and auction math. Every division floors.
package fixedpoint

import (
	"fmt"
	"math/big"
)

var (
	// One18 is 10^18, the precision of prices and basket values.
	One18 = Pow10(18)
	zero  = big.NewInt(0)
)

// Pow10 returns 10^n.
func Pow10(n uint32) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// FloorDiv returns floor(a / b) for non-negative operands. It panics on a
// zero divisor; callers check divisors where the input is external.
func FloorDiv(a, b *big.Int) *big.Int {
	if b.Sign() == 0 {
		panic("fixedpoint: division by zero")
	}
	return new(big.Int).Quo(a, b)
}

// MulDiv returns floor(a * b / c).
func MulDiv(a, b, c *big.Int) *big.Int {
	return FloorDiv(new(big.Int).Mul(a, b), c)
}

// Mul returns a * b without modifying either operand.
func Mul(a, b *big.Int) *big.Int { return new(big.Int).Mul(a, b) }

// Add returns a + b without modifying either operand.
func Add(a, b *big.Int) *big.Int { return new(big.Int).Add(a, b) }

// Sub returns a - b and fails when the result would be negative.
func Sub(a, b *big.Int) (*big.Int, error) {
	if a.Cmp(b) < 0 {
		return nil, fmt.Errorf("fixedpoint: %s - %s underflows", a, b)
	}
	return new(big.Int).Sub(a, b), nil
}

// U64 converts v to a big.Int.
func U64(v uint64) *big.Int { return new(big.Int).SetUint64(v) }

// IsZero reports whether v is nil or zero.
func IsZero(v *big.Int) bool { return v == nil || v.Cmp(zero) == 0 }

// Parse decodes a base-10 unsigned integer literal.
func Parse(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("fixedpoint: invalid integer %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("fixedpoint: negative value %q", s)
	}
	return v, nil
}

// GCD returns the greatest common divisor of all values. Zero entries are
// ignored; the result is zero only when every value is zero.
func GCD(values ...*big.Int) *big.Int {
	g := new(big.Int)
	for _, v := range values {
		if IsZero(v) {
			continue
		}
		if g.Sign() == 0 {
			g.Set(v)
			continue
		}
		g.GCD(nil, nil, g, v)
	}
	return g
}
