package orbital

import (
	"math/big"

	"github.com/holiman/uint256"
)

// floatPrec is the mantissa size used for every invariant evaluation.
const floatPrec = 256

// Wad is the fixed-point unit of plane constants and normalized parameters.
var Wad = uint256.NewInt(1_000_000_000_000_000_000)

func newFloat() *big.Float {
	return new(big.Float).SetPrec(floatPrec)
}

func floatFromUint(x *uint256.Int) *big.Float {
	if x == nil {
		return newFloat()
	}
	return newFloat().SetInt(x.ToBig())
}

func floatFromBig(x *big.Int) *big.Float {
	return newFloat().SetInt(x)
}

func floatFromInt(x int64) *big.Float {
	return newFloat().SetInt64(x)
}

func fadd(a, b *big.Float) *big.Float { return newFloat().Add(a, b) }
func fsub(a, b *big.Float) *big.Float { return newFloat().Sub(a, b) }
func fmul(a, b *big.Float) *big.Float { return newFloat().Mul(a, b) }
func fquo(a, b *big.Float) *big.Float { return newFloat().Quo(a, b) }

func fsquare(a *big.Float) *big.Float { return newFloat().Mul(a, a) }

// fsqrtPos returns sqrt(max(0, a)).
func fsqrtPos(a *big.Float) *big.Float {
	if a.Sign() <= 0 {
		return newFloat()
	}
	return newFloat().Sqrt(a)
}

func fabs(a *big.Float) *big.Float { return newFloat().Abs(a) }

func fmax(a, b *big.Float) *big.Float {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// floorFloat converts a non-negative float to its integer floor.
func floorFloat(f *big.Float) *big.Int {
	if f.Sign() <= 0 {
		return new(big.Int)
	}
	i, _ := f.Int(nil)
	return i
}

// mulDiv computes x*y/d with a full-width intermediate; ok is false on overflow or d == 0.
func mulDiv(x, y, d *uint256.Int) (*uint256.Int, bool) {
	if d.IsZero() {
		return nil, false
	}
	p := new(big.Int).Mul(x.ToBig(), y.ToBig())
	p.Quo(p, d.ToBig())
	z, overflow := uint256.FromBig(p)
	return z, !overflow
}

func square(x *uint256.Int) (*uint256.Int, bool) {
	p := new(big.Int).Mul(x.ToBig(), x.ToBig())
	z, overflow := uint256.FromBig(p)
	return z, !overflow
}

func clone(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(x)
}
