package orbital

import (
	"math/big"

	"github.com/holiman/uint256"
)

// Regime is the invariant shape selected by the consolidated state.
type Regime int

const (
	RegimeEmpty Regime = iota
	RegimeSphere
	RegimeBoundary
	RegimeTorus
)

func (r Regime) String() string {
	switch r {
	case RegimeSphere:
		return "sphere"
	case RegimeBoundary:
		return "boundary"
	case RegimeTorus:
		return "torus"
	default:
		return "empty"
	}
}

// InvariantInput is everything the invariant depends on.
type InvariantInput struct {
	N                  int
	SumReserves        *uint256.Int
	SumSquaredReserves *uint256.Int
	Tick               ConsolidatedTickState
}

// Invariant is the evaluated constraint. Level is the value swaps conserve;
// RadiusSquared is the squared radius of the active shape.
type Invariant struct {
	Regime        Regime
	Level         *big.Float
	RadiusSquared *big.Float
	Orthogonal    *big.Float
}

// Evaluate computes the invariant. It never mutates its input.
func Evaluate(in InvariantInput) Invariant {
	surf := newSurface(in.N, in.Tick)
	level, w := surf.level(floatFromUint(in.SumReserves), floatFromUint(in.SumSquaredReserves))
	return Invariant{
		Regime:        surf.regime,
		Level:         level,
		RadiusSquared: surf.radiusSq,
		Orthogonal:    w,
	}
}

// surface is the consolidated shape in float form:
//
//	level = (alpha - center)^2 + max(0, w - torus)^2
//	w     = sqrt(max(0, Q - S^2/n))
//
// where center is r_int/n (sphere), c_b (boundary) or c_b + r_int/n (torus) and
// torus is the effective boundary radius (zero for a pure sphere).
type surface struct {
	regime   Regime
	n        *big.Float
	center   *big.Float
	torus    *big.Float
	radiusSq *big.Float
}

func newSurface(n int, t ConsolidatedTickState) *surface {
	s := &surface{
		regime:   t.Regime(),
		n:        floatFromInt(int64(n)),
		center:   newFloat(),
		torus:    newFloat(),
		radiusSq: newFloat(),
	}

	rInt := floatFromUint(t.InteriorRadius)
	interiorOffset := fquo(rInt, s.n)

	var rEff *big.Float
	if t.BoundaryCount > 0 {
		rb := floatFromUint(t.BoundaryRadius)
		cb := floatFromUint(t.BoundaryConstant)
		offset := fsub(cb, fquo(rb, s.n))
		rEff = fsqrtPos(fsub(fsquare(rb), fsquare(offset)))
	}

	switch s.regime {
	case RegimeSphere:
		s.center = interiorOffset
		s.radiusSq = fsquare(rInt)
	case RegimeBoundary:
		s.center = floatFromUint(t.BoundaryConstant)
		s.torus = rEff
		s.radiusSq = fsquare(rEff)
	case RegimeTorus:
		s.center = fadd(floatFromUint(t.BoundaryConstant), interiorOffset)
		s.torus = rEff
		s.radiusSq = fsquare(rEff)
	}
	return s
}

// level returns the conserved level and the orthogonal magnitude for sums S and Q.
func (s *surface) level(sum, sumSquares *big.Float) (*big.Float, *big.Float) {
	alpha := fquo(sum, s.n)
	w := fsqrtPos(fsub(sumSquares, fquo(fsquare(sum), s.n)))
	along := fsquare(fsub(alpha, s.center))
	excess := fsub(w, s.torus)
	if excess.Sign() <= 0 {
		return along, w
	}
	return fadd(along, fsquare(excess)), w
}

// slope returns d(level)/d(out) when the output reserve after the trade is xOut.
// Moving out by one unit lowers S by one and Q by 2*xOut.
func (s *surface) slope(sum, sumSquares, xOut *big.Float) *big.Float {
	alpha := fquo(sum, s.n)
	w := fsqrtPos(fsub(sumSquares, fquo(fsquare(sum), s.n)))

	d := fquo(fmul(floatFromInt(-2), fsub(alpha, s.center)), s.n)

	excess := fsub(w, s.torus)
	gap := fsub(alpha, xOut)
	switch {
	case s.torus.Sign() == 0:
		// w^2 = Q - S^2/n differentiates to 2*(alpha - xOut) without the 1/w pole.
		d = fadd(d, fmul(floatFromInt(2), gap))
	case excess.Sign() > 0:
		d = fadd(d, fquo(fmul(fmul(floatFromInt(2), excess), gap), w))
	}
	return d
}
