package orbital

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestEvaluateSphereAtBalance(t *testing.T) {
	// One position of value 2000 at amplification 1000 over reserves 1000/1000.
	reg := registryWith(t, 1000, 2000)
	sum := units(2000)
	sumSq := new(uint256.Int).Mul(units(2_000_000), Wad)
	tick := mustConsolidate(t, reg, sum, 2)

	inv := Evaluate(InvariantInput{N: 2, SumReserves: sum, SumSquaredReserves: sumSq, Tick: tick})
	require.Equal(t, RegimeSphere, inv.Regime)
	require.Equal(t, 0, inv.Orthogonal.Sign())

	r := floatFromUint(tick.InteriorRadius)
	require.Equal(t, 0, inv.RadiusSquared.Cmp(fsquare(r)))

	// (alpha - r/n)^2 with alpha = 1000e18 and r/n = 1e24.
	diff := fsub(floatFromUint(units(1000)), fquo(r, floatFromInt(2)))
	require.Equal(t, 0, inv.Level.Cmp(fsquare(diff)))
}

func TestEvaluateBoundaryOnly(t *testing.T) {
	reg := registryWith(t, 10, 100)
	sum := units(2000)
	sumSq := new(uint256.Int).Mul(units(2_000_000), Wad)
	tick := mustConsolidate(t, reg, sum, 2)
	require.Equal(t, RegimeBoundary, tick.Regime())

	inv := Evaluate(InvariantInput{N: 2, SumReserves: sum, SumSquaredReserves: sumSq, Tick: tick})
	require.Equal(t, RegimeBoundary, inv.Regime)

	rb := floatFromUint(tick.BoundaryRadius)
	cb := floatFromUint(tick.BoundaryConstant)
	offset := fsub(cb, fquo(rb, floatFromInt(2)))
	wantSq := fsub(fsquare(rb), fsquare(offset))
	rel := fquo(fabs(fsub(inv.RadiusSquared, wantSq)), wantSq)
	require.True(t, rel.Cmp(big.NewFloat(1e-60)) < 0, "radius squared %s want %s", inv.RadiusSquared.Text('g', 30), wantSq.Text('g', 30))

	// Balanced reserves sit on the diagonal, so only the along-axis term remains.
	along := fsquare(fsub(floatFromUint(units(1000)), cb))
	require.Equal(t, 0, inv.Level.Cmp(along))
}

func TestEvaluateDoesNotMutate(t *testing.T) {
	reg := registryWith(t, 1000, 1800, 200)
	sum := units(2000)
	sumSq := new(uint256.Int).Mul(units(2_000_000), Wad)
	tick := mustConsolidate(t, reg, sum, 2)
	snapshot := tick.clone()

	first := Evaluate(InvariantInput{N: 2, SumReserves: sum, SumSquaredReserves: sumSq, Tick: tick})
	second := Evaluate(InvariantInput{N: 2, SumReserves: sum, SumSquaredReserves: sumSq, Tick: tick})

	require.Equal(t, RegimeTorus, first.Regime)
	require.Equal(t, 0, first.Level.Cmp(second.Level))
	require.True(t, sum.Eq(units(2000)))
	require.Equal(t, snapshot, tick)
}

func TestSlopeMatchesFiniteDifference(t *testing.T) {
	reg := registryWith(t, 1000, 2000)
	in := SolveInput{
		N:                  2,
		SumReserves:        units(2000),
		SumSquaredReserves: new(uint256.Int).Mul(units(2_000_000), Wad),
		ReserveIn:          units(1000),
		ReserveOut:         units(1000),
		AmountIn:           units(100),
		Tick:               mustConsolidate(t, reg, units(2000), 2),
	}
	p := newProblem(in)
	b := floatFromUint(units(90))
	h := floatFromUint(units(1))
	h.Quo(h, floatFromInt(1_000_000))

	numeric := fquo(fsub(p.residual(fadd(b, h)), p.residual(fsub(b, h))), fmul(floatFromInt(2), h))
	analytic := p.derivative(b)

	rel := fquo(fabs(fsub(numeric, analytic)), fabs(analytic))
	require.True(t, rel.Cmp(big.NewFloat(1e-9)) < 0, "slope %s vs %s", analytic.Text('g', 20), numeric.Text('g', 20))
}
