package orbital

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

const (
	MethodNewton    = "newton"
	MethodBisection = "bisection"
)

var errDiverged = errors.New("newton step diverged")

// SolveInput is the pool state a single swap leg is solved against.
type SolveInput struct {
	N                  int
	SumReserves        *uint256.Int
	SumSquaredReserves *uint256.Int
	ReserveIn          *uint256.Int
	ReserveOut         *uint256.Int
	AmountIn           *uint256.Int
	Tick               ConsolidatedTickState
}

// Quote is the gross output that preserves the invariant level.
type Quote struct {
	GrossOut   *uint256.Int
	Regime     Regime
	Method     string
	Iterations int
}

// Solver runs bounded Newton-Raphson on the invariant level with a bisection
// fallback when a step diverges.
type Solver struct {
	maxIterations       int
	bisectionIterations int
	tolerance           *big.Float
}

// NewSolver builds a Solver from engine parameters.
func NewSolver(cfg Config) *Solver {
	cfg = cfg.withDefaults()
	return &Solver{
		maxIterations:       cfg.MaxIterations,
		bisectionIterations: cfg.BisectionIterations,
		tolerance:           newFloat().SetFloat64(cfg.SolverTolerance),
	}
}

// Solve returns the gross output for in.AmountIn. A rejected solve has no effect.
func (s *Solver) Solve(in SolveInput) (Quote, error) {
	if in.N < 2 {
		return Quote{}, fmt.Errorf("%w: asset count %d", ErrValidation, in.N)
	}
	if in.AmountIn == nil || in.AmountIn.IsZero() {
		return Quote{}, fmt.Errorf("%w: amount in must be positive", ErrValidation)
	}
	if in.ReserveIn.IsZero() || in.ReserveOut.IsZero() {
		return Quote{}, fmt.Errorf("%w: empty reserve", ErrInsufficientLiquidity)
	}
	regime := in.Tick.Regime()
	if regime == RegimeEmpty {
		return Quote{}, fmt.Errorf("%w: no active positions", ErrInsufficientLiquidity)
	}

	p := newProblem(in)
	tol := fmul(s.tolerance, p.xOut)
	if tol.Cmp(floatFromInt(1)) < 0 {
		tol = floatFromInt(1)
	}

	start := floatFromUint(in.AmountIn)
	if start.Cmp(p.xOut) >= 0 {
		start = fquo(p.xOut, floatFromInt(2))
	}

	method := MethodNewton
	root, iterations, err := s.newton(p, start, tol)
	if errors.Is(err, errDiverged) {
		var extra int
		method = MethodBisection
		root, extra, err = s.bisect(p, tol)
		iterations += extra
	}
	if err != nil {
		return Quote{}, err
	}

	gross, overflow := uint256.FromBig(floorFloat(root))
	if overflow || !gross.Lt(in.ReserveOut) {
		return Quote{}, fmt.Errorf("%w: output exceeds reserve", ErrInsufficientLiquidity)
	}

	return Quote{
		GrossOut:   gross,
		Regime:     regime,
		Method:     method,
		Iterations: iterations,
	}, nil
}

func (s *Solver) newton(p *problem, start, tol *big.Float) (*big.Float, int, error) {
	b := start
	var prev *big.Float
	for it := 0; it < s.maxIterations; it++ {
		g := p.residual(b)
		if g.Sign() == 0 {
			return b, it + 1, nil
		}
		absG := fabs(g)
		if prev != nil && absG.Cmp(prev) > 0 {
			return nil, it + 1, errDiverged
		}
		prev = absG

		d := p.derivative(b)
		if d.Sign() == 0 {
			return nil, it + 1, errDiverged
		}
		step := fquo(g, d)
		next := fsub(b, step)
		if next.Sign() < 0 || next.Cmp(p.xOut) >= 0 {
			return nil, it + 1, errDiverged
		}
		b = next
		if fabs(step).Cmp(tol) <= 0 {
			return b, it + 1, nil
		}
	}
	return nil, s.maxIterations, fmt.Errorf("%w: %d newton iterations", ErrConvergence, s.maxIterations)
}

func (s *Solver) bisect(p *problem, tol *big.Float) (*big.Float, int, error) {
	lo := newFloat()
	hi := fsub(p.xOut, floatFromInt(1))
	gLo := p.residual(lo)
	if gLo.Sign() == 0 {
		return lo, 0, nil
	}
	gHi := p.residual(hi)
	if gHi.Sign() == gLo.Sign() {
		return nil, 0, fmt.Errorf("%w: no output within reserve preserves the invariant", ErrInsufficientLiquidity)
	}

	half := newFloat().SetFloat64(0.5)
	for it := 0; it < s.bisectionIterations; it++ {
		if fsub(hi, lo).Cmp(tol) <= 0 {
			return lo, it, nil
		}
		mid := fmul(fadd(lo, hi), half)
		gMid := p.residual(mid)
		if gMid.Sign() == 0 {
			return mid, it + 1, nil
		}
		if gMid.Sign() == gLo.Sign() {
			lo = mid
		} else {
			hi = mid
		}
	}
	return nil, s.bisectionIterations, fmt.Errorf("%w: %d bisection iterations", ErrConvergence, s.bisectionIterations)
}

// problem holds the leg with the input side already applied; b is the gross output.
type problem struct {
	surf   *surface
	sumIn  *big.Float
	sqIn   *big.Float
	xOut   *big.Float
	target *big.Float
}

func newProblem(in SolveInput) *problem {
	surf := newSurface(in.N, in.Tick)
	sum := floatFromUint(in.SumReserves)
	sq := floatFromUint(in.SumSquaredReserves)
	xIn := floatFromUint(in.ReserveIn)
	xOut := floatFromUint(in.ReserveOut)
	a := floatFromUint(in.AmountIn)

	target, _ := surf.level(sum, sq)

	// Q with the input term replaced and the output term removed.
	sqIn := fsub(sq, fsquare(xIn))
	sqIn = fadd(sqIn, fsquare(fadd(xIn, a)))
	sqIn = fsub(sqIn, fsquare(xOut))

	return &problem{
		surf:   surf,
		sumIn:  fadd(sum, a),
		sqIn:   sqIn,
		xOut:   xOut,
		target: target,
	}
}

func (p *problem) at(b *big.Float) (sum, sq, xOut *big.Float) {
	xOut = fsub(p.xOut, b)
	return fsub(p.sumIn, b), fadd(p.sqIn, fsquare(xOut)), xOut
}

func (p *problem) residual(b *big.Float) *big.Float {
	sum, sq, _ := p.at(b)
	level, _ := p.surf.level(sum, sq)
	return fsub(level, p.target)
}

func (p *problem) derivative(b *big.Float) *big.Float {
	return p.surf.slope(p.at(b))
}
