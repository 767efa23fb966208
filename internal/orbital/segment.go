package orbital

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// tentative is the two-entry view of a pool a swap works against before commit.
type tentative struct {
	n        int
	xIn      *uint256.Int
	xOut     *uint256.Int
	sum      *uint256.Int
	sumSq    *uint256.Int
	tick     ConsolidatedTickState
	passes   uint64
	registry *Registry
}

func (t *tentative) input(amountIn *uint256.Int) SolveInput {
	return SolveInput{
		N:                  t.n,
		SumReserves:        t.sum,
		SumSquaredReserves: t.sumSq,
		ReserveIn:          t.xIn,
		ReserveOut:         t.xOut,
		AmountIn:           amountIn,
		Tick:               t.tick,
	}
}

func (t *tentative) level() *big.Float {
	surf := newSurface(t.n, t.tick)
	level, _ := surf.level(floatFromUint(t.sum), floatFromUint(t.sumSq))
	return level
}

// alphaAfter is the projection once amountIn enters and grossOut leaves.
func (t *tentative) alphaAfter(amountIn, grossOut *uint256.Int) *uint256.Int {
	sum := new(uint256.Int).Add(t.sum, amountIn)
	sum.Sub(sum, grossOut)
	return Alpha(sum, t.n)
}

// apply moves the two reserves and patches both sums by those terms only.
func (t *tentative) apply(amountIn, grossOut *uint256.Int) error {
	nextIn, overflow := new(uint256.Int).AddOverflow(t.xIn, amountIn)
	if overflow {
		return fmt.Errorf("%w: reserve overflow", ErrValidation)
	}
	nextOut := new(uint256.Int).Sub(t.xOut, grossOut)

	sqInOld, _ := square(t.xIn)
	sqOutOld, _ := square(t.xOut)
	sqIn, ok := square(nextIn)
	if !ok {
		return fmt.Errorf("%w: reserve overflow", ErrValidation)
	}
	sqOut, _ := square(nextOut)

	sum := new(uint256.Int).Add(t.sum, amountIn)
	sum.Sub(sum, grossOut)
	sumSq := new(uint256.Int).Sub(t.sumSq, sqInOld)
	sumSq.Sub(sumSq, sqOutOld)
	sumSq, overflow = sumSq.AddOverflow(sumSq, sqIn)
	if overflow {
		return fmt.Errorf("%w: squared reserve sum overflow", ErrValidation)
	}
	sumSq.Add(sumSq, sqOut)

	t.xIn, t.xOut, t.sum, t.sumSq = nextIn, nextOut, sum, sumSq
	return nil
}

func (t *tentative) reconsolidate() error {
	tick, err := Consolidate(t.registry, t.sum, t.n)
	if err != nil {
		return err
	}
	t.tick = tick
	t.passes++
	return nil
}

// segmenter splits a swap into legs that never move alpha across a tick threshold.
type segmenter struct {
	solver       *Solver
	maxSegments  int
	invTolerance *big.Float
	logger       *zap.Logger
}

func (s *segmenter) run(t *tentative, amountIn *uint256.Int) ([]SwapLeg, error) {
	remaining := clone(amountIn)
	legs := make([]SwapLeg, 0, 1)
	for !remaining.IsZero() {
		if len(legs) >= s.maxSegments {
			return nil, fmt.Errorf("%w: swap needs more than %d segments", ErrConvergence, s.maxSegments)
		}

		quote, err := s.solver.Solve(t.input(remaining))
		if err != nil {
			return nil, err
		}
		size := remaining
		crossed := t.tick.crosses(t.alphaAfter(remaining, quote.GrossOut))
		if crossed {
			size, quote, err = s.crossingLeg(t, remaining)
			if err != nil {
				return nil, err
			}
		}

		if err := s.execute(t, size, quote); err != nil {
			return nil, err
		}
		legs = append(legs, SwapLeg{
			AmountIn:   clone(size),
			GrossOut:   quote.GrossOut,
			Regime:     quote.Regime,
			Method:     quote.Method,
			Iterations: quote.Iterations,
			Crossed:    crossed,
		})
		remaining = new(uint256.Int).Sub(remaining, size)

		if crossed {
			if err := t.reconsolidate(); err != nil {
				return nil, err
			}
			s.logger.Debug("tick boundary crossed",
				zap.Int("leg", len(legs)),
				zap.Stringer("leg_in", size),
				zap.Stringer("alpha", Alpha(t.sum, t.n)),
				zap.Stringer("regime", t.tick.Regime()),
			)
		}
	}
	return legs, nil
}

// crossingLeg finds the smallest input whose leg drives alpha onto a threshold.
func (s *segmenter) crossingLeg(t *tentative, remaining *uint256.Int) (*uint256.Int, Quote, error) {
	lo := new(uint256.Int)
	hi := clone(remaining)
	var hiQuote *Quote
	one := uint256.NewInt(1)
	for new(uint256.Int).Sub(hi, lo).Gt(one) {
		mid := new(uint256.Int).Add(lo, hi)
		mid.Rsh(mid, 1)
		quote, err := s.solver.Solve(t.input(mid))
		if err != nil {
			return nil, Quote{}, err
		}
		if t.tick.crosses(t.alphaAfter(mid, quote.GrossOut)) {
			hi = mid
			q := quote
			hiQuote = &q
		} else {
			lo = mid
		}
	}
	if hiQuote == nil {
		quote, err := s.solver.Solve(t.input(hi))
		if err != nil {
			return nil, Quote{}, err
		}
		hiQuote = &quote
	}
	return hi, *hiQuote, nil
}

// execute applies a leg and checks the level it conserves.
func (s *segmenter) execute(t *tentative, amountIn *uint256.Int, quote Quote) error {
	before := t.level()
	if err := t.apply(amountIn, quote.GrossOut); err != nil {
		return err
	}
	after := t.level()

	alpha := floatFromUint(Alpha(t.sum, t.n))
	scale := fmax(fabs(before), fmax(fsquare(alpha), floatFromInt(1)))
	if fabs(fsub(after, before)).Cmp(fmul(scale, s.invTolerance)) > 0 {
		return fmt.Errorf("%w: invariant level moved from %s to %s",
			ErrStateInconsistency, before.Text('g', 20), after.Text('g', 20))
	}
	return nil
}
