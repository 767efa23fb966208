package orbital

import (
	"fmt"

	"github.com/holiman/uint256"
)

// ConsolidatedTickState folds every active position into at most two aggregates.
// It is derived from the registry and alpha, never authoritative.
type ConsolidatedTickState struct {
	Alpha            *uint256.Int
	InteriorRadius   *uint256.Int
	BoundaryRadius   *uint256.Int
	BoundaryConstant *uint256.Int
	InteriorCount    int
	BoundaryCount    int
	// MinInteriorK and MaxBoundaryK are the crossing thresholds; nil when the set is empty.
	MinInteriorK *uint256.Int
	MaxBoundaryK *uint256.Int
}

// Regime reports which invariant shape the state evaluates under.
func (t ConsolidatedTickState) Regime() Regime {
	switch {
	case t.InteriorCount > 0 && t.BoundaryCount > 0:
		return RegimeTorus
	case t.InteriorCount > 0:
		return RegimeSphere
	case t.BoundaryCount > 0:
		return RegimeBoundary
	default:
		return RegimeEmpty
	}
}

// Alpha returns the global projection sumReserves / n.
func Alpha(sumReserves *uint256.Int, n int) *uint256.Int {
	if n <= 0 {
		return new(uint256.Int)
	}
	return new(uint256.Int).Div(sumReserves, uint256.NewInt(uint64(n)))
}

// Consolidate classifies every active position against alpha and accumulates the
// interior radius, boundary radius and liquidity-weighted boundary constant.
// Cost is linear in the number of positions. Aggregates that overflow 256 bits are
// rejected with ErrValidation.
func Consolidate(reg *Registry, sumReserves *uint256.Int, n int) (ConsolidatedTickState, error) {
	alpha := Alpha(sumReserves, n)
	state := ConsolidatedTickState{
		Alpha:            alpha,
		InteriorRadius:   new(uint256.Int),
		BoundaryRadius:   new(uint256.Int),
		BoundaryConstant: new(uint256.Int),
	}

	weighted := new(uint256.Int)
	var overflow bool
	reg.each(func(pos *Position) {
		if overflow || pos.Radius.IsZero() {
			return
		}
		var o bool
		k := pos.NormalizedK()
		if k.Gt(alpha) {
			_, o = state.InteriorRadius.AddOverflow(state.InteriorRadius, pos.Radius)
			overflow = overflow || o
			state.InteriorCount++
			if state.MinInteriorK == nil || k.Lt(state.MinInteriorK) {
				state.MinInteriorK = k
			}
			return
		}
		_, o = state.BoundaryRadius.AddOverflow(state.BoundaryRadius, pos.Radius)
		overflow = overflow || o
		product, o := new(uint256.Int).MulOverflow(k, pos.Radius)
		overflow = overflow || o
		_, o = weighted.AddOverflow(weighted, product)
		overflow = overflow || o
		state.BoundaryCount++
		if state.MaxBoundaryK == nil || k.Gt(state.MaxBoundaryK) {
			state.MaxBoundaryK = k
		}
	})
	if overflow {
		return ConsolidatedTickState{}, fmt.Errorf("%w: consolidated radius overflow", ErrValidation)
	}

	if !state.BoundaryRadius.IsZero() {
		state.BoundaryConstant.Div(weighted, state.BoundaryRadius)
	}
	return state, nil
}

// crosses reports whether moving alpha to next leaves the current classification.
func (t ConsolidatedTickState) crosses(next *uint256.Int) bool {
	if t.MinInteriorK != nil && !next.Lt(t.MinInteriorK) {
		return true
	}
	if t.MaxBoundaryK != nil && next.Lt(t.MaxBoundaryK) {
		return true
	}
	return false
}

func (t ConsolidatedTickState) clone() ConsolidatedTickState {
	c := t
	c.Alpha = clone(t.Alpha)
	c.InteriorRadius = clone(t.InteriorRadius)
	c.BoundaryRadius = clone(t.BoundaryRadius)
	c.BoundaryConstant = clone(t.BoundaryConstant)
	if t.MinInteriorK != nil {
		c.MinInteriorK = clone(t.MinInteriorK)
	}
	if t.MaxBoundaryK != nil {
		c.MaxBoundaryK = clone(t.MaxBoundaryK)
	}
	return c
}
