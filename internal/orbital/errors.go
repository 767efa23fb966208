package orbital

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by the engine wraps exactly one of these.
var (
	ErrValidation            = errors.New("validation failed")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrAssetIsolated         = errors.New("asset isolated")
	ErrConvergence           = errors.New("solver did not converge")
	ErrCapacity              = errors.New("position capacity reached")
	ErrStateInconsistency    = errors.New("state inconsistency")
)

// Lookup and lifecycle errors.
var (
	ErrPoolNotFound     = fmt.Errorf("%w: pool not found", ErrValidation)
	ErrPositionNotFound = fmt.Errorf("%w: position not found", ErrValidation)
	ErrPoolInactive     = fmt.Errorf("%w: pool inactive", ErrValidation)
	ErrPoolHalted       = fmt.Errorf("%w: pool halted", ErrStateInconsistency)
)

// ErrorClass returns a short stable label for err, used in event records and metrics.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAssetIsolated):
		return "asset_isolated"
	case errors.Is(err, ErrConvergence):
		return "convergence"
	case errors.Is(err, ErrCapacity):
		return "capacity"
	case errors.Is(err, ErrStateInconsistency):
		return "state_inconsistency"
	case errors.Is(err, ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, ErrValidation):
		return "validation"
	default:
		return "internal"
	}
}
