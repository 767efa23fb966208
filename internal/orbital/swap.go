package orbital

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// Swap exchanges req.AmountIn of AssetIn for AssetOut. The committed update touches
// exactly the two traded reserves and the two sums; consolidation reruns only
// when a leg crosses a tick threshold.
func (m *Manager) Swap(id PoolID, req SwapRequest) (*SwapResult, error) {
	if req.AmountIn == nil || req.AmountIn.IsZero() {
		return nil, fmt.Errorf("%w: amount in must be positive", ErrValidation)
	}
	if req.AssetIn == req.AssetOut {
		return nil, fmt.Errorf("%w: identical assets", ErrValidation)
	}
	p, err := m.lockPool(id)
	if err != nil {
		return nil, err
	}
	defer p.mu.Unlock()
	if err := p.usable(); err != nil {
		return nil, err
	}
	for _, asset := range [...]common.Address{req.AssetIn, req.AssetOut} {
		if !p.ledger.has(asset) {
			return nil, fmt.Errorf("%w: asset %s not in pool", ErrValidation, asset.Hex())
		}
		if m.isIsolated(p, asset) {
			return nil, fmt.Errorf("%w: %s", ErrAssetIsolated, asset.Hex())
		}
	}

	xIn := p.ledger.Reserve(req.AssetIn)
	xOut := p.ledger.Reserve(req.AssetOut)
	if xIn.IsZero() || xOut.IsZero() {
		return nil, fmt.Errorf("%w: empty reserve", ErrInsufficientLiquidity)
	}

	t := &tentative{
		n:        p.ledger.N(),
		xIn:      xIn,
		xOut:     xOut,
		sum:      p.ledger.Sum(),
		sumSq:    p.ledger.SumSquares(),
		tick:     p.tick,
		registry: p.registry,
	}
	levelBefore := t.level()

	seg := &segmenter{
		solver:       m.solver,
		maxSegments:  m.cfg.MaxSegments,
		invTolerance: newFloat().SetFloat64(m.cfg.InvariantTolerance),
		logger:       m.logger,
	}
	legs, err := seg.run(t, req.AmountIn)
	if err != nil {
		if errors.Is(err, ErrStateInconsistency) {
			m.halt(p, err)
		}
		return nil, err
	}

	gross := new(uint256.Int)
	fee := new(uint256.Int)
	for i := range legs {
		legFee, _ := mulDiv(legs[i].GrossOut, uint256.NewInt(uint64(p.feeRate)), uint256.NewInt(FeeDenominator))
		legs[i].Fee = legFee
		legs[i].AmountOut = new(uint256.Int).Sub(legs[i].GrossOut, legFee)
		gross.Add(gross, legs[i].GrossOut)
		fee.Add(fee, legFee)
	}
	net := new(uint256.Int).Sub(gross, fee)
	if net.IsZero() {
		return nil, fmt.Errorf("%w: zero output", ErrInsufficientLiquidity)
	}
	if net.Lt(zeroIfNil(req.MinAmountOut)) {
		return nil, fmt.Errorf("%w: output %s below minimum %s", ErrInsufficientLiquidity, net, req.MinAmountOut)
	}

	if err := p.ledger.setReserve(req.AssetIn, t.xIn); err != nil {
		return nil, err
	}
	if err := p.ledger.setReserve(req.AssetOut, t.xOut); err != nil {
		m.halt(p, err)
		return nil, fmt.Errorf("%w: %v", ErrStateInconsistency, err)
	}
	if !p.ledger.sum.Eq(t.sum) || !p.ledger.sumSquares.Eq(t.sumSq) {
		err := fmt.Errorf("%w: committed sums diverge from swap view", ErrStateInconsistency)
		m.halt(p, err)
		return nil, err
	}
	p.ledger.addFee(req.AssetOut, fee)
	p.tick = t.tick
	p.passes += t.passes

	result := &SwapResult{
		AmountIn:    clone(req.AmountIn),
		AmountOut:   net,
		GrossOut:    gross,
		Fee:         fee,
		Legs:        legs,
		LevelBefore: levelBefore,
		LevelAfter:  t.level(),
	}

	m.logger.Debug("swap",
		zap.Stringer("pool", id),
		zap.String("asset_in", req.AssetIn.Hex()),
		zap.String("asset_out", req.AssetOut.Hex()),
		zap.Stringer("amount_in", req.AmountIn),
		zap.Stringer("amount_out", net),
		zap.Int("legs", len(legs)),
	)
	return result, nil
}
