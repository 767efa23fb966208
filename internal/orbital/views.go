package orbital

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// GetPoolState returns a snapshot of the pool.
func (m *Manager) GetPoolState(id PoolID) (PoolState, error) {
	p, err := m.lockPool(id)
	if err != nil {
		return PoolState{}, err
	}
	defer p.mu.Unlock()

	state := PoolState{
		ID:                 p.id,
		Assets:             append([]common.Address(nil), p.ledger.assets...),
		Reserves:           make(map[common.Address]*uint256.Int, p.ledger.N()),
		Fees:               make(map[common.Address]*uint256.Int, p.ledger.N()),
		SumReserves:        p.ledger.Sum(),
		SumSquaredReserves: p.ledger.SumSquares(),
		TotalLpSupply:      p.registry.TotalSupply(),
		Amplification:      p.amplification,
		FeeRate:            p.feeRate,
		Active:             p.active,
		Halted:             p.halted,
		Positions:          p.registry.ActiveCount(),
		CreatedAt:          p.createdAt,
	}
	for i, asset := range p.ledger.assets {
		state.Reserves[asset] = clone(p.ledger.reserves[i])
		state.Fees[asset] = clone(p.ledger.fees[i])
	}
	for asset := range p.isolated {
		state.Isolated = append(state.Isolated, asset)
	}
	sort.Slice(state.Isolated, func(i, j int) bool {
		return bytes.Compare(state.Isolated[i][:], state.Isolated[j][:]) < 0
	})
	return state, nil
}

// GetPosition returns a copy of a provider's position with its classification
// against the current projection.
func (m *Manager) GetPosition(id PoolID, provider common.Address) (Position, error) {
	p, err := m.lockPool(id)
	if err != nil {
		return Position{}, err
	}
	defer p.mu.Unlock()

	pos, ok := p.registry.get(provider)
	if !ok {
		return Position{}, fmt.Errorf("%w: %s", ErrPositionNotFound, provider.Hex())
	}
	c := pos.clone()
	c.IsInterior = c.Active && c.NormalizedK().Gt(Alpha(p.ledger.sum, p.ledger.N()))
	return *c, nil
}

// Positions returns copies of every position, active or not, in first-deposit order.
func (m *Manager) Positions(id PoolID) ([]Position, error) {
	p, err := m.lockPool(id)
	if err != nil {
		return nil, err
	}
	defer p.mu.Unlock()

	alpha := Alpha(p.ledger.sum, p.ledger.N())
	out := make([]Position, 0, len(p.registry.order))
	for _, provider := range p.registry.order {
		c := p.registry.positions[provider].clone()
		c.IsInterior = c.Active && c.NormalizedK().Gt(alpha)
		out = append(out, *c)
	}
	return out, nil
}

// GetConsolidationStats returns the consolidated tick state and the invariant it implies.
func (m *Manager) GetConsolidationStats(id PoolID) (ConsolidationStats, error) {
	p, err := m.lockPool(id)
	if err != nil {
		return ConsolidationStats{}, err
	}
	defer p.mu.Unlock()

	return ConsolidationStats{
		Tick:  p.tick.clone(),
		Alpha: Alpha(p.ledger.sum, p.ledger.N()),
		Invariant: Evaluate(InvariantInput{
			N:                  p.ledger.N(),
			SumReserves:        p.ledger.sum,
			SumSquaredReserves: p.ledger.sumSquares,
			Tick:               p.tick,
		}),
		Passes: p.passes,
	}, nil
}
