package orbital

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// AddLiquidity deposits every pool asset for one provider and returns the minted shares.
func (m *Manager) AddLiquidity(id PoolID, deposit Deposit) (*uint256.Int, error) {
	shares, err := m.BatchAddLiquidity(id, []Deposit{deposit})
	if err != nil {
		return nil, err
	}
	return shares[0], nil
}

// BatchAddLiquidity applies deposits in order against a staged copy of the pool and
// consolidates once at the end. Any failing element rejects the whole batch.
func (m *Manager) BatchAddLiquidity(id PoolID, deposits []Deposit) ([]*uint256.Int, error) {
	if len(deposits) == 0 {
		return nil, fmt.Errorf("%w: empty deposit batch", ErrValidation)
	}
	p, err := m.lockPool(id)
	if err != nil {
		return nil, err
	}
	defer p.mu.Unlock()
	if err := p.usable(); err != nil {
		return nil, err
	}

	stage := newLiquidityStage(p)
	now := m.clock()
	minted := make([]*uint256.Int, len(deposits))
	for i, d := range deposits {
		shares, err := stage.deposit(d, m.cfg.MaxPositions, now)
		if err != nil {
			return nil, fmt.Errorf("deposit %d: %w", i, err)
		}
		minted[i] = shares
	}

	if err := m.commit(p, stage.ledger, stage.registryFor(p)); err != nil {
		return nil, err
	}
	if err := m.verify(p); err != nil {
		m.halt(p, err)
		return nil, err
	}

	m.logger.Debug("liquidity added",
		zap.Stringer("pool", id),
		zap.Int("deposits", len(deposits)),
		zap.Int("positions", p.registry.ActiveCount()),
		zap.Stringer("total_lp", p.registry.totalLp),
	)
	return minted, nil
}

// RemoveLiquidity burns shares and returns the provider's proportional reserves
// plus the matching slice of accrued fees.
func (m *Manager) RemoveLiquidity(id PoolID, provider common.Address, shares *uint256.Int) (map[common.Address]*uint256.Int, error) {
	if shares == nil || shares.IsZero() {
		return nil, fmt.Errorf("%w: shares must be positive", ErrValidation)
	}
	p, err := m.lockPool(id)
	if err != nil {
		return nil, err
	}
	defer p.mu.Unlock()
	if err := p.usable(); err != nil {
		return nil, err
	}

	current, ok := p.registry.get(provider)
	if !ok || !current.Active {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, provider.Hex())
	}
	if shares.Gt(current.LpTokens) {
		return nil, fmt.Errorf("%w: burning %s of %s shares", ErrValidation, shares, current.LpTokens)
	}

	totalLp := p.registry.totalLp
	ledger := p.ledger.clone()
	out := make(map[common.Address]*uint256.Int, ledger.N())
	for i, asset := range ledger.assets {
		amount, _ := mulDiv(ledger.reserves[i], shares, totalLp)
		fee, _ := mulDiv(ledger.fees[i], shares, totalLp)
		if err := ledger.debit(asset, amount); err != nil {
			return nil, err
		}
		ledger.fees[i] = new(uint256.Int).Sub(ledger.fees[i], fee)
		out[asset] = new(uint256.Int).Add(amount, fee)
	}

	pos := current.clone()
	if shares.Eq(pos.LpTokens) {
		pos.LpTokens = new(uint256.Int)
		pos.Deposits = make(map[common.Address]*uint256.Int)
		pos.Radius = new(uint256.Int)
		pos.PlaneConstant = new(uint256.Int)
		pos.Active = false
	} else {
		for asset, deposited := range pos.Deposits {
			cut, _ := mulDiv(deposited, shares, current.LpTokens)
			pos.Deposits[asset] = new(uint256.Int).Sub(deposited, cut)
		}
		pos.LpTokens = new(uint256.Int).Sub(pos.LpTokens, shares)
		if err := pos.recompute(p.amplification); err != nil {
			return nil, err
		}
	}
	pos.UpdatedAt = m.clock()

	registry := p.registry.clone()
	registry.put(pos)
	if err := m.commit(p, ledger, registry); err != nil {
		return nil, err
	}
	if err := m.verify(p); err != nil {
		m.halt(p, err)
		return nil, err
	}

	m.logger.Debug("liquidity removed",
		zap.Stringer("pool", id),
		zap.String("provider", provider.Hex()),
		zap.Stringer("shares", shares),
		zap.Bool("closed", !pos.Active),
	)
	return out, nil
}

// liquidityStage accumulates deposits without touching the committed pool.
type liquidityStage struct {
	ledger    *Ledger
	registry  *Registry
	staged    map[common.Address]*Position
	order     []common.Address
	totalLp   *uint256.Int
	active    int
	amplifier uint64
}

func newLiquidityStage(p *poolState) *liquidityStage {
	return &liquidityStage{
		ledger:    p.ledger.clone(),
		registry:  p.registry,
		staged:    make(map[common.Address]*Position),
		totalLp:   clone(p.registry.totalLp),
		active:    p.registry.active,
		amplifier: p.amplification,
	}
}

func (s *liquidityStage) deposit(d Deposit, maxPositions int, now time.Time) (*uint256.Int, error) {
	if d.Provider == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero provider", ErrValidation)
	}
	if len(d.Amounts) != s.ledger.N() {
		return nil, fmt.Errorf("%w: expected %d amounts, got %d", ErrValidation, s.ledger.N(), len(d.Amounts))
	}
	value := new(uint256.Int)
	for _, asset := range s.ledger.assets {
		amount, ok := d.Amounts[asset]
		if !ok || amount == nil || amount.IsZero() {
			return nil, fmt.Errorf("%w: amount for %s must be positive", ErrValidation, asset.Hex())
		}
		var overflow bool
		value, overflow = value.AddOverflow(value, amount)
		if overflow {
			return nil, fmt.Errorf("%w: deposit value overflow", ErrValidation)
		}
	}

	shares := clone(value)
	if !s.totalLp.IsZero() && !s.ledger.sum.IsZero() {
		var ok bool
		shares, ok = mulDiv(value, s.totalLp, s.ledger.sum)
		if !ok {
			return nil, fmt.Errorf("%w: share overflow", ErrValidation)
		}
	}
	if shares.IsZero() {
		return nil, fmt.Errorf("%w: deposit mints zero shares", ErrInsufficientLiquidity)
	}
	if d.MinShares != nil && shares.Lt(d.MinShares) {
		return nil, fmt.Errorf("%w: minted %s below minimum %s", ErrInsufficientLiquidity, shares, d.MinShares)
	}

	pos, ok := s.staged[d.Provider]
	if !ok {
		if existing, found := s.registry.get(d.Provider); found {
			pos = existing.clone()
		} else {
			pos = newPosition(d.Provider, now)
		}
	}
	if !pos.Active {
		if s.active >= maxPositions {
			return nil, fmt.Errorf("%w: %d active positions", ErrCapacity, s.active)
		}
		s.active++
		pos.Active = true
		if pos.LpTokens.IsZero() {
			pos.CreatedAt = now
		}
	}

	for _, asset := range s.ledger.assets {
		amount := d.Amounts[asset]
		if err := s.ledger.credit(asset, amount); err != nil {
			return nil, err
		}
		pos.Deposits[asset] = new(uint256.Int).Add(zeroIfNil(pos.Deposits[asset]), amount)
	}
	pos.LpTokens = new(uint256.Int).Add(pos.LpTokens, shares)
	pos.UpdatedAt = now
	if err := pos.recompute(s.amplifier); err != nil {
		return nil, err
	}
	s.totalLp.Add(s.totalLp, shares)

	if !ok {
		s.order = append(s.order, d.Provider)
	}
	s.staged[d.Provider] = pos
	return shares, nil
}

// registryFor returns a copy of the pool registry with the staged positions applied.
func (s *liquidityStage) registryFor(p *poolState) *Registry {
	registry := p.registry.clone()
	for _, provider := range s.order {
		registry.put(s.staged[provider])
	}
	return registry
}
