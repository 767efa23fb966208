package orbital

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces time.Now for the manager and its depeg monitor.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// Manager owns every pool and sequences the engine components for each operation.
// Pools are independent: each has its own lock, so distinct pools proceed in parallel
// while operations on one pool are serialized.
type Manager struct {
	cfg     Config
	logger  *zap.Logger
	clock   func() time.Time
	solver  *Solver
	monitor *DepegMonitor

	mu    sync.RWMutex
	pools map[PoolID]*poolState
	nonce uint64
}

type poolState struct {
	mu            sync.Mutex
	id            PoolID
	ledger        *Ledger
	registry      *Registry
	tick          ConsolidatedTickState
	amplification uint64
	feeRate       uint32
	active        bool
	halted        bool
	isolated      map[common.Address]struct{}
	createdAt     time.Time
	passes        uint64
}

// NewManager builds a Manager.
func NewManager(cfg Config, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:    cfg.withDefaults(),
		logger: logger,
		clock:  time.Now,
		pools:  make(map[PoolID]*poolState),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.solver = NewSolver(m.cfg)
	m.monitor = NewDepegMonitor(m.cfg.Depeg, m.clock, logger.Named("depeg"))
	m.monitor.Subscribe(m.onTransition)
	return m
}

// Monitor exposes the depeg monitor.
func (m *Manager) Monitor() *DepegMonitor { return m.monitor }

// Config returns the effective engine parameters.
func (m *Manager) Config() Config { return m.cfg }

// =========================================================================
// Pool lifecycle
// =========================================================================

// CreatePool registers a pool over assets.
func (m *Manager) CreatePool(assets []common.Address, amplification uint64, feeRate uint32) (PoolID, error) {
	if len(assets) < 2 {
		return PoolID{}, fmt.Errorf("%w: need at least 2 assets, got %d", ErrValidation, len(assets))
	}
	sorted := append([]common.Address(nil), assets...)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i][:], sorted[j][:]) < 0 })
	for i, asset := range sorted {
		if asset == (common.Address{}) {
			return PoolID{}, fmt.Errorf("%w: zero asset", ErrValidation)
		}
		if i > 0 && sorted[i-1] == asset {
			return PoolID{}, fmt.Errorf("%w: duplicate asset %s", ErrValidation, asset.Hex())
		}
	}
	if amplification == 0 {
		return PoolID{}, fmt.Errorf("%w: amplification must be positive", ErrValidation)
	}
	if feeRate > m.cfg.MaxFeeRate {
		return PoolID{}, fmt.Errorf("%w: fee rate %d above max %d", ErrValidation, feeRate, m.cfg.MaxFeeRate)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	isolated := make(map[common.Address]struct{})
	for _, asset := range sorted {
		if m.monitor.IsIsolated(asset) {
			isolated[asset] = struct{}{}
		}
	}

	id := NewPoolID(sorted, amplification, feeRate, m.nonce)
	m.nonce++
	p := &poolState{
		id:            id,
		ledger:        newLedger(sorted),
		registry:      newRegistry(),
		amplification: amplification,
		feeRate:       feeRate,
		active:        true,
		isolated:      isolated,
		createdAt:     m.clock(),
	}
	// An empty registry always consolidates.
	p.tick, _ = Consolidate(p.registry, p.ledger.sum, p.ledger.N())
	m.pools[id] = p

	m.logger.Info("pool created",
		zap.Stringer("pool", id),
		zap.Int("assets", len(sorted)),
		zap.Uint64("amplification", amplification),
		zap.Uint32("fee_rate", feeRate),
	)
	return id, nil
}

// Pools lists every pool id.
func (m *Manager) Pools() []PoolID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]PoolID, 0, len(m.pools))
	for id := range m.pools {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
	return ids
}

// SetAmplification changes the amplification and rescales every position.
func (m *Manager) SetAmplification(id PoolID, amplification uint64) error {
	if amplification == 0 {
		return fmt.Errorf("%w: amplification must be positive", ErrValidation)
	}
	p, err := m.lockPool(id)
	if err != nil {
		return err
	}
	defer p.mu.Unlock()
	if err := p.usable(); err != nil {
		return err
	}

	registry := p.registry.clone()
	if err := registry.rescale(amplification); err != nil {
		return err
	}
	if err := m.commit(p, p.ledger, registry); err != nil {
		return err
	}
	p.amplification = amplification
	m.logger.Info("amplification updated", zap.Stringer("pool", id), zap.Uint64("amplification", amplification))
	return nil
}

// SetFeeRate changes the swap fee.
func (m *Manager) SetFeeRate(id PoolID, feeRate uint32) error {
	if feeRate > m.cfg.MaxFeeRate {
		return fmt.Errorf("%w: fee rate %d above max %d", ErrValidation, feeRate, m.cfg.MaxFeeRate)
	}
	p, err := m.lockPool(id)
	if err != nil {
		return err
	}
	defer p.mu.Unlock()
	if err := p.usable(); err != nil {
		return err
	}
	p.feeRate = feeRate
	m.logger.Info("fee rate updated", zap.Stringer("pool", id), zap.Uint32("fee_rate", feeRate))
	return nil
}

// =========================================================================
// Depeg integration
// =========================================================================

// ReportPrice forwards one observation to the depeg monitor.
func (m *Manager) ReportPrice(asset common.Address, price decimal.Decimal) error {
	return m.monitor.ReportPrice(asset, price)
}

// BatchReportPrice forwards parallel asset and price lists to the depeg monitor.
func (m *Manager) BatchReportPrice(assets []common.Address, prices []decimal.Decimal) error {
	if len(assets) != len(prices) {
		return fmt.Errorf("%w: %d assets but %d prices", ErrValidation, len(assets), len(prices))
	}
	reports := make([]PriceReport, len(assets))
	for i := range assets {
		reports[i] = PriceReport{Asset: assets[i], Price: prices[i]}
	}
	return m.monitor.BatchReportPrice(reports)
}

// ApplyPriceReports forwards timestamped reports to the depeg monitor.
func (m *Manager) ApplyPriceReports(reports []PriceReport) error {
	return m.monitor.BatchReportPrice(reports)
}

// EmergencyIsolate isolates asset in every pool immediately.
func (m *Manager) EmergencyIsolate(asset common.Address) error {
	return m.monitor.EmergencyIsolate(asset)
}

// RestoreAsset lifts the isolation of an asset held by the pool.
func (m *Manager) RestoreAsset(id PoolID, asset common.Address) error {
	p, err := m.lockPool(id)
	if err != nil {
		return err
	}
	held := p.ledger.has(asset)
	// Restore notifies onTransition, which takes the pool lock again.
	p.mu.Unlock()
	if !held {
		return fmt.Errorf("%w: asset %s not in pool", ErrValidation, asset.Hex())
	}
	return m.monitor.Restore(asset)
}

// IsAssetIsolated reports the monitor's view of asset.
func (m *Manager) IsAssetIsolated(asset common.Address) bool {
	return m.monitor.IsIsolated(asset)
}

func (m *Manager) onTransition(t Transition) {
	if t.To != DepegIsolated && t.From != DepegIsolated {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.pools {
		p.mu.Lock()
		if p.ledger.has(t.Asset) {
			if t.To == DepegIsolated {
				p.isolated[t.Asset] = struct{}{}
			} else {
				delete(p.isolated, t.Asset)
			}
		}
		p.mu.Unlock()
	}
}

// =========================================================================
// Internals
// =========================================================================

func (m *Manager) lockPool(id PoolID) (*poolState, error) {
	m.mu.RLock()
	p, ok := m.pools[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, id)
	}
	p.mu.Lock()
	return p, nil
}

func (p *poolState) usable() error {
	if p.halted {
		return fmt.Errorf("%w: %s", ErrPoolHalted, p.id)
	}
	if !p.active {
		return fmt.Errorf("%w: %s", ErrPoolInactive, p.id)
	}
	return nil
}

// halt fails the pool closed after a broken post-condition.
func (m *Manager) halt(p *poolState, cause error) {
	p.halted = true
	p.active = false
	m.logger.Error("pool halted", zap.Stringer("pool", p.id), zap.Error(cause))
}

// commit consolidates the staged ledger and registry and installs them. Nothing
// changes when consolidation fails.
func (m *Manager) commit(p *poolState, ledger *Ledger, registry *Registry) error {
	tick, err := Consolidate(registry, ledger.sum, ledger.N())
	if err != nil {
		return err
	}
	p.ledger = ledger
	p.registry = registry
	p.tick = tick
	p.passes++
	return nil
}

// verify runs the post-condition checks after a liquidity change.
func (m *Manager) verify(p *poolState) error {
	if err := p.ledger.verify(); err != nil {
		return err
	}
	inv := Evaluate(InvariantInput{
		N:                  p.ledger.N(),
		SumReserves:        p.ledger.sum,
		SumSquaredReserves: p.ledger.sumSquares,
		Tick:               p.tick,
	})
	if p.registry.ActiveCount() > 0 && inv.Regime == RegimeEmpty {
		return fmt.Errorf("%w: active positions but empty consolidation", ErrStateInconsistency)
	}
	if inv.Level.IsInf() {
		return fmt.Errorf("%w: invariant level is infinite", ErrStateInconsistency)
	}
	return nil
}

// isIsolated checks the pool set and the monitor. The pool set lags the monitor
// until its listeners have run.
func (m *Manager) isIsolated(p *poolState, asset common.Address) bool {
	if _, ok := p.isolated[asset]; ok {
		return true
	}
	return m.monitor.IsIsolated(asset)
}

func zeroIfNil(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x
}
