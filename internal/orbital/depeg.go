package orbital

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DepegStatus is the isolation state of one asset.
type DepegStatus int

const (
	DepegNormal DepegStatus = iota
	DepegDeviating
	DepegIsolated
)

func (s DepegStatus) String() string {
	switch s {
	case DepegDeviating:
		return "deviating"
	case DepegIsolated:
		return "isolated"
	default:
		return "normal"
	}
}

var bpsScale = decimal.NewFromInt(10_000)

// PriceReport is one observed price for an asset. A zero Timestamp means now.
type PriceReport struct {
	Asset     common.Address
	Price     decimal.Decimal
	Timestamp time.Time
}

// AssetDepegState tracks the peg deviation of one asset.
type AssetDepegState struct {
	Asset          common.Address
	Peg            decimal.Decimal
	LastPrice      decimal.Decimal
	DeviationBps   decimal.Decimal
	DeviationStart time.Time
	Status         DepegStatus
	IsolatedAt     time.Time
	ViolationCount uint64
	UpdatedAt      time.Time
}

// Transition is emitted whenever an asset changes status.
type Transition struct {
	Asset        common.Address
	From         DepegStatus
	To           DepegStatus
	DeviationBps decimal.Decimal
	At           time.Time
	Reason       string
}

// DepegMonitor runs the per-asset Normal/Deviating/Isolated state machine.
type DepegMonitor struct {
	cfg    DepegConfig
	clock  func() time.Time
	logger *zap.Logger

	mu        sync.Mutex
	states    map[common.Address]*AssetDepegState
	listeners []func(Transition)
}

// NewDepegMonitor builds a monitor. clock may be nil.
func NewDepegMonitor(cfg DepegConfig, clock func() time.Time, logger *zap.Logger) *DepegMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	return &DepegMonitor{
		cfg:    cfg.withDefaults(),
		clock:  clock,
		logger: logger,
		states: make(map[common.Address]*AssetDepegState),
	}
}

// Subscribe registers fn for every future transition. Listeners run after the
// monitor lock is released, in transition order.
func (m *DepegMonitor) Subscribe(fn func(Transition)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// SetPeg sets the expected price of asset. The default peg is 1.
func (m *DepegMonitor) SetPeg(asset common.Address, peg decimal.Decimal) error {
	if !peg.IsPositive() {
		return fmt.Errorf("%w: peg must be positive", ErrValidation)
	}
	m.mu.Lock()
	m.state(asset).Peg = peg
	m.mu.Unlock()
	return nil
}

// ReportPrice feeds one observation through the state machine.
func (m *DepegMonitor) ReportPrice(asset common.Address, price decimal.Decimal) error {
	return m.BatchReportPrice([]PriceReport{{Asset: asset, Price: price}})
}

// BatchReportPrice validates every report, then applies them in input order.
// Either all reports are applied or none.
func (m *DepegMonitor) BatchReportPrice(reports []PriceReport) error {
	if len(reports) == 0 {
		return fmt.Errorf("%w: empty price batch", ErrValidation)
	}
	for i, r := range reports {
		if r.Asset == (common.Address{}) {
			return fmt.Errorf("%w: report %d: zero asset", ErrValidation, i)
		}
		if !r.Price.IsPositive() {
			return fmt.Errorf("%w: report %d: price must be positive", ErrValidation, i)
		}
	}

	now := m.clock()
	m.mu.Lock()
	var emitted []Transition
	for _, r := range reports {
		at := r.Timestamp
		if at.IsZero() {
			at = now
		}
		if t, ok := m.apply(r.Asset, r.Price, at); ok {
			emitted = append(emitted, t)
		}
	}
	listeners := m.listeners
	m.mu.Unlock()

	m.notify(listeners, emitted)
	return nil
}

func (m *DepegMonitor) apply(asset common.Address, price decimal.Decimal, at time.Time) (Transition, bool) {
	st := m.state(asset)
	st.LastPrice = price
	st.DeviationBps = price.Sub(st.Peg).Abs().Div(st.Peg).Mul(bpsScale)
	st.UpdatedAt = at

	threshold := decimal.NewFromInt(m.cfg.DeviationThresholdBps)
	deviating := st.DeviationBps.GreaterThan(threshold)

	switch st.Status {
	case DepegNormal:
		if deviating {
			st.DeviationStart = at
			return m.move(st, DepegDeviating, at, "deviation above threshold"), true
		}
	case DepegDeviating:
		if !deviating {
			st.DeviationStart = time.Time{}
			return m.move(st, DepegNormal, at, "deviation recovered"), true
		}
		if m.cfg.AutoIsolation && at.Sub(st.DeviationStart) >= m.cfg.TimeThreshold {
			return m.isolate(st, at, "deviation persisted"), true
		}
	}
	return Transition{}, false
}

// EmergencyIsolate isolates asset immediately from any state.
func (m *DepegMonitor) EmergencyIsolate(asset common.Address) error {
	if asset == (common.Address{}) {
		return fmt.Errorf("%w: zero asset", ErrValidation)
	}
	now := m.clock()
	m.mu.Lock()
	st := m.state(asset)
	if st.Status == DepegIsolated {
		m.mu.Unlock()
		return fmt.Errorf("%w: asset %s already isolated", ErrValidation, asset.Hex())
	}
	t := m.isolate(st, now, "emergency isolation")
	listeners := m.listeners
	m.mu.Unlock()

	m.notify(listeners, []Transition{t})
	return nil
}

// Restore returns an isolated asset to Normal once its deviation is within the
// recovery threshold and the cool-down has elapsed.
func (m *DepegMonitor) Restore(asset common.Address) error {
	now := m.clock()
	m.mu.Lock()
	st, ok := m.states[asset]
	if !ok || st.Status != DepegIsolated {
		m.mu.Unlock()
		return fmt.Errorf("%w: asset %s is not isolated", ErrValidation, asset.Hex())
	}
	if st.DeviationBps.GreaterThan(decimal.NewFromInt(m.cfg.RecoveryThresholdBps)) {
		m.mu.Unlock()
		return fmt.Errorf("%w: deviation %s bps above recovery threshold", ErrValidation, st.DeviationBps.StringFixed(2))
	}
	if elapsed := now.Sub(st.IsolatedAt); elapsed < m.cfg.RestoreCooldown {
		m.mu.Unlock()
		return fmt.Errorf("%w: cool-down active for another %s", ErrValidation, m.cfg.RestoreCooldown-elapsed)
	}
	st.DeviationStart = time.Time{}
	t := m.move(st, DepegNormal, now, "restored")
	listeners := m.listeners
	m.mu.Unlock()

	m.notify(listeners, []Transition{t})
	return nil
}

// IsIsolated reports whether asset is currently isolated.
func (m *DepegMonitor) IsIsolated(asset common.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[asset]
	return ok && st.Status == DepegIsolated
}

// State returns a copy of the tracked state of asset.
func (m *DepegMonitor) State(asset common.Address) (AssetDepegState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[asset]
	if !ok {
		return AssetDepegState{}, false
	}
	return *st, true
}

func (m *DepegMonitor) state(asset common.Address) *AssetDepegState {
	st, ok := m.states[asset]
	if !ok {
		st = &AssetDepegState{
			Asset:        asset,
			Peg:          decimal.NewFromInt(1),
			LastPrice:    decimal.NewFromInt(1),
			DeviationBps: decimal.Zero,
		}
		m.states[asset] = st
	}
	return st
}

func (m *DepegMonitor) isolate(st *AssetDepegState, at time.Time, reason string) Transition {
	st.IsolatedAt = at
	st.ViolationCount++
	return m.move(st, DepegIsolated, at, reason)
}

func (m *DepegMonitor) move(st *AssetDepegState, to DepegStatus, at time.Time, reason string) Transition {
	t := Transition{
		Asset:        st.Asset,
		From:         st.Status,
		To:           to,
		DeviationBps: st.DeviationBps,
		At:           at,
		Reason:       reason,
	}
	st.Status = to
	return t
}

func (m *DepegMonitor) notify(listeners []func(Transition), transitions []Transition) {
	for _, t := range transitions {
		fields := []zap.Field{
			zap.String("asset", t.Asset.Hex()),
			zap.Stringer("from", t.From),
			zap.Stringer("to", t.To),
			zap.String("deviation_bps", t.DeviationBps.StringFixed(2)),
			zap.String("reason", t.Reason),
		}
		if t.To == DepegIsolated {
			m.logger.Warn("asset isolated", fields...)
		} else {
			m.logger.Info("depeg transition", fields...)
		}
		for _, fn := range listeners {
			fn(t)
		}
	}
}
