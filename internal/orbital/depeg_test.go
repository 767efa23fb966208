package orbital

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMonitor(t *testing.T, mutate func(*DepegConfig)) (*DepegMonitor, *fakeClock, *[]Transition) {
	t.Helper()
	cfg := DefaultDepegConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	clock := newFakeClock()
	m := NewDepegMonitor(cfg, clock.Now, nil)
	var seen []Transition
	m.Subscribe(func(tr Transition) { seen = append(seen, tr) })
	return m, clock, &seen
}

func price(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDepegThresholdIsStrict(t *testing.T) {
	m, _, seen := newTestMonitor(t, nil)

	require.NoError(t, m.ReportPrice(assetA, price("0.99")))
	st, ok := m.State(assetA)
	require.True(t, ok)
	assert.Equal(t, DepegNormal, st.Status)
	assert.True(t, st.DeviationBps.Equal(decimal.NewFromInt(100)))
	assert.Empty(t, *seen)

	require.NoError(t, m.ReportPrice(assetA, price("0.9899")))
	st, _ = m.State(assetA)
	assert.Equal(t, DepegDeviating, st.Status)
	require.Len(t, *seen, 1)
	assert.Equal(t, DepegNormal, (*seen)[0].From)
	assert.Equal(t, DepegDeviating, (*seen)[0].To)
}

func TestDepegRecoveryResetsTimer(t *testing.T) {
	m, clock, seen := newTestMonitor(t, nil)

	require.NoError(t, m.ReportPrice(assetA, price("1.03")))
	clock.Advance(4 * time.Minute)
	require.NoError(t, m.ReportPrice(assetA, price("1.001")))
	clock.Advance(2 * time.Minute)
	require.NoError(t, m.ReportPrice(assetA, price("1.03")))
	clock.Advance(4 * time.Minute)
	require.NoError(t, m.ReportPrice(assetA, price("1.03")))

	assert.False(t, m.IsIsolated(assetA))
	st, _ := m.State(assetA)
	assert.Equal(t, DepegDeviating, st.Status)
	assert.Zero(t, st.ViolationCount)
	require.Len(t, *seen, 3)
}

func TestDepegIsolatesOnce(t *testing.T) {
	m, clock, seen := newTestMonitor(t, nil)

	require.NoError(t, m.ReportPrice(assetA, price("0.95")))
	clock.Advance(5 * time.Minute)
	require.NoError(t, m.ReportPrice(assetA, price("0.95")))
	require.True(t, m.IsIsolated(assetA))

	clock.Advance(time.Minute)
	require.NoError(t, m.ReportPrice(assetA, price("0.90")))
	require.NoError(t, m.ReportPrice(assetA, price("0.95")))

	st, _ := m.State(assetA)
	assert.Equal(t, DepegIsolated, st.Status)
	assert.Equal(t, uint64(1), st.ViolationCount)
	assert.True(t, st.LastPrice.Equal(price("0.95")))

	isolations := 0
	for _, tr := range *seen {
		if tr.To == DepegIsolated {
			isolations++
		}
	}
	assert.Equal(t, 1, isolations)
}

func TestDepegWithoutAutoIsolation(t *testing.T) {
	m, clock, _ := newTestMonitor(t, func(c *DepegConfig) { c.AutoIsolation = false })

	require.NoError(t, m.ReportPrice(assetA, price("0.5")))
	clock.Advance(24 * time.Hour)
	require.NoError(t, m.ReportPrice(assetA, price("0.5")))
	assert.False(t, m.IsIsolated(assetA))
}

func TestDepegRestore(t *testing.T) {
	m, clock, seen := newTestMonitor(t, nil)

	require.ErrorIs(t, m.Restore(assetA), ErrValidation)

	require.NoError(t, m.EmergencyIsolate(assetA))
	require.ErrorIs(t, m.EmergencyIsolate(assetA), ErrValidation)
	require.True(t, m.IsIsolated(assetA))

	clock.Advance(2 * time.Hour)
	require.NoError(t, m.ReportPrice(assetA, price("0.994")))
	require.ErrorIs(t, m.Restore(assetA), ErrValidation, "60 bps is above the recovery threshold")

	require.NoError(t, m.ReportPrice(assetA, price("0.996")))
	require.NoError(t, m.Restore(assetA))
	assert.False(t, m.IsIsolated(assetA))

	last := (*seen)[len(*seen)-1]
	assert.Equal(t, DepegIsolated, last.From)
	assert.Equal(t, DepegNormal, last.To)
	assert.Equal(t, "restored", last.Reason)
}

func TestDepegRestoreCooldown(t *testing.T) {
	m, clock, _ := newTestMonitor(t, func(c *DepegConfig) { c.RestoreCooldown = 10 * time.Minute })

	require.NoError(t, m.EmergencyIsolate(assetB))
	clock.Advance(9 * time.Minute)
	require.ErrorIs(t, m.Restore(assetB), ErrValidation)
	clock.Advance(time.Minute)
	require.NoError(t, m.Restore(assetB))
}

func TestDepegCustomPeg(t *testing.T) {
	m, _, _ := newTestMonitor(t, nil)

	require.ErrorIs(t, m.SetPeg(assetC, decimal.Zero), ErrValidation)
	require.NoError(t, m.SetPeg(assetC, price("2000")))
	require.NoError(t, m.ReportPrice(assetC, price("1990")))

	st, _ := m.State(assetC)
	assert.Equal(t, DepegNormal, st.Status)
	assert.True(t, st.DeviationBps.Equal(decimal.NewFromInt(50)))
}

func TestDepegBatchIsAtomic(t *testing.T) {
	m, _, seen := newTestMonitor(t, nil)

	err := m.BatchReportPrice([]PriceReport{
		{Asset: assetA, Price: price("0.5")},
		{Asset: assetB, Price: decimal.Zero},
	})
	require.ErrorIs(t, err, ErrValidation)
	_, tracked := m.State(assetA)
	assert.False(t, tracked)
	assert.Empty(t, *seen)

	require.ErrorIs(t, m.BatchReportPrice(nil), ErrValidation)
	require.ErrorIs(t, m.BatchReportPrice([]PriceReport{{Asset: common.Address{}, Price: price("1")}}), ErrValidation)

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, m.BatchReportPrice([]PriceReport{
		{Asset: assetA, Price: price("0.9"), Timestamp: start},
		{Asset: assetB, Price: price("1"), Timestamp: start},
		{Asset: assetA, Price: price("0.9"), Timestamp: start.Add(10 * time.Minute)},
	}))
	assert.True(t, m.IsIsolated(assetA))
	assert.False(t, m.IsIsolated(assetB))
	require.Len(t, *seen, 2)
	assert.Equal(t, start.Add(10*time.Minute), (*seen)[1].At)
}
