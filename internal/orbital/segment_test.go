package orbital

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

// crossingPool builds a 3-asset pool at amplification 10 with two positions whose
// normalized parameters are 3000 and 1530 against alpha 1510.
func crossingPool(t *testing.T) (*Manager, PoolID) {
	t.Helper()
	m, _ := newTestManager(t, nil)
	assets := []common.Address{assetA, assetB, assetC}
	id, err := m.CreatePool(assets, 10, 3000)
	require.NoError(t, err)
	_, err = m.BatchAddLiquidity(id, []Deposit{
		evenDeposit(provider(1), assets, 1000),
		evenDeposit(provider(2), assets, 510),
	})
	require.NoError(t, err)
	return m, id
}

func TestSwapWithoutCrossingIsSingleLeg(t *testing.T) {
	m, id := crossingPool(t)
	stats, err := m.GetConsolidationStats(id)
	require.NoError(t, err)
	require.Equal(t, RegimeSphere, stats.Tick.Regime())

	res, err := m.Swap(id, SwapRequest{AssetIn: assetA, AssetOut: assetB, AmountIn: units(500)})
	require.NoError(t, err)
	require.Len(t, res.Legs, 1)
	require.False(t, res.Legs[0].Crossed)
	requireLevelConserved(t, res.LevelBefore, res.LevelAfter)

	after, err := m.GetConsolidationStats(id)
	require.NoError(t, err)
	require.Equal(t, stats.Passes, after.Passes)
}

func TestSwapCrossingIsSegmented(t *testing.T) {
	m, id := crossingPool(t)

	res, err := m.Swap(id, SwapRequest{AssetIn: assetA, AssetOut: assetB, AmountIn: units(800)})
	require.NoError(t, err)
	require.Len(t, res.Legs, 2)
	require.True(t, res.Legs[0].Crossed)
	require.False(t, res.Legs[1].Crossed)
	require.Equal(t, RegimeSphere, res.Legs[0].Regime)
	require.Equal(t, RegimeTorus, res.Legs[1].Regime)

	total := new(uint256.Int).Add(res.Legs[0].AmountIn, res.Legs[1].AmountIn)
	require.True(t, total.Eq(units(800)))

	// The first leg ends exactly on the 1530 threshold.
	stats, err := m.GetConsolidationStats(id)
	require.NoError(t, err)
	require.Equal(t, RegimeTorus, stats.Tick.Regime())
	require.Equal(t, 1, stats.Tick.BoundaryCount)
	require.True(t, stats.Alpha.Gt(units(1529)))

	// Leg one sits between 550 and 551 tokens in.
	require.True(t, res.Legs[0].AmountIn.Gt(units(550)) && res.Legs[0].AmountIn.Lt(units(551)), "leg in %s", res.Legs[0].AmountIn)

	gross := new(uint256.Int).Add(res.Legs[0].GrossOut, res.Legs[1].GrossOut)
	require.True(t, gross.Eq(res.GrossOut))
	net := new(uint256.Int).Sub(res.GrossOut, res.Fee)
	require.True(t, net.Eq(res.AmountOut))
}

func TestSegmentedSwapMatchesSwapAtCrossing(t *testing.T) {
	segmented, segID := crossingPool(t)
	res, err := segmented.Swap(segID, SwapRequest{AssetIn: assetA, AssetOut: assetB, AmountIn: units(800)})
	require.NoError(t, err)
	require.Len(t, res.Legs, 2)

	stepped, stepID := crossingPool(t)
	first, err := stepped.Swap(stepID, SwapRequest{AssetIn: assetA, AssetOut: assetB, AmountIn: res.Legs[0].AmountIn})
	require.NoError(t, err)
	rest := new(uint256.Int).Sub(units(800), res.Legs[0].AmountIn)
	second, err := stepped.Swap(stepID, SwapRequest{AssetIn: assetA, AssetOut: assetB, AmountIn: rest})
	require.NoError(t, err)

	total := new(uint256.Int).Add(first.AmountOut, second.AmountOut)
	require.True(t, total.Eq(res.AmountOut), "segmented %s stepped %s", res.AmountOut, total)

	a, err := segmented.GetPoolState(segID)
	require.NoError(t, err)
	b, err := stepped.GetPoolState(stepID)
	require.NoError(t, err)
	require.True(t, a.SumReserves.Eq(b.SumReserves))
	require.True(t, a.SumSquaredReserves.Eq(b.SumSquaredReserves))
}

func TestSegmentLimit(t *testing.T) {
	m, id := crossingPool(t)
	m.cfg.MaxSegments = 1

	before, err := m.GetPoolState(id)
	require.NoError(t, err)
	_, err = m.Swap(id, SwapRequest{AssetIn: assetA, AssetOut: assetB, AmountIn: units(800)})
	require.ErrorIs(t, err, ErrConvergence)

	after, err := m.GetPoolState(id)
	require.NoError(t, err)
	require.Equal(t, before, after)
}
