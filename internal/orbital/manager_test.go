package orbital

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePoolValidation(t *testing.T) {
	m, _ := newTestManager(t, nil)

	_, err := m.CreatePool([]common.Address{assetA}, 10, 3000)
	require.ErrorIs(t, err, ErrValidation)
	_, err = m.CreatePool([]common.Address{assetA, assetA}, 10, 3000)
	require.ErrorIs(t, err, ErrValidation)
	_, err = m.CreatePool([]common.Address{assetA, assetB}, 0, 3000)
	require.ErrorIs(t, err, ErrValidation)
	_, err = m.CreatePool([]common.Address{assetA, assetB}, 10, DefaultMaxFeeRate+1)
	require.ErrorIs(t, err, ErrValidation)

	id, err := m.CreatePool([]common.Address{assetB, assetA}, 10, 3000)
	require.NoError(t, err)
	state, err := m.GetPoolState(id)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{assetA, assetB}, state.Assets)
	assert.True(t, state.Active)
	assert.True(t, state.SumReserves.IsZero())

	other, err := m.CreatePool([]common.Address{assetA, assetB}, 10, 3000)
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
	assert.Len(t, m.Pools(), 2)
}

// Scenario A: two assets at 1000/1000, amplification 1000, fee 0.3%, swap 100 in.
func TestScenarioTwoAssetTorusSwap(t *testing.T) {
	m, _ := newTestManager(t, nil)
	assets := []common.Address{assetA, assetB}
	id, err := m.CreatePool(assets, 1000, 3000)
	require.NoError(t, err)
	_, err = m.AddLiquidity(id, evenDeposit(provider(1), assets, 900))
	require.NoError(t, err)
	_, err = m.AddLiquidity(id, evenDeposit(provider(2), assets, 100))
	require.NoError(t, err)

	stats, err := m.GetConsolidationStats(id)
	require.NoError(t, err)
	require.Equal(t, RegimeTorus, stats.Invariant.Regime)

	res, err := m.Swap(id, SwapRequest{AssetIn: assetA, AssetOut: assetB, AmountIn: units(100), MinAmountOut: units(99)})
	require.NoError(t, err)
	require.Len(t, res.Legs, 1)
	require.Equal(t, RegimeTorus, res.Legs[0].Regime)
	// The flat torus region prices the trade at par.
	require.True(t, res.GrossOut.Eq(units(100)), "gross %s", res.GrossOut)

	fee := new(uint256.Int).Div(new(uint256.Int).Mul(res.GrossOut, uint256.NewInt(3000)), uint256.NewInt(FeeDenominator))
	require.True(t, res.Fee.Eq(fee))
	require.True(t, res.AmountOut.Eq(new(uint256.Int).Sub(res.GrossOut, fee)))
	require.True(t, res.AmountOut.Eq(mustUint(t, "99700000000000000000")), "net %s", res.AmountOut)
	requireLevelConserved(t, res.LevelBefore, res.LevelAfter)

	state, err := m.GetPoolState(id)
	require.NoError(t, err)
	require.True(t, state.Reserves[assetA].Eq(units(1100)))
	require.True(t, state.Reserves[assetB].Eq(new(uint256.Int).Sub(units(1000), res.GrossOut)))
	require.True(t, state.Fees[assetB].Eq(fee))
}

func TestSingleSphereSwapConservesInvariant(t *testing.T) {
	m, _ := newTestManager(t, nil)
	assets := []common.Address{assetA, assetB}
	id, err := m.CreatePool(assets, 1000, 0)
	require.NoError(t, err)
	_, err = m.AddLiquidity(id, evenDeposit(provider(1), assets, 1000))
	require.NoError(t, err)

	for _, amount := range []uint64{1, 50, 100, 400} {
		res, err := m.Swap(id, SwapRequest{AssetIn: assetA, AssetOut: assetB, AmountIn: units(amount)})
		require.NoError(t, err, "amount %d", amount)
		requireLevelConserved(t, res.LevelBefore, res.LevelAfter)
		require.True(t, res.AmountOut.Lt(units(amount)), "sphere output must price the imbalance")
	}
}

func TestSwapTouchesExactlyTwoReserves(t *testing.T) {
	m, _ := newTestManager(t, nil)
	assets := []common.Address{assetA, assetB, assetC, assetD, assetE}
	id, err := m.CreatePool(assets, 100, 3000)
	require.NoError(t, err)
	_, err = m.BatchAddLiquidity(id, []Deposit{
		evenDeposit(provider(1), assets, 1000),
		evenDeposit(provider(2), assets, 150),
	})
	require.NoError(t, err)

	before, err := m.GetPoolState(id)
	require.NoError(t, err)
	_, err = m.Swap(id, SwapRequest{AssetIn: assetC, AssetOut: assetE, AmountIn: units(25)})
	require.NoError(t, err)
	after, err := m.GetPoolState(id)
	require.NoError(t, err)

	changed := 0
	for _, asset := range assets {
		if !before.Reserves[asset].Eq(after.Reserves[asset]) {
			changed++
		}
	}
	require.Equal(t, 2, changed)

	// Sums equal the literal recomputation over the touched entries.
	sum := new(uint256.Int)
	sumSq := new(uint256.Int)
	for _, asset := range assets {
		r := after.Reserves[asset]
		sum.Add(sum, r)
		sumSq.Add(sumSq, new(uint256.Int).Mul(r, r))
	}
	require.True(t, sum.Eq(after.SumReserves))
	require.True(t, sumSq.Eq(after.SumSquaredReserves))
}

// Scenario B: sequential and batched deposits from five providers agree.
func TestScenarioBatchMatchesSequential(t *testing.T) {
	assets := []common.Address{assetA, assetB, assetC}
	deposits := []Deposit{
		evenDeposit(provider(1), assets, 1000),
		evenDeposit(provider(2), assets, 250),
		{Provider: provider(3), Amounts: map[common.Address]*uint256.Int{assetA: units(40), assetB: units(60), assetC: units(80)}},
		evenDeposit(provider(4), assets, 3000),
		evenDeposit(provider(2), assets, 10),
	}

	seq, _ := newTestManager(t, nil)
	seqID, err := seq.CreatePool(assets, 50, 3000)
	require.NoError(t, err)
	var seqShares []*uint256.Int
	for _, d := range deposits {
		shares, err := seq.AddLiquidity(seqID, d)
		require.NoError(t, err)
		seqShares = append(seqShares, shares)
	}

	batch, _ := newTestManager(t, nil)
	batchID, err := batch.CreatePool(assets, 50, 3000)
	require.NoError(t, err)
	batchShares, err := batch.BatchAddLiquidity(batchID, deposits)
	require.NoError(t, err)

	require.Equal(t, seqShares, batchShares)

	a, err := seq.GetPoolState(seqID)
	require.NoError(t, err)
	b, err := batch.GetPoolState(batchID)
	require.NoError(t, err)
	require.True(t, a.SumReserves.Eq(b.SumReserves))
	require.True(t, a.SumSquaredReserves.Eq(b.SumSquaredReserves))
	require.True(t, a.TotalLpSupply.Eq(b.TotalLpSupply))
	require.Equal(t, a.Positions, b.Positions)

	sa, err := seq.GetConsolidationStats(seqID)
	require.NoError(t, err)
	sb, err := batch.GetConsolidationStats(batchID)
	require.NoError(t, err)
	require.Equal(t, sa.Tick, sb.Tick)
	require.Equal(t, uint64(len(deposits)), sa.Passes)
	require.Equal(t, uint64(1), sb.Passes)
}

func TestBatchIsAllOrNothing(t *testing.T) {
	m, _ := newTestManager(t, nil)
	assets := []common.Address{assetA, assetB, assetC}
	id, err := m.CreatePool(assets, 50, 3000)
	require.NoError(t, err)
	_, err = m.AddLiquidity(id, evenDeposit(provider(1), assets, 100))
	require.NoError(t, err)
	before, err := m.GetPoolState(id)
	require.NoError(t, err)

	bad := evenDeposit(provider(3), assets, 5)
	bad.Amounts[assetC] = new(uint256.Int)
	_, err = m.BatchAddLiquidity(id, []Deposit{evenDeposit(provider(2), assets, 10), bad})
	require.ErrorIs(t, err, ErrValidation)

	missing := Deposit{Provider: provider(4), Amounts: map[common.Address]*uint256.Int{assetA: units(1), assetB: units(1)}}
	_, err = m.BatchAddLiquidity(id, []Deposit{missing})
	require.ErrorIs(t, err, ErrValidation)

	greedy := evenDeposit(provider(5), assets, 10)
	greedy.MinShares = units(1_000_000)
	_, err = m.BatchAddLiquidity(id, []Deposit{evenDeposit(provider(2), assets, 10), greedy})
	require.ErrorIs(t, err, ErrInsufficientLiquidity)

	after, err := m.GetPoolState(id)
	require.NoError(t, err)
	require.Equal(t, before, after)
	_, err = m.GetPosition(id, provider(2))
	require.ErrorIs(t, err, ErrPositionNotFound)
}

func TestPositionCapacity(t *testing.T) {
	m, _ := newTestManager(t, func(c *Config) { c.MaxPositions = 2 })
	assets := []common.Address{assetA, assetB}
	id, err := m.CreatePool(assets, 10, 0)
	require.NoError(t, err)

	_, err = m.BatchAddLiquidity(id, []Deposit{
		evenDeposit(provider(1), assets, 10),
		evenDeposit(provider(2), assets, 10),
		evenDeposit(provider(3), assets, 10),
	})
	require.ErrorIs(t, err, ErrCapacity)

	_, err = m.BatchAddLiquidity(id, []Deposit{
		evenDeposit(provider(1), assets, 10),
		evenDeposit(provider(2), assets, 10),
	})
	require.NoError(t, err)

	// Topping up an existing position does not consume capacity.
	_, err = m.AddLiquidity(id, evenDeposit(provider(1), assets, 5))
	require.NoError(t, err)
	_, err = m.AddLiquidity(id, evenDeposit(provider(3), assets, 5))
	require.ErrorIs(t, err, ErrCapacity)
}

func TestSharesAndRemoveLiquidity(t *testing.T) {
	m, _ := newTestManager(t, nil)
	assets := []common.Address{assetA, assetB}
	id, err := m.CreatePool(assets, 100, 3000)
	require.NoError(t, err)

	first, err := m.AddLiquidity(id, evenDeposit(provider(1), assets, 600))
	require.NoError(t, err)
	require.True(t, first.Eq(units(1200)))
	second, err := m.AddLiquidity(id, evenDeposit(provider(2), assets, 400))
	require.NoError(t, err)
	require.True(t, second.Eq(units(800)))

	res, err := m.Swap(id, SwapRequest{AssetIn: assetA, AssetOut: assetB, AmountIn: units(10)})
	require.NoError(t, err)

	_, err = m.RemoveLiquidity(id, provider(2), units(801))
	require.ErrorIs(t, err, ErrValidation)
	_, err = m.RemoveLiquidity(id, provider(9), units(1))
	require.ErrorIs(t, err, ErrPositionNotFound)

	half, err := m.RemoveLiquidity(id, provider(2), units(400))
	require.NoError(t, err)
	// 400 of 2000 shares: a fifth of each reserve and of the accrued fee.
	wantA := new(uint256.Int).Div(units(1010), uint256.NewInt(5))
	require.True(t, half[assetA].Eq(wantA), "asset A out %s", half[assetA])
	reserveB := new(uint256.Int).Sub(units(1000), res.GrossOut)
	wantB := new(uint256.Int).Add(new(uint256.Int).Div(reserveB, uint256.NewInt(5)), new(uint256.Int).Div(res.Fee, uint256.NewInt(5)))
	require.True(t, half[assetB].Eq(wantB), "asset B out %s want %s", half[assetB], wantB)

	pos, err := m.GetPosition(id, provider(2))
	require.NoError(t, err)
	require.True(t, pos.Active)
	require.True(t, pos.LpTokens.Eq(units(400)))
	require.True(t, pos.Deposits[assetA].Eq(units(200)))

	_, err = m.RemoveLiquidity(id, provider(2), units(400))
	require.NoError(t, err)
	pos, err = m.GetPosition(id, provider(2))
	require.NoError(t, err)
	require.False(t, pos.Active)
	require.True(t, pos.LpTokens.IsZero())

	state, err := m.GetPoolState(id)
	require.NoError(t, err)
	require.True(t, state.TotalLpSupply.Eq(units(1200)))
	require.Equal(t, 1, state.Positions)
}

func TestSwapRejectionsLeaveStateUnchanged(t *testing.T) {
	m, _ := newTestManager(t, nil)
	assets := []common.Address{assetA, assetB}
	id, err := m.CreatePool(assets, 1000, 3000)
	require.NoError(t, err)

	_, err = m.Swap(id, SwapRequest{AssetIn: assetA, AssetOut: assetB, AmountIn: units(1)})
	require.ErrorIs(t, err, ErrInsufficientLiquidity)

	_, err = m.AddLiquidity(id, evenDeposit(provider(1), assets, 1000))
	require.NoError(t, err)
	before, err := m.GetPoolState(id)
	require.NoError(t, err)

	cases := []struct {
		name string
		req  SwapRequest
		want error
	}{
		{"zero amount", SwapRequest{AssetIn: assetA, AssetOut: assetB, AmountIn: new(uint256.Int)}, ErrValidation},
		{"same asset", SwapRequest{AssetIn: assetA, AssetOut: assetA, AmountIn: units(1)}, ErrValidation},
		{"foreign asset", SwapRequest{AssetIn: assetA, AssetOut: assetC, AmountIn: units(1)}, ErrValidation},
		{"min out", SwapRequest{AssetIn: assetA, AssetOut: assetB, AmountIn: units(100), MinAmountOut: units(100)}, ErrInsufficientLiquidity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Swap(id, tc.req)
			require.ErrorIs(t, err, tc.want)
			after, err := m.GetPoolState(id)
			require.NoError(t, err)
			require.Equal(t, before, after)
		})
	}

	_, err = m.Swap(PoolID{}, SwapRequest{AssetIn: assetA, AssetOut: assetB, AmountIn: units(1)})
	require.ErrorIs(t, err, ErrPoolNotFound)
}

// Scenario C: a 200 bps deviation held for 301 s isolates the asset.
func TestScenarioDepegIsolationBlocksSwaps(t *testing.T) {
	m, clock := newTestManager(t, func(c *Config) {
		c.Depeg.TimeThreshold = 300 * time.Second
		c.Depeg.AutoIsolation = true
	})
	assets := []common.Address{assetA, assetB}
	id, err := m.CreatePool(assets, 100, 3000)
	require.NoError(t, err)
	_, err = m.AddLiquidity(id, evenDeposit(provider(1), assets, 1000))
	require.NoError(t, err)

	depegged := decimal.RequireFromString("0.98")
	require.NoError(t, m.ReportPrice(assetA, depegged))
	require.False(t, m.IsAssetIsolated(assetA))
	clock.Advance(301 * time.Second)
	require.NoError(t, m.ReportPrice(assetA, depegged))
	require.True(t, m.IsAssetIsolated(assetA))

	state, err := m.GetPoolState(id)
	require.NoError(t, err)
	require.Equal(t, []common.Address{assetA}, state.Isolated)
	require.True(t, state.SumReserves.Eq(units(2000)), "isolation keeps accounting")

	_, err = m.Swap(id, SwapRequest{AssetIn: assetA, AssetOut: assetB, AmountIn: units(1)})
	require.ErrorIs(t, err, ErrAssetIsolated)
	_, err = m.Swap(id, SwapRequest{AssetIn: assetB, AssetOut: assetA, AmountIn: units(1)})
	require.ErrorIs(t, err, ErrAssetIsolated)

	require.NoError(t, m.ReportPrice(assetA, decimal.NewFromInt(1)))
	require.ErrorIs(t, m.RestoreAsset(id, assetA), ErrValidation)

	clock.Advance(time.Hour)
	require.ErrorIs(t, m.RestoreAsset(id, assetC), ErrValidation)
	require.NoError(t, m.RestoreAsset(id, assetA))
	require.False(t, m.IsAssetIsolated(assetA))

	_, err = m.Swap(id, SwapRequest{AssetIn: assetA, AssetOut: assetB, AmountIn: units(1)})
	require.NoError(t, err)
}

func TestIsolationAppliesToLaterPools(t *testing.T) {
	m, _ := newTestManager(t, nil)
	require.NoError(t, m.EmergencyIsolate(assetC))

	id, err := m.CreatePool([]common.Address{assetA, assetC}, 10, 0)
	require.NoError(t, err)
	state, err := m.GetPoolState(id)
	require.NoError(t, err)
	require.Equal(t, []common.Address{assetC}, state.Isolated)
}

func TestBatchReportPriceLengthMismatch(t *testing.T) {
	m, _ := newTestManager(t, nil)
	err := m.BatchReportPrice([]common.Address{assetA, assetB}, []decimal.Decimal{decimal.NewFromInt(1)})
	require.ErrorIs(t, err, ErrValidation)
}

func TestAdminParameters(t *testing.T) {
	m, _ := newTestManager(t, nil)
	assets := []common.Address{assetA, assetB}
	id, err := m.CreatePool(assets, 10, 3000)
	require.NoError(t, err)
	_, err = m.AddLiquidity(id, evenDeposit(provider(1), assets, 100))
	require.NoError(t, err)

	require.ErrorIs(t, m.SetFeeRate(id, DefaultMaxFeeRate+1), ErrValidation)
	require.NoError(t, m.SetFeeRate(id, 500))
	require.ErrorIs(t, m.SetAmplification(id, 0), ErrValidation)
	require.NoError(t, m.SetAmplification(id, 40))

	pos, err := m.GetPosition(id, provider(1))
	require.NoError(t, err)
	require.True(t, pos.Radius.Eq(units(8000)))

	stats, err := m.GetConsolidationStats(id)
	require.NoError(t, err)
	require.True(t, stats.Tick.InteriorRadius.Eq(units(8000)))

	state, err := m.GetPoolState(id)
	require.NoError(t, err)
	require.Equal(t, uint32(500), state.FeeRate)
	require.Equal(t, uint64(40), state.Amplification)
}

func TestBrokenPostConditionHaltsPool(t *testing.T) {
	m, _ := newTestManager(t, nil)
	assets := []common.Address{assetA, assetB}
	id, err := m.CreatePool(assets, 10, 0)
	require.NoError(t, err)
	_, err = m.AddLiquidity(id, evenDeposit(provider(1), assets, 100))
	require.NoError(t, err)

	p, err := m.lockPool(id)
	require.NoError(t, err)
	p.ledger.sum.AddUint64(p.ledger.sum, 1)
	p.mu.Unlock()

	_, err = m.AddLiquidity(id, evenDeposit(provider(2), assets, 1))
	require.ErrorIs(t, err, ErrStateInconsistency)

	state, err := m.GetPoolState(id)
	require.NoError(t, err)
	require.True(t, state.Halted)
	require.False(t, state.Active)

	_, err = m.Swap(id, SwapRequest{AssetIn: assetA, AssetOut: assetB, AmountIn: units(1)})
	require.ErrorIs(t, err, ErrPoolHalted)
	require.ErrorIs(t, err, ErrStateInconsistency)
}

func TestErrorClass(t *testing.T) {
	assert.Equal(t, "", ErrorClass(nil))
	assert.Equal(t, "validation", ErrorClass(ErrPoolNotFound))
	assert.Equal(t, "state_inconsistency", ErrorClass(ErrPoolHalted))
	assert.Equal(t, "asset_isolated", ErrorClass(ErrAssetIsolated))
}
