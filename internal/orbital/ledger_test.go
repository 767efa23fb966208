package orbital

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestLedgerSetReserveKeepsSums(t *testing.T) {
	l := newLedger([]common.Address{assetA, assetB, assetC})
	require.NoError(t, l.credit(assetA, units(10)))
	require.NoError(t, l.credit(assetB, units(20)))
	require.NoError(t, l.credit(assetC, units(30)))
	require.NoError(t, l.debit(assetB, units(5)))
	require.NoError(t, l.setReserve(assetC, units(7)))

	require.True(t, l.Sum().Eq(units(32)))
	want := new(uint256.Int).Mul(uint256.NewInt(10*10+15*15+7*7), new(uint256.Int).Mul(Wad, Wad))
	require.True(t, l.SumSquares().Eq(want), "sum of squares %s", l.SumSquares())
	require.NoError(t, l.verify())
}

func TestLedgerDebitBeyondReserve(t *testing.T) {
	l := newLedger([]common.Address{assetA, assetB})
	require.NoError(t, l.credit(assetA, units(1)))

	err := l.debit(assetA, units(2))
	require.True(t, errors.Is(err, ErrInsufficientLiquidity))
	require.True(t, l.Reserve(assetA).Eq(units(1)))
	require.NoError(t, l.verify())
}

func TestLedgerUnknownAsset(t *testing.T) {
	l := newLedger([]common.Address{assetA, assetB})
	require.ErrorIs(t, l.credit(assetC, units(1)), ErrValidation)
	require.Nil(t, l.Reserve(assetC))
}

func TestLedgerCloneIsIndependent(t *testing.T) {
	l := newLedger([]common.Address{assetA, assetB})
	require.NoError(t, l.credit(assetA, units(3)))

	c := l.clone()
	require.NoError(t, c.credit(assetA, units(4)))
	c.addFee(assetB, units(1))

	require.True(t, l.Reserve(assetA).Eq(units(3)))
	require.True(t, l.fees[1].IsZero())
	require.True(t, c.Reserve(assetA).Eq(units(7)))
}

func TestLedgerVerifyDetectsDrift(t *testing.T) {
	l := newLedger([]common.Address{assetA, assetB})
	require.NoError(t, l.credit(assetA, units(3)))
	l.sum.AddUint64(l.sum, 1)
	require.ErrorIs(t, l.verify(), ErrStateInconsistency)
}
