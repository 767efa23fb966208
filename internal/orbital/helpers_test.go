package orbital

import (
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

var (
	assetA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	assetB = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	assetC = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	assetD = common.HexToAddress("0x00000000000000000000000000000000000000d4")
	assetE = common.HexToAddress("0x00000000000000000000000000000000000000e5")
)

func provider(i int) common.Address {
	return common.BigToAddress(big.NewInt(int64(0x1000 + i)))
}

// units returns n whole tokens in wei.
func units(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), Wad)
}

func mustUint(t *testing.T, s string) *uint256.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok, "bad integer %q", s)
	return uint256.MustFromBig(v)
}

func evenDeposit(who common.Address, assets []common.Address, each uint64) Deposit {
	amounts := make(map[common.Address]*uint256.Int, len(assets))
	for _, asset := range assets {
		amounts[asset] = units(each)
	}
	return Deposit{Provider: who, Amounts: amounts}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestManager(t *testing.T, mutate func(*Config)) (*Manager, *fakeClock) {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	clock := newFakeClock()
	return NewManager(cfg, nil, WithClock(clock.Now)), clock
}

func requireLevelConserved(t *testing.T, before, after *big.Float) {
	t.Helper()
	diff := new(big.Float).Sub(after, before)
	diff.Abs(diff)
	scale := new(big.Float).Abs(before)
	if scale.Cmp(big.NewFloat(1)) < 0 {
		scale = big.NewFloat(1)
	}
	limit := new(big.Float).Mul(scale, big.NewFloat(1e-9))
	require.True(t, diff.Cmp(limit) <= 0, "level moved from %s to %s", before.Text('g', 30), after.Text('g', 30))
}

func mustConsolidate(t *testing.T, reg *Registry, sum *uint256.Int, n int) ConsolidatedTickState {
	t.Helper()
	state, err := Consolidate(reg, sum, n)
	require.NoError(t, err)
	return state
}
