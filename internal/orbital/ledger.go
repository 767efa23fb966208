package orbital

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Ledger owns per-asset reserves and the two aggregate sums of one pool.
// Fee buckets sit outside the invariant and are excluded from both sums.
type Ledger struct {
	assets     []common.Address
	index      map[common.Address]int
	reserves   []*uint256.Int
	fees       []*uint256.Int
	sum        *uint256.Int
	sumSquares *uint256.Int
}

func newLedger(assets []common.Address) *Ledger {
	l := &Ledger{
		assets:     append([]common.Address(nil), assets...),
		index:      make(map[common.Address]int, len(assets)),
		reserves:   make([]*uint256.Int, len(assets)),
		fees:       make([]*uint256.Int, len(assets)),
		sum:        new(uint256.Int),
		sumSquares: new(uint256.Int),
	}
	for i, asset := range assets {
		l.index[asset] = i
		l.reserves[i] = new(uint256.Int)
		l.fees[i] = new(uint256.Int)
	}
	return l
}

// N returns the asset count.
func (l *Ledger) N() int { return len(l.assets) }

func (l *Ledger) has(asset common.Address) bool {
	_, ok := l.index[asset]
	return ok
}

// Reserve returns a copy of the reserve for asset, or nil if unknown.
func (l *Ledger) Reserve(asset common.Address) *uint256.Int {
	i, ok := l.index[asset]
	if !ok {
		return nil
	}
	return clone(l.reserves[i])
}

// Sum returns a copy of sumReserves.
func (l *Ledger) Sum() *uint256.Int { return clone(l.sum) }

// SumSquares returns a copy of sumSquaredReserves.
func (l *Ledger) SumSquares() *uint256.Int { return clone(l.sumSquares) }

// setReserve replaces one reserve and adjusts both sums by that entry's terms only.
func (l *Ledger) setReserve(asset common.Address, value *uint256.Int) error {
	i, ok := l.index[asset]
	if !ok {
		return fmt.Errorf("%w: unknown asset %s", ErrValidation, asset.Hex())
	}
	old := l.reserves[i]
	oldSq, _ := square(old)
	newSq, ok := square(value)
	if !ok {
		return fmt.Errorf("%w: reserve overflow for %s", ErrValidation, asset.Hex())
	}

	sum := new(uint256.Int).Sub(l.sum, old)
	sum, overflow := sum.AddOverflow(sum, value)
	if overflow {
		return fmt.Errorf("%w: reserve sum overflow", ErrValidation)
	}
	sumSquares := new(uint256.Int).Sub(l.sumSquares, oldSq)
	sumSquares, overflow = sumSquares.AddOverflow(sumSquares, newSq)
	if overflow {
		return fmt.Errorf("%w: squared reserve sum overflow", ErrValidation)
	}

	l.reserves[i] = clone(value)
	l.sum = sum
	l.sumSquares = sumSquares
	return nil
}

func (l *Ledger) credit(asset common.Address, amount *uint256.Int) error {
	i, ok := l.index[asset]
	if !ok {
		return fmt.Errorf("%w: unknown asset %s", ErrValidation, asset.Hex())
	}
	next, overflow := new(uint256.Int).AddOverflow(l.reserves[i], amount)
	if overflow {
		return fmt.Errorf("%w: reserve overflow for %s", ErrValidation, asset.Hex())
	}
	return l.setReserve(asset, next)
}

func (l *Ledger) debit(asset common.Address, amount *uint256.Int) error {
	i, ok := l.index[asset]
	if !ok {
		return fmt.Errorf("%w: unknown asset %s", ErrValidation, asset.Hex())
	}
	if l.reserves[i].Lt(amount) {
		return fmt.Errorf("%w: debit exceeds reserve of %s", ErrInsufficientLiquidity, asset.Hex())
	}
	return l.setReserve(asset, new(uint256.Int).Sub(l.reserves[i], amount))
}

func (l *Ledger) addFee(asset common.Address, amount *uint256.Int) {
	i := l.index[asset]
	l.fees[i] = new(uint256.Int).Add(l.fees[i], amount)
}

// verify recomputes both sums from the reserves.
func (l *Ledger) verify() error {
	sum := new(uint256.Int)
	sumSquares := new(uint256.Int)
	for _, r := range l.reserves {
		sq, _ := square(r)
		sum.Add(sum, r)
		sumSquares.Add(sumSquares, sq)
	}
	if !sum.Eq(l.sum) {
		return fmt.Errorf("%w: sumReserves %s != %s", ErrStateInconsistency, l.sum, sum)
	}
	if !sumSquares.Eq(l.sumSquares) {
		return fmt.Errorf("%w: sumSquaredReserves %s != %s", ErrStateInconsistency, l.sumSquares, sumSquares)
	}
	return nil
}

func (l *Ledger) clone() *Ledger {
	c := &Ledger{
		assets:     l.assets,
		index:      l.index,
		reserves:   make([]*uint256.Int, len(l.reserves)),
		fees:       make([]*uint256.Int, len(l.fees)),
		sum:        clone(l.sum),
		sumSquares: clone(l.sumSquares),
	}
	for i := range l.reserves {
		c.reserves[i] = clone(l.reserves[i])
		c.fees[i] = clone(l.fees[i])
	}
	return c
}
