package orbital

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Position is one provider's liquidity in a pool.
type Position struct {
	Provider      common.Address
	LpTokens      *uint256.Int
	Deposits      map[common.Address]*uint256.Int
	Radius        *uint256.Int
	PlaneConstant *uint256.Int
	IsInterior    bool
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func newPosition(provider common.Address, now time.Time) *Position {
	return &Position{
		Provider:      provider,
		LpTokens:      new(uint256.Int),
		Deposits:      make(map[common.Address]*uint256.Int),
		Radius:        new(uint256.Int),
		PlaneConstant: new(uint256.Int),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Value returns the deposited value, every asset counted at par.
func (p *Position) Value() *uint256.Int {
	total := new(uint256.Int)
	for _, amount := range p.Deposits {
		total.Add(total, amount)
	}
	return total
}

// NormalizedK returns planeConstant * 1e18 / radius, zero for an empty tick.
func (p *Position) NormalizedK() *uint256.Int {
	if p.Radius.IsZero() {
		return new(uint256.Int)
	}
	k, ok := mulDiv(p.PlaneConstant, Wad, p.Radius)
	if !ok {
		return new(uint256.Int)
	}
	return k
}

// recompute derives radius and plane constant from the deposits.
func (p *Position) recompute(amplification uint64) error {
	value := p.Value()
	radius, overflow := new(uint256.Int).MulOverflow(value, uint256.NewInt(amplification))
	if overflow {
		return fmt.Errorf("%w: radius overflow for %s", ErrValidation, p.Provider.Hex())
	}
	k, ok := mulDiv(value, radius, Wad)
	if !ok {
		return fmt.Errorf("%w: plane constant overflow for %s", ErrValidation, p.Provider.Hex())
	}
	p.Radius = radius
	p.PlaneConstant = k
	return nil
}

func (p *Position) clone() *Position {
	c := *p
	c.LpTokens = clone(p.LpTokens)
	c.Radius = clone(p.Radius)
	c.PlaneConstant = clone(p.PlaneConstant)
	c.Deposits = make(map[common.Address]*uint256.Int, len(p.Deposits))
	for asset, amount := range p.Deposits {
		c.Deposits[asset] = clone(amount)
	}
	return &c
}

// Registry owns every position of one pool in first-deposit order.
type Registry struct {
	positions map[common.Address]*Position
	order     []common.Address
	active    int
	totalLp   *uint256.Int
}

func newRegistry() *Registry {
	return &Registry{
		positions: make(map[common.Address]*Position),
		totalLp:   new(uint256.Int),
	}
}

func (r *Registry) get(provider common.Address) (*Position, bool) {
	pos, ok := r.positions[provider]
	return pos, ok
}

// ActiveCount returns the number of active positions.
func (r *Registry) ActiveCount() int { return r.active }

// TotalSupply returns a copy of the LP supply.
func (r *Registry) TotalSupply() *uint256.Int { return clone(r.totalLp) }

// put stores pos, keeping the active count and LP supply in step.
func (r *Registry) put(pos *Position) {
	old, ok := r.positions[pos.Provider]
	if !ok {
		r.order = append(r.order, pos.Provider)
	} else {
		if old.Active {
			r.active--
		}
		r.totalLp.Sub(r.totalLp, old.LpTokens)
	}
	if pos.Active {
		r.active++
	}
	r.totalLp.Add(r.totalLp, pos.LpTokens)
	r.positions[pos.Provider] = pos
}

// each visits active positions in first-deposit order.
func (r *Registry) each(fn func(*Position)) {
	for _, provider := range r.order {
		pos := r.positions[provider]
		if pos.Active {
			fn(pos)
		}
	}
}

// rescale recomputes every active position for a new amplification.
func (r *Registry) rescale(amplification uint64) error {
	staged := make([]*Position, 0, r.active)
	var err error
	r.each(func(pos *Position) {
		if err != nil {
			return
		}
		next := pos.clone()
		err = next.recompute(amplification)
		staged = append(staged, next)
	})
	if err != nil {
		return err
	}
	for _, pos := range staged {
		r.put(pos)
	}
	return nil
}

func (r *Registry) clone() *Registry {
	c := &Registry{
		positions: make(map[common.Address]*Position, len(r.positions)),
		order:     append([]common.Address(nil), r.order...),
		active:    r.active,
		totalLp:   clone(r.totalLp),
	}
	for provider, pos := range r.positions {
		c.positions[provider] = pos.clone()
	}
	return c
}
