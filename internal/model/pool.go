package model

import "time"

// Pool is a snapshot of one engine pool for storage.
type Pool struct {
	PoolID        string            `json:"pool_id"`
	Label         string            `json:"label"`
	Assets        []string          `json:"assets"`
	Amplification uint64            `json:"amplification"`
	FeeRate       uint32            `json:"fee_rate"`
	Active        bool              `json:"active"`
	Halted        bool              `json:"halted"`
	TotalLpSupply string            `json:"total_lp_supply"`
	SumReserves   string            `json:"sum_reserves"`
	Reserves      map[string]string `json:"reserves"`
	Fees          map[string]string `json:"fees"`
	Isolated      []string          `json:"isolated"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Position is a snapshot of one provider's position in a pool.
type Position struct {
	PoolID        string            `json:"pool_id"`
	Provider      string            `json:"provider"`
	LpTokens      string            `json:"lp_tokens"`
	Deposits      map[string]string `json:"deposits"`
	Radius        string            `json:"radius"`
	PlaneConstant string            `json:"plane_constant"`
	IsInterior    bool              `json:"is_interior"`
	Active        bool              `json:"active"`
	UpdatedAt     time.Time         `json:"updated_at"`
}
