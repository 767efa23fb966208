package model

// Event statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// EventRecord is the outcome of one applied operation.
type EventRecord struct {
	Seq        uint64 `json:"seq"`
	Timestamp  uint64 `json:"timestamp"`
	Kind       string `json:"kind"`
	Pool       string `json:"pool,omitempty"`
	PoolID     string `json:"pool_id,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	ErrorClass string `json:"error_class,omitempty"`

	Provider string   `json:"provider,omitempty"`
	Shares   []string `json:"shares,omitempty"`
	// Withdrawn holds the per-asset payout of a remove_liquidity.
	Withdrawn map[string]string `json:"withdrawn,omitempty"`

	AssetIn   string            `json:"asset_in,omitempty"`
	AssetOut  string            `json:"asset_out,omitempty"`
	AmountIn  string            `json:"amount_in,omitempty"`
	AmountOut string            `json:"amount_out,omitempty"`
	Fee       string            `json:"fee,omitempty"`
	FeeRate   uint32            `json:"fee_rate,omitempty"`
	Legs      []SwapLeg         `json:"legs,omitempty"`
	Reserves  map[string]string `json:"reserves,omitempty"`
	Isolated  []string          `json:"isolated,omitempty"`

	Transitions []DepegTransition `json:"transitions,omitempty"`
}

// SwapLeg mirrors one executed swap segment.
type SwapLeg struct {
	AmountIn   string `json:"amount_in"`
	GrossOut   string `json:"gross_out"`
	Fee        string `json:"fee"`
	Regime     string `json:"regime"`
	Method     string `json:"method"`
	Iterations int    `json:"iterations"`
	Crossed    bool   `json:"crossed"`
}

// DepegTransition mirrors a monitor status change caused by the operation.
type DepegTransition struct {
	Asset        string `json:"asset"`
	From         string `json:"from"`
	To           string `json:"to"`
	DeviationBps string `json:"deviation_bps"`
	Reason       string `json:"reason"`
}
