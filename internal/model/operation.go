package model

// Operation kinds accepted by the replay log.
const (
	OpCreatePool        = "create_pool"
	OpAddLiquidity      = "add_liquidity"
	OpBatchAddLiquidity = "batch_add_liquidity"
	OpRemoveLiquidity   = "remove_liquidity"
	OpSwap              = "swap"
	OpReportPrice       = "report_price"
	OpRestoreAsset      = "restore_asset"
	OpEmergencyIsolate  = "emergency_isolate"
	OpSetAmplification  = "set_amplification"
	OpSetFeeRate        = "set_fee_rate"
)

// Operation is one line of an engine operation log. Amounts are base-10 wei strings
// and prices are decimal strings.
type Operation struct {
	Seq       uint64 `json:"seq"`
	Timestamp uint64 `json:"timestamp"`
	Kind      string `json:"kind"`
	// Pool is the label given to the pool by its create_pool operation.
	Pool string `json:"pool,omitempty"`

	Assets        []string `json:"assets,omitempty"`
	Amplification uint64   `json:"amplification,omitempty"`
	FeeRate       uint32   `json:"fee_rate,omitempty"`

	Provider  string            `json:"provider,omitempty"`
	Amounts   map[string]string `json:"amounts,omitempty"`
	MinShares string            `json:"min_shares,omitempty"`
	Deposits  []DepositOp       `json:"deposits,omitempty"`
	Shares    string            `json:"shares,omitempty"`

	AssetIn      string `json:"asset_in,omitempty"`
	AssetOut     string `json:"asset_out,omitempty"`
	AmountIn     string `json:"amount_in,omitempty"`
	MinAmountOut string `json:"min_amount_out,omitempty"`

	Asset  string            `json:"asset,omitempty"`
	Prices map[string]string `json:"prices,omitempty"`
}

// DepositOp is one element of a batch_add_liquidity operation.
type DepositOp struct {
	Provider  string            `json:"provider"`
	Amounts   map[string]string `json:"amounts"`
	MinShares string            `json:"min_shares,omitempty"`
}
