package model

import "time"

// PoolWindowMetrics stores aggregated metrics for a pool window.
type PoolWindowMetrics struct {
	PoolID         string
	Label          string
	WindowSizeSecs int64
	WindowStart    time.Time
	WindowEnd      time.Time
	SwapCount      uint64
	SegmentedSwaps uint64
	FailedSwaps    uint64
	Volume         map[string]string
	Fees           map[string]string
	TotalFee       string
	TVL            *string
	FeeRate        *string
	APR            *string
	IsolatedAssets int
	TVLMethod      string
}
