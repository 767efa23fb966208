package aggregate

import (
	"fmt"
	"math/big"

	"orbitalEngine/internal/model"
)

// Accumulator holds aggregate values for a pool window.
type Accumulator struct {
	PoolID         string
	Label          string
	WindowStart    uint64
	WindowEnd      uint64
	SwapCount      uint64
	SegmentedSwaps uint64
	FailedSwaps    uint64
	Volume         map[string]*big.Int
	Fees           map[string]*big.Int
	LastReserves   map[string]string
	LastIsolated   int
	LastTS         uint64
}

func NewAccumulator(record model.EventRecord, windowStart, windowEnd uint64) *Accumulator {
	return &Accumulator{
		PoolID:      record.PoolID,
		Label:       record.Pool,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		Volume:      make(map[string]*big.Int),
		Fees:        make(map[string]*big.Int),
		LastTS:      record.Timestamp,
	}
}

func (a *Accumulator) AddEvent(record model.EventRecord) error {
	if record.Timestamp >= a.LastTS {
		a.LastTS = record.Timestamp
		if record.Reserves != nil {
			a.LastReserves = record.Reserves
			a.LastIsolated = len(record.Isolated)
		}
	}
	if a.Label == "" {
		a.Label = record.Pool
	}

	switch record.Kind {
	case model.OpSwap:
		if record.Status != model.StatusOK {
			a.FailedSwaps++
			return nil
		}
		return a.applySwap(record)
	default:
		return nil
	}
}

func (a *Accumulator) applySwap(record model.EventRecord) error {
	amountIn, err := parseBigInt(record.AmountIn)
	if err != nil {
		return fmt.Errorf("amount_in: %w", err)
	}
	fee, err := parseBigInt(record.Fee)
	if err != nil {
		return fmt.Errorf("fee: %w", err)
	}

	addTo(a.Volume, record.AssetIn, amountIn)
	addTo(a.Fees, record.AssetOut, fee)

	a.SwapCount++
	if len(record.Legs) > 1 {
		a.SegmentedSwaps++
	}
	return nil
}

func parseBigInt(value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid int: %s", value)
	}
	return parsed, nil
}

func addTo(totals map[string]*big.Int, asset string, value *big.Int) {
	if value == nil || asset == "" {
		return
	}
	current, ok := totals[asset]
	if !ok {
		current = new(big.Int)
		totals[asset] = current
	}
	current.Add(current, value)
}

func sumValues(values map[string]*big.Int) *big.Int {
	total := new(big.Int)
	for _, v := range values {
		total.Add(total, v)
	}
	return total
}
