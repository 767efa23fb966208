package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"orbitalEngine/internal/model"
	"orbitalEngine/internal/storage"
)

const (
	tvlMethodReserves = "sum_reserves"
	tvlMethodNone     = "unavailable"
)

// MetricsStore persists window metrics.
type MetricsStore interface {
	UpsertWindowMetrics(ctx context.Context, metrics []model.PoolWindowMetrics) error
}

// Config controls aggregation behavior.
type Config struct {
	WindowSeconds uint64
	BatchSize     int
	RecomputeFrom uint64
	// Pools restricts aggregation to these labels or pool ids. Empty means all.
	Pools      []string
	StateStore StateStore
}

// Aggregator folds engine events into pool window metrics.
type Aggregator struct {
	cfg          Config
	store        MetricsStore
	logger       *zap.Logger
	filter       map[string]struct{}
	accumulators map[string]*Accumulator
}

func NewAggregator(cfg Config, store MetricsStore, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}

	filter := make(map[string]struct{}, len(cfg.Pools))
	for _, p := range cfg.Pools {
		filter[poolKey(p)] = struct{}{}
	}

	return &Aggregator{
		cfg:          cfg,
		store:        store,
		logger:       logger,
		filter:       filter,
		accumulators: make(map[string]*Accumulator),
	}
}

// Run executes aggregation over an engine events JSONL file.
func (a *Aggregator) Run(ctx context.Context, inputPath string) error {
	if a.store == nil {
		return fmt.Errorf("store is nil")
	}
	if a.cfg.WindowSeconds == 0 {
		return fmt.Errorf("window seconds must be > 0")
	}
	if a.cfg.BatchSize <= 0 {
		a.cfg.BatchSize = 1000
	}

	startTs, err := a.loadStartTimestamp(ctx)
	if err != nil {
		return err
	}

	batch := make([]model.PoolWindowMetrics, 0, a.cfg.BatchSize)
	maxTs := startTs
	var total, windows, skipped, failed int

	err = storage.ScanLines(inputPath, func(lineNo int, line []byte) error {
		total++

		var record model.EventRecord
		if err := json.Unmarshal(line, &record); err != nil {
			failed++
			a.logger.Warn("decode event", zap.Int("line", lineNo), zap.Error(err))
			return nil
		}

		if record.Timestamp <= startTs || record.PoolID == "" || !a.selected(record) {
			skipped++
			return nil
		}

		windowStart := windowStart(record.Timestamp, a.cfg.WindowSeconds)
		windowEnd := windowStart + a.cfg.WindowSeconds

		accKey := poolKey(record.PoolID)
		acc := a.accumulators[accKey]
		if acc == nil {
			acc = NewAccumulator(record, windowStart, windowEnd)
			a.accumulators[accKey] = acc
		} else if acc.WindowStart != windowStart {
			batch = append(batch, a.flushAccumulator(acc))
			windows++
			acc = NewAccumulator(record, windowStart, windowEnd)
			a.accumulators[accKey] = acc
		}

		if err := acc.AddEvent(record); err != nil {
			failed++
			a.logger.Warn("aggregate event", zap.Error(err), zap.String("pool", record.PoolID), zap.String("kind", record.Kind))
			return nil
		}

		if record.Timestamp > maxTs {
			maxTs = record.Timestamp
		}

		if len(batch) >= a.cfg.BatchSize {
			if err := a.store.UpsertWindowMetrics(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]

			if err := a.saveState(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, acc := range a.accumulators {
		batch = append(batch, a.flushAccumulator(acc))
		windows++
	}
	a.accumulators = make(map[string]*Accumulator)

	if len(batch) > 0 {
		if err := a.store.UpsertWindowMetrics(ctx, batch); err != nil {
			return err
		}
	}

	a.cfg.RecomputeFrom = maxTs
	if err := a.saveState(ctx); err != nil {
		return err
	}

	a.logger.Info("aggregate complete",
		zap.Int("total", total),
		zap.Int("windows", windows),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)

	return nil
}

func (a *Aggregator) selected(record model.EventRecord) bool {
	if len(a.filter) == 0 {
		return true
	}
	if _, ok := a.filter[poolKey(record.PoolID)]; ok {
		return true
	}
	_, ok := a.filter[poolKey(record.Pool)]
	return ok
}

func (a *Aggregator) loadStartTimestamp(ctx context.Context) (uint64, error) {
	if a.cfg.RecomputeFrom > 0 {
		return a.cfg.RecomputeFrom - 1, nil
	}
	if a.cfg.StateStore == nil {
		return 0, nil
	}
	last, ok, err := a.cfg.StateStore.Load(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return last, nil
}

func (a *Aggregator) saveState(ctx context.Context) error {
	if a.cfg.StateStore == nil {
		return nil
	}

	if len(a.accumulators) == 0 {
		return a.cfg.StateStore.Save(ctx, a.cfg.RecomputeFrom)
	}

	safeTs := minOpenWindowStart(a.accumulators)
	if safeTs > 0 {
		safeTs = safeTs - 1
	}
	if safeTs == 0 {
		safeTs = a.cfg.RecomputeFrom
	}
	return a.cfg.StateStore.Save(ctx, safeTs)
}

func (a *Aggregator) flushAccumulator(acc *Accumulator) model.PoolWindowMetrics {
	totalFee := sumValues(acc.Fees)

	var tvl *big.Int
	var tvlStr *string
	tvlMethod := tvlMethodNone
	if len(acc.LastReserves) > 0 {
		tvl = new(big.Int)
		for asset, raw := range acc.LastReserves {
			v, err := parseBigInt(raw)
			if err != nil {
				a.logger.Warn("reserve value", zap.String("pool", acc.PoolID), zap.String("asset", asset), zap.Error(err))
				tvl = nil
				break
			}
			tvl.Add(tvl, v)
		}
		if tvl != nil {
			val := formatTokenAmount(tvl, amountDecimals)
			tvlStr = &val
			tvlMethod = tvlMethodReserves
		}
	}

	feeRate := computeRateFromInt(totalFee, tvl)

	return model.PoolWindowMetrics{
		PoolID:         acc.PoolID,
		Label:          acc.Label,
		WindowSizeSecs: int64(a.cfg.WindowSeconds),
		WindowStart:    time.Unix(int64(acc.WindowStart), 0).UTC(),
		WindowEnd:      time.Unix(int64(acc.WindowEnd), 0).UTC(),
		SwapCount:      acc.SwapCount,
		SegmentedSwaps: acc.SegmentedSwaps,
		FailedSwaps:    acc.FailedSwaps,
		Volume:         formatAmounts(acc.Volume),
		Fees:           formatAmounts(acc.Fees),
		TotalFee:       formatTokenAmount(totalFee, amountDecimals),
		TVL:            tvlStr,
		FeeRate:        feeRate,
		APR:            computeAPR(feeRate, a.cfg.WindowSeconds),
		IsolatedAssets: acc.LastIsolated,
		TVLMethod:      tvlMethod,
	}
}

func windowStart(ts uint64, windowSec uint64) uint64 {
	return ts - (ts % windowSec)
}

func poolKey(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func minOpenWindowStart(acc map[string]*Accumulator) uint64 {
	var min uint64
	for _, entry := range acc {
		if entry == nil {
			continue
		}
		if min == 0 || entry.WindowStart < min {
			min = entry.WindowStart
		}
	}
	return min
}
