package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"orbitalEngine/internal/model"
	"orbitalEngine/internal/orbital"
	"orbitalEngine/internal/storage"
)

// SnapshotStore receives pool and position snapshots after each batch.
type SnapshotStore interface {
	UpsertPools(ctx context.Context, pools []model.Pool) error
	UpsertPositions(ctx context.Context, positions []model.Position) error
}

// Observer is notified of every applied operation.
type Observer interface {
	ObserveOperation(kind, status string)
	ObserveSwap(res *orbital.SwapResult, err error)
	ObserveLiquidity(kind string, err error)
}

// RunConfig holds runtime settings for a replay.
type RunConfig struct {
	BatchSize         uint64
	CheckpointPath    string
	CheckpointEnabled bool
	// SkipBefore suppresses events for operations older than this unix timestamp.
	// Those operations still run so later ones see the same state.
	SkipBefore uint64
	Snapshots  SnapshotStore
	Observer   Observer
}

// Runner applies an operation log to an engine and writes one event per operation.
type Runner struct {
	cfg        RunConfig
	engine     *orbital.Manager
	clock      *Clock
	storage    storage.Storage
	logger     *zap.Logger
	checkpoint *CheckpointStore

	pools   map[string]orbital.PoolID
	labels  map[orbital.PoolID]string
	pending []orbital.Transition
}

// NewRunner builds a Runner. engine must have been created with clock.Now.
func NewRunner(cfg RunConfig, engine *orbital.Manager, clock *Clock, storageSink storage.Storage, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		cfg:        cfg,
		engine:     engine,
		clock:      clock,
		storage:    storageSink,
		logger:     logger,
		checkpoint: NewCheckpointStore(cfg.CheckpointPath, cfg.CheckpointEnabled),
		pools:      make(map[string]orbital.PoolID),
		labels:     make(map[orbital.PoolID]string),
	}
	if engine != nil {
		engine.Monitor().Subscribe(func(t orbital.Transition) {
			r.pending = append(r.pending, t)
		})
	}
	return r
}

// PoolID resolves a pool label seen during the replay.
func (r *Runner) PoolID(label string) (orbital.PoolID, bool) {
	id, ok := r.pools[label]
	return id, ok
}

// Run replays the operation log at inputPath.
func (r *Runner) Run(ctx context.Context, inputPath string) error {
	if r.engine == nil {
		return fmt.Errorf("engine is nil")
	}
	if r.storage == nil {
		return fmt.Errorf("storage is nil")
	}
	if r.clock == nil {
		return fmt.Errorf("clock is nil")
	}
	if r.cfg.BatchSize == 0 {
		return fmt.Errorf("batch size must be greater than zero")
	}

	ops, err := loadOperations(inputPath)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		r.logger.Info("nothing to replay", zap.String("input", inputPath))
		return nil
	}

	var resumeAfter uint64
	cp, ok, err := r.checkpoint.Load()
	if err != nil {
		return err
	}
	if ok {
		resumeAfter = cp.LastAppliedSeq
		r.logger.Info("resume from checkpoint", zap.Uint64("last_applied", resumeAfter))
	}

	ranges, err := SplitRange(0, uint64(len(ops)-1), r.cfg.BatchSize)
	if err != nil {
		return err
	}

	var emitted, silent, failed int
	for _, batch := range ranges {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		records := make([]model.EventRecord, 0, batch.To-batch.From+1)
		touched := make(map[orbital.PoolID]struct{})
		var last uint64
		for i := batch.From; i <= batch.To; i++ {
			op := ops[i]
			rec := r.apply(op)
			last = op.Seq
			if rec.PoolID != "" {
				if id, ok := r.pools[rec.Pool]; ok {
					touched[id] = struct{}{}
				}
			}
			if len(rec.Transitions) > 0 {
				for _, id := range r.pools {
					touched[id] = struct{}{}
				}
			}
			if op.Seq <= resumeAfter || (r.cfg.SkipBefore > 0 && op.Timestamp < r.cfg.SkipBefore) {
				silent++
				continue
			}
			if rec.Status == model.StatusFailed {
				failed++
			}
			records = append(records, rec)
		}

		if err := r.storage.PutEventBatch(records); err != nil {
			return fmt.Errorf("store events: %w", err)
		}
		emitted += len(records)

		if err := r.snapshot(ctx, touched); err != nil {
			return fmt.Errorf("store snapshots: %w", err)
		}

		if last > resumeAfter {
			if err := r.checkpoint.Save(last); err != nil {
				return err
			}
		}

		r.logger.Info("batch complete",
			zap.Int("events", len(records)),
			zap.Uint64("from_seq", ops[batch.From].Seq),
			zap.Uint64("to_seq", last),
		)
	}

	r.logger.Info("replay complete",
		zap.Int("operations", len(ops)),
		zap.Int("emitted", emitted),
		zap.Int("silent", silent),
		zap.Int("failed", failed),
		zap.Int("pools", len(r.pools)),
	)
	return nil
}

func loadOperations(path string) ([]model.Operation, error) {
	var ops []model.Operation
	err := storage.ScanLines(path, func(lineNo int, line []byte) error {
		var op model.Operation
		if err := json.Unmarshal(line, &op); err != nil {
			return fmt.Errorf("decode operation line %d: %w", lineNo, err)
		}
		if op.Seq == 0 {
			op.Seq = uint64(len(ops) + 1)
		}
		if n := len(ops); n > 0 && op.Seq <= ops[n-1].Seq {
			return fmt.Errorf("operation line %d: seq %d not above %d", lineNo, op.Seq, ops[n-1].Seq)
		}
		ops = append(ops, op)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ops, nil
}

// apply runs one operation and describes its outcome. Engine rejections are part of
// the record, not replay failures.
func (r *Runner) apply(op model.Operation) model.EventRecord {
	r.clock.Set(op.Timestamp)
	r.pending = r.pending[:0]

	rec := model.EventRecord{
		Seq:       op.Seq,
		Timestamp: op.Timestamp,
		Kind:      op.Kind,
		Pool:      op.Pool,
		Status:    model.StatusOK,
	}

	var err error
	switch op.Kind {
	case model.OpCreatePool:
		err = r.createPool(op, &rec)
	case model.OpAddLiquidity:
		err = r.addLiquidity(op, &rec)
	case model.OpBatchAddLiquidity:
		err = r.batchAddLiquidity(op, &rec)
	case model.OpRemoveLiquidity:
		err = r.removeLiquidity(op, &rec)
	case model.OpSwap:
		err = r.swap(op, &rec)
	case model.OpReportPrice:
		err = r.reportPrice(op)
	case model.OpRestoreAsset:
		err = r.restoreAsset(op, &rec)
	case model.OpEmergencyIsolate:
		err = r.emergencyIsolate(op)
	case model.OpSetAmplification:
		err = r.withPool(op, &rec, func(id orbital.PoolID) error {
			return r.engine.SetAmplification(id, op.Amplification)
		})
	case model.OpSetFeeRate:
		err = r.withPool(op, &rec, func(id orbital.PoolID) error {
			return r.engine.SetFeeRate(id, op.FeeRate)
		})
	default:
		err = fmt.Errorf("%w: unknown operation kind %q", orbital.ErrValidation, op.Kind)
	}

	if err != nil {
		rec.Status = model.StatusFailed
		rec.Error = err.Error()
		rec.ErrorClass = orbital.ErrorClass(err)
		r.logger.Debug("operation rejected", zap.Uint64("seq", op.Seq), zap.String("kind", op.Kind), zap.Error(err))
	}
	if id, ok := r.pools[op.Pool]; ok && rec.PoolID != "" {
		if st, err := r.engine.GetPoolState(id); err == nil {
			rec.Reserves = amountStrings(st.Reserves)
			rec.Isolated = addressStrings(st.Isolated)
			rec.FeeRate = st.FeeRate
		}
	}
	rec.Transitions = buildTransitions(r.pending)

	if r.cfg.Observer != nil {
		r.cfg.Observer.ObserveOperation(op.Kind, rec.Status)
	}
	return rec
}

func (r *Runner) lookup(label string) (orbital.PoolID, error) {
	id, ok := r.pools[label]
	if !ok {
		return orbital.PoolID{}, fmt.Errorf("%w: label %q", orbital.ErrPoolNotFound, label)
	}
	return id, nil
}

func (r *Runner) withPool(op model.Operation, rec *model.EventRecord, fn func(orbital.PoolID) error) error {
	id, err := r.lookup(op.Pool)
	if err != nil {
		return err
	}
	rec.PoolID = id.String()
	return fn(id)
}

func (r *Runner) createPool(op model.Operation, rec *model.EventRecord) error {
	if op.Pool == "" {
		return fmt.Errorf("%w: create_pool needs a pool label", orbital.ErrValidation)
	}
	if _, exists := r.pools[op.Pool]; exists {
		return fmt.Errorf("%w: pool label %q already used", orbital.ErrValidation, op.Pool)
	}
	assets, err := ParseAddresses(op.Assets)
	if err != nil {
		return err
	}
	id, err := r.engine.CreatePool(assets, op.Amplification, op.FeeRate)
	if err != nil {
		return err
	}
	r.pools[op.Pool] = id
	r.labels[id] = op.Pool
	rec.PoolID = id.String()
	return nil
}

func parseDeposit(provider string, amounts map[string]string, minShares string) (orbital.Deposit, error) {
	who, err := parseAddress(provider)
	if err != nil {
		return orbital.Deposit{}, err
	}
	parsed, err := parseAmounts(amounts)
	if err != nil {
		return orbital.Deposit{}, err
	}
	min, err := parseOptionalAmount(minShares)
	if err != nil {
		return orbital.Deposit{}, err
	}
	return orbital.Deposit{Provider: who, Amounts: parsed, MinShares: min}, nil
}

func (r *Runner) addLiquidity(op model.Operation, rec *model.EventRecord) error {
	err := r.withPool(op, rec, func(id orbital.PoolID) error {
		d, err := parseDeposit(op.Provider, op.Amounts, op.MinShares)
		if err != nil {
			return err
		}
		rec.Provider = d.Provider.Hex()
		shares, err := r.engine.AddLiquidity(id, d)
		if err != nil {
			return err
		}
		rec.Shares = []string{shares.Dec()}
		return nil
	})
	r.observeLiquidity("add", err)
	return err
}

func (r *Runner) batchAddLiquidity(op model.Operation, rec *model.EventRecord) error {
	err := r.withPool(op, rec, func(id orbital.PoolID) error {
		deposits := make([]orbital.Deposit, 0, len(op.Deposits))
		for i, d := range op.Deposits {
			parsed, err := parseDeposit(d.Provider, d.Amounts, d.MinShares)
			if err != nil {
				return fmt.Errorf("deposit %d: %w", i, err)
			}
			deposits = append(deposits, parsed)
		}
		shares, err := r.engine.BatchAddLiquidity(id, deposits)
		if err != nil {
			return err
		}
		rec.Shares = shareStrings(shares)
		return nil
	})
	r.observeLiquidity("batch_add", err)
	return err
}

func (r *Runner) removeLiquidity(op model.Operation, rec *model.EventRecord) error {
	err := r.withPool(op, rec, func(id orbital.PoolID) error {
		who, err := parseAddress(op.Provider)
		if err != nil {
			return err
		}
		rec.Provider = who.Hex()
		shares, err := parseAmount(op.Shares)
		if err != nil {
			return err
		}
		out, err := r.engine.RemoveLiquidity(id, who, shares)
		if err != nil {
			return err
		}
		rec.Shares = []string{shares.Dec()}
		rec.Withdrawn = amountStrings(out)
		return nil
	})
	r.observeLiquidity("remove", err)
	return err
}

func (r *Runner) swap(op model.Operation, rec *model.EventRecord) error {
	var res *orbital.SwapResult
	err := r.withPool(op, rec, func(id orbital.PoolID) error {
		in, err := parseAddress(op.AssetIn)
		if err != nil {
			return err
		}
		out, err := parseAddress(op.AssetOut)
		if err != nil {
			return err
		}
		rec.AssetIn, rec.AssetOut = in.Hex(), out.Hex()
		amount, err := parseAmount(op.AmountIn)
		if err != nil {
			return err
		}
		rec.AmountIn = amount.Dec()
		minOut, err := parseOptionalAmount(op.MinAmountOut)
		if err != nil {
			return err
		}
		res, err = r.engine.Swap(id, orbital.SwapRequest{AssetIn: in, AssetOut: out, AmountIn: amount, MinAmountOut: minOut})
		return err
	})
	if r.cfg.Observer != nil {
		r.cfg.Observer.ObserveSwap(res, err)
	}
	if err != nil {
		return err
	}
	rec.AmountOut = res.AmountOut.Dec()
	rec.Fee = res.Fee.Dec()
	rec.Legs = buildSwapLegs(res.Legs)
	return nil
}

func (r *Runner) reportPrice(op model.Operation) error {
	if len(op.Prices) == 0 {
		return fmt.Errorf("%w: report_price needs prices", orbital.ErrValidation)
	}
	keys := make([]string, 0, len(op.Prices))
	for key := range op.Prices {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	assets := make([]common.Address, 0, len(keys))
	prices := make([]decimal.Decimal, 0, len(keys))
	for _, key := range keys {
		asset, err := parseAddress(key)
		if err != nil {
			return err
		}
		price, err := parsePrice(op.Prices[key])
		if err != nil {
			return err
		}
		assets = append(assets, asset)
		prices = append(prices, price)
	}
	if len(assets) == 1 {
		return r.engine.ReportPrice(assets[0], prices[0])
	}
	return r.engine.BatchReportPrice(assets, prices)
}

func (r *Runner) restoreAsset(op model.Operation, rec *model.EventRecord) error {
	return r.withPool(op, rec, func(id orbital.PoolID) error {
		asset, err := parseAddress(op.Asset)
		if err != nil {
			return err
		}
		return r.engine.RestoreAsset(id, asset)
	})
}

func (r *Runner) emergencyIsolate(op model.Operation) error {
	asset, err := parseAddress(op.Asset)
	if err != nil {
		return err
	}
	return r.engine.EmergencyIsolate(asset)
}

func (r *Runner) observeLiquidity(kind string, err error) {
	if r.cfg.Observer != nil {
		r.cfg.Observer.ObserveLiquidity(kind, err)
	}
}

func (r *Runner) snapshot(ctx context.Context, touched map[orbital.PoolID]struct{}) error {
	if r.cfg.Snapshots == nil || len(touched) == 0 {
		return nil
	}
	ids := make([]orbital.PoolID, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	pools := make([]model.Pool, 0, len(ids))
	var positions []model.Position
	for _, id := range ids {
		st, err := r.engine.GetPoolState(id)
		if err != nil {
			return err
		}
		pools = append(pools, buildPoolRecord(r.labels[id], st))
		list, err := r.engine.Positions(id)
		if err != nil {
			return err
		}
		positions = append(positions, buildPositionRecords(id, list)...)
	}

	if err := r.cfg.Snapshots.UpsertPools(ctx, pools); err != nil {
		return err
	}
	return r.cfg.Snapshots.UpsertPositions(ctx, positions)
}
