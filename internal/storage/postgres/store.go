package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"orbitalEngine/internal/model"
)

// Store provides Postgres persistence for pool snapshots and metrics.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// UpsertPools inserts or updates pool snapshots.
func (s *Store) UpsertPools(ctx context.Context, pools []model.Pool) error {
	if len(pools) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, pool := range pools {
		reserves, err := jsonText(pool.Reserves)
		if err != nil {
			return err
		}
		fees, err := jsonText(pool.Fees)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO pools (
				pool_id, label, assets, amplification, fee_rate, active, halted,
				total_lp_supply, sum_reserves, reserves, fees, isolated, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::text::numeric, $9::text::numeric, $10::text::jsonb, $11::text::jsonb, $12, $13, now())
			ON CONFLICT (pool_id)
			DO UPDATE SET
				label = EXCLUDED.label,
				amplification = EXCLUDED.amplification,
				fee_rate = EXCLUDED.fee_rate,
				active = EXCLUDED.active,
				halted = EXCLUDED.halted,
				total_lp_supply = EXCLUDED.total_lp_supply,
				sum_reserves = EXCLUDED.sum_reserves,
				reserves = EXCLUDED.reserves,
				fees = EXCLUDED.fees,
				isolated = EXCLUDED.isolated,
				updated_at = now()
		`,
			pool.PoolID,
			pool.Label,
			pool.Assets,
			int64(pool.Amplification),
			int64(pool.FeeRate),
			pool.Active,
			pool.Halted,
			pool.TotalLpSupply,
			pool.SumReserves,
			reserves,
			fees,
			nonNil(pool.Isolated),
			pool.CreatedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range pools {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// UpsertPositions inserts or updates one row per (pool, provider).
func (s *Store) UpsertPositions(ctx context.Context, positions []model.Position) error {
	if len(positions) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, pos := range positions {
		deposits, err := jsonText(pos.Deposits)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO positions (
				pool_id, provider, lp_tokens, deposits, radius, plane_constant, is_interior, active, updated_at
			) VALUES ($1, $2, $3::text::numeric, $4::text::jsonb, $5::text::numeric, $6::text::numeric, $7, $8, $9)
			ON CONFLICT (pool_id, provider)
			DO UPDATE SET
				lp_tokens = EXCLUDED.lp_tokens,
				deposits = EXCLUDED.deposits,
				radius = EXCLUDED.radius,
				plane_constant = EXCLUDED.plane_constant,
				is_interior = EXCLUDED.is_interior,
				active = EXCLUDED.active,
				updated_at = EXCLUDED.updated_at
		`,
			pos.PoolID,
			pos.Provider,
			pos.LpTokens,
			deposits,
			pos.Radius,
			pos.PlaneConstant,
			pos.IsInterior,
			pos.Active,
			pos.UpdatedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range positions {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// UpsertWindowMetrics inserts or updates window metrics.
func (s *Store) UpsertWindowMetrics(ctx context.Context, metrics []model.PoolWindowMetrics) error {
	if len(metrics) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range metrics {
		volume, err := jsonText(m.Volume)
		if err != nil {
			return err
		}
		fees, err := jsonText(m.Fees)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO pool_window_metrics (
				pool_id, label, window_size_seconds, window_start_ts, window_end_ts,
				swap_count, segmented_swaps, failed_swaps, volume, fees, total_fee,
				tvl, fee_rate, apr, isolated_assets, tvl_method, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9::text::jsonb,$10::text::jsonb,$11,$12,$13,$14,$15,$16,now(),now())
			ON CONFLICT (pool_id, window_size_seconds, window_start_ts)
			DO UPDATE SET
				window_end_ts = EXCLUDED.window_end_ts,
				swap_count = EXCLUDED.swap_count,
				segmented_swaps = EXCLUDED.segmented_swaps,
				failed_swaps = EXCLUDED.failed_swaps,
				volume = EXCLUDED.volume,
				fees = EXCLUDED.fees,
				total_fee = EXCLUDED.total_fee,
				tvl = EXCLUDED.tvl,
				fee_rate = EXCLUDED.fee_rate,
				apr = EXCLUDED.apr,
				isolated_assets = EXCLUDED.isolated_assets,
				tvl_method = EXCLUDED.tvl_method,
				updated_at = now()
		`,
			m.PoolID,
			m.Label,
			m.WindowSizeSecs,
			m.WindowStart,
			m.WindowEnd,
			int64(m.SwapCount),
			int64(m.SegmentedSwaps),
			int64(m.FailedSwaps),
			volume,
			fees,
			m.TotalFee,
			m.TVL,
			m.FeeRate,
			m.APR,
			m.IsolatedAssets,
			m.TVLMethod,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range metrics {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadState returns last_processed for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var last int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed FROM engine_state WHERE name=$1`, name)
	if err := row.Scan(&last); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(last), true, nil
}

// SaveState upserts last_processed for a name.
func (s *Store) SaveState(ctx context.Context, name string, last uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO engine_state (name, last_processed, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed = EXCLUDED.last_processed, updated_at = now()
	`, name, int64(last))
	return err
}

func jsonText(v map[string]string) (string, error) {
	if v == nil {
		return "{}", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal json column: %w", err)
	}
	return string(data), nil
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
