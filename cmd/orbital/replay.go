package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"orbitalEngine/internal/config"
	"orbitalEngine/internal/metrics"
	"orbitalEngine/internal/orbital"
	"orbitalEngine/internal/replay"
	"orbitalEngine/internal/storage"
	"orbitalEngine/internal/storage/postgres"
)

func runReplay(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadReplay(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.In == "" {
		return fmt.Errorf("input path is required")
	}

	skipBefore, err := config.ParseTimestamp(cfg.SkipBefore)
	if err != nil {
		return fmt.Errorf("parse skip-before: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := replay.NewClock()
	engine := orbital.NewManager(cfg.Engine, logger, orbital.WithClock(clock.Now))
	engineMetrics := metrics.NewMetrics(prometheus.NewRegistry())
	engine.Monitor().Subscribe(engineMetrics.ObserveTransition)

	runCfg := replay.RunConfig{
		BatchSize:         cfg.BatchSize,
		CheckpointPath:    cfg.Checkpoint,
		CheckpointEnabled: cfg.CheckpointEnabled,
		SkipBefore:        skipBefore,
		Observer:          engineMetrics,
	}

	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		runCfg.Snapshots = store
	}

	runner := replay.NewRunner(runCfg, engine, clock, storage.NewJsonlStorage(cfg.Out), logger)

	logger.Info("replay start",
		zap.String("in", cfg.In),
		zap.String("out", cfg.Out),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
		zap.String("checkpoint", cfg.Checkpoint),
		zap.Uint64("skip_before", skipBefore),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
	)

	return runner.Run(ctx, cfg.In)
}
