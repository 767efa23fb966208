package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"orbitalEngine/internal/orbital"
)

func main() {
	root := &cobra.Command{
		Use:          "orbital",
		Short:        "Multi-asset stablecoin AMM engine",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	addEngineFlags(root.PersistentFlags())

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay an operation log through the engine",
		RunE:  runReplay,
	}

	replayCmd.Flags().String("in", "", "input operations JSONL")
	replayCmd.Flags().String("out", "./data/events.jsonl", "output events JSONL")
	replayCmd.Flags().String("checkpoint", "./data/replay_checkpoint.json", "checkpoint file path")
	replayCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	replayCmd.Flags().Uint64("batch-size", 500, "operations per batch")
	replayCmd.Flags().String("skip-before", "", "suppress events before timestamp (unix seconds or RFC3339)")
	replayCmd.Flags().String("pg-dsn", "", "optional Postgres DSN for pool and position snapshots")
	replayCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(replayCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll Chainlink feeds and run depeg detection",
		RunE:  runWatch,
	}

	watchCmd.Flags().String("rpc", "", "RPC URL")
	watchCmd.Flags().String("feeds", "", "asset->aggregator mappings (comma-separated key=value)")
	watchCmd.Flags().String("pegs", "", "asset->peg overrides (comma-separated key=value)")
	watchCmd.Flags().Duration("interval", 30*time.Second, "poll interval")
	watchCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	watchCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	watchCmd.Flags().Int("concurrency", 4, "concurrent feed reads")
	watchCmd.Flags().Duration("max-price-age", 24*time.Hour, "drop feed answers older than this relative to the chain head (0 disables)")
	watchCmd.Flags().String("metrics-addr", ":9100", "prometheus listen address")
	watchCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(watchCmd)

	aggregateCmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Aggregate engine events into window metrics",
		RunE:  runAggregate,
	}

	aggregateCmd.Flags().String("in", "", "input events JSONL")
	aggregateCmd.Flags().String("window", "5m", "aggregation window (e.g. 1m, 5m, 1h)")
	aggregateCmd.Flags().StringSlice("pools", nil, "pool labels or ids to aggregate (comma-separated)")
	aggregateCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	aggregateCmd.Flags().Int("batch-size", 1000, "batch size for DB writes")
	aggregateCmd.Flags().String("state-file", "", "optional local state file for progress tracking")
	aggregateCmd.Flags().String("recompute-from", "", "recompute from timestamp (unix seconds or RFC3339)")
	aggregateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(aggregateCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addEngineFlags(flags *pflag.FlagSet) {
	def := orbital.DefaultConfig()
	flags.Uint32("max-fee-rate", def.MaxFeeRate, "maximum pool fee rate (1e6 = 100%)")
	flags.Int("max-positions", def.MaxPositions, "maximum active positions per pool")
	flags.Int("max-iterations", def.MaxIterations, "newton iteration cap")
	flags.Int("bisection-iterations", def.BisectionIterations, "bisection fallback iteration cap")
	flags.Int("max-segments", def.MaxSegments, "maximum boundary crossings per swap")
	flags.Float64("solver-tolerance", def.SolverTolerance, "relative solver tolerance")
	flags.Float64("invariant-tolerance", def.InvariantTolerance, "relative invariant drift tolerance")
	flags.Int64("depeg-threshold-bps", def.Depeg.DeviationThresholdBps, "deviation that starts the depeg timer")
	flags.Int64("recovery-threshold-bps", def.Depeg.RecoveryThresholdBps, "deviation required to restore")
	flags.Duration("depeg-time-threshold", def.Depeg.TimeThreshold, "sustained deviation before isolation")
	flags.Bool("auto-isolation", def.Depeg.AutoIsolation, "isolate assets automatically")
	flags.Duration("restore-cooldown", def.Depeg.RestoreCooldown, "minimum isolation time")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
