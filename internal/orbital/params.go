package orbital

import "time"

const (
	// FeeDenominator is the fee rate unit: 3000 means 0.3%.
	FeeDenominator = 1_000_000

	// DefaultMaxFeeRate caps the fee rate at 10%.
	DefaultMaxFeeRate uint32 = 100_000

	// DefaultMaxPositions is the per-pool ceiling on active positions.
	DefaultMaxPositions = 1000

	// DefaultRestoreCooldown is the minimum time an asset stays isolated.
	DefaultRestoreCooldown = time.Hour
)

// Config holds engine parameters shared by all pools of a Manager.
type Config struct {
	MaxFeeRate          uint32
	MaxPositions        int
	MaxIterations       int
	BisectionIterations int
	MaxSegments         int
	SolverTolerance     float64
	InvariantTolerance  float64
	Depeg               DepegConfig
}

// DepegConfig controls the isolation state machine.
type DepegConfig struct {
	DeviationThresholdBps int64
	RecoveryThresholdBps  int64
	TimeThreshold         time.Duration
	AutoIsolation         bool
	RestoreCooldown       time.Duration
}

// DefaultConfig returns the production parameter set.
func DefaultConfig() Config {
	return Config{
		MaxFeeRate:          DefaultMaxFeeRate,
		MaxPositions:        DefaultMaxPositions,
		MaxIterations:       10,
		BisectionIterations: 256,
		MaxSegments:         16,
		SolverTolerance:     1e-12,
		InvariantTolerance:  1e-9,
		Depeg:               DefaultDepegConfig(),
	}
}

// DefaultDepegConfig returns the default isolation thresholds.
func DefaultDepegConfig() DepegConfig {
	return DepegConfig{
		DeviationThresholdBps: 100,
		RecoveryThresholdBps:  50,
		TimeThreshold:         5 * time.Minute,
		AutoIsolation:         true,
		RestoreCooldown:       DefaultRestoreCooldown,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxFeeRate == 0 {
		c.MaxFeeRate = def.MaxFeeRate
	}
	if c.MaxPositions <= 0 {
		c.MaxPositions = def.MaxPositions
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = def.MaxIterations
	}
	if c.BisectionIterations <= 0 {
		c.BisectionIterations = def.BisectionIterations
	}
	if c.MaxSegments <= 0 {
		c.MaxSegments = def.MaxSegments
	}
	if c.SolverTolerance <= 0 {
		c.SolverTolerance = def.SolverTolerance
	}
	if c.InvariantTolerance <= 0 {
		c.InvariantTolerance = def.InvariantTolerance
	}
	c.Depeg = c.Depeg.withDefaults()
	return c
}

func (c DepegConfig) withDefaults() DepegConfig {
	def := DefaultDepegConfig()
	if c.DeviationThresholdBps <= 0 {
		c.DeviationThresholdBps = def.DeviationThresholdBps
	}
	if c.RecoveryThresholdBps <= 0 {
		c.RecoveryThresholdBps = def.RecoveryThresholdBps
	}
	if c.TimeThreshold <= 0 {
		c.TimeThreshold = def.TimeThreshold
	}
	if c.RestoreCooldown <= 0 {
		c.RestoreCooldown = def.RestoreCooldown
	}
	return c
}
