package config

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"orbitalEngine/internal/orbital"
)

// ReplayConfig holds configuration for the replay command.
type ReplayConfig struct {
	Engine            orbital.Config
	In                string
	Out               string
	Checkpoint        string
	CheckpointEnabled bool
	BatchSize         uint64
	SkipBefore        string
	PGDSN             string
	LogLevel          string
}

// LoadReplay merges config file, environment variables, and flags into ReplayConfig.
func LoadReplay(cfgFile string, flags *pflag.FlagSet) (ReplayConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("out", "./data/events.jsonl")
		v.SetDefault("checkpoint", "./data/replay_checkpoint.json")
		v.SetDefault("checkpoint-enabled", true)
		v.SetDefault("batch-size", uint64(500))
	})
	if err != nil {
		return ReplayConfig{}, err
	}

	return ReplayConfig{
		Engine:            engineConfig(v),
		In:                v.GetString("in"),
		Out:               v.GetString("out"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		BatchSize:         v.GetUint64("batch-size"),
		SkipBefore:        v.GetString("skip-before"),
		PGDSN:             v.GetString("pg-dsn"),
		LogLevel:          v.GetString("log-level"),
	}, nil
}
