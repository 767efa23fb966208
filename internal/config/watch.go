package config

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"orbitalEngine/internal/orbital"
)

// WatchConfig holds configuration for the watch command.
type WatchConfig struct {
	Engine       orbital.Config
	RPCURL       string
	Feeds        map[string]string
	Pegs         map[string]string
	Interval     time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	Concurrency  int
	MaxPriceAge  time.Duration
	MetricsAddr  string
	LogLevel     string
}

// LoadWatch merges config file, environment variables, and flags into WatchConfig.
func LoadWatch(cfgFile string, flags *pflag.FlagSet) (WatchConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("interval", 30*time.Second)
		v.SetDefault("max-retries", 5)
		v.SetDefault("retry-backoff", 500*time.Millisecond)
		v.SetDefault("concurrency", 4)
		v.SetDefault("max-price-age", 24*time.Hour)
		v.SetDefault("metrics-addr", ":9100")
	})
	if err != nil {
		return WatchConfig{}, err
	}

	return WatchConfig{
		Engine:       engineConfig(v),
		RPCURL:       v.GetString("rpc"),
		Feeds:        getStringMap(v, "feeds"),
		Pegs:         getStringMap(v, "pegs"),
		Interval:     v.GetDuration("interval"),
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),
		Concurrency:  v.GetInt("concurrency"),
		MaxPriceAge:  v.GetDuration("max-price-age"),
		MetricsAddr:  v.GetString("metrics-addr"),
		LogLevel:     v.GetString("log-level"),
	}, nil
}
