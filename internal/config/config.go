package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"orbitalEngine/internal/orbital"
)

const envPrefix = "ORBITAL"

// newViper merges config file, environment variables, and flags. defaults runs
// before flags are bound so flag defaults never shadow it.
func newViper(cfgFile string, flags *pflag.FlagSet, defaults func(v *viper.Viper)) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	setEngineDefaults(v)
	v.SetDefault("log-level", "info")
	if defaults != nil {
		defaults(v)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func setEngineDefaults(v *viper.Viper) {
	def := orbital.DefaultConfig()
	v.SetDefault("max-fee-rate", def.MaxFeeRate)
	v.SetDefault("max-positions", def.MaxPositions)
	v.SetDefault("max-iterations", def.MaxIterations)
	v.SetDefault("bisection-iterations", def.BisectionIterations)
	v.SetDefault("max-segments", def.MaxSegments)
	v.SetDefault("solver-tolerance", def.SolverTolerance)
	v.SetDefault("invariant-tolerance", def.InvariantTolerance)
	v.SetDefault("depeg-threshold-bps", def.Depeg.DeviationThresholdBps)
	v.SetDefault("recovery-threshold-bps", def.Depeg.RecoveryThresholdBps)
	v.SetDefault("depeg-time-threshold", def.Depeg.TimeThreshold)
	v.SetDefault("auto-isolation", def.Depeg.AutoIsolation)
	v.SetDefault("restore-cooldown", def.Depeg.RestoreCooldown)
}

func engineConfig(v *viper.Viper) orbital.Config {
	return orbital.Config{
		MaxFeeRate:          v.GetUint32("max-fee-rate"),
		MaxPositions:        v.GetInt("max-positions"),
		MaxIterations:       v.GetInt("max-iterations"),
		BisectionIterations: v.GetInt("bisection-iterations"),
		MaxSegments:         v.GetInt("max-segments"),
		SolverTolerance:     v.GetFloat64("solver-tolerance"),
		InvariantTolerance:  v.GetFloat64("invariant-tolerance"),
		Depeg: orbital.DepegConfig{
			DeviationThresholdBps: v.GetInt64("depeg-threshold-bps"),
			RecoveryThresholdBps:  v.GetInt64("recovery-threshold-bps"),
			TimeThreshold:         v.GetDuration("depeg-time-threshold"),
			AutoIsolation:         v.GetBool("auto-isolation"),
			RestoreCooldown:       v.GetDuration("restore-cooldown"),
		},
	}
}

// LoadEngine returns only the engine parameters.
func LoadEngine(cfgFile string, flags *pflag.FlagSet) (orbital.Config, error) {
	v, err := newViper(cfgFile, flags, nil)
	if err != nil {
		return orbital.Config{}, err
	}
	return engineConfig(v), nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}

func getStringMap(v *viper.Viper, key string) map[string]string {
	if !v.IsSet(key) {
		return map[string]string{}
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case map[string]string:
		return typed
	case map[string]interface{}:
		out := make(map[string]string, len(typed))
		for k, v := range typed {
			out[k] = fmt.Sprintf("%v", v)
		}
		return out
	case string:
		return parseStringMap(typed)
	case []string:
		return parseStringMap(strings.Join(typed, ","))
	default:
		return map[string]string{}
	}
}

func parseStringMap(input string) map[string]string {
	out := make(map[string]string)
	if strings.TrimSpace(input) == "" {
		return out
	}
	pairs := strings.Split(input, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}
