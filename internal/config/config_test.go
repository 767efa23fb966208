package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"orbitalEngine/internal/orbital"
)

func TestLoadEngineDefaults(t *testing.T) {

	cfg, err := LoadEngine("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(cfg, orbital.DefaultConfig()) {
		t.Fatalf("defaults mismatch: %+v", cfg)
	}
}

func TestLoadReplayPrecedence(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "orbital.yaml")
	content := "in: ./ops.jsonl\nbatch-size: 50\nmax-segments: 4\ndepeg-time-threshold: 2m\n"
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ORBITAL_MAX_SEGMENTS", "8")
	t.Setenv("ORBITAL_AUTO_ISOLATION", "false")

	flags := pflag.NewFlagSet("replay", pflag.ContinueOnError)
	flags.Uint64("batch-size", 500, "")
	flags.String("skip-before", "", "")
	if err := flags.Parse([]string{"--skip-before=1700000000"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := LoadReplay(cfgFile, flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.In != "./ops.jsonl" {
		t.Fatalf("in mismatch: %s", cfg.In)
	}
	if cfg.BatchSize != 50 {
		t.Fatalf("config file should beat flag default, got %d", cfg.BatchSize)
	}
	if cfg.SkipBefore != "1700000000" {
		t.Fatalf("skip-before mismatch: %s", cfg.SkipBefore)
	}
	if cfg.Engine.MaxSegments != 8 {
		t.Fatalf("env should beat config file, got %d", cfg.Engine.MaxSegments)
	}
	if cfg.Engine.Depeg.AutoIsolation {
		t.Fatalf("auto isolation should be disabled by env")
	}
	if cfg.Engine.Depeg.TimeThreshold != 2*time.Minute {
		t.Fatalf("time threshold mismatch: %s", cfg.Engine.Depeg.TimeThreshold)
	}
	if !cfg.CheckpointEnabled || cfg.Out != "./data/events.jsonl" {
		t.Fatalf("defaults mismatch: %+v", cfg)
	}
}

func TestLoadWatchFeedMap(t *testing.T) {
	t.Setenv("ORBITAL_FEEDS", "0xaa=0x01, 0xbb=0x02,broken")

	cfg, err := LoadWatch("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := map[string]string{"0xaa": "0x01", "0xbb": "0x02"}
	if !reflect.DeepEqual(cfg.Feeds, want) {
		t.Fatalf("feeds mismatch: %v", cfg.Feeds)
	}
	if cfg.Interval != 30*time.Second || cfg.Concurrency != 4 || cfg.MaxPriceAge != 24*time.Hour {
		t.Fatalf("defaults mismatch: %+v", cfg)
	}
}

func TestParseTimestamp(t *testing.T) {
	got, err := ParseTimestamp("1700000000")
	if err != nil || got != 1700000000 {
		t.Fatalf("unix: %d %v", got, err)
	}
	got, err = ParseTimestamp("2024-01-01T00:00:00Z")
	if err != nil || got != 1704067200 {
		t.Fatalf("rfc3339: %d %v", got, err)
	}
	got, err = ParseTimestamp("  ")
	if err != nil || got != 0 {
		t.Fatalf("blank: %d %v", got, err)
	}
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Fatalf("expected error for bad timestamp")
	}
}
