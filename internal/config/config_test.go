package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Detector.MinProfitPct != 0.5 {
		t.Fatalf("min_profit_pct: got %v, want 0.5", cfg.Detector.MinProfitPct)
	}
	if cfg.Detector.Interval.Duration != 5*time.Second {
		t.Fatalf("detector interval: got %v", cfg.Detector.Interval.Duration)
	}
	if cfg.OpLog.Capacity != 100 {
		t.Fatalf("oplog capacity: got %d", cfg.OpLog.Capacity)
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Detector.MaxCycleLength = 2
	cfg.OpLog.Policy = "random"
	cfg.Stream.Jitter = 2

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"unknown mode", "max_cycle_length", "unknown policy", "jitter"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestValidateTriangularNeedsLengthThree(t *testing.T) {
	cfg := Defaults()
	cfg.Detector.Strategy = "triangular"
	cfg.Detector.MaxCycleLength = 4
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for triangular with max_cycle_length 4")
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "triarb.toml")
	body := `
mode = "detect"

[binance]
symbols = ["btcusdt", "ethusdt", "ethbtc", "BTCUSDT"]

[detector]
min_profit_pct = 0.25
interval = "2s"

[oplog]
policy = "LOWEST_PROFIT"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TRIARB_DETECTOR_MAX_CYCLE_LENGTH", "4")
	t.Setenv("TRIARB_REDIS_PASSWORD", "hunter2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != "detect" {
		t.Fatalf("mode: got %q", cfg.Mode)
	}
	if got := strings.Join(cfg.Binance.Symbols, ","); got != "BTCUSDT,ETHUSDT,ETHBTC" {
		t.Fatalf("symbols: got %s", got)
	}
	if cfg.Detector.MinProfitPct != 0.25 || cfg.Detector.Interval.Duration != 2*time.Second {
		t.Fatalf("detector: got %+v", cfg.Detector)
	}
	if cfg.Detector.MaxCycleLength != 4 {
		t.Fatalf("env override not applied: %d", cfg.Detector.MaxCycleLength)
	}
	if cfg.OpLog.Policy != "lowest_profit" {
		t.Fatalf("policy: got %q", cfg.OpLog.Policy)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	red := RedactedConfig(cfg)
	if red.Redis.Password != "***" {
		t.Fatalf("redis password not redacted: %q", red.Redis.Password)
	}
	if cfg.Redis.Password != "hunter2" {
		t.Fatal("redaction mutated the original config")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
