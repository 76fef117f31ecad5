package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestApplyDefaults(t *testing.T) {
	c := &Config{Mode: "BACKTEST", Underlying: "NIFTY"}
	c.ApplyDefaults()

	if c.LotSize != 75 || c.Lots != 1 {
		t.Errorf("lot defaults = %d/%d, want 75/1", c.LotSize, c.Lots)
	}
	if c.Signals.OverlapPolicy != "skip" || len(c.Signals.Enabled) != 8 {
		t.Errorf("signal defaults = %s/%d", c.Signals.OverlapPolicy, len(c.Signals.Enabled))
	}
	if c.Hedge.OnUnavailable != "open_unhedged" {
		t.Errorf("backtest hedge fallback = %s, want open_unhedged", c.Hedge.OnUnavailable)
	}
	if c.StopLoss.SquareOffTime != "15:15" {
		t.Errorf("square off = %s, want 15:15", c.StopLoss.SquareOffTime)
	}

	live := &Config{Mode: "LIVE", Underlying: "NIFTY"}
	live.ApplyDefaults()
	if live.Hedge.OnUnavailable != "reject" {
		t.Errorf("live hedge fallback = %s, want reject", live.Hedge.OnUnavailable)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Mode = "PAPER" }},
		{"empty underlying", func(c *Config) { c.Underlying = "" }},
		{"zero lots", func(c *Config) { c.Lots = 0 }},
		{"bad overlap policy", func(c *Config) { c.Signals.OverlapPolicy = "merge" }},
		{"bad hedge mode", func(c *Config) { c.Hedge.Mode = "DELTA" }},
		{"ratio out of range", func(c *Config) { c.Hedge.Mode = "RATIO"; c.Hedge.PremiumRatio = 1.5 }},
		{"bad half factor", func(c *Config) { c.StopLoss.HalfFactor = 2 }},
		{"bad attribution policy", func(c *Config) { c.Attribution.Policy = "majority" }},
		{"bad apply", func(c *Config) { c.Attribution.Apply = "force" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{Mode: "BACKTEST", Underlying: "NIFTY"}
			c.ApplyDefaults()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("Validate accepted invalid config")
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
mode: BACKTEST
underlying: NIFTY
exchange: NFO
hedge:
  mode: RATIO
  premium_ratio: 0.25
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if c.Hedge.Mode != "RATIO" || c.Hedge.PremiumRatio != 0.25 {
		t.Errorf("hedge = %s/%.2f", c.Hedge.Mode, c.Hedge.PremiumRatio)
	}
	if c.PollSeconds != 300 {
		t.Errorf("poll_seconds default = %d, want 300", c.PollSeconds)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadConfig accepted a missing file")
	}
}
