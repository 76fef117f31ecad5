package store

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the explicit strategy configuration threaded through every
// component constructor. Nothing reads settings from ambient state.
type Config struct {
	Mode        string `yaml:"mode"`        // BACKTEST, DRY_RUN or LIVE
	Underlying  string `yaml:"underlying"`  // e.g. NIFTY
	Exchange    string `yaml:"exchange"`    // e.g. NFO
	LotSize     int    `yaml:"lot_size"`    // contracts per lot
	Lots        int    `yaml:"lots"`        // lots per position
	PollSeconds int    `yaml:"poll_seconds"`

	Zones struct {
		MinPriorCandles int `yaml:"min_prior_candles"` // below this, skip the week
	} `yaml:"zones"`

	Signals struct {
		Enabled        []string `yaml:"enabled"`         // subset of S1..S8
		OverlapPolicy  string   `yaml:"overlap_policy"`  // skip, first or all
		StopLossBuffer float64  `yaml:"stop_loss_buffer"` // points below/above trigger low/high
		BreakoutMargin float64  `yaml:"breakout_margin"`  // extra points required beyond a zone edge
		StrikeStep     float64  `yaml:"strike_step"`      // strike rounding, e.g. 50 for NIFTY
	} `yaml:"signals"`

	Hedge struct {
		Mode          string  `yaml:"mode"` // OFFSET or RATIO
		OffsetPoints  float64 `yaml:"offset_points"`
		PremiumRatio  float64 `yaml:"premium_ratio"`
		RatioTolerance float64 `yaml:"ratio_tolerance"` // relative to target premium
		OnUnavailable string  `yaml:"on_unavailable"`  // reject or open_unhedged
	} `yaml:"hedge"`

	StopLoss struct {
		InitialPerLot        float64 `yaml:"initial_per_lot"` // currency loss cap per lot
		ProfitTriggerPercent float64 `yaml:"profit_trigger_percent"`
		HalfFactor           float64 `yaml:"half_factor"`
		Day3Breakeven        bool    `yaml:"day3_breakeven"`
		Day4ProfitLockPct    float64 `yaml:"day4_profit_lock_percent"`
		SquareOffTime        string  `yaml:"square_off_time"` // HH:MM IST
	} `yaml:"stoploss"`

	Attribution struct {
		Model              string  `yaml:"model"`  // NOOP or THRESHOLD
		Policy             string  `yaml:"policy"` // both_agree or conservative
		Apply              string  `yaml:"apply"`  // observe or hybrid (live only)
		RetraceFraction    float64 `yaml:"retrace_fraction"`
		LossStopMultiplier float64 `yaml:"loss_stop_multiplier"`
	} `yaml:"attribution"`

	Live struct {
		WebhookAddr        string `yaml:"webhook_addr"`
		SecretEnv          string `yaml:"secret_env"` // env var holding the shared secret
		DedupWindowSeconds int    `yaml:"dedup_window_seconds"`
		QueueSize          int    `yaml:"queue_size"`
	} `yaml:"live"`

	DB struct {
		Host    string `yaml:"host"`
		Port    string `yaml:"port"`
		Name    string `yaml:"name"`
		UserEnv string `yaml:"user_env"`
		PassEnv string `yaml:"pass_env"`
	} `yaml:"db"`

	Redis struct {
		Addr    string `yaml:"addr"`
		PassEnv string `yaml:"pass_env"`
	} `yaml:"redis"`
}

func (c *Config) Validate() error {
	switch c.Mode {
	case "BACKTEST", "DRY_RUN", "LIVE":
	default:
		return fmt.Errorf("invalid mode '%s': must be 'BACKTEST', 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	if c.Underlying == "" {
		return fmt.Errorf("underlying cannot be empty")
	}
	if c.LotSize <= 0 || c.Lots <= 0 {
		return fmt.Errorf("lot_size and lots must be positive, got %d/%d", c.LotSize, c.Lots)
	}
	switch c.Signals.OverlapPolicy {
	case "skip", "first", "all":
	default:
		return fmt.Errorf("signals.overlap_policy must be 'skip', 'first' or 'all', got '%s'", c.Signals.OverlapPolicy)
	}
	if c.Hedge.Mode != "OFFSET" && c.Hedge.Mode != "RATIO" {
		return fmt.Errorf("hedge.mode must be 'OFFSET' or 'RATIO', got '%s'", c.Hedge.Mode)
	}
	if c.Hedge.Mode == "RATIO" && (c.Hedge.PremiumRatio <= 0 || c.Hedge.PremiumRatio >= 1) {
		return fmt.Errorf("hedge.premium_ratio must be in (0,1), got %.2f", c.Hedge.PremiumRatio)
	}
	if c.Hedge.OnUnavailable != "reject" && c.Hedge.OnUnavailable != "open_unhedged" {
		return fmt.Errorf("hedge.on_unavailable must be 'reject' or 'open_unhedged', got '%s'", c.Hedge.OnUnavailable)
	}
	if c.StopLoss.InitialPerLot <= 0 {
		return fmt.Errorf("stoploss.initial_per_lot must be positive, got %.2f", c.StopLoss.InitialPerLot)
	}
	if c.StopLoss.HalfFactor <= 0 || c.StopLoss.HalfFactor > 1 {
		return fmt.Errorf("stoploss.half_factor must be in (0,1], got %.2f", c.StopLoss.HalfFactor)
	}
	switch c.Attribution.Policy {
	case "both_agree", "conservative":
	default:
		return fmt.Errorf("attribution.policy must be 'both_agree' or 'conservative', got '%s'", c.Attribution.Policy)
	}
	if c.Attribution.Apply != "observe" && c.Attribution.Apply != "hybrid" {
		return fmt.Errorf("attribution.apply must be 'observe' or 'hybrid', got '%s'", c.Attribution.Apply)
	}
	return nil
}

// LoadConfig reads, defaults and validates the YAML configuration.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}

// ApplyDefaults fills zero-valued fields with the standard parameters.
func (c *Config) ApplyDefaults() {
	if c.PollSeconds == 0 {
		c.PollSeconds = 300
	}
	if c.LotSize == 0 {
		c.LotSize = 75
	}
	if c.Lots == 0 {
		c.Lots = 1
	}
	if c.Zones.MinPriorCandles == 0 {
		c.Zones.MinPriorCandles = 25 // roughly five trading days of hourly bars
	}
	if len(c.Signals.Enabled) == 0 {
		c.Signals.Enabled = []string{"S1", "S2", "S3", "S4", "S5", "S6", "S7", "S8"}
	}
	if c.Signals.OverlapPolicy == "" {
		c.Signals.OverlapPolicy = "skip"
	}
	if c.Signals.StopLossBuffer == 0 {
		c.Signals.StopLossBuffer = 5
	}
	if c.Signals.StrikeStep == 0 {
		c.Signals.StrikeStep = 50
	}
	if c.Hedge.Mode == "" {
		c.Hedge.Mode = "OFFSET"
	}
	if c.Hedge.OffsetPoints == 0 {
		c.Hedge.OffsetPoints = 200
	}
	if c.Hedge.PremiumRatio == 0 {
		c.Hedge.PremiumRatio = 0.30
	}
	if c.Hedge.RatioTolerance == 0 {
		c.Hedge.RatioTolerance = 0.25
	}
	if c.Hedge.OnUnavailable == "" {
		if c.Mode == "BACKTEST" {
			c.Hedge.OnUnavailable = "open_unhedged"
		} else {
			c.Hedge.OnUnavailable = "reject"
		}
	}
	if c.StopLoss.InitialPerLot == 0 {
		c.StopLoss.InitialPerLot = 2000
	}
	if c.StopLoss.ProfitTriggerPercent == 0 {
		c.StopLoss.ProfitTriggerPercent = 40
	}
	if c.StopLoss.HalfFactor == 0 {
		c.StopLoss.HalfFactor = 0.5
	}
	if c.StopLoss.Day4ProfitLockPct == 0 {
		c.StopLoss.Day4ProfitLockPct = 50
	}
	if c.StopLoss.SquareOffTime == "" {
		c.StopLoss.SquareOffTime = "15:15"
	}
	if c.Attribution.Model == "" {
		c.Attribution.Model = "THRESHOLD"
	}
	if c.Attribution.Policy == "" {
		c.Attribution.Policy = "conservative"
	}
	if c.Attribution.Apply == "" {
		c.Attribution.Apply = "observe"
	}
	if c.Attribution.RetraceFraction == 0 {
		c.Attribution.RetraceFraction = 0.5
	}
	if c.Attribution.LossStopMultiplier == 0 {
		c.Attribution.LossStopMultiplier = 0.8
	}
	if c.Live.DedupWindowSeconds == 0 {
		c.Live.DedupWindowSeconds = 5
	}
	if c.Live.QueueSize == 0 {
		c.Live.QueueSize = 64
	}
	if c.Live.WebhookAddr == "" {
		c.Live.WebhookAddr = ":8787"
	}
	if c.Live.SecretEnv == "" {
		c.Live.SecretEnv = "WEBHOOK_SECRET"
	}
}
