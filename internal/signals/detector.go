package signals

import (
	"context"
	"time"

	"index-options-bot/internal/logger"
	"index-options-bot/internal/types"
)

// OverlapPolicy decides what happens when several patterns match on the same
// pair of candles.
type OverlapPolicy string

const (
	// OverlapSkip drops every match to avoid unintended position doubling.
	OverlapSkip OverlapPolicy = "skip"
	// OverlapFirst keeps only the first match in pattern order.
	OverlapFirst OverlapPolicy = "first"
	// OverlapAll realizes every match.
	OverlapAll OverlapPolicy = "all"
)

// Detector evaluates the weekly entry patterns against the current week's
// first two hourly candles. At most one signal is realized per pattern slot
// per week.
type Detector struct {
	params  Params
	policy  OverlapPolicy
	enabled map[types.SignalType]bool
	fired   map[types.SignalType]bool
	weekKey time.Time
}

func NewDetector(params Params, policy OverlapPolicy, enabled []string) *Detector {
	en := make(map[types.SignalType]bool, len(enabled))
	for _, s := range enabled {
		en[types.SignalType(s)] = true
	}
	return &Detector{
		params:  params,
		policy:  policy,
		enabled: en,
		fired:   make(map[types.SignalType]bool),
	}
}

// Reset clears the per-week realized-slot state. Call at each week boundary.
func (d *Detector) Reset(weekStart time.Time) {
	d.weekKey = weekStart
	d.fired = make(map[types.SignalType]bool)
}

// Detect evaluates every enabled pattern against the week's candles and
// applies the overlap policy. It needs at least two candles and returns the
// realized signals (possibly none).
func (d *Detector) Detect(ctx context.Context, zone types.WeeklyZone, candles []types.Candle) []types.Signal {
	if len(candles) < 2 {
		return nil
	}
	c1, c2 := candles[0], candles[1]

	var matches []types.Signal
	for _, p := range allPatterns {
		if !d.enabled[p.id] || d.fired[p.id] {
			continue
		}
		if sig := p.check(zone, c1, c2, d.params); sig != nil {
			logger.Debug(ctx, "Pattern matched",
				"signal", sig.Type,
				"name", p.name,
				"entry", sig.EntryPrice,
				"stop_loss", sig.StopLoss,
				"option_type", sig.OptionType,
			)
			matches = append(matches, *sig)
		}
	}

	if len(matches) == 0 {
		return nil
	}
	if len(matches) > 1 {
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = string(m.Type)
		}
		logger.Warn(ctx, "Multiple patterns matched, applying overlap policy",
			"event", "SIGNAL_OVERLAP",
			"patterns", ids,
			"policy", string(d.policy),
		)
		switch d.policy {
		case OverlapFirst:
			matches = matches[:1]
		case OverlapAll:
			// keep all
		default: // OverlapSkip
			return nil
		}
	}

	for _, m := range matches {
		d.fired[m.Type] = true
		logger.Info(ctx, "Signal realized",
			"signal", m.Type,
			"trigger_time", m.TriggerTime,
			"entry", m.EntryPrice,
			"stop_loss", m.StopLoss,
			"option_type", m.OptionType,
			"main_strike", m.MainStrike,
			"reason", m.Reason,
		)
	}
	return matches
}
