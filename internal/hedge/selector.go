package hedge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"index-options-bot/internal/logger"
	"index-options-bot/internal/types"
)

// ErrHedgeUnavailable means no strike satisfied the configured mode within
// tolerance. The caller decides between rejecting the entry and opening the
// position flagged as unhedged; a materially different hedge is never
// substituted silently.
var ErrHedgeUnavailable = errors.New("no suitable hedge strike")

// Mode selects how the protective strike is chosen.
type Mode string

const (
	ModeOffset Mode = "OFFSET"
	ModeRatio  Mode = "RATIO"
)

// Config is the hedge-selection configuration.
type Config struct {
	Mode           Mode
	OffsetPoints   float64 // OFFSET mode: distance from the main strike
	PremiumRatio   float64 // RATIO mode: target = ratio * main premium
	RatioTolerance float64 // relative tolerance on the target premium
}

// Selection is the chosen protective leg.
type Selection struct {
	Strike  float64
	Premium float64
}

// Selector picks a protective opposite-side strike for a sold main leg.
type Selector struct {
	cfg Config
}

func New(cfg Config) *Selector {
	return &Selector{cfg: cfg}
}

// Select picks the hedge strike for the given main leg. In RATIO mode the
// chain snapshot must contain same-side, same-expiry quotes; in OFFSET mode
// the chain is consulted only for the hedge premium if quotes are present.
func (s *Selector) Select(ctx context.Context, mainStrike, mainPremium float64, ot types.OptionType, chain []types.OptionQuote) (Selection, error) {
	switch s.cfg.Mode {
	case ModeOffset:
		return s.selectByOffset(ctx, mainStrike, ot, chain)
	case ModeRatio:
		return s.selectByRatio(ctx, mainStrike, mainPremium, ot, chain)
	default:
		return Selection{}, fmt.Errorf("unknown hedge mode %q", s.cfg.Mode)
	}
}

// selectByOffset places the hedge a fixed distance further out of the money:
// below the main strike for a sold PUT, above it for a sold CALL.
func (s *Selector) selectByOffset(ctx context.Context, mainStrike float64, ot types.OptionType, chain []types.OptionQuote) (Selection, error) {
	strike := mainStrike + s.cfg.OffsetPoints
	if ot == types.OptionPut {
		strike = mainStrike - s.cfg.OffsetPoints
	}

	sel := Selection{Strike: strike}
	for _, q := range chain {
		if q.OptionType == ot && q.Strike == strike {
			sel.Premium = q.Premium
			break
		}
	}
	if len(chain) > 0 && sel.Premium <= 0 {
		logger.Warn(ctx, "No quote at offset hedge strike",
			"event", "HEDGE_UNAVAILABLE",
			"main_strike", mainStrike,
			"hedge_strike", strike,
			"option_type", ot,
		)
		return Selection{}, ErrHedgeUnavailable
	}
	return sel, nil
}

// selectByRatio scans the chain for the liquid strike whose premium is
// closest to ratio * mainPremium. The scan is deterministic: ties on premium
// distance break toward the strike nearer the main strike, then toward the
// lower strike, so re-running on the same snapshot always yields the same
// selection.
func (s *Selector) selectByRatio(ctx context.Context, mainStrike, mainPremium float64, ot types.OptionType, chain []types.OptionQuote) (Selection, error) {
	target := s.cfg.PremiumRatio * mainPremium
	if target <= 0 {
		return Selection{}, fmt.Errorf("invalid ratio target from main premium %.2f: %w", mainPremium, ErrHedgeUnavailable)
	}

	candidates := make([]types.OptionQuote, 0, len(chain))
	for _, q := range chain {
		if q.OptionType == ot && q.Premium > 0 && q.Strike != mainStrike {
			candidates = append(candidates, q)
		}
	}
	if len(candidates) == 0 {
		logger.Warn(ctx, "Option chain has no liquid quotes for hedge",
			"event", "HEDGE_UNAVAILABLE",
			"main_strike", mainStrike,
			"option_type", ot,
		)
		return Selection{}, ErrHedgeUnavailable
	}

	sort.Slice(candidates, func(i, j int) bool {
		di := math.Abs(candidates[i].Premium - target)
		dj := math.Abs(candidates[j].Premium - target)
		if di != dj {
			return di < dj
		}
		si := math.Abs(candidates[i].Strike - mainStrike)
		sj := math.Abs(candidates[j].Strike - mainStrike)
		if si != sj {
			return si < sj
		}
		return candidates[i].Strike < candidates[j].Strike
	})

	best := candidates[0]
	if math.Abs(best.Premium-target) > s.cfg.RatioTolerance*target {
		logger.Warn(ctx, "Closest hedge premium outside tolerance",
			"event", "HEDGE_UNAVAILABLE",
			"target_premium", target,
			"closest_premium", best.Premium,
			"closest_strike", best.Strike,
			"tolerance", s.cfg.RatioTolerance,
		)
		return Selection{}, ErrHedgeUnavailable
	}

	logger.Info(ctx, "Hedge strike selected",
		"mode", "RATIO",
		"main_strike", mainStrike,
		"hedge_strike", best.Strike,
		"target_premium", target,
		"hedge_premium", best.Premium,
	)
	return Selection{Strike: best.Strike, Premium: best.Premium}, nil
}
