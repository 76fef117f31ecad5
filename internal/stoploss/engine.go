package stoploss

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"index-options-bot/internal/logger"
	"index-options-bot/internal/types"
	"index-options-bot/internal/zones"
)

// Config holds the progressive stop-loss parameters.
type Config struct {
	InitialPerLot        float64 // currency loss cap per lot
	ProfitTriggerPercent float64 // % of max theoretical profit that arms HALF
	HalfFactor           float64 // HALF level = factor * initial loss cap
	Day3Breakeven        bool
	Day4ProfitLockPct    float64 // % of peak profit locked on day 4
	SquareOffTime        string  // "HH:MM" IST, hard exit on expiry day
}

// Tick is one evaluation snapshot of an open position.
type Tick struct {
	At         time.Time
	Spot       float64
	MainPrice  float64
	HedgePrice float64
}

// Evaluation is the engine's verdict for one tick.
type Evaluation struct {
	ShouldExit bool
	Reason     string
	NetPnL     float64
	State      types.SLState
	Transition *types.SLTransition // non-nil when the stage or level moved
}

// Engine is the per-position progressive stop-loss state machine. Stage
// progression is monotonic and driven by two independent clocks: calendar
// days since entry (IST) and the running high-water mark of unrealized
// profit.
type Engine struct {
	cfg          Config
	squareOffMin int // minutes since midnight
}

func New(cfg Config) (*Engine, error) {
	m, err := parseClock(cfg.SquareOffTime)
	if err != nil {
		return nil, fmt.Errorf("invalid square_off_time %q: %w", cfg.SquareOffTime, err)
	}
	return &Engine{cfg: cfg, squareOffMin: m}, nil
}

// NewState builds the INITIAL stop-loss state for a freshly opened position.
func (e *Engine) NewState(pos *types.Position) types.SLState {
	return types.SLState{
		PositionID:     pos.ID,
		Stage:          types.StageInitial,
		CurrentLevel:   -e.cfg.InitialPerLot * float64(pos.Lots),
		DaysSinceEntry: 0,
		UpdatedAt:      pos.EntryTime,
	}
}

// Evaluate advances the state machine for one tick and reports whether the
// position must be closed. The returned state replaces the stored one; the
// input state is not mutated.
func (e *Engine) Evaluate(ctx context.Context, pos *types.Position, state types.SLState, tick Tick) Evaluation {
	pnl := pos.NetPnL(tick.MainPrice, tick.HedgePrice)

	next := state
	next.UpdatedAt = tick.At
	next.DaysSinceEntry = calendarDaysBetween(pos.EntryTime, tick.At)
	if pnl > next.MaxProfitSeen {
		next.MaxProfitSeen = pnl
	}

	if tr := e.advanceStage(pos, &next, tick, pnl); tr != nil {
		logger.Info(ctx, "Stop-loss stage advanced",
			"event", "SL_STAGE_TRANSITION",
			"position_id", pos.ID,
			"from", tr.FromStage,
			"to", tr.ToStage,
			"old_level", tr.OldLevel,
			"new_level", tr.NewLevel,
			"reason", tr.Reason,
			"spot", tick.Spot,
			"main_price", tick.MainPrice,
			"hedge_price", tick.HedgePrice,
		)
		return e.verdict(ctx, pos, next, tick, pnl, tr)
	}
	return e.verdict(ctx, pos, next, tick, pnl, nil)
}

// advanceStage applies every transition the tick is eligible for, in order,
// so a position can move INITIAL -> BREAKEVEN in one evaluation after a
// weekend gap. Only the final transition is reported; intermediate levels
// were never live.
func (e *Engine) advanceStage(pos *types.Position, st *types.SLState, tick Tick, pnl float64) *types.SLTransition {
	from := st.Stage
	oldLevel := st.CurrentLevel
	reason := ""

	if st.Stage == types.StageInitial && e.profitTriggerArmed(pos, st.MaxProfitSeen) {
		st.Stage = types.StageHalf
		st.CurrentLevel = e.cfg.HalfFactor * -e.cfg.InitialPerLot * float64(pos.Lots)
		reason = fmt.Sprintf("profit reached %.0f%% of max theoretical", e.cfg.ProfitTriggerPercent)
	}
	if e.cfg.Day3Breakeven && st.DaysSinceEntry >= 2 && st.Stage.Rank() < types.StageBreakeven.Rank() {
		st.Stage = types.StageBreakeven
		st.CurrentLevel = 0 // net-zero P&L point, hedge cost included
		reason = "calendar day 3: stop moved to breakeven"
	}
	if st.DaysSinceEntry >= 3 && st.Stage.Rank() < types.StageProfitLock.Rank() {
		st.Stage = types.StageProfitLock
		st.CurrentLevel = e.cfg.Day4ProfitLockPct / 100 * st.MaxProfitSeen
		reason = fmt.Sprintf("calendar day 4: locking %.0f%% of peak profit", e.cfg.Day4ProfitLockPct)
	}

	if st.Stage == from {
		return nil
	}
	return &types.SLTransition{
		PositionID: pos.ID,
		At:         tick.At,
		FromStage:  from,
		ToStage:    st.Stage,
		OldLevel:   oldLevel,
		NewLevel:   st.CurrentLevel,
		Reason:     reason,
		SpotPrice:  tick.Spot,
		MainPrice:  tick.MainPrice,
		HedgePrice: tick.HedgePrice,
	}
}

// profitTriggerArmed checks the unrealized-profit clock: the high-water mark
// must reach the configured share of the maximum theoretical profit (the net
// premium collected).
func (e *Engine) profitTriggerArmed(pos *types.Position, maxProfit float64) bool {
	maxTheoretical := pos.Breakeven() * float64(pos.MainLeg.Quantity)
	if maxTheoretical <= 0 {
		return false
	}
	return maxProfit >= e.cfg.ProfitTriggerPercent/100*maxTheoretical
}

func (e *Engine) verdict(ctx context.Context, pos *types.Position, st types.SLState, tick Tick, pnl float64, tr *types.SLTransition) Evaluation {
	ev := Evaluation{NetPnL: pnl, State: st, Transition: tr}

	if e.pastSquareOff(pos, tick.At) {
		ev.ShouldExit = true
		ev.Reason = "TIME_SQUAREOFF"
		return ev
	}
	if pnl <= st.CurrentLevel {
		ev.ShouldExit = true
		ev.Reason = "SL_HIT_" + string(st.Stage)
		logger.Warn(ctx, "Progressive stop-loss hit",
			"event", "SL_HIT",
			"position_id", pos.ID,
			"stage", st.Stage,
			"level", st.CurrentLevel,
			"net_pnl", pnl,
			"spot", tick.Spot,
		)
	}
	return ev
}

// pastSquareOff reports whether the tick falls on or after the hard
// square-off deadline on the expiry day.
func (e *Engine) pastSquareOff(pos *types.Position, at time.Time) bool {
	if pos.Expiry.IsZero() {
		return false
	}
	ist := at.In(zones.IST())
	expiry := pos.Expiry.In(zones.IST())
	if ist.Year() != expiry.Year() || ist.YearDay() != expiry.YearDay() {
		return ist.After(expiry)
	}
	return ist.Hour()*60+ist.Minute() >= e.squareOffMin
}

// calendarDaysBetween counts IST calendar-day boundaries crossed between the
// two instants; the entry day itself is day 1 (zero boundaries).
func calendarDaysBetween(entry, now time.Time) int {
	a := entry.In(zones.IST())
	b := now.In(zones.IST())
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, zones.IST())
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, zones.IST())
	return int(bd.Sub(ad).Hours() / 24)
}

func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("want HH:MM")
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, err
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("out of range")
	}
	return h*60 + m, nil
}
