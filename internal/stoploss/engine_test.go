package stoploss

import (
	"context"
	"testing"
	"time"

	"index-options-bot/internal/types"
	"index-options-bot/internal/zones"
)

func testConfig() Config {
	return Config{
		InitialPerLot:        2000,
		ProfitTriggerPercent: 40,
		HalfFactor:           0.5,
		Day3Breakeven:        true,
		Day4ProfitLockPct:    50,
		SquareOffTime:        "15:15",
	}
}

func testPosition() *types.Position {
	entry := time.Date(2025, 8, 25, 11, 15, 0, 0, zones.IST())
	return &types.Position{
		ID:         "pos-1",
		Underlying: "NIFTY",
		MainLeg: types.Leg{
			Strike: 24600, OptionType: types.OptionPut, Side: types.SideSell,
			EntryPrice: 120, Quantity: 75,
		},
		HedgeLeg: &types.Leg{
			Strike: 24400, OptionType: types.OptionPut, Side: types.SideBuy,
			EntryPrice: 40, Quantity: 75,
		},
		Lots:      1,
		EntryTime: entry,
		Status:    types.StatusOpen,
		Expiry:    time.Date(2025, 8, 28, 15, 30, 0, 0, zones.IST()),
	}
}

func mustEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func tickAt(pos *types.Position, hoursAfterEntry int, mainPrice, hedgePrice float64) Tick {
	return Tick{
		At:         pos.EntryTime.Add(time.Duration(hoursAfterEntry) * time.Hour),
		Spot:       24650,
		MainPrice:  mainPrice,
		HedgePrice: hedgePrice,
	}
}

func TestInitialState(t *testing.T) {
	e := mustEngine(t)
	pos := testPosition()
	st := e.NewState(pos)
	if st.Stage != types.StageInitial {
		t.Errorf("stage = %s, want INITIAL", st.Stage)
	}
	if st.CurrentLevel != -2000 {
		t.Errorf("level = %.2f, want -2000 (one lot)", st.CurrentLevel)
	}
}

func TestInitialToHalfOnProfitTrigger(t *testing.T) {
	e := mustEngine(t)
	pos := testPosition()
	st := e.NewState(pos)

	// Max theoretical profit = net premium 80 * 75 = 6000; trigger at 40%
	// = 2400. First tick sits below the trigger.
	ev := e.Evaluate(context.Background(), pos, st, tickAt(pos, 1, 100, 35))
	if ev.State.Stage != types.StageInitial || ev.Transition != nil {
		t.Fatalf("premature transition: %+v", ev)
	}

	// 3000 unrealized: trigger armed.
	ev = e.Evaluate(context.Background(), pos, ev.State, tickAt(pos, 2, 75, 35))
	if ev.State.Stage != types.StageHalf {
		t.Fatalf("stage = %s, want HALF", ev.State.Stage)
	}
	if ev.Transition == nil || ev.Transition.FromStage != types.StageInitial {
		t.Fatalf("transition = %+v", ev.Transition)
	}
	if ev.State.CurrentLevel != -1000 {
		t.Errorf("HALF level = %.2f, want -1000", ev.State.CurrentLevel)
	}
}

func TestStageNeverRegresses(t *testing.T) {
	e := mustEngine(t)
	pos := testPosition()
	st := e.NewState(pos)

	ev := e.Evaluate(context.Background(), pos, st, tickAt(pos, 2, 75, 35))
	if ev.State.Stage != types.StageHalf {
		t.Fatalf("setup failed, stage = %s", ev.State.Stage)
	}

	// Profit retraces to nearly flat: stage must hold at HALF and the
	// high-water mark must be preserved.
	ev2 := e.Evaluate(context.Background(), pos, ev.State, tickAt(pos, 3, 118, 39))
	if ev2.State.Stage != types.StageHalf {
		t.Errorf("stage regressed to %s after retracement", ev2.State.Stage)
	}
	if ev2.State.MaxProfitSeen != ev.State.MaxProfitSeen {
		t.Errorf("high-water mark moved down: %.2f -> %.2f", ev.State.MaxProfitSeen, ev2.State.MaxProfitSeen)
	}
	if ev2.ShouldExit {
		t.Errorf("retracement above HALF level must not exit, got %+v", ev2)
	}
}

func TestDay3Breakeven(t *testing.T) {
	e := mustEngine(t)
	pos := testPosition()
	st := e.NewState(pos)

	ev := e.Evaluate(context.Background(), pos, st, tickAt(pos, 48, 110, 38)) // day 3
	if ev.State.Stage != types.StageBreakeven {
		t.Fatalf("stage = %s, want BREAKEVEN on calendar day 3", ev.State.Stage)
	}
	if ev.State.CurrentLevel != 0 {
		t.Errorf("breakeven level = %.2f, want 0", ev.State.CurrentLevel)
	}
	// P&L 600 is above breakeven: no exit yet.
	if ev.ShouldExit {
		t.Errorf("unexpected exit: %+v", ev)
	}
}

func TestDay4ProfitLock(t *testing.T) {
	e := mustEngine(t)
	pos := testPosition()
	st := e.NewState(pos)

	// Build a 3000 high-water mark on day 1.
	ev := e.Evaluate(context.Background(), pos, st, tickAt(pos, 2, 75, 35))

	// Day 4: lock 50% of peak.
	ev = e.Evaluate(context.Background(), pos, ev.State, tickAt(pos, 72, 90, 36))
	if ev.State.Stage != types.StageProfitLock {
		t.Fatalf("stage = %s, want PROFIT_LOCK on calendar day 4", ev.State.Stage)
	}
	if ev.State.CurrentLevel != 1500 {
		t.Errorf("lock level = %.2f, want 50%% of 3000", ev.State.CurrentLevel)
	}

	// P&L decays through the lock: exit.
	ev2 := e.Evaluate(context.Background(), pos, ev.State, Tick{
		At: pos.EntryTime.Add(73 * time.Hour), Spot: 24600, MainPrice: 105, HedgePrice: 38,
	})
	if !ev2.ShouldExit || ev2.Reason != "SL_HIT_PROFIT_LOCK" {
		t.Fatalf("expected profit-lock exit, got %+v", ev2)
	}
}

func TestInitialStopHit(t *testing.T) {
	e := mustEngine(t)
	pos := testPosition()
	st := e.NewState(pos)

	// Main leg doubles against us: (120-150)*75 + (55-40)*75 = -1125.
	ev := e.Evaluate(context.Background(), pos, st, tickAt(pos, 1, 150, 55))
	if ev.ShouldExit {
		t.Fatalf("-1125 is inside the -2000 cap, got exit %+v", ev)
	}

	// (120-155)*75 + (42-40)*75 = -2475: breach.
	ev = e.Evaluate(context.Background(), pos, ev.State, tickAt(pos, 2, 155, 42))
	if !ev.ShouldExit || ev.Reason != "SL_HIT_INITIAL" {
		t.Fatalf("expected initial stop hit, got %+v", ev)
	}
}

func TestSquareOffOnExpiryDay(t *testing.T) {
	e := mustEngine(t)
	pos := testPosition()
	st := e.NewState(pos)

	before := Tick{
		At:        time.Date(2025, 8, 28, 15, 0, 0, 0, zones.IST()),
		MainPrice: 110, HedgePrice: 38,
	}
	if ev := e.Evaluate(context.Background(), pos, st, before); ev.ShouldExit && ev.Reason == "TIME_SQUAREOFF" {
		t.Fatalf("squared off before the deadline: %+v", ev)
	}

	at := Tick{
		At:        time.Date(2025, 8, 28, 15, 15, 0, 0, zones.IST()),
		MainPrice: 110, HedgePrice: 38,
	}
	ev := e.Evaluate(context.Background(), pos, st, at)
	if !ev.ShouldExit || ev.Reason != "TIME_SQUAREOFF" {
		t.Fatalf("expected TIME_SQUAREOFF at 15:15 on expiry, got %+v", ev)
	}
}

func TestCalendarDaysUseISTBoundaries(t *testing.T) {
	entry := time.Date(2025, 8, 25, 15, 0, 0, 0, zones.IST())
	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"same day", time.Date(2025, 8, 25, 15, 20, 0, 0, zones.IST()), 0},
		{"next morning", time.Date(2025, 8, 26, 9, 15, 0, 0, zones.IST()), 1},
		{"day 3 open", time.Date(2025, 8, 27, 9, 15, 0, 0, zones.IST()), 2},
		{"day 4 open", time.Date(2025, 8, 28, 9, 15, 0, 0, zones.IST()), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := calendarDaysBetween(entry, tt.now); got != tt.want {
				t.Errorf("calendarDaysBetween = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseClock(t *testing.T) {
	if _, err := New(Config{SquareOffTime: "25:00"}); err == nil {
		t.Error("expected error for 25:00")
	}
	if _, err := New(Config{SquareOffTime: "nope"}); err == nil {
		t.Error("expected error for malformed clock")
	}
}
