package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"index-options-bot/internal/types"
)

// scriptedBroker returns canned fills and fails on the tags it is told to
// fail, recording the order in which legs were placed.
type scriptedBroker struct {
	failTags map[string]bool
	calls    []string
	seq      int
}

func newScriptedBroker(failTags ...string) *scriptedBroker {
	ft := make(map[string]bool, len(failTags))
	for _, t := range failTags {
		ft[t] = true
	}
	return &scriptedBroker{failTags: ft}
}

func (b *scriptedBroker) Spot(ctx context.Context, underlying string) (float64, error) {
	return 24650, nil
}

func (b *scriptedBroker) OptionLTP(ctx context.Context, underlying string, strike float64, ot types.OptionType) (float64, error) {
	return 100, nil
}

func (b *scriptedBroker) PlaceLeg(ctx context.Context, req types.LegOrderReq) (types.LegOrderResp, error) {
	b.calls = append(b.calls, req.Tag)
	if b.failTags[req.Tag] {
		return types.LegOrderResp{}, errors.New("rejected by exchange")
	}
	b.seq++
	return types.LegOrderResp{
		OrderID: "ord-" + req.Tag,
		Price:   100 + float64(b.seq),
		Time:    time.Now(),
		Status:  "COMPLETE",
	}, nil
}

func (b *scriptedBroker) Start(ctx context.Context, underlyings []string) error { return nil }
func (b *scriptedBroker) Stop(ctx context.Context)                              {}

func hedgedPosition() *types.Position {
	return &types.Position{
		ID:         "pos-1",
		Underlying: "NIFTY",
		MainLeg: types.Leg{
			Strike: 24600, OptionType: types.OptionPut, Side: types.SideSell, Quantity: 75,
		},
		HedgeLeg: &types.Leg{
			Strike: 24400, OptionType: types.OptionPut, Side: types.SideBuy, Quantity: 75,
		},
		Lots: 1,
	}
}

func TestEntryPlacesHedgeBeforeMain(t *testing.T) {
	t.Setenv("TRADER_LOG_DIR", t.TempDir())
	b := newScriptedBroker()
	pos := hedgedPosition()

	if err := New(b).OpenPosition(context.Background(), pos); err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	if len(b.calls) != 2 || b.calls[0] != "HEDGE_ENTRY" || b.calls[1] != "MAIN_ENTRY" {
		t.Fatalf("leg order = %v, want hedge then main", b.calls)
	}
	if pos.Status != types.StatusOpen {
		t.Errorf("status = %s, want OPEN", pos.Status)
	}
	if pos.HedgeLeg.EntryPrice == 0 || pos.MainLeg.EntryPrice == 0 {
		t.Errorf("fill prices not written back: %+v", pos)
	}
}

func TestMainFailureRollsBackHedge(t *testing.T) {
	t.Setenv("TRADER_LOG_DIR", t.TempDir())
	b := newScriptedBroker("MAIN_ENTRY")
	pos := hedgedPosition()

	err := New(b).OpenPosition(context.Background(), pos)
	if !errors.Is(err, ErrLegFailed) {
		t.Fatalf("expected ErrLegFailed, got %v", err)
	}
	want := []string{"HEDGE_ENTRY", "MAIN_ENTRY", "HEDGE_UNWIND"}
	if len(b.calls) != 3 || b.calls[2] != "HEDGE_UNWIND" {
		t.Fatalf("calls = %v, want %v", b.calls, want)
	}
	if pos.Status == types.StatusOpen {
		t.Error("rolled-back entry must not be OPEN")
	}
}

func TestMainFailureWithStrandedHedge(t *testing.T) {
	t.Setenv("TRADER_LOG_DIR", t.TempDir())
	b := newScriptedBroker("MAIN_ENTRY", "HEDGE_UNWIND")
	pos := hedgedPosition()

	err := New(b).OpenPosition(context.Background(), pos)
	if err == nil {
		t.Fatal("expected error")
	}
	if pos.Status != types.StatusHedgeOnly {
		t.Fatalf("status = %s, want HEDGE_ONLY so the stranded leg is visible", pos.Status)
	}
}

func TestExitClosesMainBeforeHedge(t *testing.T) {
	t.Setenv("TRADER_LOG_DIR", t.TempDir())
	b := newScriptedBroker()
	pos := hedgedPosition()
	seq := New(b)
	if err := seq.OpenPosition(context.Background(), pos); err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	b.calls = nil

	if err := seq.ClosePosition(context.Background(), pos, "SL_HIT_INITIAL"); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if len(b.calls) != 2 || b.calls[0] != "MAIN_EXIT" || b.calls[1] != "HEDGE_EXIT" {
		t.Fatalf("leg order = %v, want main then hedge", b.calls)
	}
	if pos.Status != types.StatusClosed {
		t.Errorf("status = %s, want CLOSED", pos.Status)
	}
	if pos.ExitReason != "SL_HIT_INITIAL" {
		t.Errorf("exit reason = %s", pos.ExitReason)
	}
}

func TestExitHedgeFailureFlagsPosition(t *testing.T) {
	t.Setenv("TRADER_LOG_DIR", t.TempDir())
	b := newScriptedBroker()
	pos := hedgedPosition()
	seq := New(b)
	if err := seq.OpenPosition(context.Background(), pos); err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	b.failTags["HEDGE_EXIT"] = true

	err := seq.ClosePosition(context.Background(), pos, "TIME_SQUAREOFF")
	if err == nil {
		t.Fatal("expected error")
	}
	if pos.Status != types.StatusHedgeOnly {
		t.Fatalf("status = %s, want HEDGE_ONLY, never CLOSED", pos.Status)
	}
}

func TestMainExitFailureKeepsPositionPending(t *testing.T) {
	t.Setenv("TRADER_LOG_DIR", t.TempDir())
	b := newScriptedBroker()
	pos := hedgedPosition()
	seq := New(b)
	if err := seq.OpenPosition(context.Background(), pos); err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	b.failTags["MAIN_EXIT"] = true

	if err := seq.ClosePosition(context.Background(), pos, "manual"); err == nil {
		t.Fatal("expected error")
	}
	if pos.Status != types.StatusPending {
		t.Fatalf("status = %s, want PENDING until the broker resolves", pos.Status)
	}
}

func TestUnhedgedEntryIsFlagged(t *testing.T) {
	t.Setenv("TRADER_LOG_DIR", t.TempDir())
	b := newScriptedBroker()
	pos := hedgedPosition()
	pos.HedgeLeg = nil

	if err := New(b).OpenPosition(context.Background(), pos); err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	if pos.Status != types.StatusUnhedged {
		t.Fatalf("status = %s, want UNHEDGED", pos.Status)
	}
}
