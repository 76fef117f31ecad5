package attribution

import (
	"context"
	"testing"
	"time"

	"index-options-bot/internal/stoploss"
	"index-options-bot/internal/types"
)

type captureStore struct {
	records    []types.AttributionRecord
	backfilled map[string]float64
}

func newCaptureStore() *captureStore {
	return &captureStore{backfilled: map[string]float64{}}
}

func (s *captureStore) SavePosition(ctx context.Context, pos *types.Position) error   { return nil }
func (s *captureStore) UpdatePosition(ctx context.Context, pos *types.Position) error { return nil }
func (s *captureStore) SaveSLTransition(ctx context.Context, tr types.SLTransition) error {
	return nil
}
func (s *captureStore) SaveAttribution(ctx context.Context, rec types.AttributionRecord) error {
	s.records = append(s.records, rec)
	return nil
}
func (s *captureStore) BackfillTickPnL(ctx context.Context, positionID string, pnl float64) error {
	s.backfilled[positionID] = pnl
	for i := range s.records {
		if s.records[i].PositionID == positionID {
			v := pnl
			s.records[i].ResultingPnL = &v
		}
	}
	return nil
}
func (s *captureStore) TicksForPosition(ctx context.Context, positionID string) ([]types.AttributionRecord, error) {
	return s.records, nil
}
func (s *captureStore) ClosedPositionsForRun(ctx context.Context, runID string) ([]types.Position, error) {
	return nil, nil
}

func evalWith(stage types.SLStage, pnl, maxProfit, level float64, ruleExit bool) stoploss.Evaluation {
	return stoploss.Evaluation{
		ShouldExit: ruleExit,
		NetPnL:     pnl,
		State: types.SLState{
			PositionID:    "pos-1",
			Stage:         stage,
			CurrentLevel:  level,
			MaxProfitSeen: maxProfit,
			UpdatedAt:     time.Now(),
		},
	}
}

func testPos() *types.Position {
	return &types.Position{ID: "pos-1", Underlying: "NIFTY"}
}

func TestObserveRecordsBothSources(t *testing.T) {
	st := newCaptureStore()
	a := New(NewThresholdModel(0.5, 0.8), st, PolicyConservative, false)

	// Model says exit (gave back 60% of a 3000 peak); rules say hold.
	obs, err := a.Observe(context.Background(), testPos(), evalWith(types.StageHalf, 1200, 3000, -1000, false))
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if !obs.Record.MLShouldExit || obs.Record.PSLHit {
		t.Errorf("record = %+v, want model exit without rule hit", obs.Record)
	}
	if obs.Record.DecisionMade != DecisionExitHybrid {
		t.Errorf("decision = %s, want EXIT_HYBRID under conservative policy", obs.Record.DecisionMade)
	}
	if !obs.HybridExit {
		t.Error("conservative policy must recommend exit when either source does")
	}
	if obs.Applied {
		t.Error("observer-mode attributor must never report a binding decision")
	}
	if len(st.records) != 1 {
		t.Fatalf("persisted %d records, want 1", len(st.records))
	}
}

func TestBothAgreePolicy(t *testing.T) {
	a := New(NewThresholdModel(0.5, 0.8), nil, PolicyBothAgree, false)

	// Model exit, rule hold -> hybrid holds.
	obs, err := a.Observe(context.Background(), testPos(), evalWith(types.StageHalf, 1200, 3000, -1000, false))
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if obs.HybridExit {
		t.Error("both_agree must hold when the rules disagree")
	}
	if obs.Record.DecisionMade != DecisionExitModel {
		t.Errorf("decision = %s, want EXIT_MODEL", obs.Record.DecisionMade)
	}

	// Both exit -> hybrid exits.
	obs, err = a.Observe(context.Background(), testPos(), evalWith(types.StageInitial, -2100, 0, -2000, true))
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if !obs.HybridExit || obs.Record.DecisionMade != DecisionExitHybrid {
		t.Errorf("got %+v, want agreed hybrid exit", obs.Record)
	}
}

func TestNoopModelNeverExits(t *testing.T) {
	a := New(NewNoopModel(), nil, PolicyBothAgree, false)
	obs, err := a.Observe(context.Background(), testPos(), evalWith(types.StageInitial, -2100, 0, -2000, true))
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if obs.Record.MLShouldExit {
		t.Error("noop model recommended an exit")
	}
	if obs.Record.DecisionMade != DecisionExitRule {
		t.Errorf("decision = %s, want EXIT_RULE", obs.Record.DecisionMade)
	}
}

func TestThresholdModelLossRule(t *testing.T) {
	m := NewThresholdModel(0.5, 0.8)
	sl := types.SLState{Stage: types.StageInitial, CurrentLevel: -2000}

	d, err := m.ShouldExit(context.Background(), testPos(), sl, -1500)
	if err != nil {
		t.Fatalf("ShouldExit: %v", err)
	}
	if d.ShouldExit {
		t.Errorf("75%% of the way to the stop is below the 80%% threshold: %+v", d)
	}

	d, err = m.ShouldExit(context.Background(), testPos(), sl, -1700)
	if err != nil {
		t.Fatalf("ShouldExit: %v", err)
	}
	if !d.ShouldExit || d.Reason != "loss_approaching_stop" {
		t.Errorf("got %+v, want loss-rule exit at 85%%", d)
	}
}

func TestBackfillAndSummarize(t *testing.T) {
	st := newCaptureStore()
	a := New(NewThresholdModel(0.5, 0.8), st, PolicyConservative, false)

	ticks := []stoploss.Evaluation{
		evalWith(types.StageInitial, 500, 500, -2000, false),   // hold
		evalWith(types.StageHalf, 1200, 3000, -1000, false),    // model exit, better than outcome
		evalWith(types.StageHalf, -1050, 3000, -1000, true),    // rule hit
	}
	for _, ev := range ticks {
		if _, err := a.Observe(context.Background(), testPos(), ev); err != nil {
			t.Fatalf("Observe: %v", err)
		}
	}
	if err := a.Backfill(context.Background(), "pos-1", -1050); err != nil {
		t.Fatalf("Backfill: %v", err)
	}

	recs, _ := st.TicksForPosition(context.Background(), "pos-1")
	s := Summarize(recs)
	if s.Ticks != 3 {
		t.Errorf("ticks = %d, want 3", s.Ticks)
	}
	if s.RuleExitTicks != 1 {
		t.Errorf("rule exits = %d, want 1", s.RuleExitTicks)
	}
	if s.EarlierModelCalls == 0 {
		t.Error("model's 1200-P&L exit call beats the realized -1050 and must be counted")
	}
}
