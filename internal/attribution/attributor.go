package attribution

import (
	"context"

	"index-options-bot/internal/interfaces"
	"index-options-bot/internal/logger"
	"index-options-bot/internal/stoploss"
	"index-options-bot/internal/types"
)

// Policy is how the model and rule recommendations are combined into the
// hybrid decision.
type Policy string

const (
	// PolicyBothAgree exits only when model and rules both say exit.
	PolicyBothAgree Policy = "both_agree"
	// PolicyConservative exits when either source says exit.
	PolicyConservative Policy = "conservative"
)

// Decision labels recorded on each tick.
const (
	DecisionHold       = "HOLD"
	DecisionExitRule   = "EXIT_RULE"
	DecisionExitModel  = "EXIT_MODEL"
	DecisionExitHybrid = "EXIT_HYBRID"
)

// Attributor records, at every evaluation tick of an open position, what the
// model would do, what the rule-based stop-loss engine would do, and the
// hybrid consensus. In backtests it is strictly an observer: mixing the
// model's opinion into the stop-loss engine would invalidate the comparison.
type Attributor struct {
	model  interfaces.ExitModel
	store  interfaces.TradeStore
	policy Policy
	apply  bool // live hybrid mode only; never set in backtests
}

func New(model interfaces.ExitModel, store interfaces.TradeStore, policy Policy, apply bool) *Attributor {
	return &Attributor{model: model, store: store, policy: policy, apply: apply}
}

// Observation is the outcome of one attribution tick.
type Observation struct {
	Record types.AttributionRecord
	// HybridExit is the consensus recommendation. It only drives an actual
	// exit when the attributor was built with apply=true.
	HybridExit bool
	// Applied reports whether the hybrid recommendation is binding.
	Applied bool
}

// Observe evaluates the model against the stop-loss engine's verdict for one
// tick and persists the attribution row.
func (a *Attributor) Observe(ctx context.Context, pos *types.Position, ev stoploss.Evaluation) (Observation, error) {
	md, err := a.model.ShouldExit(ctx, pos, ev.State, ev.NetPnL)
	if err != nil {
		// A broken model must not block trading; record a non-exit with
		// zero confidence and keep going.
		logger.ErrorWithErr(ctx, "Exit model failed, recording hold", err, "position_id", pos.ID)
		md = types.ExitDecision{ShouldExit: false, Confidence: 0, Reason: "model_error"}
	}

	hybrid := a.combine(md.ShouldExit, ev.ShouldExit)
	rec := types.AttributionRecord{
		PositionID:   pos.ID,
		At:           ev.State.UpdatedAt,
		MLShouldExit: md.ShouldExit,
		MLConfidence: md.Confidence,
		PSLHit:       ev.ShouldExit,
		PSLStage:     ev.State.Stage,
		DecisionMade: a.decisionLabel(md.ShouldExit, ev.ShouldExit, hybrid),
		NetPnL:       ev.NetPnL,
	}

	if a.store != nil {
		if err := a.store.SaveAttribution(ctx, rec); err != nil {
			return Observation{}, err
		}
	}
	return Observation{Record: rec, HybridExit: hybrid, Applied: a.apply}, nil
}

// Backfill writes the realized outcome into every tick row of a closed
// position so each decision source can later be scored against what actually
// happened.
func (a *Attributor) Backfill(ctx context.Context, positionID string, finalPnL float64) error {
	if a.store == nil {
		return nil
	}
	return a.store.BackfillTickPnL(ctx, positionID, finalPnL)
}

func (a *Attributor) combine(modelExit, ruleExit bool) bool {
	if a.policy == PolicyBothAgree {
		return modelExit && ruleExit
	}
	return modelExit || ruleExit
}

func (a *Attributor) decisionLabel(modelExit, ruleExit, hybrid bool) string {
	switch {
	case ruleExit && modelExit:
		return DecisionExitHybrid
	case ruleExit:
		return DecisionExitRule
	case modelExit && hybrid:
		return DecisionExitHybrid
	case modelExit:
		return DecisionExitModel
	default:
		return DecisionHold
	}
}

// Summary aggregates closed-position attribution rows per decision source.
type Summary struct {
	Ticks          int
	ModelExitTicks int
	RuleExitTicks  int
	Agreements     int
	// EarlierModelCalls counts ticks where the model recommended exit at a
	// better (higher) P&L than the position's realized outcome.
	EarlierModelCalls int
}

// Summarize scores back-filled records. Rows without a resulting P&L are
// counted but not scored.
func Summarize(records []types.AttributionRecord) Summary {
	var s Summary
	for _, r := range records {
		s.Ticks++
		if r.MLShouldExit {
			s.ModelExitTicks++
		}
		if r.PSLHit {
			s.RuleExitTicks++
		}
		if r.MLShouldExit == r.PSLHit {
			s.Agreements++
		}
		if r.MLShouldExit && r.ResultingPnL != nil && r.NetPnL > *r.ResultingPnL {
			s.EarlierModelCalls++
		}
	}
	return s
}
