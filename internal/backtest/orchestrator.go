package backtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"index-options-bot/internal/attribution"
	"index-options-bot/internal/db"
	"index-options-bot/internal/execution"
	"index-options-bot/internal/hedge"
	"index-options-bot/internal/interfaces"
	"index-options-bot/internal/logger"
	"index-options-bot/internal/signals"
	"index-options-bot/internal/stoploss"
	"index-options-bot/internal/store"
	"index-options-bot/internal/tradelog"
	"index-options-bot/internal/types"
	"index-options-bot/internal/zones"
)

// Orchestrator replays historical hourly candles week by week: zone from the
// prior week, pattern detection on the first two candles, then per-candle
// stop-loss and attribution ticks until every opened position is closed.
// Run builds its working set from scratch each call, so independent runs can
// execute concurrently; the trade store is the only shared sink and rows are
// keyed by run ID.
type Orchestrator struct {
	cfg   *store.Config
	data  interfaces.MarketData
	trade interfaces.TradeStore
}

// runRecorder is implemented by stores that track run metadata rows.
type runRecorder interface {
	CreateRun(ctx context.Context, run db.RunRow) error
	FinishRun(ctx context.Context, runID string) error
}

func New(cfg *store.Config, data interfaces.MarketData, trade interfaces.TradeStore) *Orchestrator {
	return &Orchestrator{cfg: cfg, data: data, trade: trade}
}

// Result summarizes one completed run.
type Result struct {
	RunID           string
	From, To        time.Time
	WeeksEvaluated  int
	WeeksSkipped    int
	SignalsDetected int
	Positions       []types.Position
	TotalPnL        float64
}

// Run executes one backtest over [from, to).
func (o *Orchestrator) Run(ctx context.Context, from, to time.Time) (*Result, error) {
	runID := uuid.NewString()
	op, ctx := logger.StartOperation(ctx, "backtest_run")
	logger.Info(ctx, "Backtest run starting",
		"run_id", runID,
		"from", from.Format("2006-01-02"),
		"to", to.Format("2006-01-02"),
		"underlying", o.cfg.Underlying,
	)

	if rec, ok := o.trade.(runRecorder); ok {
		params, _ := yaml.Marshal(o.cfg)
		err := rec.CreateRun(ctx, db.RunRow{
			ID:         runID,
			Mode:       "BACKTEST",
			Underlying: o.cfg.Underlying,
			FromDate:   from,
			ToDate:     to,
			StartedAt:  time.Now(),
			Params:     string(params),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to register run: %w", err)
		}
	}

	candles, err := o.data.Candles(ctx, o.cfg.Underlying, "hour", from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load candles: %w", err)
	}

	calc := zones.New(o.cfg.Zones.MinPriorCandles)
	detector := signals.NewDetector(signals.Params{
		StopLossBuffer: o.cfg.Signals.StopLossBuffer,
		BreakoutMargin: o.cfg.Signals.BreakoutMargin,
		StrikeStep:     o.cfg.Signals.StrikeStep,
	}, signals.OverlapPolicy(o.cfg.Signals.OverlapPolicy), o.cfg.Signals.Enabled)
	slEngine, err := stoploss.New(stoploss.Config{
		InitialPerLot:        o.cfg.StopLoss.InitialPerLot,
		ProfitTriggerPercent: o.cfg.StopLoss.ProfitTriggerPercent,
		HalfFactor:           o.cfg.StopLoss.HalfFactor,
		Day3Breakeven:        o.cfg.StopLoss.Day3Breakeven,
		Day4ProfitLockPct:    o.cfg.StopLoss.Day4ProfitLockPct,
		SquareOffTime:        o.cfg.StopLoss.SquareOffTime,
	})
	if err != nil {
		return nil, err
	}
	hedger := hedge.New(hedge.Config{
		Mode:           hedge.Mode(o.cfg.Hedge.Mode),
		OffsetPoints:   o.cfg.Hedge.OffsetPoints,
		PremiumRatio:   o.cfg.Hedge.PremiumRatio,
		RatioTolerance: o.cfg.Hedge.RatioTolerance,
	})
	// Backtests record what the model would have done; the hybrid never fires.
	attr := attribution.New(o.buildModel(), o.trade, attribution.Policy(o.cfg.Attribution.Policy), false)

	sim := NewSimBroker(o.cfg.Underlying, o.cfg.Signals.StrikeStep)
	seq := execution.New(sim)

	res := &Result{RunID: runID, From: from, To: to}
	weeks := groupByWeek(candles)
	var prev []types.Candle

	for i, wk := range weeks {
		if i == 0 {
			prev = wk.candles
			continue
		}
		zone, zerr := calc.Calculate(ctx, wk.start, prev)
		prev = wk.candles
		if zerr != nil {
			if errors.Is(zerr, zones.ErrInsufficientData) {
				res.WeeksSkipped++
				continue
			}
			return nil, zerr
		}
		res.WeeksEvaluated++

		detector.Reset(wk.start)
		sigs := detector.Detect(ctx, zone, wk.candles)
		res.SignalsDetected += len(sigs)
		if len(sigs) == 0 {
			continue
		}

		expiry := weeklyExpiry(wk.start)
		sim.SetExpiry(expiry)

		for _, sig := range sigs {
			pos, perr := o.enterPosition(ctx, runID, sig, sim, hedger, seq, expiry, wk.candles)
			if perr != nil {
				logger.Warn(ctx, "Signal not converted into a position",
					"run_id", runID, "signal", sig.Type, "reason", perr.Error())
				continue
			}
			o.managePosition(ctx, pos, sim, slEngine, attr, seq, wk.candles)
			res.Positions = append(res.Positions, *pos)
			res.TotalPnL += realizedPnL(pos)
		}
	}

	if rec, ok := o.trade.(runRecorder); ok {
		if err := rec.FinishRun(ctx, runID); err != nil {
			logger.ErrorWithErr(ctx, "Failed to stamp run completion", err, "run_id", runID)
		}
	}
	op.End("weeks", res.WeeksEvaluated, "signals", res.SignalsDetected,
		"positions", len(res.Positions), "total_pnl", res.TotalPnL)
	return res, nil
}

// RunMany executes independent runs concurrently, one goroutine per range.
func (o *Orchestrator) RunMany(ctx context.Context, ranges [][2]time.Time) ([]*Result, error) {
	results := make([]*Result, len(ranges))
	errs := make([]error, len(ranges))

	var wg sync.WaitGroup
	for i, r := range ranges {
		wg.Add(1)
		go func(i int, from, to time.Time) {
			defer wg.Done()
			results[i], errs[i] = o.Run(ctx, from, to)
		}(i, r[0], r[1])
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// enterPosition converts a signal into an open position: mark the surface at
// the trigger candle, pick the hedge, then fill hedge-first through the
// sequencer.
func (o *Orchestrator) enterPosition(ctx context.Context, runID string, sig types.Signal,
	sim *SimBroker, hedger *hedge.Selector, seq *execution.Sequencer,
	expiry time.Time, week []types.Candle) (*types.Position, error) {

	trigger := week[1]
	sim.SetMark(trigger.Time(), trigger.Close)

	mainPremium, err := sim.OptionLTP(ctx, o.cfg.Underlying, sig.MainStrike, sig.OptionType)
	if err != nil {
		return nil, err
	}

	qty := o.cfg.LotSize * o.cfg.Lots
	pos := &types.Position{
		ID:         uuid.NewString(),
		RunID:      runID,
		Underlying: o.cfg.Underlying,
		Signal:     sig,
		MainLeg: types.Leg{
			Strike:     sig.MainStrike,
			OptionType: sig.OptionType,
			Side:       types.SideSell,
			Quantity:   qty,
		},
		Lots:   o.cfg.Lots,
		Expiry: expiry,
	}

	chain, err := sim.OptionChain(ctx, o.cfg.Underlying, expiry, sig.OptionType)
	if err != nil {
		return nil, err
	}
	sel, herr := hedger.Select(ctx, sig.MainStrike, mainPremium, sig.OptionType, chain)
	switch {
	case herr == nil:
		pos.HedgeLeg = &types.Leg{
			Strike:     sel.Strike,
			OptionType: sig.OptionType,
			Side:       types.SideBuy,
			Quantity:   qty,
		}
	case errors.Is(herr, hedge.ErrHedgeUnavailable) && o.cfg.Hedge.OnUnavailable == "open_unhedged":
		// Entry proceeds uncovered; the sequencer flags the position.
	default:
		return nil, fmt.Errorf("hedge selection: %w", herr)
	}

	if err := seq.OpenPosition(ctx, pos); err != nil {
		return nil, err
	}
	if err := o.trade.SavePosition(ctx, pos); err != nil {
		return nil, err
	}
	return pos, nil
}

// managePosition replays the rest of the week's candles against the stop-loss
// engine and the attribution observer until the position exits. A position
// still open at the last candle is squared off there.
func (o *Orchestrator) managePosition(ctx context.Context, pos *types.Position,
	sim *SimBroker, slEngine *stoploss.Engine, attr *attribution.Attributor,
	seq *execution.Sequencer, week []types.Candle) {

	state := slEngine.NewState(pos)
	closed := false

	for _, c := range week[2:] {
		sim.SetMark(c.Time(), c.Close)
		mainPx, _ := sim.OptionLTP(ctx, pos.Underlying, pos.MainLeg.Strike, pos.MainLeg.OptionType)
		var hedgePx float64
		if pos.HedgeLeg != nil {
			hedgePx, _ = sim.OptionLTP(ctx, pos.Underlying, pos.HedgeLeg.Strike, pos.HedgeLeg.OptionType)
		}

		ev := slEngine.Evaluate(ctx, pos, state, stoploss.Tick{
			At:         c.Time(),
			Spot:       c.Close,
			MainPrice:  mainPx,
			HedgePrice: hedgePx,
		})
		state = ev.State

		if ev.Transition != nil {
			if err := o.trade.SaveSLTransition(ctx, *ev.Transition); err != nil {
				logger.ErrorWithErr(ctx, "Failed to persist stop-loss transition", err, "position_id", pos.ID)
			}
		}

		obs, err := attr.Observe(ctx, pos, ev)
		if err != nil {
			logger.ErrorWithErr(ctx, "Failed to persist attribution tick", err, "position_id", pos.ID)
		}
		_ = tradelog.AppendDecision(tradelog.DecisionEntry{
			PositionID: pos.ID,
			Stage:      string(state.Stage),
			NetPnL:     ev.NetPnL,
			StopLevel:  state.CurrentLevel,
			Decision:   obs.Record.DecisionMade,
			Confidence: obs.Record.MLConfidence,
			Reason:     ev.Reason,
		})

		if ev.ShouldExit {
			o.closePosition(ctx, pos, seq, attr, ev.Reason)
			closed = true
			break
		}
	}

	if !closed {
		last := week[len(week)-1]
		sim.SetMark(last.Time(), last.Close)
		o.closePosition(ctx, pos, seq, attr, "WEEK_END_SQUAREOFF")
	}
}

func (o *Orchestrator) closePosition(ctx context.Context, pos *types.Position,
	seq *execution.Sequencer, attr *attribution.Attributor, reason string) {

	if err := seq.ClosePosition(ctx, pos, reason); err != nil {
		logger.ErrorWithErr(ctx, "Position close failed", err, "position_id", pos.ID, "reason", reason)
		return
	}
	if err := o.trade.UpdatePosition(ctx, pos); err != nil {
		logger.ErrorWithErr(ctx, "Failed to persist closed position", err, "position_id", pos.ID)
	}
	if err := attr.Backfill(ctx, pos.ID, realizedPnL(pos)); err != nil {
		logger.ErrorWithErr(ctx, "Failed to backfill tick outcomes", err, "position_id", pos.ID)
	}
}

func (o *Orchestrator) buildModel() interfaces.ExitModel {
	if o.cfg.Attribution.Model == "THRESHOLD" {
		return attribution.NewThresholdModel(o.cfg.Attribution.RetraceFraction, o.cfg.Attribution.LossStopMultiplier)
	}
	return attribution.NewNoopModel()
}

// realizedPnL is the closed position's P&L from entry and exit fills.
func realizedPnL(pos *types.Position) float64 {
	pnl := (pos.MainLeg.EntryPrice - pos.MainLeg.ExitPrice) * float64(pos.MainLeg.Quantity)
	if pos.HedgeLeg != nil {
		pnl += (pos.HedgeLeg.ExitPrice - pos.HedgeLeg.EntryPrice) * float64(pos.HedgeLeg.Quantity)
	}
	return pnl
}

type weekSlice struct {
	start   time.Time
	candles []types.Candle
}

// groupByWeek splits an ordered candle series at Monday 00:00 IST boundaries.
func groupByWeek(cs []types.Candle) []weekSlice {
	var out []weekSlice
	for _, c := range cs {
		ws := zones.WeekStart(c.Time())
		if len(out) == 0 || !out[len(out)-1].start.Equal(ws) {
			out = append(out, weekSlice{start: ws})
		}
		out[len(out)-1].candles = append(out[len(out)-1].candles, c)
	}
	return out
}

// weeklyExpiry is Thursday 15:30 IST of the trading week.
func weeklyExpiry(weekStart time.Time) time.Time {
	d := weekStart.In(zones.IST()).AddDate(0, 0, 3)
	return time.Date(d.Year(), d.Month(), d.Day(), 15, 30, 0, 0, zones.IST())
}
