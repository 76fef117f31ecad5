package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"index-options-bot/internal/attribution"
	"index-options-bot/internal/dedup"
	"index-options-bot/internal/execution"
	"index-options-bot/internal/hedge"
	"index-options-bot/internal/interfaces"
	"index-options-bot/internal/logger"
	"index-options-bot/internal/stoploss"
	"index-options-bot/internal/store"
	"index-options-bot/internal/tradelog"
	"index-options-bot/internal/types"
	"index-options-bot/internal/zones"
)

// Dispatcher is the single consumer of the live trigger queue. One goroutine
// serializes all entries and exits for the configured underlying, so leg
// ordering is never interleaved between positions; the periodic ticker drives
// stop-loss evaluation of everything open.
type Dispatcher struct {
	cfg    *store.Config
	broker interfaces.Broker
	chain  interfaces.OptionChainProvider
	trade  interfaces.TradeStore
	window dedup.Window
	hedger *hedge.Selector
	seq    *execution.Sequencer
	engine *stoploss.Engine
	attr   *attribution.Attributor

	queue <-chan types.TriggerEvent
	runID string

	mu   sync.Mutex
	open map[string]*managed
}

// managed pairs an open position with its stop-loss state.
type managed struct {
	pos   *types.Position
	state types.SLState
}

type Deps struct {
	Broker interfaces.Broker
	Chain  interfaces.OptionChainProvider
	Trade  interfaces.TradeStore
	Window dedup.Window
	Model  interfaces.ExitModel
	Queue  <-chan types.TriggerEvent
}

func New(cfg *store.Config, deps Deps) (*Dispatcher, error) {
	engine, err := stoploss.New(stoploss.Config{
		InitialPerLot:        cfg.StopLoss.InitialPerLot,
		ProfitTriggerPercent: cfg.StopLoss.ProfitTriggerPercent,
		HalfFactor:           cfg.StopLoss.HalfFactor,
		Day3Breakeven:        cfg.StopLoss.Day3Breakeven,
		Day4ProfitLockPct:    cfg.StopLoss.Day4ProfitLockPct,
		SquareOffTime:        cfg.StopLoss.SquareOffTime,
	})
	if err != nil {
		return nil, err
	}

	applyHybrid := cfg.Attribution.Apply == "hybrid"
	return &Dispatcher{
		cfg:    cfg,
		broker: deps.Broker,
		chain:  deps.Chain,
		trade:  deps.Trade,
		window: deps.Window,
		hedger: hedge.New(hedge.Config{
			Mode:           hedge.Mode(cfg.Hedge.Mode),
			OffsetPoints:   cfg.Hedge.OffsetPoints,
			PremiumRatio:   cfg.Hedge.PremiumRatio,
			RatioTolerance: cfg.Hedge.RatioTolerance,
		}),
		seq:    execution.New(deps.Broker),
		engine: engine,
		attr:   attribution.New(deps.Model, deps.Trade, attribution.Policy(cfg.Attribution.Policy), applyHybrid),
		queue:  deps.Queue,
		runID:  uuid.NewString(),
		open:   make(map[string]*managed),
	}, nil
}

// RunID identifies this live session in the trade store.
func (d *Dispatcher) RunID() string { return d.runID }

// Run consumes trigger events and evaluates open positions until the context
// is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(d.cfg.PollSeconds) * time.Second)
	defer ticker.Stop()

	logger.Info(ctx, "Live dispatcher started",
		"run_id", d.runID,
		"underlying", d.cfg.Underlying,
		"poll_seconds", d.cfg.PollSeconds,
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Live dispatcher stopping",
				"open_positions", len(d.open),
				"duplicates_dropped", d.window.Dropped(),
			)
			return nil
		case ev, ok := <-d.queue:
			if !ok {
				return nil
			}
			d.handleEvent(ctx, ev)
		case <-ticker.C:
			d.evaluateOpen(ctx)
		}
	}
}

func (d *Dispatcher) handleEvent(ctx context.Context, ev types.TriggerEvent) {
	admitted, err := d.window.Admit(ctx, ev.DedupKey())
	if err != nil {
		logger.ErrorWithErr(ctx, "Dedup window failed, admitting event", err, "key", ev.DedupKey())
		admitted = true
	}
	if !admitted {
		logger.Debug(ctx, "Duplicate trigger coalesced",
			"key", ev.DedupKey(),
			"dropped_total", d.window.Dropped(),
		)
		return
	}

	switch ev.Action {
	case types.ActionEntry:
		if err := d.enter(ctx, ev); err != nil {
			logger.ErrorWithErr(ctx, "Entry trigger failed", err,
				"signal", ev.SignalType, "strike", ev.Strike, "option_type", ev.OptionType)
		}
	case types.ActionExit:
		d.exitMatching(ctx, ev)
	}
}

// enter opens a position from an external trigger, hedge leg first.
func (d *Dispatcher) enter(ctx context.Context, ev types.TriggerEvent) error {
	underlying := ev.Underlying
	if underlying == "" {
		underlying = d.cfg.Underlying
	}

	mainPremium, err := d.broker.OptionLTP(ctx, underlying, ev.Strike, ev.OptionType)
	if err != nil {
		return fmt.Errorf("main premium quote: %w", err)
	}

	expiry := weeklyExpiry(zones.WeekStart(ev.Timestamp))
	qty := d.cfg.LotSize * d.cfg.Lots
	pos := &types.Position{
		ID:         uuid.NewString(),
		RunID:      d.runID,
		Underlying: underlying,
		Signal: types.Signal{
			Type:        ev.SignalType,
			TriggerTime: ev.Timestamp,
			OptionType:  ev.OptionType,
			MainStrike:  ev.Strike,
			Reason:      "external trigger",
		},
		MainLeg: types.Leg{
			Strike:     ev.Strike,
			OptionType: ev.OptionType,
			Side:       types.SideSell,
			Quantity:   qty,
		},
		Lots:   d.cfg.Lots,
		Expiry: expiry,
	}

	chain, err := d.chain.OptionChain(ctx, underlying, expiry, ev.OptionType)
	if err != nil {
		return fmt.Errorf("option chain: %w", err)
	}
	sel, herr := d.hedger.Select(ctx, ev.Strike, mainPremium, ev.OptionType, chain)
	switch {
	case herr == nil:
		pos.HedgeLeg = &types.Leg{
			Strike:     sel.Strike,
			OptionType: ev.OptionType,
			Side:       types.SideBuy,
			Quantity:   qty,
		}
	case errors.Is(herr, hedge.ErrHedgeUnavailable) && d.cfg.Hedge.OnUnavailable == "open_unhedged":
		// Uncovered entry allowed by configuration; the sequencer flags it.
	default:
		return fmt.Errorf("hedge selection: %w", herr)
	}

	if err := d.seq.OpenPosition(ctx, pos); err != nil {
		return err
	}
	if err := d.trade.SavePosition(ctx, pos); err != nil {
		logger.ErrorWithErr(ctx, "Failed to persist opened position", err, "position_id", pos.ID)
	}

	d.mu.Lock()
	d.open[pos.ID] = &managed{pos: pos, state: d.engine.NewState(pos)}
	d.mu.Unlock()
	return nil
}

// exitMatching closes every open position whose main leg matches the trigger.
func (d *Dispatcher) exitMatching(ctx context.Context, ev types.TriggerEvent) {
	for _, m := range d.snapshot() {
		if m.pos.MainLeg.Strike != ev.Strike || m.pos.MainLeg.OptionType != ev.OptionType {
			continue
		}
		d.close(ctx, m, "EXTERNAL_EXIT")
	}
}

// evaluateOpen runs one stop-loss plus attribution tick over every open
// position.
func (d *Dispatcher) evaluateOpen(ctx context.Context) {
	for _, m := range d.snapshot() {
		spot, err := d.broker.Spot(ctx, m.pos.Underlying)
		if err != nil {
			logger.ErrorWithErr(ctx, "Spot quote failed, skipping tick", err, "position_id", m.pos.ID)
			continue
		}
		mainPx, err := d.broker.OptionLTP(ctx, m.pos.Underlying, m.pos.MainLeg.Strike, m.pos.MainLeg.OptionType)
		if err != nil {
			logger.ErrorWithErr(ctx, "Main quote failed, skipping tick", err, "position_id", m.pos.ID)
			continue
		}
		var hedgePx float64
		if m.pos.HedgeLeg != nil {
			hedgePx, err = d.broker.OptionLTP(ctx, m.pos.Underlying, m.pos.HedgeLeg.Strike, m.pos.HedgeLeg.OptionType)
			if err != nil {
				logger.ErrorWithErr(ctx, "Hedge quote failed, skipping tick", err, "position_id", m.pos.ID)
				continue
			}
		}

		ev := d.engine.Evaluate(ctx, m.pos, m.state, stoploss.Tick{
			At:         time.Now(),
			Spot:       spot,
			MainPrice:  mainPx,
			HedgePrice: hedgePx,
		})
		d.mu.Lock()
		m.state = ev.State
		d.mu.Unlock()

		if ev.Transition != nil {
			if err := d.trade.SaveSLTransition(ctx, *ev.Transition); err != nil {
				logger.ErrorWithErr(ctx, "Failed to persist stop-loss transition", err, "position_id", m.pos.ID)
			}
		}

		obs, err := d.attr.Observe(ctx, m.pos, ev)
		if err != nil {
			logger.ErrorWithErr(ctx, "Failed to persist attribution tick", err, "position_id", m.pos.ID)
		}
		_ = tradelog.AppendDecision(tradelog.DecisionEntry{
			PositionID: m.pos.ID,
			Stage:      string(ev.State.Stage),
			NetPnL:     ev.NetPnL,
			StopLevel:  ev.State.CurrentLevel,
			Decision:   obs.Record.DecisionMade,
			Confidence: obs.Record.MLConfidence,
			Reason:     ev.Reason,
		})

		switch {
		case ev.ShouldExit:
			d.close(ctx, m, ev.Reason)
		case obs.Applied && obs.HybridExit:
			d.close(ctx, m, "HYBRID_EXIT")
		}
	}
}

func (d *Dispatcher) close(ctx context.Context, m *managed, reason string) {
	cerr := d.seq.ClosePosition(ctx, m.pos, reason)
	if err := d.trade.UpdatePosition(ctx, m.pos); err != nil {
		logger.ErrorWithErr(ctx, "Failed to persist position close state", err, "position_id", m.pos.ID)
	}
	if cerr != nil {
		logger.ErrorWithErr(ctx, "Position close failed", cerr, "position_id", m.pos.ID, "reason", reason)
		// A PENDING close stays under management and is retried next tick;
		// a stranded hedge needs manual intervention and leaves the loop.
		if m.pos.Status == types.StatusPending {
			return
		}
	}
	if m.pos.Status == types.StatusClosed {
		pnl := (m.pos.MainLeg.EntryPrice-m.pos.MainLeg.ExitPrice)*float64(m.pos.MainLeg.Quantity) +
			hedgePnL(m.pos)
		if err := d.attr.Backfill(ctx, m.pos.ID, pnl); err != nil {
			logger.ErrorWithErr(ctx, "Failed to backfill tick outcomes", err, "position_id", m.pos.ID)
		}
	}

	d.mu.Lock()
	delete(d.open, m.pos.ID)
	d.mu.Unlock()
}

func (d *Dispatcher) snapshot() []*managed {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*managed, 0, len(d.open))
	for _, m := range d.open {
		out = append(out, m)
	}
	return out
}

func hedgePnL(pos *types.Position) float64 {
	if pos.HedgeLeg == nil {
		return 0
	}
	return (pos.HedgeLeg.ExitPrice - pos.HedgeLeg.EntryPrice) * float64(pos.HedgeLeg.Quantity)
}

// weeklyExpiry is Thursday 15:30 IST of the trading week.
func weeklyExpiry(weekStart time.Time) time.Time {
	d := weekStart.In(zones.IST()).AddDate(0, 0, 3)
	return time.Date(d.Year(), d.Month(), d.Day(), 15, 30, 0, 0, zones.IST())
}
