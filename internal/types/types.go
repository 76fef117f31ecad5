package types

import (
	"strconv"
	"time"
)

// Candle is one OHLC bar. Ts is a unix timestamp (seconds).
type Candle struct {
	Ts                     int64
	Open, High, Low, Close float64
}

func (c Candle) Time() time.Time { return time.Unix(c.Ts, 0) }

// Bias is the weekly directional classification.
type Bias string

const (
	BiasBullish Bias = "BULLISH"
	BiasBearish Bias = "BEARISH"
	BiasNeutral Bias = "NEUTRAL"
)

// OptionType is the option side of a leg or signal.
type OptionType string

const (
	OptionCall OptionType = "CE"
	OptionPut  OptionType = "PE"
)

// WeeklyZone holds the support/resistance bands and bias for one trading
// week, derived from the immediately preceding week. Immutable once built.
type WeeklyZone struct {
	WeekStart time.Time `json:"week_start"`
	WeekEnd   time.Time `json:"week_end"`

	PrevWeekHigh  float64 `json:"prev_week_high"`
	PrevWeekLow   float64 `json:"prev_week_low"`
	PrevWeekClose float64 `json:"prev_week_close"`
	MaxBody4H     float64 `json:"max_body_4h"`
	MinBody4H     float64 `json:"min_body_4h"`

	ResistanceTop    float64 `json:"resistance_top"`
	ResistanceBottom float64 `json:"resistance_bottom"`
	SupportTop       float64 `json:"support_top"`
	SupportBottom    float64 `json:"support_bottom"`

	Bias Bias `json:"bias"`
}

// SignalType identifies one of the eight weekly entry patterns.
type SignalType string

const (
	S1 SignalType = "S1" // Bear Trap
	S2 SignalType = "S2" // Support Hold
	S3 SignalType = "S3" // Resistance Hold
	S4 SignalType = "S4" // Bias Failure (bull)
	S5 SignalType = "S5" // Bias Failure (bear)
	S6 SignalType = "S6" // Weakness Confirmed
	S7 SignalType = "S7" // Breakout Confirmed
	S8 SignalType = "S8" // Breakdown Confirmed
)

// Signal is a triggered entry pattern, produced transiently by the detector
// and either converted into a Position or discarded.
type Signal struct {
	Type        SignalType `json:"type"`
	TriggerTime time.Time  `json:"trigger_time"`
	EntryPrice  float64    `json:"entry_price"`
	StopLoss    float64    `json:"stop_loss"`
	OptionType  OptionType `json:"option_type"`
	MainStrike  float64    `json:"main_strike"`
	Reason      string     `json:"reason"`
}

// LegSide is the direction of an option leg.
type LegSide string

const (
	SideSell LegSide = "SELL"
	SideBuy  LegSide = "BUY"
)

// Leg is one option leg of a position.
type Leg struct {
	Strike     float64    `json:"strike"`
	OptionType OptionType `json:"option_type"`
	Side       LegSide    `json:"side"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price,omitempty"`
	Quantity   int        `json:"quantity"`
	OrderID    string     `json:"order_id,omitempty"`
}

// PositionStatus is the lifecycle state of a position. The partial states
// exist so a failed second leg is never reported as a normal open position.
type PositionStatus string

const (
	StatusOpen      PositionStatus = "OPEN"
	StatusClosed    PositionStatus = "CLOSED"
	StatusHedgeOnly PositionStatus = "HEDGE_ONLY" // hedge filled, main leg failed
	StatusUnhedged  PositionStatus = "UNHEDGED"   // main leg open without cover
	StatusPending   PositionStatus = "PENDING"    // awaiting broker confirmation
)

// Position is a live or historical short-option position: a sold main leg
// and, usually, a bought hedge leg.
type Position struct {
	ID         string         `json:"id"`
	RunID      string         `json:"run_id,omitempty"`
	Underlying string         `json:"underlying"`
	Signal     Signal         `json:"signal"`
	MainLeg    Leg            `json:"main_leg"`
	HedgeLeg   *Leg           `json:"hedge_leg,omitempty"`
	Lots       int            `json:"lots"`
	EntryTime  time.Time      `json:"entry_time"`
	ExitTime   time.Time      `json:"exit_time,omitempty"`
	Status     PositionStatus `json:"status"`
	ExitReason string         `json:"exit_reason,omitempty"`
	Expiry     time.Time      `json:"expiry"`
}

// Hedged reports whether the position currently carries a protective leg.
func (p *Position) Hedged() bool { return p.HedgeLeg != nil && p.Status != StatusUnhedged }

// NetPnL is the mark-to-market P&L in currency for the given leg quotes.
// The main leg is short premium, the hedge leg is long premium.
func (p *Position) NetPnL(mainPrice, hedgePrice float64) float64 {
	pnl := (p.MainLeg.EntryPrice - mainPrice) * float64(p.MainLeg.Quantity)
	if p.HedgeLeg != nil {
		pnl += (hedgePrice - p.HedgeLeg.EntryPrice) * float64(p.HedgeLeg.Quantity)
	}
	return pnl
}

// Breakeven is the net premium collected per unit; the combined position
// nets to zero P&L when the spread value decays back to this point.
func (p *Position) Breakeven() float64 {
	be := p.MainLeg.EntryPrice
	if p.HedgeLeg != nil {
		be -= p.HedgeLeg.EntryPrice
	}
	return be
}

// SLStage is the progressive stop-loss stage. Stages only ever advance.
type SLStage string

const (
	StageInitial    SLStage = "INITIAL"
	StageHalf       SLStage = "HALF"
	StageBreakeven  SLStage = "BREAKEVEN"
	StageProfitLock SLStage = "PROFIT_LOCK"
)

// Rank orders stages for the monotonicity check.
func (s SLStage) Rank() int {
	switch s {
	case StageInitial:
		return 0
	case StageHalf:
		return 1
	case StageBreakeven:
		return 2
	case StageProfitLock:
		return 3
	}
	return -1
}

// SLState is the per-position stop-loss state, mutated only by the
// progressive stop-loss engine.
type SLState struct {
	PositionID     string    `json:"position_id"`
	Stage          SLStage   `json:"stage"`
	CurrentLevel   float64   `json:"current_level"` // currency; negative = loss cap
	DaysSinceEntry int       `json:"days_since_entry"`
	MaxProfitSeen  float64   `json:"max_profit_seen"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SLTransition is one audited stage/level change.
type SLTransition struct {
	PositionID string    `json:"position_id"`
	At         time.Time `json:"at"`
	FromStage  SLStage   `json:"from_stage"`
	ToStage    SLStage   `json:"to_stage"`
	OldLevel   float64   `json:"old_level"`
	NewLevel   float64   `json:"new_level"`
	Reason     string    `json:"reason"`
	SpotPrice  float64   `json:"spot_price"`
	MainPrice  float64   `json:"main_price"`
	HedgePrice float64   `json:"hedge_price"`
}

// ExitDecision is what one decision source recommends for an open position.
type ExitDecision struct {
	ShouldExit bool    `json:"should_exit"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// AttributionRecord captures, for one evaluation tick, what the model, the
// stop-loss rules, and the hybrid policy each recommended. ResultingPnL is
// back-filled after the position closes; every other field is immutable.
type AttributionRecord struct {
	PositionID   string    `json:"position_id"`
	At           time.Time `json:"at"`
	MLShouldExit bool      `json:"ml_should_exit"`
	MLConfidence float64   `json:"ml_confidence"`
	PSLHit       bool      `json:"psl_hit"`
	PSLStage     SLStage   `json:"psl_stage"`
	DecisionMade string    `json:"decision_made"`
	NetPnL       float64   `json:"net_pnl"`
	ResultingPnL *float64  `json:"resulting_pnl,omitempty"`
}

// OptionQuote is one strike's premium in an option-chain snapshot.
type OptionQuote struct {
	Strike     float64    `json:"strike"`
	OptionType OptionType `json:"option_type"`
	Premium    float64    `json:"premium"`
	Expiry     time.Time  `json:"expiry"`
}

// TriggerAction distinguishes entry from exit trigger events.
type TriggerAction string

const (
	ActionEntry TriggerAction = "entry"
	ActionExit  TriggerAction = "exit"
)

// TriggerEvent is an externally pushed live signal (webhook payload).
type TriggerEvent struct {
	SignalType SignalType    `json:"signal_type"`
	Action     TriggerAction `json:"action"`
	Strike     float64       `json:"strike"`
	OptionType OptionType    `json:"option_type"`
	Timestamp  time.Time     `json:"timestamp"`
	Underlying string        `json:"underlying"`
}

// DedupKey identifies a trigger for the live coalescing window.
func (e TriggerEvent) DedupKey() string {
	return string(e.SignalType) + "|" + strconv.FormatFloat(e.Strike, 'f', -1, 64) +
		"|" + string(e.OptionType) + "|" + string(e.Action)
}

// LegOrderReq is an ordered leg intent emitted to the execution interface.
type LegOrderReq struct {
	Underlying string
	Strike     float64
	OptionType OptionType
	Side       LegSide
	Quantity   int
	Tag        string
}

// LegOrderResp is the broker's fill confirmation for one leg.
type LegOrderResp struct {
	OrderID string    `json:"order_id"`
	Price   float64   `json:"price"`
	Time    time.Time `json:"time"`
	Status  string    `json:"status"`
}
