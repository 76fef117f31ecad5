package db

import (
	"time"

	"index-options-bot/internal/types"
)

// RunRow is one backtest or live session.
type RunRow struct {
	ID         string `gorm:"primaryKey"`
	Mode       string `gorm:"not null"`
	Underlying string `gorm:"not null"`
	FromDate   time.Time
	ToDate     time.Time
	StartedAt  time.Time
	FinishedAt *time.Time
	Params     string // serialized config for reproducibility
}

func (RunRow) TableName() string { return "runs" }

// PositionRow flattens a position and its legs into one row.
type PositionRow struct {
	ID         string `gorm:"primaryKey"`
	RunID      string `gorm:"index"`
	Underlying string `gorm:"not null"`
	SignalType string `gorm:"not null"`

	MainStrike     float64
	MainOptionType string
	MainEntryPrice float64
	MainExitPrice  float64
	MainQuantity   int
	MainOrderID    string

	Hedged          bool
	HedgeStrike     float64
	HedgeOptionType string
	HedgeEntryPrice float64
	HedgeExitPrice  float64
	HedgeQuantity   int
	HedgeOrderID    string

	Lots       int
	EntryTime  time.Time
	ExitTime   *time.Time
	Status     string `gorm:"index"`
	ExitReason string
	Expiry     time.Time

	SignalEntryPrice float64
	SignalStopLoss   float64
	SignalReason     string

	FinalPnL *float64 `gorm:"column:final_pnl"`
}

func (PositionRow) TableName() string { return "positions" }

// SLTransitionRow is one audited stop-loss stage change.
type SLTransitionRow struct {
	ID         uint   `gorm:"primaryKey"`
	PositionID string `gorm:"index"`
	At         time.Time
	FromStage  string
	ToStage    string
	OldLevel   float64
	NewLevel   float64
	Reason     string
	SpotPrice  float64
	MainPrice  float64
	HedgePrice float64
}

func (SLTransitionRow) TableName() string { return "sl_transitions" }

// AttributionTickRow is one decision-attribution evaluation tick.
type AttributionTickRow struct {
	ID           uint      `gorm:"primaryKey"`
	PositionID   string    `gorm:"index"`
	At           time.Time `gorm:"index"`
	MLShouldExit bool      `gorm:"column:ml_should_exit"`
	MLConfidence float64   `gorm:"column:ml_confidence"`
	PSLHit       bool      `gorm:"column:psl_hit"`
	PSLStage     string    `gorm:"column:psl_stage"`
	DecisionMade string
	NetPnL       float64  `gorm:"column:net_pnl"`
	ResultingPnL *float64 `gorm:"column:resulting_pnl"`
}

func (AttributionTickRow) TableName() string { return "attribution_ticks" }

// ToPositionRow converts the domain position for storage.
func ToPositionRow(p *types.Position) PositionRow {
	row := PositionRow{
		ID:         p.ID,
		RunID:      p.RunID,
		Underlying: p.Underlying,
		SignalType: string(p.Signal.Type),

		MainStrike:     p.MainLeg.Strike,
		MainOptionType: string(p.MainLeg.OptionType),
		MainEntryPrice: p.MainLeg.EntryPrice,
		MainExitPrice:  p.MainLeg.ExitPrice,
		MainQuantity:   p.MainLeg.Quantity,
		MainOrderID:    p.MainLeg.OrderID,

		Lots:       p.Lots,
		EntryTime:  p.EntryTime,
		Status:     string(p.Status),
		ExitReason: p.ExitReason,
		Expiry:     p.Expiry,

		SignalEntryPrice: p.Signal.EntryPrice,
		SignalStopLoss:   p.Signal.StopLoss,
		SignalReason:     p.Signal.Reason,
	}
	if !p.ExitTime.IsZero() {
		t := p.ExitTime
		row.ExitTime = &t
	}
	if p.HedgeLeg != nil {
		row.Hedged = true
		row.HedgeStrike = p.HedgeLeg.Strike
		row.HedgeOptionType = string(p.HedgeLeg.OptionType)
		row.HedgeEntryPrice = p.HedgeLeg.EntryPrice
		row.HedgeExitPrice = p.HedgeLeg.ExitPrice
		row.HedgeQuantity = p.HedgeLeg.Quantity
		row.HedgeOrderID = p.HedgeLeg.OrderID
	}
	return row
}

// FromPositionRow reconstructs the domain position.
func FromPositionRow(row PositionRow) types.Position {
	p := types.Position{
		ID:         row.ID,
		RunID:      row.RunID,
		Underlying: row.Underlying,
		Signal: types.Signal{
			Type:       types.SignalType(row.SignalType),
			EntryPrice: row.SignalEntryPrice,
			StopLoss:   row.SignalStopLoss,
			Reason:     row.SignalReason,
		},
		MainLeg: types.Leg{
			Strike:     row.MainStrike,
			OptionType: types.OptionType(row.MainOptionType),
			Side:       types.SideSell,
			EntryPrice: row.MainEntryPrice,
			ExitPrice:  row.MainExitPrice,
			Quantity:   row.MainQuantity,
			OrderID:    row.MainOrderID,
		},
		Lots:       row.Lots,
		EntryTime:  row.EntryTime,
		Status:     types.PositionStatus(row.Status),
		ExitReason: row.ExitReason,
		Expiry:     row.Expiry,
	}
	if row.ExitTime != nil {
		p.ExitTime = *row.ExitTime
	}
	if row.Hedged {
		p.HedgeLeg = &types.Leg{
			Strike:     row.HedgeStrike,
			OptionType: types.OptionType(row.HedgeOptionType),
			Side:       types.SideBuy,
			EntryPrice: row.HedgeEntryPrice,
			ExitPrice:  row.HedgeExitPrice,
			Quantity:   row.HedgeQuantity,
			OrderID:    row.HedgeOrderID,
		}
	}
	return p
}

// ToTickRow converts an attribution record for storage.
func ToTickRow(r types.AttributionRecord) AttributionTickRow {
	return AttributionTickRow{
		PositionID:   r.PositionID,
		At:           r.At,
		MLShouldExit: r.MLShouldExit,
		MLConfidence: r.MLConfidence,
		PSLHit:       r.PSLHit,
		PSLStage:     string(r.PSLStage),
		DecisionMade: r.DecisionMade,
		NetPnL:       r.NetPnL,
		ResultingPnL: r.ResultingPnL,
	}
}

// FromTickRow reconstructs the attribution record.
func FromTickRow(row AttributionTickRow) types.AttributionRecord {
	return types.AttributionRecord{
		PositionID:   row.PositionID,
		At:           row.At,
		MLShouldExit: row.MLShouldExit,
		MLConfidence: row.MLConfidence,
		PSLHit:       row.PSLHit,
		PSLStage:     types.SLStage(row.PSLStage),
		DecisionMade: row.DecisionMade,
		NetPnL:       row.NetPnL,
		ResultingPnL: row.ResultingPnL,
	}
}

// ToTransitionRow converts an audited stop-loss transition for storage.
func ToTransitionRow(tr types.SLTransition) SLTransitionRow {
	return SLTransitionRow{
		PositionID: tr.PositionID,
		At:         tr.At,
		FromStage:  string(tr.FromStage),
		ToStage:    string(tr.ToStage),
		OldLevel:   tr.OldLevel,
		NewLevel:   tr.NewLevel,
		Reason:     tr.Reason,
		SpotPrice:  tr.SpotPrice,
		MainPrice:  tr.MainPrice,
		HedgePrice: tr.HedgePrice,
	}
}
