package attribution

import (
	"context"
	"math"

	"index-options-bot/internal/interfaces"
	"index-options-bot/internal/logger"
	"index-options-bot/internal/types"
)

// NoopModel is the fallback exit model used when no predictor is configured.
// It never recommends an exit.
type NoopModel struct{}

func NewNoopModel() *NoopModel { return &NoopModel{} }

func (m *NoopModel) ShouldExit(ctx context.Context, pos *types.Position, sl types.SLState, netPnL float64) (types.ExitDecision, error) {
	logger.Debug(ctx, "Noop exit model consulted", "position_id", pos.ID)
	return types.ExitDecision{ShouldExit: false, Confidence: 0, Reason: "noop_model"}, nil
}

var _ interfaces.ExitModel = (*NoopModel)(nil)

// ThresholdModel is a deterministic stand-in for the external ML exit
// scorer, exposed through the same interface. It recommends exit when the
// position has retraced a configured fraction from its profit peak, or when
// the loss has consumed a configured share of the distance to the stop.
type ThresholdModel struct {
	retraceFraction    float64 // e.g. 0.5: exit after giving back half the peak
	lossStopMultiplier float64 // e.g. 0.8: exit at 80% of the way to the stop
}

func NewThresholdModel(retraceFraction, lossStopMultiplier float64) *ThresholdModel {
	return &ThresholdModel{
		retraceFraction:    retraceFraction,
		lossStopMultiplier: lossStopMultiplier,
	}
}

var _ interfaces.ExitModel = (*ThresholdModel)(nil)

func (m *ThresholdModel) ShouldExit(ctx context.Context, pos *types.Position, sl types.SLState, netPnL float64) (types.ExitDecision, error) {
	if sl.MaxProfitSeen > 0 {
		giveback := sl.MaxProfitSeen - netPnL
		if giveback >= m.retraceFraction*sl.MaxProfitSeen {
			conf := math.Min(1, giveback/sl.MaxProfitSeen)
			return types.ExitDecision{ShouldExit: true, Confidence: conf, Reason: "peak_retracement"}, nil
		}
	}
	if sl.CurrentLevel < 0 && netPnL < 0 {
		progress := netPnL / sl.CurrentLevel // 1.0 = at the stop
		if progress >= m.lossStopMultiplier {
			return types.ExitDecision{ShouldExit: true, Confidence: math.Min(1, progress), Reason: "loss_approaching_stop"}, nil
		}
	}
	return types.ExitDecision{ShouldExit: false, Confidence: 0.1, Reason: "hold"}, nil
}
