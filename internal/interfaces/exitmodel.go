package interfaces

import (
	"context"

	"index-options-bot/internal/types"
)

// ExitModel scores whether an open position should be exited now. It is the
// model-driven counterpart to the rule-based stop-loss engine; in backtests
// it is consulted for attribution only and never triggers an exit itself.
type ExitModel interface {
	ShouldExit(ctx context.Context, pos *types.Position, sl types.SLState, netPnL float64) (types.ExitDecision, error)
}
