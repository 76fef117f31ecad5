package interfaces

import (
	"context"

	"index-options-bot/internal/types"
)

// TradeStore is the persistence boundary. Rows are append-mostly, keyed by
// run/position identifiers; the two hot query paths are ticks-for-position
// and closed-positions-for-run.
type TradeStore interface {
	SavePosition(ctx context.Context, pos *types.Position) error
	UpdatePosition(ctx context.Context, pos *types.Position) error
	SaveSLTransition(ctx context.Context, tr types.SLTransition) error
	SaveAttribution(ctx context.Context, rec types.AttributionRecord) error
	BackfillTickPnL(ctx context.Context, positionID string, pnl float64) error
	TicksForPosition(ctx context.Context, positionID string) ([]types.AttributionRecord, error)
	ClosedPositionsForRun(ctx context.Context, runID string) ([]types.Position, error)
}
