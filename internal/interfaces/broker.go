package interfaces

import (
	"context"

	"index-options-bot/internal/types"
)

// Broker is the execution-side boundary: quotes and leg orders. The live
// implementation wraps Zerodha Kite; backtests use a simulated fill broker.
type Broker interface {
	// Spot returns the last traded price of the underlying index.
	Spot(ctx context.Context, underlying string) (float64, error)

	// OptionLTP returns the last traded premium for one contract.
	OptionLTP(ctx context.Context, underlying string, strike float64, ot types.OptionType) (float64, error)

	// PlaceLeg places a single leg order and returns the fill confirmation.
	PlaceLeg(ctx context.Context, req types.LegOrderReq) (types.LegOrderResp, error)

	// Start initializes broker connections (e.g. the WebSocket ticker).
	Start(ctx context.Context, underlyings []string) error

	// Stop shuts down broker connections.
	Stop(ctx context.Context)
}
