package interfaces

import (
	"context"
	"time"

	"index-options-bot/internal/types"
)

// MarketData supplies historical/live candles in strictly increasing
// timestamp order. Gap handling is the provider's concern.
type MarketData interface {
	// Candles returns bars for [from, to) at the given interval ("hour",
	// "5minute", ...), ordered by timestamp.
	Candles(ctx context.Context, underlying, interval string, from, to time.Time) ([]types.Candle, error)
}

// OptionChainProvider supplies an option-chain snapshot for one expiry.
type OptionChainProvider interface {
	OptionChain(ctx context.Context, underlying string, expiry time.Time, ot types.OptionType) ([]types.OptionQuote, error)
}
