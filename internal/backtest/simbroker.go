package backtest

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"index-options-bot/internal/interfaces"
	"index-options-bot/internal/types"
)

// SimBroker fills leg orders against a synthetic option pricing surface
// driven by the candle the orchestrator is currently replaying. Pricing is
// deterministic: intrinsic value plus a time value that decays with strike
// distance and remaining life, so the same run always produces the same
// fills.
type SimBroker struct {
	underlying string
	strikeStep float64

	mu       sync.Mutex
	at       time.Time
	spot     float64
	expiry   time.Time
	orderSeq int
}

var (
	_ interfaces.Broker              = (*SimBroker)(nil)
	_ interfaces.OptionChainProvider = (*SimBroker)(nil)
)

func NewSimBroker(underlying string, strikeStep float64) *SimBroker {
	return &SimBroker{underlying: underlying, strikeStep: strikeStep}
}

// SetMark positions the pricing surface at one replayed candle.
func (b *SimBroker) SetMark(at time.Time, spot float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.at = at
	b.spot = spot
}

// SetExpiry sets the contract expiry the surface prices against.
func (b *SimBroker) SetExpiry(expiry time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expiry = expiry
}

func (b *SimBroker) Spot(ctx context.Context, underlying string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spot, nil
}

func (b *SimBroker) OptionLTP(ctx context.Context, underlying string, strike float64, ot types.OptionType) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.premiumLocked(strike, ot), nil
}

func (b *SimBroker) PlaceLeg(ctx context.Context, req types.LegOrderReq) (types.LegOrderResp, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orderSeq++
	return types.LegOrderResp{
		OrderID: fmt.Sprintf("BT-%06d", b.orderSeq),
		Price:   b.premiumLocked(req.Strike, req.OptionType),
		Time:    b.at,
		Status:  "FILLED",
	}, nil
}

func (b *SimBroker) Start(ctx context.Context, underlyings []string) error { return nil }
func (b *SimBroker) Stop(ctx context.Context)                              {}

func (b *SimBroker) OptionChain(ctx context.Context, underlying string, expiry time.Time, ot types.OptionType) ([]types.OptionQuote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	atm := math.Round(b.spot/b.strikeStep) * b.strikeStep
	chain := make([]types.OptionQuote, 0, 21)
	for i := -10; i <= 10; i++ {
		strike := atm + float64(i)*b.strikeStep
		chain = append(chain, types.OptionQuote{
			Strike:     strike,
			OptionType: ot,
			Premium:    b.premiumLocked(strike, ot),
			Expiry:     expiry,
		})
	}
	return chain, nil
}

func (b *SimBroker) premiumLocked(strike float64, ot types.OptionType) float64 {
	intrinsic := b.spot - strike
	if ot == types.OptionPut {
		intrinsic = strike - b.spot
	}
	if intrinsic < 0 {
		intrinsic = 0
	}

	tte := b.expiry.Sub(b.at).Hours()
	if tte < 1 {
		tte = 1
	}
	timeValue := 90 * math.Exp(-math.Abs(strike-b.spot)/300) * math.Sqrt(tte/(5*24))

	premium := intrinsic + timeValue
	if premium < 1 {
		premium = 1
	}
	return premium
}
