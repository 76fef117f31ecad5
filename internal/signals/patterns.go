package signals

import (
	"math"

	"index-options-bot/internal/types"
)

// Params are the calibratable numeric margins shared by the patterns.
type Params struct {
	StopLossBuffer float64 // points beyond the trigger candle's extreme
	BreakoutMargin float64 // extra points required beyond a zone edge
	StrikeStep     float64 // strike rounding step
}

// pattern is one weekly entry predicate over the first two hourly candles of
// the week. It returns nil when the pattern does not apply.
type pattern struct {
	id    types.SignalType
	name  string
	check func(z types.WeeklyZone, c1, c2 types.Candle, p Params) *types.Signal
}

// allPatterns is the closed set of entry patterns, in evaluation order.
var allPatterns = []pattern{
	{types.S1, "Bear Trap", detectS1},
	{types.S2, "Support Hold", detectS2},
	{types.S3, "Resistance Hold", detectS3},
	{types.S4, "Bias Failure Bull", detectS4},
	{types.S5, "Bias Failure Bear", detectS5},
	{types.S6, "Weakness Confirmed", detectS6},
	{types.S7, "Breakout Confirmed", detectS7},
	{types.S8, "Breakdown Confirmed", detectS8},
}

func newSignal(id types.SignalType, c2 types.Candle, entry, stop float64, ot types.OptionType, p Params, reason string) *types.Signal {
	return &types.Signal{
		Type:        id,
		TriggerTime: c2.Time(),
		EntryPrice:  entry,
		StopLoss:    stop,
		OptionType:  ot,
		MainStrike:  roundToStep(stop, p.StrikeStep),
		Reason:      reason,
	}
}

// roundToStep snaps a price to the nearest tradable strike.
func roundToStep(price, step float64) float64 {
	if step <= 0 {
		return price
	}
	return math.Round(price/step) * step
}

// S1 Bear Trap: the week opens at or above support, the first candle fakes a
// breakdown through the support bottom, and the second candle recovers above
// the first candle's low. Bullish; sell the PUT.
func detectS1(z types.WeeklyZone, c1, c2 types.Candle, p Params) *types.Signal {
	if c1.Open < z.SupportBottom {
		return nil
	}
	if c1.Close >= z.SupportBottom {
		return nil
	}
	if c2.Close <= c1.Low {
		return nil
	}
	return newSignal(types.S1, c2, c2.Close, c1.Low-p.StopLossBuffer, types.OptionPut, p,
		"fakeout below support recovered")
}

// S2 Support Hold: a bullish week opens above the prior low and both candles
// hold the support zone and the prior close. Bullish; sell the PUT.
func detectS2(z types.WeeklyZone, c1, c2 types.Candle, p Params) *types.Signal {
	if z.Bias != types.BiasBullish {
		return nil
	}
	if c1.Open <= z.PrevWeekLow {
		return nil
	}
	if c1.Close < z.SupportBottom || c1.Close < z.PrevWeekClose {
		return nil
	}
	if c2.Close < c1.Low || c2.Close <= z.PrevWeekClose || c2.Close <= z.SupportBottom {
		return nil
	}
	return newSignal(types.S2, c2, c2.Close, z.SupportBottom, types.OptionPut, p,
		"support zone held with bullish bias")
}

// S3 Resistance Hold: mirror of S2. A bearish week opens below the prior
// high and both candles stay capped under the resistance zone and the prior
// close. Bearish; sell the CALL.
func detectS3(z types.WeeklyZone, c1, c2 types.Candle, p Params) *types.Signal {
	if z.Bias != types.BiasBearish {
		return nil
	}
	if c1.Open >= z.PrevWeekHigh {
		return nil
	}
	if c1.Close > z.ResistanceTop || c1.Close > z.PrevWeekClose {
		return nil
	}
	if c2.Close > c1.High || c2.Close >= z.PrevWeekClose || c2.Close >= z.ResistanceTop {
		return nil
	}
	return newSignal(types.S3, c2, c2.Close, z.ResistanceTop, types.OptionCall, p,
		"resistance zone held with bearish bias")
}

// S4 Bias Failure Bull: a bearish-bias week opens above the resistance top
// and the second candle extends beyond the first candle's high, overriding
// the bias. Bullish; sell the PUT.
func detectS4(z types.WeeklyZone, c1, c2 types.Candle, p Params) *types.Signal {
	if z.Bias != types.BiasBearish {
		return nil
	}
	if c1.Open <= z.ResistanceTop {
		return nil
	}
	if c2.Close <= c1.High+p.BreakoutMargin {
		return nil
	}
	return newSignal(types.S4, c2, c2.Close, c1.Low-p.StopLossBuffer, types.OptionPut, p,
		"gap above resistance against bearish bias")
}

// S5 Bias Failure Bear: a bullish-bias week opens below the support bottom
// and the second candle extends below the first candle's low. Bearish; sell
// the CALL.
func detectS5(z types.WeeklyZone, c1, c2 types.Candle, p Params) *types.Signal {
	if z.Bias != types.BiasBullish {
		return nil
	}
	if c1.Open >= z.SupportBottom {
		return nil
	}
	if c2.Close >= c1.Low-p.BreakoutMargin {
		return nil
	}
	return newSignal(types.S5, c2, c2.Close, c1.High+p.StopLossBuffer, types.OptionCall, p,
		"gap below support against bullish bias")
}

// S6 Weakness Confirmed: a bearish week probes the resistance band, fails
// inside it, and the second candle closes back below the band. Bearish; sell
// the CALL.
func detectS6(z types.WeeklyZone, c1, c2 types.Candle, p Params) *types.Signal {
	if z.Bias != types.BiasBearish {
		return nil
	}
	if c1.High < z.ResistanceBottom || c1.Close > z.ResistanceTop {
		return nil
	}
	if c2.Close >= z.ResistanceBottom {
		return nil
	}
	return newSignal(types.S6, c2, c2.Close, z.ResistanceTop+p.StopLossBuffer, types.OptionCall, p,
		"resistance probe rejected")
}

// S7 Breakout Confirmed: both candles close above the resistance top with
// the second making further progress. Bullish; sell the PUT.
func detectS7(z types.WeeklyZone, c1, c2 types.Candle, p Params) *types.Signal {
	if c1.Close <= z.ResistanceTop+p.BreakoutMargin {
		return nil
	}
	if c2.Close <= z.ResistanceTop+p.BreakoutMargin || c2.Close <= c1.Close {
		return nil
	}
	return newSignal(types.S7, c2, c2.Close, z.ResistanceBottom, types.OptionPut, p,
		"two-candle close above resistance")
}

// S8 Breakdown Confirmed: both candles close below the support bottom with
// the second making a lower close. Bearish; sell the CALL.
func detectS8(z types.WeeklyZone, c1, c2 types.Candle, p Params) *types.Signal {
	if c1.Close >= z.SupportBottom-p.BreakoutMargin {
		return nil
	}
	if c2.Close >= z.SupportBottom-p.BreakoutMargin || c2.Close >= c1.Close {
		return nil
	}
	return newSignal(types.S8, c2, c2.Close, z.SupportTop, types.OptionCall, p,
		"two-candle close below support")
}
