package zones

import (
	"context"
	"errors"
	"math"
	"time"

	"index-options-bot/internal/logger"
	"index-options-bot/internal/types"
)

// ErrInsufficientData means the prior week cannot support a zone. The week
// is skipped; a zone is never fabricated from partial data.
var ErrInsufficientData = errors.New("insufficient prior-week data for zone")

var ist = time.FixedZone("IST", 19800)

// IST returns the exchange time zone.
func IST() *time.Location { return ist }

// Calculator derives the weekly support/resistance bands and bias from the
// prior week's hourly candles.
type Calculator struct {
	minPriorCandles int
}

func New(minPriorCandles int) *Calculator {
	return &Calculator{minPriorCandles: minPriorCandles}
}

// WeekStart returns Monday 00:00 IST of the week containing t.
func WeekStart(t time.Time) time.Time {
	t = t.In(ist)
	offset := (int(t.Weekday()) + 6) % 7 // Monday = 0
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, ist)
	return d.AddDate(0, 0, -offset)
}

// Calculate builds the zone for the week starting at weekStart from the
// immediately preceding week's hourly candles.
func (c *Calculator) Calculate(ctx context.Context, weekStart time.Time, prevWeek []types.Candle) (types.WeeklyZone, error) {
	if len(prevWeek) < c.minPriorCandles {
		logger.Warn(ctx, "Skipping week, not enough prior candles",
			"week_start", weekStart.Format("2006-01-02"),
			"candles", len(prevWeek),
			"required", c.minPriorCandles,
		)
		return types.WeeklyZone{}, ErrInsufficientData
	}

	high := prevWeek[0].High
	low := prevWeek[0].Low
	for _, cd := range prevWeek {
		if cd.High > high {
			high = cd.High
		}
		if cd.Low < low {
			low = cd.Low
		}
	}
	close := prevWeek[len(prevWeek)-1].Close

	maxBody, minBody := bodyExtremes(Resample4H(prevWeek))
	z := FromLevels(weekStart, high, low, close, maxBody, minBody)

	logger.Info(ctx, "Weekly zone computed",
		"week_start", weekStart.Format("2006-01-02"),
		"resistance_top", z.ResistanceTop,
		"resistance_bottom", z.ResistanceBottom,
		"support_top", z.SupportTop,
		"support_bottom", z.SupportBottom,
		"bias", z.Bias,
	)
	return z, nil
}

// FromLevels assembles a zone from already-extracted prior-week levels.
// Callers with a native 4-hour feed can pass its body extremes directly
// instead of resampling the hourly series.
func FromLevels(weekStart time.Time, high, low, close, maxBody, minBody float64) types.WeeklyZone {
	return types.WeeklyZone{
		WeekStart:     weekStart,
		WeekEnd:       weekStart.AddDate(0, 0, 7),
		PrevWeekHigh:  high,
		PrevWeekLow:   low,
		PrevWeekClose: close,
		MaxBody4H:     maxBody,
		MinBody4H:     minBody,

		ResistanceTop:    math.Max(high, maxBody),
		ResistanceBottom: math.Min(high, maxBody),
		SupportTop:       math.Max(low, minBody),
		SupportBottom:    math.Min(low, minBody),

		Bias: classifyBias(close, maxBody, minBody),
	}
}

// classifyBias compares the weekly close's distance to the 4H body extremes.
// A close nearer the body-max edge reads BEARISH and nearer the body-min edge
// reads BULLISH; this inversion is the strategy's calibrated behavior, not a
// bug.
func classifyBias(close, maxBody, minBody float64) types.Bias {
	distTop := math.Abs(close - maxBody)
	distBottom := math.Abs(close - minBody)
	switch {
	case distTop < distBottom:
		return types.BiasBearish
	case distBottom < distTop:
		return types.BiasBullish
	default:
		return types.BiasNeutral
	}
}

// Resample4H buckets hourly candles into 4-hour candles aligned to the first
// candle's timestamp. A partial trailing bucket is kept; only body edges are
// consumed downstream, so a short bucket is still meaningful.
func Resample4H(hourly []types.Candle) []types.Candle {
	if len(hourly) == 0 {
		return nil
	}
	const bucket = 4 * 3600
	out := make([]types.Candle, 0, len(hourly)/4+1)
	start := hourly[0].Ts

	var cur types.Candle
	var open bool
	var curBucket int64
	for _, c := range hourly {
		b := (c.Ts - start) / bucket
		if !open || b != curBucket {
			if open {
				out = append(out, cur)
			}
			cur = c
			curBucket = b
			open = true
			continue
		}
		if c.High > cur.High {
			cur.High = c.High
		}
		if c.Low < cur.Low {
			cur.Low = c.Low
		}
		cur.Close = c.Close
	}
	out = append(out, cur)
	return out
}

// bodyExtremes returns the highest and lowest candle-body edge (open/close,
// wicks excluded) over the series.
func bodyExtremes(cs []types.Candle) (maxBody, minBody float64) {
	maxBody = math.Inf(-1)
	minBody = math.Inf(1)
	for _, c := range cs {
		top := math.Max(c.Open, c.Close)
		bottom := math.Min(c.Open, c.Close)
		if top > maxBody {
			maxBody = top
		}
		if bottom < minBody {
			minBody = bottom
		}
	}
	return maxBody, minBody
}
