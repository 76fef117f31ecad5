package hedge

import (
	"context"
	"errors"
	"testing"
	"time"

	"index-options-bot/internal/types"
)

func chainPE(premiums map[float64]float64) []types.OptionQuote {
	expiry := time.Date(2025, 9, 2, 15, 30, 0, 0, time.UTC)
	out := make([]types.OptionQuote, 0, len(premiums))
	for strike, prem := range premiums {
		out = append(out, types.OptionQuote{
			Strike:     strike,
			OptionType: types.OptionPut,
			Premium:    prem,
			Expiry:     expiry,
		})
	}
	return out
}

func TestOffsetModePut(t *testing.T) {
	s := New(Config{Mode: ModeOffset, OffsetPoints: 200})
	chain := chainPE(map[float64]float64{24600: 120, 24400: 55})

	sel, err := s.Select(context.Background(), 24600, 120, types.OptionPut, chain)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.Strike != 24400 {
		t.Errorf("hedge strike = %.0f, want main - offset = 24400", sel.Strike)
	}
	if sel.Premium != 55 {
		t.Errorf("hedge premium = %.2f, want 55", sel.Premium)
	}
}

func TestOffsetModeCall(t *testing.T) {
	s := New(Config{Mode: ModeOffset, OffsetPoints: 150})
	chain := []types.OptionQuote{
		{Strike: 25250, OptionType: types.OptionCall, Premium: 40},
	}
	sel, err := s.Select(context.Background(), 25100, 100, types.OptionCall, chain)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.Strike != 25250 {
		t.Errorf("hedge strike = %.0f, want main + offset = 25250", sel.Strike)
	}
}

func TestOffsetModeMissingQuote(t *testing.T) {
	s := New(Config{Mode: ModeOffset, OffsetPoints: 200})
	chain := chainPE(map[float64]float64{24600: 120}) // no 24400 quote

	_, err := s.Select(context.Background(), 24600, 120, types.OptionPut, chain)
	if !errors.Is(err, ErrHedgeUnavailable) {
		t.Fatalf("expected ErrHedgeUnavailable, got %v", err)
	}
}

func TestRatioModePicksClosestPremium(t *testing.T) {
	s := New(Config{Mode: ModeRatio, PremiumRatio: 0.30, RatioTolerance: 0.25})
	chain := chainPE(map[float64]float64{
		24600: 120, // main
		24500: 80,
		24400: 38, // closest to 0.30*120=36
		24300: 20,
	})

	sel, err := s.Select(context.Background(), 24600, 120, types.OptionPut, chain)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.Strike != 24400 {
		t.Errorf("hedge strike = %.0f, want 24400", sel.Strike)
	}
}

func TestRatioModeIdempotent(t *testing.T) {
	s := New(Config{Mode: ModeRatio, PremiumRatio: 0.30, RatioTolerance: 0.25})
	// Two strikes equidistant from the 36-point target; the tie must break
	// deterministically (nearer the main strike).
	chain := chainPE(map[float64]float64{
		24600: 120,
		24500: 40,
		24200: 32,
	})

	var first Selection
	for i := 0; i < 5; i++ {
		sel, err := s.Select(context.Background(), 24600, 120, types.OptionPut, chain)
		if err != nil {
			t.Fatalf("Select run %d: %v", i, err)
		}
		if i == 0 {
			first = sel
			continue
		}
		if sel != first {
			t.Fatalf("run %d selected %+v, first run selected %+v", i, sel, first)
		}
	}
	if first.Strike != 24500 {
		t.Errorf("tie broke to %.0f, want strike nearer main (24500)", first.Strike)
	}
}

func TestRatioModeOutsideTolerance(t *testing.T) {
	s := New(Config{Mode: ModeRatio, PremiumRatio: 0.30, RatioTolerance: 0.10})
	chain := chainPE(map[float64]float64{
		24600: 120,
		24500: 90, // target 36, closest is 90: way off
	})

	_, err := s.Select(context.Background(), 24600, 120, types.OptionPut, chain)
	if !errors.Is(err, ErrHedgeUnavailable) {
		t.Fatalf("expected ErrHedgeUnavailable, got %v", err)
	}
}

func TestRatioModeEmptyChain(t *testing.T) {
	s := New(Config{Mode: ModeRatio, PremiumRatio: 0.30, RatioTolerance: 0.25})
	_, err := s.Select(context.Background(), 24600, 120, types.OptionPut, nil)
	if !errors.Is(err, ErrHedgeUnavailable) {
		t.Fatalf("expected ErrHedgeUnavailable, got %v", err)
	}
}
