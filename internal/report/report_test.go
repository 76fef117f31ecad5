package report

import (
	"encoding/csv"
	"os"
	"testing"

	"index-options-bot/internal/types"
)

func closedPosition(sig types.SignalType, mainEntry, mainExit float64) types.Position {
	hedge := &types.Leg{Strike: 24400, OptionType: types.OptionPut, Side: types.SideBuy,
		EntryPrice: 30, ExitPrice: 20, Quantity: 75}
	return types.Position{
		ID:     "p-" + string(sig),
		Signal: types.Signal{Type: sig},
		MainLeg: types.Leg{Strike: 24600, OptionType: types.OptionPut, Side: types.SideSell,
			EntryPrice: mainEntry, ExitPrice: mainExit, Quantity: 75},
		HedgeLeg: hedge,
		Status:   types.StatusClosed,
	}
}

func TestSummarizeRunWritesPerSignalRows(t *testing.T) {
	t.Setenv("TRADER_LOG_DIR", t.TempDir())

	positions := []types.Position{
		closedPosition(types.S1, 100, 40),  // pnl (60-10)*75 = 3750
		closedPosition(types.S1, 100, 130), // pnl (-30-10)*75 = -3000
		closedPosition(types.S7, 80, 30),   // pnl (50-10)*75 = 3000
	}

	path, err := SummarizeRun("run-x", positions)
	if err != nil {
		t.Fatalf("SummarizeRun: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open summary: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	// header + S1 + S7 + TOTAL
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want 4", len(rows))
	}
	if rows[1][0] != "S1" || rows[1][1] != "2" || rows[1][2] != "1" {
		t.Errorf("S1 row = %v", rows[1])
	}
	if rows[1][4] != "750.00" {
		t.Errorf("S1 total pnl = %s, want 750.00", rows[1][4])
	}
	if rows[2][0] != "S7" || rows[2][4] != "3000.00" {
		t.Errorf("S7 row = %v", rows[2])
	}
	if rows[3][0] != "TOTAL" || rows[3][1] != "3" || rows[3][4] != "3750.00" {
		t.Errorf("TOTAL row = %v", rows[3])
	}
}

func TestSummarizeRunEmpty(t *testing.T) {
	t.Setenv("TRADER_LOG_DIR", t.TempDir())
	path, err := SummarizeRun("run-y", nil)
	if err != nil {
		t.Fatalf("SummarizeRun: %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want empty for no positions", path)
	}
}
