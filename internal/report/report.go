package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"index-options-bot/internal/types"
)

func logDir() string {
	if v := os.Getenv("TRADER_LOG_DIR"); v != "" {
		return v
	}
	return "logs"
}

func runCSVPath(runID string) string {
	return filepath.Join(logDir(), "runs", runID+".csv")
}

type signalAgg struct {
	Signal   string
	Trades   int
	Wins     int
	TotalPnL float64
}

// realized is the closed position's P&L from its fills.
func realized(p types.Position) float64 {
	pnl := (p.MainLeg.EntryPrice - p.MainLeg.ExitPrice) * float64(p.MainLeg.Quantity)
	if p.HedgeLeg != nil {
		pnl += (p.HedgeLeg.ExitPrice - p.HedgeLeg.EntryPrice) * float64(p.HedgeLeg.Quantity)
	}
	return pnl
}

// SummarizeRun writes the per-signal CSV summary of a run's closed positions
// and returns the file path. No positions means no file and no error.
func SummarizeRun(runID string, positions []types.Position) (string, error) {
	if len(positions) == 0 {
		return "", nil
	}

	aggs := map[string]*signalAgg{}
	for _, p := range positions {
		key := string(p.Signal.Type)
		row := aggs[key]
		if row == nil {
			row = &signalAgg{Signal: key}
			aggs[key] = row
		}
		pnl := realized(p)
		row.Trades++
		if pnl > 0 {
			row.Wins++
		}
		row.TotalPnL += pnl
	}

	keys := make([]string, 0, len(aggs))
	for k := range aggs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	outPath := runCSVPath(runID)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	w := csv.NewWriter(out)
	defer w.Flush()
	headers := []string{"signal", "trades", "wins", "win_rate", "total_pnl", "avg_pnl"}
	if err := w.Write(headers); err != nil {
		return "", err
	}

	var totalTrades, totalWins int
	var totalPnL float64
	for _, k := range keys {
		r := aggs[k]
		winRate := float64(r.Wins) / float64(r.Trades) * 100
		rec := []string{
			r.Signal,
			strconv.Itoa(r.Trades),
			strconv.Itoa(r.Wins),
			fmt.Sprintf("%.1f", winRate),
			fmt.Sprintf("%.2f", r.TotalPnL),
			fmt.Sprintf("%.2f", r.TotalPnL/float64(r.Trades)),
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
		totalTrades += r.Trades
		totalWins += r.Wins
		totalPnL += r.TotalPnL
	}

	totalRate := float64(totalWins) / float64(totalTrades) * 100
	_ = w.Write([]string{"TOTAL",
		strconv.Itoa(totalTrades),
		strconv.Itoa(totalWins),
		fmt.Sprintf("%.1f", totalRate),
		fmt.Sprintf("%.2f", totalPnL),
		fmt.Sprintf("%.2f", totalPnL/float64(totalTrades)),
	})
	return outPath, nil
}
