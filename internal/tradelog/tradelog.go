package tradelog

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var mu sync.Mutex

// Entry is one leg fill appended to the daily journal.
type Entry struct {
	Time       string  `json:"time"`
	PositionID string  `json:"position_id"`
	Tag        string  `json:"tag"` // HEDGE_ENTRY, MAIN_ENTRY, MAIN_EXIT, HEDGE_EXIT, HEDGE_UNWIND
	Strike     float64 `json:"strike"`
	OptionType string  `json:"option_type"`
	Side       string  `json:"side"`
	Qty        int     `json:"qty"`
	Price      float64 `json:"price"`
	OrderID    string  `json:"order_id"`
	Reason     string  `json:"reason,omitempty"`
}

// DecisionEntry is one attribution/stop-loss tick appended to the decisions
// journal.
type DecisionEntry struct {
	Time       string  `json:"time"`
	PositionID string  `json:"position_id"`
	Stage      string  `json:"stage"`
	NetPnL     float64 `json:"net_pnl"`
	StopLevel  float64 `json:"stop_level"`
	Decision   string  `json:"decision"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

func logDir() string {
	if v := os.Getenv("TRADER_LOG_DIR"); v != "" {
		return v
	}
	return "logs"
}

var ist = time.FixedZone("IST", 19800)

func dailyFilepath(t time.Time) string {
	return filepath.Join(logDir(), t.In(ist).Format("2006-01-02")+".txt")
}

func decisionsFilepath(t time.Time) string {
	return filepath.Join(logDir(), "decisions", t.In(ist).Format("2006-01-02")+".txt")
}

// Append writes one leg fill to today's journal file.
func Append(e Entry) error {
	mu.Lock()
	defer mu.Unlock()
	now := time.Now().In(ist)
	e.Time = now.Format("2006-01-02 15:04:05")
	return appendJSON(dailyFilepath(now), e)
}

// AppendDecision writes one evaluation tick to today's decisions file.
func AppendDecision(e DecisionEntry) error {
	mu.Lock()
	defer mu.Unlock()
	now := time.Now().In(ist)
	e.Time = now.Format("2006-01-02 15:04:05")
	return appendJSON(decisionsFilepath(now), e)
}

func appendJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b, _ := json.Marshal(v)
	_, err = fmt.Fprintln(f, string(b))
	return err
}

// CompressOlder gzips journal files older than the retention window and
// removes the originals. Zero or negative days disables compression.
func CompressOlder(days int) error {
	if days <= 0 {
		return nil
	}
	cutoff := time.Now().In(ist).AddDate(0, 0, -days)
	return filepath.Walk(logDir(), func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || !strings.HasSuffix(path, ".txt") {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		return gzipFile(path)
	})
}

func gzipFile(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		zw.Close()
		out.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}
