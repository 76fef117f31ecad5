package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"index-options-bot/internal/backtest"
	"index-options-bot/internal/broker/kite"
	"index-options-bot/internal/db"
	"index-options-bot/internal/interfaces"
	"index-options-bot/internal/logger"
	"index-options-bot/internal/report"
	"index-options-bot/internal/store"
	"index-options-bot/internal/trace"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to the YAML configuration")
		fromStr    = flag.String("from", "", "start date (2006-01-02), inclusive")
		toStr      = flag.String("to", "", "end date (2006-01-02), exclusive")
	)
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := store.LoadConfig(*configPath)
	must(err)
	must(logger.Init())
	must(trace.Init())

	from, err := time.Parse("2006-01-02", *fromStr)
	must(err)
	to, err := time.Parse("2006-01-02", *toStr)
	must(err)

	ctx := context.Background()
	defer func() { _ = trace.Shutdown(ctx) }()

	data := kite.New(kite.Params{
		Mode:        cfg.Mode,
		APIKey:      os.Getenv("KITE_API_KEY"),
		AccessToken: os.Getenv("KITE_ACCESS_TOKEN"),
		Exchange:    cfg.Exchange,
	})
	must(data.Start(ctx, []string{cfg.Underlying}))
	defer data.Stop(ctx)

	trades := openTradeStore(cfg)

	o := backtest.New(cfg, data, trades)
	res, err := o.Run(ctx, from, to)
	must(err)

	log.Printf("run %s: %d weeks, %d signals, %d positions, total P&L %.2f",
		res.RunID, res.WeeksEvaluated, res.SignalsDetected, len(res.Positions), res.TotalPnL)

	if path, err := report.SummarizeRun(res.RunID, res.Positions); err != nil {
		log.Printf("summary CSV failed: %v", err)
	} else if path != "" {
		log.Println("summary CSV written:", path)
	}
}

// openTradeStore prefers Postgres and falls back to the in-process store when
// no database host is configured.
func openTradeStore(cfg *store.Config) interfaces.TradeStore {
	if cfg.DB.Host == "" {
		log.Println(">> no database configured, results kept in memory")
		return db.NewMemory()
	}
	repo, err := db.Open(db.Config{
		Host:     cfg.DB.Host,
		Port:     cfg.DB.Port,
		Name:     cfg.DB.Name,
		User:     os.Getenv(cfg.DB.UserEnv),
		Password: os.Getenv(cfg.DB.PassEnv),
	})
	must(err)
	return repo
}
