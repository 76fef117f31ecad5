package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"index-options-bot/internal/attribution"
	"index-options-bot/internal/broker/kite"
	"index-options-bot/internal/db"
	"index-options-bot/internal/dedup"
	"index-options-bot/internal/interfaces"
	"index-options-bot/internal/live"
	"index-options-bot/internal/logger"
	"index-options-bot/internal/report"
	"index-options-bot/internal/store"
	"index-options-bot/internal/trace"
	"index-options-bot/internal/tradelog"
	"index-options-bot/internal/types"
	"index-options-bot/internal/webhook"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	_ = godotenv.Load()
	cfg, err := store.LoadConfig("config.yaml")
	must(err)
	must(logger.Init())
	must(trace.Init())

	if v := os.Getenv("TRADER_LOG_RETENTION_DAYS"); v != "" {
		var n int
		fmt.Sscanf(v, "%d", &n)
		_ = tradelog.CompressOlder(n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer func() { _ = trace.Shutdown(context.Background()) }()

	if cfg.Mode == "DRY_RUN" {
		log.Println(">> DRY_RUN mode")
	}

	brk := kite.New(kite.Params{
		Mode:        cfg.Mode,
		APIKey:      os.Getenv("KITE_API_KEY"),
		AccessToken: os.Getenv("KITE_ACCESS_TOKEN"),
		Exchange:    cfg.Exchange,
		TickSource:  os.Getenv("TICK_SOURCE"),
	})
	must(brk.Start(ctx, []string{cfg.Underlying}))
	defer brk.Stop(ctx)

	trades := openTradeStore(cfg)

	queue := make(chan types.TriggerEvent, cfg.Live.QueueSize)
	dispatcher, err := live.New(cfg, live.Deps{
		Broker: brk,
		Chain:  brk,
		Trade:  trades,
		Window: openDedupWindow(cfg),
		Model:  buildModel(cfg),
		Queue:  queue,
	})
	must(err)

	srv := &http.Server{
		Addr:    cfg.Live.WebhookAddr,
		Handler: webhook.NewServer(os.Getenv(cfg.Live.SecretEnv), queue),
	}
	go func() {
		log.Println("webhook listening on", cfg.Live.WebhookAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	done := make(chan struct{})
	go func() {
		_ = dispatcher.Run(ctx)
		close(done)
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc

	log.Println("Shutting down...")
	cancel()
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	<-done

	if closed, err := trades.ClosedPositionsForRun(shutCtx, dispatcher.RunID()); err == nil {
		if p, err := report.SummarizeRun(dispatcher.RunID(), closed); err == nil && p != "" {
			log.Println("session CSV written:", p)
		}
	}
}

func buildModel(cfg *store.Config) interfaces.ExitModel {
	if cfg.Attribution.Model == "THRESHOLD" {
		return attribution.NewThresholdModel(cfg.Attribution.RetraceFraction, cfg.Attribution.LossStopMultiplier)
	}
	return attribution.NewNoopModel()
}

// openDedupWindow uses Redis when configured; a single-process bot can fall
// back to the in-memory window.
func openDedupWindow(cfg *store.Config) dedup.Window {
	ttl := time.Duration(cfg.Live.DedupWindowSeconds) * time.Second
	if cfg.Redis.Addr == "" {
		log.Println(">> no redis configured, using in-memory dedup window")
		return dedup.NewMemory(ttl)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: os.Getenv(cfg.Redis.PassEnv),
	})
	return dedup.NewRedis(client, ttl)
}

func openTradeStore(cfg *store.Config) interfaces.TradeStore {
	if cfg.DB.Host == "" {
		log.Println(">> no database configured, trades kept in memory")
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
