package kite

import (
	"context"
	"fmt"
	"sync"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"github.com/zerodha/gokiteconnect/v4/models"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"

	"index-options-bot/internal/logger"
)

// tickerManager streams index spot prices over the Kite websocket and keeps
// the latest tick per underlying for stop-loss evaluation.
type tickerManager struct {
	ticker      *kiteticker.Ticker
	apiKey      string
	accessToken string
	mapper      *instrumentMapper

	mu     sync.RWMutex
	latest map[string]float64
}

func newTickerManager(apiKey, accessToken string, mapper *instrumentMapper) *tickerManager {
	return &tickerManager{
		apiKey:      apiKey,
		accessToken: accessToken,
		mapper:      mapper,
		latest:      make(map[string]float64),
	}
}

func (tm *tickerManager) Start(ctx context.Context) error {
	tm.ticker = kiteticker.New(tm.apiKey, tm.accessToken)
	tm.setupEventHandlers()

	go func() {
		logger.Info(ctx, "Starting Kite websocket ticker")
		tm.ticker.Serve()
	}()

	return nil
}

func (tm *tickerManager) Stop(ctx context.Context) {
	if tm.ticker != nil {
		logger.Info(ctx, "Stopping Kite websocket ticker")
		tm.ticker.Stop()
	}
}

func (tm *tickerManager) Subscribe(ctx context.Context, underlyings []string) error {
	tokens := make([]uint32, 0, len(underlyings))
	for _, u := range underlyings {
		token, ok := tm.mapper.spotToken(u)
		if !ok {
			return fmt.Errorf("unknown underlying %s", u)
		}
		tm.mapper.addTokenMapping(u, token)
		tokens = append(tokens, token)
	}

	if err := tm.ticker.Subscribe(tokens); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	if err := tm.ticker.SetMode(kiteticker.ModeLTP, tokens); err != nil {
		return fmt.Errorf("failed to set ticker mode: %w", err)
	}

	logger.Info(ctx, "Subscribed to live spot feed", "underlyings", underlyings)
	return nil
}

// LastPrice returns the most recent streamed tick for the underlying.
func (tm *tickerManager) LastPrice(underlying string) (float64, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	price, ok := tm.latest[underlying]
	return price, ok
}

func (tm *tickerManager) setupEventHandlers() {
	tm.ticker.OnConnect(tm.onConnect)
	tm.ticker.OnError(tm.onError)
	tm.ticker.OnClose(tm.onClose)
	tm.ticker.OnReconnect(tm.onReconnect)
	tm.ticker.OnNoReconnect(tm.onNoReconnect)
	tm.ticker.OnTick(tm.onTick)
	tm.ticker.OnOrderUpdate(tm.onOrderUpdate)
}

func (tm *tickerManager) onConnect() {
	logger.Info(context.Background(), "Websocket connected")
}

func (tm *tickerManager) onError(err error) {
	logger.ErrorWithErr(context.Background(), "Websocket error", err)
}

func (tm *tickerManager) onClose(code int, reason string) {
	logger.Warn(context.Background(), "Websocket closed", "code", code, "reason", reason)
}

func (tm *tickerManager) onReconnect(attempt int, delay time.Duration) {
	logger.Info(context.Background(), "Websocket reconnecting", "attempt", attempt, "delay", delay)
}

func (tm *tickerManager) onNoReconnect(attempt int) {
	logger.Warn(context.Background(), "Websocket reconnection abandoned", "attempts", attempt)
}

func (tm *tickerManager) onTick(tick models.Tick) {
	underlying := tm.mapper.symbolByToken(tick.InstrumentToken)
	if underlying == "" {
		return
	}

	tm.mu.Lock()
	tm.latest[underlying] = tick.LastPrice
	tm.mu.Unlock()
}

func (tm *tickerManager) onOrderUpdate(order kiteconnect.Order) {
	logger.Debug(context.Background(), "Order update received",
		"order_id", order.OrderID,
		"status", order.Status,
		"symbol", order.TradingSymbol,
	)
}
