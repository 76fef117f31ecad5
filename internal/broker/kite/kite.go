package kite

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"index-options-bot/internal/interfaces"
	"index-options-bot/internal/logger"
	"index-options-bot/internal/types"
)

type Params struct {
	Mode        string // DRY_RUN or LIVE
	APIKey      string
	AccessToken string
	Exchange    string // options segment, e.g. NFO
	TickSource  string // LIVE streams spot over the websocket ticker
}

// Kite wraps the Zerodha Kite Connect client behind the broker and market
// data boundaries. In DRY_RUN mode quotes and fills are synthesized so the
// rest of the pipeline runs without credentials.
type Kite struct {
	p         Params
	kc        *kiteconnect.Client
	ticker    *tickerManager
	mapper    *instrumentMapper
	isStarted bool
}

var (
	_ interfaces.Broker              = (*Kite)(nil)
	_ interfaces.MarketData          = (*Kite)(nil)
	_ interfaces.OptionChainProvider = (*Kite)(nil)
)

func New(p Params) *Kite {
	k := &Kite{p: p, mapper: newInstrumentMapper()}

	if p.Mode != "DRY_RUN" {
		k.kc = kiteconnect.New(p.APIKey)
		k.kc.SetAccessToken(p.AccessToken)
	}
	if p.TickSource == "LIVE" {
		k.ticker = newTickerManager(p.APIKey, p.AccessToken, k.mapper)
	}

	return k
}

func (k *Kite) Start(ctx context.Context, underlyings []string) error {
	if k.isStarted {
		return nil
	}

	if k.kc != nil {
		if err := k.mapper.loadFromExchange(k.kc, k.p.Exchange); err != nil {
			return fmt.Errorf("failed to load instrument dump: %w", err)
		}
	}

	if k.ticker != nil {
		if err := k.ticker.Start(ctx); err != nil {
			return fmt.Errorf("failed to start ticker: %w", err)
		}

		time.Sleep(2 * time.Second)

		if err := k.ticker.Subscribe(ctx, underlyings); err != nil {
			return fmt.Errorf("failed to subscribe to underlyings: %w", err)
		}
	}

	k.isStarted = true
	return nil
}

func (k *Kite) Stop(ctx context.Context) {
	if k.ticker != nil {
		k.ticker.Stop(ctx)
	}
	k.isStarted = false
}

func (k *Kite) Spot(ctx context.Context, underlying string) (float64, error) {
	if k.ticker != nil {
		if price, ok := k.ticker.LastPrice(underlying); ok {
			return price, nil
		}
	}

	if k.kc == nil {
		price := 24500 + rand.Float64()*500
		logger.Debug(ctx, "Synthetic spot", "underlying", underlying, "price", price)
		return price, nil
	}

	sym := spotSymbol(underlying)
	quotes, err := k.kc.GetLTP(sym)
	if err != nil {
		return 0, fmt.Errorf("spot quote failed for %s: %w", underlying, err)
	}
	q, ok := quotes[sym]
	if !ok {
		return 0, fmt.Errorf("no quote returned for %s", sym)
	}
	return q.LastPrice, nil
}

func (k *Kite) OptionLTP(ctx context.Context, underlying string, strike float64, ot types.OptionType) (float64, error) {
	if k.kc == nil {
		premium := 30 + rand.Float64()*120
		logger.Debug(ctx, "Synthetic option LTP",
			"underlying", underlying, "strike", strike, "option_type", ot, "premium", premium)
		return premium, nil
	}

	tradingSymbol, ok := k.mapper.optionSymbol(underlying, strike, ot)
	if !ok {
		return 0, fmt.Errorf("no instrument for %s %.0f %s", underlying, strike, ot)
	}

	sym := k.p.Exchange + ":" + tradingSymbol
	quotes, err := k.kc.GetLTP(sym)
	if err != nil {
		return 0, fmt.Errorf("option quote failed for %s: %w", sym, err)
	}
	q, ok := quotes[sym]
	if !ok {
		return 0, fmt.Errorf("no quote returned for %s", sym)
	}
	return q.LastPrice, nil
}

func (k *Kite) PlaceLeg(ctx context.Context, req types.LegOrderReq) (types.LegOrderResp, error) {
	if k.p.Mode == "DRY_RUN" {
		price, err := k.OptionLTP(ctx, req.Underlying, req.Strike, req.OptionType)
		if err != nil {
			return types.LegOrderResp{}, err
		}
		resp := types.LegOrderResp{
			OrderID: fmt.Sprintf("SIM-%d", time.Now().UnixNano()),
			Price:   price,
			Time:    time.Now(),
			Status:  "SIMULATED",
		}
		logger.Info(ctx, "Simulated leg placed",
			"underlying", req.Underlying, "strike", req.Strike, "option_type", req.OptionType,
			"side", req.Side, "qty", req.Quantity, "order_id", resp.OrderID)
		return resp, nil
	}

	if k.p.APIKey == "" || k.p.AccessToken == "" {
		err := errors.New("missing API key/access token")
		logger.ErrorWithErr(ctx, "Cannot place live leg, missing credentials", err,
			"underlying", req.Underlying, "strike", req.Strike)
		return types.LegOrderResp{}, err
	}

	tradingSymbol, ok := k.mapper.optionSymbol(req.Underlying, req.Strike, req.OptionType)
	if !ok {
		return types.LegOrderResp{}, fmt.Errorf("no instrument for %s %.0f %s", req.Underlying, req.Strike, req.OptionType)
	}

	txn := kiteconnect.TransactionTypeSell
	if req.Side == types.SideBuy {
		txn = kiteconnect.TransactionTypeBuy
	}

	order, err := k.kc.PlaceOrder(kiteconnect.VarietyRegular, kiteconnect.OrderParams{
		Exchange:        k.p.Exchange,
		Tradingsymbol:   tradingSymbol,
		TransactionType: txn,
		Quantity:        req.Quantity,
		Product:         kiteconnect.ProductNRML,
		OrderType:       kiteconnect.OrderTypeMarket,
		Validity:        kiteconnect.ValidityDay,
		Tag:             req.Tag,
	})
	if err != nil {
		return types.LegOrderResp{}, fmt.Errorf("order placement failed for %s: %w", tradingSymbol, err)
	}

	price, err := k.OptionLTP(ctx, req.Underlying, req.Strike, req.OptionType)
	if err != nil {
		// Order went through; the fill price is refined later from the order book.
		price = 0
	}

	resp := types.LegOrderResp{
		OrderID: order.OrderID,
		Price:   price,
		Time:    time.Now(),
		Status:  "PLACED",
	}
	logger.Info(ctx, "Live leg placed",
		"symbol", tradingSymbol, "side", req.Side, "qty", req.Quantity,
		"order_id", resp.OrderID, "tag", req.Tag)
	return resp, nil
}

func (k *Kite) Candles(ctx context.Context, underlying, interval string, from, to time.Time) ([]types.Candle, error) {
	if k.kc == nil {
		return k.syntheticCandles(ctx, underlying, interval, from, to)
	}

	token, ok := k.mapper.spotToken(underlying)
	if !ok {
		return nil, fmt.Errorf("no instrument token for %s", underlying)
	}

	bars, err := k.kc.GetHistoricalData(int(token), interval, from, to, false, false)
	if err != nil {
		return nil, fmt.Errorf("historical data failed for %s: %w", underlying, err)
	}

	cs := make([]types.Candle, 0, len(bars))
	for _, b := range bars {
		cs = append(cs, types.Candle{
			Ts:    b.Date.Unix(),
			Open:  b.Open,
			High:  b.High,
			Low:   b.Low,
			Close: b.Close,
		})
	}
	return cs, nil
}

func (k *Kite) OptionChain(ctx context.Context, underlying string, expiry time.Time, ot types.OptionType) ([]types.OptionQuote, error) {
	if k.kc == nil {
		return k.syntheticChain(ctx, underlying, expiry, ot)
	}

	instruments := k.mapper.optionsForExpiry(underlying, expiry, ot)
	if len(instruments) == 0 {
		return nil, fmt.Errorf("no %s contracts for %s expiry %s", ot, underlying, expiry.Format("2006-01-02"))
	}

	syms := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		syms = append(syms, k.p.Exchange+":"+inst.symbol)
	}
	quotes, err := k.kc.GetLTP(syms...)
	if err != nil {
		return nil, fmt.Errorf("chain quote failed for %s: %w", underlying, err)
	}

	chain := make([]types.OptionQuote, 0, len(instruments))
	for i, inst := range instruments {
		q, ok := quotes[syms[i]]
		if !ok {
			continue
		}
		chain = append(chain, types.OptionQuote{
			Strike:     inst.strike,
			OptionType: ot,
			Premium:    q.LastPrice,
			Expiry:     expiry,
		})
	}
	return chain, nil
}

// syntheticCandles mirrors a slow uptrend so DRY_RUN sessions produce
// plausible zone geometry.
func (k *Kite) syntheticCandles(ctx context.Context, underlying, interval string, from, to time.Time) ([]types.Candle, error) {
	step := time.Hour
	if interval == "5minute" {
		step = 5 * time.Minute
	}

	cs := make([]types.Candle, 0, 64)
	base := 24500.0
	i := 0
	for ts := from; ts.Before(to); ts = ts.Add(step) {
		c := base + float64(i)*3 + (rand.Float64()-0.5)*40
		h := c + rand.Float64()*25
		l := c - rand.Float64()*25
		cs = append(cs, types.Candle{Ts: ts.Unix(), Open: c - 5, High: h, Low: l, Close: c})
		i++
	}

	logger.Debug(ctx, "Synthetic candles generated", "underlying", underlying, "count", len(cs))
	return cs, nil
}

func (k *Kite) syntheticChain(ctx context.Context, underlying string, expiry time.Time, ot types.OptionType) ([]types.OptionQuote, error) {
	spot, err := k.Spot(ctx, underlying)
	if err != nil {
		return nil, err
	}

	atm := float64(int(spot/50)) * 50
	chain := make([]types.OptionQuote, 0, 21)
	for i := -10; i <= 10; i++ {
		strike := atm + float64(i)*50
		dist := strike - spot
		if ot == types.OptionPut {
			dist = -dist
		}
		// Rough premium decay away from the money.
		premium := 150 - dist*0.28
		if premium < 2 {
			premium = 2 + rand.Float64()*3
		}
		chain = append(chain, types.OptionQuote{
			Strike:     strike,
			OptionType: ot,
			Premium:    premium,
			Expiry:     expiry,
		})
	}
	return chain, nil
}

func spotSymbol(underlying string) string {
	switch underlying {
	case "NIFTY":
		return "NSE:NIFTY 50"
	case "BANKNIFTY":
		return "NSE:NIFTY BANK"
	case "FINNIFTY":
		return "NSE:NIFTY FIN SERVICE"
	}
	return "NSE:" + underlying
}
