package kite

import (
	"fmt"
	"sync"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"index-options-bot/internal/types"
)

// Index instrument tokens are stable; the NFO dump covers options only.
var indexTokens = map[string]uint32{
	"NIFTY":      256265, // NIFTY 50
	"BANKNIFTY":  260105, // NIFTY BANK
	"FINNIFTY":   257801, // NIFTY FIN SERVICE
	"MIDCPNIFTY": 288009, // NIFTY MID SELECT
}

type optionInstrument struct {
	token  uint32
	symbol string
	strike float64
	expiry time.Time
	otype  string
}

// instrumentMapper resolves option contracts against the daily NFO
// instrument dump and keeps the token/symbol maps the ticker needs.
type instrumentMapper struct {
	mu            sync.RWMutex
	options       map[string][]optionInstrument // keyed by underlying name
	tokenToSymbol map[uint32]string
}

func newInstrumentMapper() *instrumentMapper {
	return &instrumentMapper{
		options:       make(map[string][]optionInstrument),
		tokenToSymbol: make(map[uint32]string),
	}
}

func (im *instrumentMapper) loadFromExchange(kc *kiteconnect.Client, exchange string) error {
	dump, err := kc.GetInstrumentsByExchange(exchange)
	if err != nil {
		return fmt.Errorf("instrument dump fetch failed: %w", err)
	}

	im.mu.Lock()
	defer im.mu.Unlock()
	im.options = make(map[string][]optionInstrument)

	for _, inst := range dump {
		if inst.InstrumentType != "CE" && inst.InstrumentType != "PE" {
			continue
		}
		im.options[inst.Name] = append(im.options[inst.Name], optionInstrument{
			token:  uint32(inst.InstrumentToken),
			symbol: inst.Tradingsymbol,
			strike: inst.StrikePrice,
			expiry: inst.Expiry.Time,
			otype:  inst.InstrumentType,
		})
	}
	return nil
}

func (im *instrumentMapper) spotToken(underlying string) (uint32, bool) {
	token, ok := indexTokens[underlying]
	return token, ok
}

// optionSymbol returns the trading symbol of the nearest-expiry contract at
// the given strike.
func (im *instrumentMapper) optionSymbol(underlying string, strike float64, ot types.OptionType) (string, bool) {
	im.mu.RLock()
	defer im.mu.RUnlock()

	var best *optionInstrument
	for i := range im.options[underlying] {
		inst := &im.options[underlying][i]
		if inst.strike != strike || inst.otype != string(ot) {
			continue
		}
		if best == nil || inst.expiry.Before(best.expiry) {
			best = inst
		}
	}
	if best == nil {
		return "", false
	}
	return best.symbol, true
}

func (im *instrumentMapper) optionsForExpiry(underlying string, expiry time.Time, ot types.OptionType) []optionInstrument {
	otype := string(ot)
	y, m, d := expiry.Date()

	im.mu.RLock()
	defer im.mu.RUnlock()

	var out []optionInstrument
	for _, inst := range im.options[underlying] {
		ey, em, ed := inst.expiry.Date()
		if inst.otype == otype && ey == y && em == m && ed == d {
			out = append(out, inst)
		}
	}
	return out
}

func (im *instrumentMapper) addTokenMapping(symbol string, token uint32) {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.tokenToSymbol[token] = symbol
}

func (im *instrumentMapper) symbolByToken(token uint32) string {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return im.tokenToSymbol[token]
}
