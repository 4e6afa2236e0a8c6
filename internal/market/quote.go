package market

import (
	"context"
	"errors"
	"time"
)

// ErrSymbolMissing is returned when a quote response does not cover the
// requested instrument.
var ErrSymbolMissing = errors.New("symbol missing from quote response")

type OHLC struct {
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

type Quote struct {
	Symbol          string    `json:"symbol"`
	Exchange        string    `json:"exchange"`
	LastPrice       float64   `json:"last_price"`
	Volume          int64     `json:"volume"`
	OHLC            OHLC      `json:"ohlc"`
	NetChange       float64   `json:"net_change"`
	InstrumentToken int64     `json:"instrument_token"`
	Timestamp       time.Time `json:"timestamp"`
}

// Source retrieves the current quote of an instrument.
type Source interface {
	Quote(ctx context.Context, symbol, exchange string) (Quote, error)
}
