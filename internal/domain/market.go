package domain

import (
	"context"
	"errors"

	"github.com/mtzanidakis/relay/internal/market"
)

const (
	AgentMarket  = "market"
	SourceMarket = "market-data"
)

type quotes struct {
	*service
	source market.Source
}

// NewMarket returns the market data collaborator.
func NewMarket(src market.Source) Collaborator {
	c := &quotes{service: newService(AgentMarket, SourceMarket), source: src}
	c.handle("get_quote", c.quote)
	return c
}

func (c *quotes) quote(ctx context.Context, p Params) (map[string]any, string, error) {
	symbol := p.String("symbol")
	exchange := p.String("exchange")
	if symbol == "" {
		if q := p.String("query"); q != "" {
			symbol, exchange, _ = market.ParseSymbol(q)
		}
	}
	if symbol == "" {
		return nil, "", invalid("symbol is required")
	}

	q, err := c.source.Quote(ctx, symbol, exchange)
	switch {
	case errors.Is(err, market.ErrSymbolMissing):
		return nil, "", notFound("no quote for %s", market.InstrumentKey(symbol, exchange))
	case err != nil:
		return nil, "", unavailable("quote for %s: %v", market.InstrumentKey(symbol, exchange), err)
	}

	return map[string]any{
		"symbol":           market.InstrumentKey(q.Symbol, q.Exchange),
		"last_price":       q.LastPrice,
		"volume":           q.Volume,
		"ohlc":             q.OHLC,
		"net_change":       q.NetChange,
		"instrument_token": q.InstrumentToken,
		"timestamp":        q.Timestamp,
	}, "Quote for " + market.InstrumentKey(q.Symbol, q.Exchange), nil
}
