package market

import (
	"context"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

var basePrices = map[string]float64{
	"RELIANCE": 2900, "TCS": 4100, "INFY": 1850, "HDFCBANK": 1650, "ITC": 430,
	"SBI": 820, "LT": 3600, "MARUTI": 12500, "TITAN": 3400, "NIFTY": 24500, "SENSEX": 80500,
}

// Simulated is an offline Source producing a bounded random walk per instrument.
type Simulated struct {
	mu     sync.Mutex
	rng    *rand.Rand
	quotes map[string]*Quote
}

func NewSimulated(seed uint64) *Simulated {
	return &Simulated{
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		quotes: make(map[string]*Quote),
	}
}

func (s *Simulated) Quote(ctx context.Context, symbol, exchange string) (Quote, error) {
	if err := ctx.Err(); err != nil {
		return Quote{}, err
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	symbol, exchange = strings.ToUpper(symbol), strings.ToUpper(exchange)
	key := InstrumentKey(symbol, exchange)

	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.quotes[key]
	if !ok {
		base, known := basePrices[symbol]
		if !known {
			base = 100 + float64(len(s.quotes))*50
		}
		q = &Quote{
			Symbol:          symbol,
			Exchange:        exchange,
			LastPrice:       base,
			OHLC:            OHLC{Open: base, High: base, Low: base, Close: base},
			InstrumentToken: int64(len(s.quotes) + 1),
		}
		s.quotes[key] = q
	}

	// Step at most 1% either way.
	step := (s.rng.Float64()*2 - 1) * 0.01 * q.LastPrice
	price := math.Round((q.LastPrice+step)*100) / 100
	if price <= 0 {
		price = q.LastPrice
	}
	q.LastPrice = price
	q.OHLC.High = math.Max(q.OHLC.High, price)
	q.OHLC.Low = math.Min(q.OHLC.Low, price)
	q.NetChange = math.Round((price-q.OHLC.Close)*100) / 100
	q.Volume += int64(s.rng.IntN(5000) + 1)
	q.Timestamp = time.Now().UTC()

	return *q, nil
}
