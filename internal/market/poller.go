package market

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const DefaultPollInterval = 30 * time.Second

// Poller streams quotes of one instrument at a fixed interval and keeps the
// received history per symbol.
type Poller struct {
	source   Source
	interval time.Duration

	mu      sync.Mutex
	history map[string][]Quote
}

func NewPoller(source Source, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		source:   source,
		interval: interval,
		history:  make(map[string][]Quote),
	}
}

// Stream polls until window elapses or ctx is cancelled, calling fn for every
// quote received. A failed poll is logged and retried on the next tick. Window
// expiry is a clean exit; cancellation of ctx is reported as its error.
func (p *Poller) Stream(ctx context.Context, symbol, exchange string, window time.Duration, fn func(Quote)) (int, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	wctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	ticker := backoff.NewTicker(backoff.NewConstantBackOff(p.interval))
	defer ticker.Stop()

	key := InstrumentKey(symbol, exchange)
	received := 0
	slog.Info("quote stream started", "instrument", key, "window", window, "interval", p.interval)

	for {
		select {
		case <-wctx.Done():
			if err := ctx.Err(); err != nil {
				return received, err
			}
			slog.Info("quote stream finished", "instrument", key, "quotes", received)
			return received, nil
		case <-ticker.C:
			q, err := p.source.Quote(wctx, symbol, exchange)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					continue
				}
				slog.Warn("quote poll failed", "instrument", key, "error", err)
				continue
			}
			received++
			p.record(key, q)
			if fn != nil {
				fn(q)
			}
		}
	}
}

func (p *Poller) record(key string, q Quote) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history[key] = append(p.history[key], q)
}

// History returns the quotes received so far for an instrument.
func (p *Poller) History(symbol, exchange string) []Quote {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := p.history[InstrumentKey(symbol, exchange)]
	out := make([]Quote, len(h))
	copy(out, h)
	return out
}
