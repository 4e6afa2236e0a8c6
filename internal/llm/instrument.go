package llm

import (
	"context"
	"time"

	"github.com/mtzanidakis/relay/internal/metrics"
)

type instrumented struct {
	next Model
}

// Instrument wraps m so every call is counted and timed.
func Instrument(m Model) Model {
	return instrumented{next: m}
}

func (i instrumented) Complete(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	reply, err := i.next.Complete(ctx, req)
	metrics.ModelLatency.WithLabelValues(req.Agent).Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ModelCalls.WithLabelValues(req.Agent, status).Inc()
	return reply, err
}
