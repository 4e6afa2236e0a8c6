// Package sweeper runs periodic housekeeping: expiring payment links past
// their deadline and evicting idle conversation sessions.
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mtzanidakis/relay/internal/config"
	"github.com/mtzanidakis/relay/internal/metrics"
	"github.com/mtzanidakis/relay/internal/natsbus"
)

const DefaultSchedule = "*/5 * * * *"

// LinkExpirer is satisfied by *store.Store.
type LinkExpirer interface {
	ExpirePaymentLinks(now time.Time) (int64, error)
}

// SessionEvictor is satisfied by *orchestrator.Orchestrator.
type SessionEvictor interface {
	EvictIdle() int
}

type Publisher interface {
	PublishJSON(topic string, v any) error
}

// Report is the outcome of one sweep.
type Report struct {
	LinksExpired    int64     `json:"links_expired"`
	SessionsEvicted int       `json:"sessions_evicted"`
	At              time.Time `json:"at"`
}

type Sweeper struct {
	links     LinkExpirer
	sessions  SessionEvictor
	publisher Publisher

	mu       sync.Mutex
	schedule string
	last     *Report
	reloadCh chan struct{}
	now      func() time.Time
}

// New creates a sweeper. Either of links and sessions may be nil.
func New(links LinkExpirer, sessions SessionEvictor, publisher Publisher, cfg config.SweeperConfig) *Sweeper {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Sweeper{
		links:     links,
		sessions:  sessions,
		publisher: publisher,
		schedule:  schedule,
		reloadCh:  make(chan struct{}, 1),
		now:       time.Now,
	}
}

// UpdateSchedule replaces the schedule and signals the run loop to
// recompute its next tick.
func (s *Sweeper) UpdateSchedule(expr string) error {
	if err := Validate(expr); err != nil {
		return err
	}
	s.mu.Lock()
	s.schedule = expr
	s.mu.Unlock()
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
	return nil
}

func (s *Sweeper) Schedule() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule
}

// Last returns the most recent report, or nil before the first sweep.
func (s *Sweeper) Last() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	r := *s.last
	return &r
}

// Start runs sweeps on schedule until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	schedule := s.Schedule()
	slog.Info("sweeper started", "schedule", Describe(schedule))

	for {
		next, err := NextRun(schedule, s.now())
		if err != nil {
			slog.Error("sweeper schedule invalid, stopping", "schedule", schedule, "error", err)
			return
		}
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("sweeper stopped")
			return
		case <-s.reloadCh:
			timer.Stop()
			schedule = s.Schedule()
			slog.Info("sweeper schedule reloaded", "schedule", Describe(schedule))
		case <-timer.C:
			s.Sweep()
		}
	}
}

// Sweep runs one pass immediately.
func (s *Sweeper) Sweep() Report {
	r := Report{At: s.now().UTC()}

	if s.links != nil {
		n, err := s.links.ExpirePaymentLinks(r.At)
		if err != nil {
			slog.Error("expire payment links failed", "error", err)
		} else {
			r.LinksExpired = n
			metrics.PaymentLinksExpired.Add(float64(n))
		}
	}
	if s.sessions != nil {
		// EvictIdle counts its own evictions in metrics.
		r.SessionsEvicted = s.sessions.EvictIdle()
	}

	if r.LinksExpired > 0 || r.SessionsEvicted > 0 {
		slog.Info("sweep completed", "links_expired", r.LinksExpired, "sessions_evicted", r.SessionsEvicted)
	} else {
		slog.Debug("sweep completed, nothing to do")
	}

	s.mu.Lock()
	s.last = &r
	s.mu.Unlock()

	s.publish(r)
	return r
}

func (s *Sweeper) publish(r Report) {
	if s.publisher == nil {
		return
	}
	event := map[string]any{
		"type":      "sweep_completed",
		"timestamp": r.At.Format(time.RFC3339),
		"data": map[string]any{
			"links_expired":    r.LinksExpired,
			"sessions_evicted": r.SessionsEvicted,
		},
	}
	if err := s.publisher.PublishJSON(natsbus.TopicEventsSweeper, event); err != nil {
		slog.Debug("publish sweep event failed", "error", err)
	}
}
