package sweeper

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mtzanidakis/relay/internal/config"
	"github.com/mtzanidakis/relay/internal/metrics"
	"github.com/mtzanidakis/relay/internal/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type countingEvictor struct {
	mu    sync.Mutex
	calls int
	n     int
}

func (e *countingEvictor) EvictIdle() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return e.n
}

type capturePublisher struct {
	mu     sync.Mutex
	topics []string
	events []map[string]any
}

func (p *capturePublisher) PublishJSON(topic string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, v.(map[string]any))
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSweepExpiresLinksAndEvictsSessions(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	links := []store.PaymentLink{
		{LinkID: "PL_OLD", RONumber: "RO_001", Amount: 10, Currency: "INR", CustomerEmail: "a@b.com", URL: "u", ExpiresAt: now.Add(-time.Hour)},
		{LinkID: "PL_NEW", RONumber: "RO_001", Amount: 10, Currency: "INR", CustomerEmail: "a@b.com", URL: "u", ExpiresAt: now.Add(time.Hour)},
		{LinkID: "PL_USED", RONumber: "RO_001", Amount: 10, Currency: "INR", CustomerEmail: "a@b.com", URL: "u", Status: store.LinkUsed, ExpiresAt: now.Add(-time.Hour)},
	}
	for i := range links {
		if _, err := s.CreatePaymentLink(&links[i]); err != nil {
			t.Fatal(err)
		}
	}

	ev := &countingEvictor{n: 2}
	pub := &capturePublisher{}
	sw := New(s, ev, pub, config.SweeperConfig{})
	sw.now = func() time.Time { return now }

	before := testutil.ToFloat64(metrics.PaymentLinksExpired)
	r := sw.Sweep()
	if r.LinksExpired != 1 || r.SessionsEvicted != 2 {
		t.Fatalf("unexpected report %+v", r)
	}
	if got := testutil.ToFloat64(metrics.PaymentLinksExpired) - before; got != 1 {
		t.Errorf("expected expired counter +1, got %v", got)
	}

	for id, want := range map[string]string{"PL_OLD": store.LinkExpired, "PL_NEW": store.LinkActive, "PL_USED": store.LinkUsed} {
		l, err := s.GetPaymentLink(id)
		if err != nil || l == nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if l.Status != want {
			t.Errorf("%s: expected %s, got %s", id, want, l.Status)
		}
	}

	if len(pub.topics) != 1 || pub.topics[0] != "events.sweeper" || pub.events[0]["type"] != "sweep_completed" {
		t.Errorf("unexpected events %v %v", pub.topics, pub.events)
	}
	if last := sw.Last(); last == nil || last.LinksExpired != 1 {
		t.Errorf("expected last report, got %+v", last)
	}
}

func TestSweepWithoutCollaborators(t *testing.T) {
	sw := New(nil, nil, nil, config.SweeperConfig{})
	if r := sw.Sweep(); r.LinksExpired != 0 || r.SessionsEvicted != 0 {
		t.Errorf("expected empty report, got %+v", r)
	}
	if sw.Schedule() != DefaultSchedule {
		t.Errorf("expected default schedule, got %s", sw.Schedule())
	}
}

func TestStartRunsOnSchedule(t *testing.T) {
	ev := &countingEvictor{}
	sw := New(nil, ev, nil, config.SweeperConfig{Schedule: "@every 10ms"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		ev.mu.Lock()
		calls := ev.calls
		ev.mu.Unlock()
		if calls >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected at least 2 sweeps, got %d", calls)
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestUpdateSchedule(t *testing.T) {
	sw := New(nil, nil, nil, config.SweeperConfig{})
	if err := sw.UpdateSchedule("not a schedule"); err == nil {
		t.Error("expected invalid schedule error")
	}
	if err := sw.UpdateSchedule("0 * * * *"); err != nil {
		t.Fatal(err)
	}
	if sw.Schedule() != "0 * * * *" {
		t.Errorf("expected updated schedule, got %s", sw.Schedule())
	}
}

func TestNextRun(t *testing.T) {
	from := time.Date(2026, 3, 1, 12, 2, 30, 0, time.UTC)

	next, err := NextRun("*/5 * * * *", from)
	if err != nil {
		t.Fatal(err)
	}
	if !next.After(from) || next.Hour() != 12 || next.Minute() != 5 {
		t.Errorf("expected 12:05, got %v", next)
	}

	next, err = NextRun("@every 90s", from)
	if err != nil {
		t.Fatal(err)
	}
	if want := from.Add(90 * time.Second); !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}

	if _, err := NextRun("@every soon", from); err == nil {
		t.Error("expected error for bad interval")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		expr  string
		valid bool
	}{
		{"*/5 * * * *", true},
		{"0 9 * * 1-5", true},
		{"@every 1m", true},
		{"@every -1m", false},
		{"61 * * * *", false},
	}
	for _, tt := range tests {
		err := Validate(tt.expr)
		if (err == nil) != tt.valid {
			t.Errorf("Validate(%q): expected valid=%v, got %v", tt.expr, tt.valid, err)
		}
	}
}

func TestDescribe(t *testing.T) {
	tests := map[string]string{
		"@every 1h":   "Every hour",
		"@every 2h":   "Every 2 hours",
		"@every 1m":   "Every minute",
		"@every 15m":  "Every 15 minutes",
		"@every 30s":  "Every 30 seconds",
		"*/5 * * * *": "Every 5 minutes",
		"0 9 * * *":   "0 9 * * *",
	}
	for in, want := range tests {
		if got := Describe(in); got != want {
			t.Errorf("Describe(%q) = %q, want %q", in, got, want)
		}
	}
}
