package workflow

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mtzanidakis/relay/internal/config"
	"github.com/mtzanidakis/relay/internal/store"
)

// fakeDispatcher records dispatched step ids and fails the configured ones.
type fakeDispatcher struct {
	mu       sync.Mutex
	calls    []string
	fail     map[string]error
	panics   map[string]bool
	delay    time.Duration
	inflight int
	peak     int
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, s Step) (any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, s.StepID)
	f.inflight++
	if f.inflight > f.peak {
		f.peak = f.inflight
	}
	err := f.fail[s.StepID]
	panics := f.panics[s.StepID]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if panics {
		panic("boom")
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"step": s.StepID, "params": s.Parameters}, nil
}

func (f *fakeDispatcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	types  []string
}

func (p *recordingPublisher) PublishJSON(topic string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	if m, ok := v.(map[string]any); ok {
		p.types = append(p.types, m["type"].(string))
	}
	return nil
}

func diamondPlan() *Plan {
	return &Plan{
		RequestID:     "REQ_ENGINE",
		OriginalQuery: "diamond",
		Steps: []Step{
			{StepID: "validate_1", AgentType: "repair_orders", Action: "validate_repair_order", Parameters: map[string]any{"ro_number": "RO_001"}},
			{StepID: "validate_2", AgentType: "parts", Action: "validate_part_exists", Parameters: map[string]any{"part_number": "PART_001"}},
			{StepID: "execute_1", AgentType: "parts", Action: "add_part_to_order", Dependencies: []string{"validate_1", "validate_2"}},
			{StepID: "execute_2", AgentType: "payment", Action: "create_payment_link", Dependencies: []string{"validate_1", "execute_1"}},
		},
	}
}

func resultsByID(results []Result) map[string]Result {
	out := make(map[string]Result, len(results))
	for _, r := range results {
		out[r.StepID] = r
	}
	return out
}

func TestExecuteCompletesPlan(t *testing.T) {
	d := &fakeDispatcher{}
	e := NewEngine(d, config.WorkflowConfig{MaxParallel: 4})

	run, results, err := e.Run(context.Background(), diamondPlan())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	var order []string
	for _, r := range results {
		order = append(order, r.StepID)
		if !r.Success || r.Status != StatusCompleted {
			t.Errorf("step %s: expected completed, got %+v", r.StepID, r)
		}
	}
	if !slices.Equal(order, []string{"validate_1", "validate_2", "execute_1", "execute_2"}) {
		t.Errorf("expected results in execution order, got %v", order)
	}

	calls := d.Calls()
	if len(calls) != 4 {
		t.Fatalf("expected 4 dispatches, got %v", calls)
	}
	// Group barrier: both validations run before any execution step.
	if idx := slices.Index(calls, "execute_1"); idx != 2 || calls[3] != "execute_2" {
		t.Errorf("unexpected dispatch order %v", calls)
	}
	if !run.Done() || !run.Succeeded() {
		t.Error("expected finished, successful run")
	}

	params := results[0].Result.(map[string]any)["params"].(map[string]any)
	if params["ro_number"] != "RO_001" {
		t.Errorf("expected parameters passed verbatim, got %v", params)
	}
}

func TestExecuteSkipsTransitiveDependents(t *testing.T) {
	d := &fakeDispatcher{fail: map[string]error{"validate_2": errors.New("part PART_999 not found")}}
	e := NewEngine(d, config.WorkflowConfig{MaxParallel: 4})

	run, results, err := e.Run(context.Background(), diamondPlan())
	if err != nil {
		t.Fatal(err)
	}

	byID := resultsByID(results)
	if r := byID["validate_1"]; r.Status != StatusCompleted {
		t.Errorf("expected independent validation to complete, got %s", r.Status)
	}
	if r := byID["validate_2"]; r.Status != StatusFailed || r.Success || r.ErrorMessage != "part PART_999 not found" {
		t.Errorf("unexpected failed result %+v", r)
	}
	for _, id := range []string{"execute_1", "execute_2"} {
		r := byID[id]
		if r.Status != StatusSkipped || r.Success {
			t.Errorf("%s: expected skipped, got %+v", id, r)
		}
		if !strings.Contains(r.ErrorMessage, "validate_2") {
			t.Errorf("%s: expected message naming validate_2, got %q", id, r.ErrorMessage)
		}
	}

	for _, c := range d.Calls() {
		if strings.HasPrefix(c, "execute") {
			t.Errorf("skipped step %s was dispatched", c)
		}
	}
	if run.Succeeded() || !run.Done() {
		t.Error("expected finished, failed run")
	}
}

func TestExecuteIndependentBranchContinues(t *testing.T) {
	d := &fakeDispatcher{fail: map[string]error{"a": errors.New("nope")}}
	e := NewEngine(d, config.WorkflowConfig{MaxParallel: 2})
	plan := &Plan{RequestID: "branches", Steps: []Step{
		step("a"), step("b"), step("a2", "a"), step("b2", "b"),
	}}

	_, results, err := e.Run(context.Background(), plan)
	if err != nil {
		t.Fatal(err)
	}
	byID := resultsByID(results)
	if byID["b2"].Status != StatusCompleted {
		t.Errorf("expected b2 completed, got %+v", byID["b2"])
	}
	if byID["a2"].Status != StatusSkipped {
		t.Errorf("expected a2 skipped, got %+v", byID["a2"])
	}
}

func TestExecuteIsReentrant(t *testing.T) {
	d := &fakeDispatcher{}
	e := NewEngine(d, config.WorkflowConfig{})

	run, err := e.Start(diamondPlan())
	if err != nil {
		t.Fatal(err)
	}
	first := run.Execute(context.Background())
	second := run.Execute(context.Background())

	if len(d.Calls()) != 4 {
		t.Fatalf("expected no re-dispatch, got %v", d.Calls())
	}
	if len(first) != len(second) {
		t.Fatalf("expected identical results, got %d and %d", len(first), len(second))
	}

	res, err := run.ExecuteStep(context.Background(), "execute_1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusCompleted || !res.Success {
		t.Errorf("expected recorded result, got %+v", res)
	}
	if len(d.Calls()) != 4 {
		t.Error("ExecuteStep re-dispatched a completed step")
	}
}

func TestExecuteStep(t *testing.T) {
	d := &fakeDispatcher{fail: map[string]error{"validate_1": errors.New("closed")}}
	e := NewEngine(d, config.WorkflowConfig{})
	run, err := e.Start(diamondPlan())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := run.ExecuteStep(ctx, "execute_1"); !errors.Is(err, ErrDependenciesPending) {
		t.Errorf("expected ErrDependenciesPending, got %v", err)
	}
	if _, err := run.ExecuteStep(ctx, "ghost"); err == nil {
		t.Error("expected error for unknown step")
	}

	res, err := run.ExecuteStep(ctx, "validate_1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusFailed {
		t.Fatalf("expected failed, got %+v", res)
	}

	// The failure already skipped both execution steps.
	res, err = run.ExecuteStep(ctx, "execute_2")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusSkipped || !strings.Contains(res.ErrorMessage, "validate_1") {
		t.Errorf("expected skip naming validate_1, got %+v", res)
	}
	if slices.Contains(d.Calls(), "execute_2") {
		t.Error("skipped step was dispatched")
	}
}

func TestExecuteCancelledContext(t *testing.T) {
	d := &fakeDispatcher{}
	e := NewEngine(d, config.WorkflowConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, results, err := e.Run(ctx, diamondPlan())
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Calls()) != 0 {
		t.Errorf("expected no dispatch, got %v", d.Calls())
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Status != StatusFailed || !strings.Contains(r.ErrorMessage, "context canceled") {
			t.Errorf("expected failed by cancellation, got %+v", r)
		}
	}
}

func TestExecuteRespectsParallelLimit(t *testing.T) {
	d := &fakeDispatcher{delay: 20 * time.Millisecond}
	e := NewEngine(d, config.WorkflowConfig{MaxParallel: 2})
	plan := &Plan{RequestID: "wide", Steps: []Step{step("a"), step("b"), step("c"), step("d"), step("e")}}

	if _, _, err := e.Run(context.Background(), plan); err != nil {
		t.Fatal(err)
	}
	d.mu.Lock()
	peak := d.peak
	d.mu.Unlock()
	if peak > 2 {
		t.Errorf("expected at most 2 concurrent steps, got %d", peak)
	}
	if peak < 2 {
		t.Errorf("expected steps of a group to run concurrently, peak %d", peak)
	}
}

func TestExecuteStepTimeout(t *testing.T) {
	d := &fakeDispatcher{delay: time.Second}
	e := NewEngine(d, config.WorkflowConfig{StepTimeout: 10 * time.Millisecond})

	_, results, err := e.Run(context.Background(), &Plan{RequestID: "slow", Steps: []Step{step("a")}})
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Status != StatusFailed || !strings.Contains(results[0].ErrorMessage, "deadline") {
		t.Errorf("expected deadline failure, got %+v", results[0])
	}
}

func TestExecuteRecoversPanics(t *testing.T) {
	d := &fakeDispatcher{panics: map[string]bool{"a": true}}
	e := NewEngine(d, config.WorkflowConfig{})

	_, results, err := e.Run(context.Background(), &Plan{RequestID: "p", Steps: []Step{step("a"), step("b", "a")}})
	if err != nil {
		t.Fatal(err)
	}
	byID := resultsByID(results)
	if !strings.Contains(byID["a"].ErrorMessage, "panic") {
		t.Errorf("expected panic failure, got %+v", byID["a"])
	}
	if byID["b"].Status != StatusSkipped {
		t.Errorf("expected b skipped, got %+v", byID["b"])
	}
}

func TestStartRejectsInvalidPlans(t *testing.T) {
	e := NewEngine(&fakeDispatcher{}, config.WorkflowConfig{})
	if _, err := e.Start(nil); !errors.Is(err, ErrInvalidPlan) {
		t.Errorf("expected ErrInvalidPlan for nil plan, got %v", err)
	}
	_, err := e.Start(&Plan{RequestID: "bad", Steps: []Step{step("a", "a")}})
	var cyc *CyclicDependencyError
	if !errors.As(err, &cyc) {
		t.Errorf("expected CyclicDependencyError, got %v", err)
	}
}

func TestStartCopiesPlan(t *testing.T) {
	plan := diamondPlan()
	plan.Steps[0].Status = StatusCompleted
	e := NewEngine(&fakeDispatcher{}, config.WorkflowConfig{})

	run, err := e.Start(plan)
	if err != nil {
		t.Fatal(err)
	}
	run.Execute(context.Background())

	if plan.Steps[0].Status != StatusCompleted || plan.Steps[1].Status != "" {
		t.Error("caller plan was mutated")
	}
	snap := run.Plan()
	for _, s := range snap.Steps {
		if s.Status != StatusCompleted {
			t.Errorf("snapshot step %s: expected completed, got %s", s.StepID, s.Status)
		}
	}
}

func TestExecuteRecordsAndPublishes(t *testing.T) {
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	pub := &recordingPublisher{}
	d := &fakeDispatcher{fail: map[string]error{"execute_1": errors.New("insufficient stock")}}
	e := NewEngine(d, config.WorkflowConfig{}, WithRecorder(s), WithPublisher(pub))

	if _, _, err := e.Run(context.Background(), diamondPlan()); err != nil {
		t.Fatal(err)
	}

	run, err := s.GetRun("REQ_ENGINE")
	if err != nil || run == nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != "failed" || run.CompletedAt == nil {
		t.Errorf("expected completed failed run, got %+v", run)
	}
	if len(run.Steps) != 4 {
		t.Fatalf("expected 4 step results, got %d", len(run.Steps))
	}
	statuses := map[string]string{}
	for _, sr := range run.Steps {
		statuses[sr.StepID] = sr.Status
	}
	if statuses["execute_1"] != "failed" || statuses["execute_2"] != "skipped" || statuses["validate_1"] != "completed" {
		t.Errorf("unexpected recorded statuses %v", statuses)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.types) == 0 || pub.types[0] != "plan_started" || pub.types[len(pub.types)-1] != "plan_failed" {
		t.Errorf("unexpected event sequence %v", pub.types)
	}
	if pub.topics[0] != "events.plan.REQ_ENGINE" {
		t.Errorf("unexpected topic %s", pub.topics[0])
	}
}
