package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/mtzanidakis/relay/internal/config"
	"github.com/mtzanidakis/relay/internal/metrics"
	"github.com/mtzanidakis/relay/internal/natsbus"
	"github.com/mtzanidakis/relay/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// ErrDependenciesPending is returned by ExecuteStep when a dependency of the
// step has not reached a terminal state yet.
var ErrDependenciesPending = errors.New("dependencies not finished")

var tracer = otel.Tracer("github.com/mtzanidakis/relay/internal/workflow")

// Dispatcher performs the domain operation of a step. The agent type, action
// and parameters are passed through verbatim.
type Dispatcher interface {
	Dispatch(ctx context.Context, step Step) (any, error)
}

// Publisher receives plan lifecycle events.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

// Recorder persists runs and step outcomes. *store.Store satisfies it.
type Recorder interface {
	SaveRun(r *store.WorkflowRun) error
	UpdateRunStatus(id, status string) error
	SaveStepResult(r *store.StepResult) error
}

type Engine struct {
	dispatcher Dispatcher
	cfg        config.WorkflowConfig
	publisher  Publisher
	recorder   Recorder
}

type Option func(*Engine)

func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

func NewEngine(d Dispatcher, cfg config.WorkflowConfig, opts ...Option) *Engine {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	e := &Engine{dispatcher: d, cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run is one execution of a plan. It owns a private copy of the plan; step
// state is only changed under mu.
type Run struct {
	engine *Engine
	plan   Plan

	mu         sync.Mutex
	index      map[string]int
	results    map[string]Result
	dependents map[string][]string
}

// Start compiles a copy of plan and registers the run. Every step starts
// pending regardless of the status it carries.
func (e *Engine) Start(plan *Plan) (*Run, error) {
	if plan == nil {
		return nil, fmt.Errorf("%w: nil plan", ErrInvalidPlan)
	}
	p := clonePlan(plan)
	for i := range p.Steps {
		p.Steps[i].Status = StatusPending
	}
	if err := p.Compile(); err != nil {
		return nil, err
	}

	r := &Run{
		engine:     e,
		plan:       p,
		index:      make(map[string]int, len(p.Steps)),
		results:    make(map[string]Result, len(p.Steps)),
		dependents: make(map[string][]string),
	}
	for i, s := range p.Steps {
		r.index[s.StepID] = i
		for _, dep := range s.Dependencies {
			r.dependents[dep] = append(r.dependents[dep], s.StepID)
		}
	}

	if e.recorder != nil {
		planJSON, _ := json.Marshal(p)
		if err := e.recorder.SaveRun(&store.WorkflowRun{
			ID:     p.RequestID,
			Query:  p.OriginalQuery,
			Status: "running",
			Plan:   planJSON,
		}); err != nil {
			slog.Warn("record run failed", "plan", p.RequestID, "error", err)
		}
	}
	return r, nil
}

// Run starts and executes plan in one call.
func (e *Engine) Run(ctx context.Context, plan *Plan) (*Run, []Result, error) {
	r, err := e.Start(plan)
	if err != nil {
		return nil, nil, err
	}
	return r, r.Execute(ctx), nil
}

func (r *Run) ID() string {
	return r.plan.RequestID
}

// Plan returns a snapshot of the plan with the current step statuses.
func (r *Run) Plan() *Plan {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := clonePlan(&r.plan)
	return &p
}

// Execute walks the parallel groups in order. Steps of a group run
// concurrently; the next group starts only when the whole group is terminal.
// Steps that are no longer pending are not dispatched again.
func (r *Run) Execute(ctx context.Context) []Result {
	id := r.plan.RequestID
	ctx, span := tracer.Start(ctx, "workflow.execute", trace.WithAttributes(
		attribute.String("plan.id", id),
		attribute.Int("plan.steps", len(r.plan.Steps)),
		attribute.Int("plan.groups", len(r.plan.ParallelGroups)),
	))
	defer span.End()

	start := time.Now()
	slog.Info("executing plan", "plan", id, "steps", len(r.plan.Steps), "groups", len(r.plan.ParallelGroups))
	r.publish("plan_started", map[string]any{
		"query":           r.plan.OriginalQuery,
		"execution_order": r.plan.ExecutionOrder,
		"parallel_groups": r.plan.ParallelGroups,
	})

	for k, group := range r.plan.ParallelGroups {
		if err := ctx.Err(); err != nil {
			slog.Warn("plan cancelled", "plan", id, "group", k, "error", err)
			r.abort(r.plan.ParallelGroups[k:], err)
			break
		}

		pending := r.pending(group)
		if len(pending) == 0 {
			continue
		}
		slog.Info("executing group", "plan", id, "group", k, "steps", pending)

		g := new(errgroup.Group)
		g.SetLimit(r.engine.cfg.MaxParallel)
		for _, stepID := range pending {
			g.Go(func() error {
				if _, err := r.ExecuteStep(ctx, stepID); err != nil {
					slog.Error("step not executed", "plan", id, "step", stepID, "error", err)
				}
				return nil
			})
		}
		_ = g.Wait()

		r.publish("group_completed", map[string]any{
			"group": k,
			"total": len(r.plan.ParallelGroups),
		})
	}

	results := r.Results()
	status := "completed"
	if !r.Succeeded() {
		status = "failed"
		span.SetStatus(codes.Error, "plan has failed steps")
	}

	metrics.PlansExecuted.WithLabelValues(status).Inc()
	metrics.PlanDuration.Observe(time.Since(start).Seconds())
	if rec := r.engine.recorder; rec != nil {
		if err := rec.UpdateRunStatus(id, status); err != nil {
			slog.Warn("record run status failed", "plan", id, "error", err)
		}
	}
	r.publish("plan_"+status, map[string]any{"results": results})
	slog.Info("plan finished", "plan", id, "status", status, "duration", time.Since(start))
	return results
}

// ExecuteStep runs a single step. A step that is no longer pending is not
// dispatched again; its recorded result is returned. A step whose
// dependency failed or was skipped is skipped.
func (r *Run) ExecuteStep(ctx context.Context, stepID string) (Result, error) {
	step, res, err := r.begin(stepID)
	if err != nil || res != nil {
		if res != nil {
			return *res, nil
		}
		return Result{}, err
	}

	r.publish("step_started", map[string]any{
		"step_id":    step.StepID,
		"agent_type": step.AgentType,
		"action":     step.Action,
	})

	stepCtx, span := tracer.Start(ctx, "workflow.step", trace.WithAttributes(
		attribute.String("plan.id", r.plan.RequestID),
		attribute.String("step.id", step.StepID),
		attribute.String("step.agent_type", step.AgentType),
		attribute.String("step.action", step.Action),
	))
	defer span.End()

	if t := r.engine.cfg.StepTimeout; t > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(stepCtx, t)
		defer cancel()
	}

	start := time.Now()
	value, err := r.engine.dispatch(stepCtx, step)
	metrics.StepDuration.WithLabelValues(step.AgentType).Observe(time.Since(start).Seconds())

	result := Result{StepID: step.StepID, Success: err == nil, Result: value, Status: StatusCompleted}
	if err != nil {
		result.Status = StatusFailed
		result.Result = nil
		result.ErrorMessage = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("step failed", "plan", r.plan.RequestID, "step", step.StepID, "error", err)
	} else {
		slog.Debug("step completed", "plan", r.plan.RequestID, "step", step.StepID)
	}

	changed := r.finish(result)
	for _, c := range changed {
		r.report(c)
	}
	return result, nil
}

// Results returns the recorded results in execution order.
func (r *Run) Results() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Result, 0, len(r.results))
	for _, id := range r.plan.ExecutionOrder {
		if res, ok := r.results[id]; ok {
			out = append(out, res)
		}
	}
	return out
}

// Done reports whether every step is terminal.
func (r *Run) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.plan.Steps {
		if !s.Status.Terminal() {
			return false
		}
	}
	return true
}

// Succeeded reports whether every step completed.
func (r *Run) Succeeded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.plan.Steps {
		if s.Status != StatusCompleted {
			return false
		}
	}
	return true
}

func (r *Run) pending(group []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, id := range group {
		if r.plan.Steps[r.index[id]].Status == StatusPending {
			out = append(out, id)
		}
	}
	return out
}

// begin moves a step to in_progress. It returns a result instead when the
// step is already past pending or must be skipped.
func (r *Run) begin(stepID string) (Step, *Result, error) {
	r.mu.Lock()
	i, ok := r.index[stepID]
	if !ok {
		r.mu.Unlock()
		return Step{}, nil, fmt.Errorf("unknown step %q", stepID)
	}
	s := &r.plan.Steps[i]
	if s.Status != StatusPending {
		res, ok := r.results[stepID]
		if !ok {
			res = Result{StepID: stepID, Status: s.Status}
		}
		r.mu.Unlock()
		return Step{}, &res, nil
	}

	for _, dep := range s.Dependencies {
		switch r.plan.Steps[r.index[dep]].Status {
		case StatusCompleted:
		case StatusFailed, StatusSkipped:
			root := r.rootFailure(dep)
			res := r.skipLocked(stepID, root)
			changed := append([]Result{res}, r.skipDependentsLocked(stepID, root)...)
			r.mu.Unlock()
			for _, c := range changed {
				r.report(c)
			}
			return Step{}, &res, nil
		default:
			r.mu.Unlock()
			return Step{}, nil, fmt.Errorf("step %q: %w: %s", stepID, ErrDependenciesPending, dep)
		}
	}

	s.Status = StatusInProgress
	step := cloneStep(*s)
	r.mu.Unlock()
	return step, nil, nil
}

// finish records a dispatched step's result. A failure eagerly skips every
// pending transitive dependent. It returns all results that changed.
func (r *Run) finish(res Result) []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plan.Steps[r.index[res.StepID]].Status = res.Status
	r.results[res.StepID] = res
	changed := []Result{res}
	if res.Status == StatusFailed {
		changed = append(changed, r.skipDependentsLocked(res.StepID, res.StepID)...)
	}
	return changed
}

func (r *Run) skipDependentsLocked(from, failed string) []Result {
	var out []Result
	queue := slices.Clone(r.dependents[from])
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if r.plan.Steps[r.index[id]].Status != StatusPending {
			continue
		}
		out = append(out, r.skipLocked(id, failed))
		queue = append(queue, r.dependents[id]...)
	}
	return out
}

func (r *Run) skipLocked(stepID, failed string) Result {
	res := Result{
		StepID:       stepID,
		Success:      false,
		ErrorMessage: fmt.Sprintf("skipped: dependency %s failed", failed),
		Status:       StatusSkipped,
	}
	r.plan.Steps[r.index[stepID]].Status = StatusSkipped
	r.results[stepID] = res
	return res
}

// rootFailure follows skipped steps back to the step that failed.
func (r *Run) rootFailure(id string) string {
	for {
		s := r.plan.Steps[r.index[id]]
		if s.Status != StatusSkipped {
			return id
		}
		next := ""
		for _, dep := range s.Dependencies {
			st := r.plan.Steps[r.index[dep]].Status
			if st == StatusFailed || st == StatusSkipped {
				next = dep
				break
			}
		}
		if next == "" {
			return id
		}
		id = next
	}
}

// abort fails every pending step of the remaining groups without dispatch.
func (r *Run) abort(groups [][]string, cause error) {
	r.mu.Lock()
	var changed []Result
	for _, group := range groups {
		for _, id := range group {
			s := &r.plan.Steps[r.index[id]]
			if s.Status != StatusPending {
				continue
			}
			s.Status = StatusFailed
			res := Result{StepID: id, ErrorMessage: "not started: " + cause.Error(), Status: StatusFailed}
			r.results[id] = res
			changed = append(changed, res)
		}
	}
	r.mu.Unlock()
	for _, c := range changed {
		r.report(c)
	}
}

// report records, measures and publishes a terminal step result.
func (r *Run) report(res Result) {
	step := r.plan.Steps[r.index[res.StepID]]
	metrics.StepsTotal.WithLabelValues(step.AgentType, step.Action, string(res.Status)).Inc()

	if rec := r.engine.recorder; rec != nil {
		var raw json.RawMessage
		if res.Result != nil {
			raw, _ = json.Marshal(res.Result)
		}
		if err := rec.SaveStepResult(&store.StepResult{
			RunID:        r.plan.RequestID,
			StepID:       res.StepID,
			AgentType:    step.AgentType,
			Action:       step.Action,
			Status:       string(res.Status),
			Success:      res.Success,
			Result:       raw,
			ErrorMessage: res.ErrorMessage,
		}); err != nil {
			slog.Warn("record step failed", "plan", r.plan.RequestID, "step", res.StepID, "error", err)
		}
	}

	r.publish("step_"+string(res.Status), map[string]any{
		"step_id":       res.StepID,
		"success":       res.Success,
		"error_message": res.ErrorMessage,
	})
}

func (r *Run) publish(eventType string, data map[string]any) {
	p := r.engine.publisher
	if p == nil {
		return
	}
	event := map[string]any{
		"type":      eventType,
		"plan_id":   r.plan.RequestID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      data,
	}
	if err := p.PublishJSON(natsbus.TopicEventsPlan(r.plan.RequestID), event); err != nil {
		slog.Debug("publish plan event failed", "plan", r.plan.RequestID, "type", eventType, "error", err)
	}
}

func (e *Engine) dispatch(ctx context.Context, step Step) (v any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("collaborator panic: %v", p)
		}
	}()
	return e.dispatcher.Dispatch(ctx, step)
}

func clonePlan(p *Plan) Plan {
	out := *p
	out.Steps = make([]Step, len(p.Steps))
	for i, s := range p.Steps {
		out.Steps[i] = cloneStep(s)
	}
	out.ExecutionOrder = slices.Clone(p.ExecutionOrder)
	out.ParallelGroups = make([][]string, len(p.ParallelGroups))
	for i, g := range p.ParallelGroups {
		out.ParallelGroups[i] = slices.Clone(g)
	}
	return out
}

func cloneStep(s Step) Step {
	s.Dependencies = slices.Clone(s.Dependencies)
	s.Parameters = maps.Clone(s.Parameters)
	return s
}
