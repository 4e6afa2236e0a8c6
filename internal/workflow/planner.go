package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/mtzanidakis/relay/internal/decision"
	"github.com/mtzanidakis/relay/internal/llm"
	"github.com/mtzanidakis/relay/internal/metrics"
)

// ModelPlanner asks the language model for a plan. Plans that fail
// scheduling are rejected as they are; replies that cannot be decoded fall
// back to the rule-based Builder.
type ModelPlanner struct {
	model    llm.Model
	fallback *Builder
	catalog  map[string][]string
	newID    func() string
}

// NewModelPlanner returns a planner offering the model the operations in
// catalog (agent type to actions).
func NewModelPlanner(m llm.Model, fallback *Builder, catalog map[string][]string) *ModelPlanner {
	if fallback == nil {
		fallback = NewBuilder()
	}
	return &ModelPlanner{model: m, fallback: fallback, catalog: catalog, newID: uuid.NewString}
}

type draftPlan struct {
	Steps []Step `json:"steps"`
}

func (p *ModelPlanner) Plan(ctx context.Context, query string) (*Plan, error) {
	reply, err := p.model.Complete(ctx, llm.Request{
		Agent:    "planner",
		System:   p.prompt(),
		Messages: []llm.Message{{Role: llm.RoleUser, Content: query}},
		JSON:     true,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("model planner failed, using rules", "error", err)
		return p.useFallback(ctx, query)
	}

	var draft draftPlan
	if err := json.Unmarshal([]byte(decision.Unfence(reply)), &draft); err != nil || len(draft.Steps) == 0 {
		slog.Warn("model plan undecodable, using rules", "error", err)
		return p.useFallback(ctx, query)
	}

	plan := &Plan{
		RequestID:     p.newID(),
		OriginalQuery: query,
		Steps:         draft.Steps,
	}
	for i := range plan.Steps {
		// Model output never carries execution state.
		plan.Steps[i].Status = StatusPending
	}
	if err := plan.Compile(); err != nil {
		metrics.PlansBuilt.WithLabelValues("model", "rejected").Inc()
		return nil, fmt.Errorf("model plan: %w", err)
	}
	metrics.PlansBuilt.WithLabelValues("model", "ok").Inc()
	return plan, nil
}

func (p *ModelPlanner) useFallback(ctx context.Context, query string) (*Plan, error) {
	plan, err := p.fallback.Plan(ctx, query)
	status := "fallback"
	if err != nil {
		status = "error"
	}
	metrics.PlansBuilt.WithLabelValues("model", status).Inc()
	return plan, err
}

func (p *ModelPlanner) prompt() string {
	var sb strings.Builder
	sb.WriteString("You plan multi-step operations for an automotive service desk.\n")
	sb.WriteString("Reply with one JSON object: {\"steps\": [{\"step_id\": \"...\", \"agent_type\": \"...\", \"action\": \"...\", \"parameters\": {...}, \"dependencies\": [\"step_id\", ...]}]}\n\n")
	sb.WriteString("Rules:\n")
	sb.WriteString("- Put read-only validation steps (validate_1, validate_2, ...) before mutating execution steps (execute_1, ...).\n")
	sb.WriteString("- Every execution step depends on the validation steps of the entities it touches.\n")
	sb.WriteString("- A later execution step depends on an earlier one when it uses its outcome, e.g. a payment link depends on the part addition it charges for.\n")
	sb.WriteString("- Dependencies may only name step ids of this plan.\n")
	sb.WriteString("- A request needing a single operation is a single step without dependencies.\n\n")
	sb.WriteString("Available operations:\n")

	types := make([]string, 0, len(p.catalog))
	for t := range p.catalog {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(&sb, "- %s: %s\n", t, strings.Join(p.catalog[t], ", "))
	}
	return sb.String()
}

// RulePlanner wraps Builder with metrics so both planners report alike.
type RulePlanner struct {
	*Builder
}

func (r RulePlanner) Plan(ctx context.Context, query string) (*Plan, error) {
	plan, err := r.Builder.Plan(ctx, query)
	status := "ok"
	if err != nil {
		status = "error"
		if errors.Is(err, ErrInvalidPlan) {
			status = "rejected"
		}
	}
	metrics.PlansBuilt.WithLabelValues("rules", status).Inc()
	return plan, err
}
