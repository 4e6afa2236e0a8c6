package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/mtzanidakis/relay/internal/config"
	"github.com/mtzanidakis/relay/internal/llm"
	"github.com/mtzanidakis/relay/internal/market"
	"github.com/mtzanidakis/relay/internal/store"
	"github.com/mtzanidakis/relay/internal/workflow"
)

// Collaborator owns the operations of one agent type.
type Collaborator interface {
	Name() string
	Source() string
	Actions() []string
	Invoke(ctx context.Context, action string, params Params) Envelope
}

// Dispatcher routes workflow steps to collaborators keyed by agent type.
type Dispatcher struct {
	collaborators map[string]Collaborator
}

func NewDispatcher(cs ...Collaborator) *Dispatcher {
	d := &Dispatcher{collaborators: make(map[string]Collaborator, len(cs))}
	for _, c := range cs {
		d.Register(c)
	}
	return d
}

func (d *Dispatcher) Register(c Collaborator) {
	d.collaborators[c.Name()] = c
}

// NewDefault wires every built-in collaborator.
func NewDefault(s *store.Store, payments config.PaymentsConfig, quotes market.Source, model llm.Model) *Dispatcher {
	return NewDispatcher(
		NewRepairOrders(s),
		NewParts(s),
		NewPayments(s, payments),
		NewMarket(quotes),
		NewGeneral(model),
	)
}

// Catalog maps every agent type to its actions.
func (d *Dispatcher) Catalog() map[string][]string {
	out := make(map[string][]string, len(d.collaborators))
	for name, c := range d.collaborators {
		out[name] = c.Actions()
	}
	return out
}

// AgentTypes returns the registered agent types in sorted order.
func (d *Dispatcher) AgentTypes() []string {
	names := make([]string, 0, len(d.collaborators))
	for name := range d.collaborators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Dispatcher) Invoke(ctx context.Context, agentType, action string, params Params) Envelope {
	c, ok := d.collaborators[agentType]
	if !ok {
		return Envelope{
			Tool:    action,
			Error:   fmt.Sprintf("unknown agent type %q", agentType),
			Message: "no collaborator handles this agent type",
			Kind:    KindNotFound,
		}
	}
	return c.Invoke(ctx, action, params)
}

// Dispatch implements workflow.Dispatcher. A failure envelope becomes an
// *Error; success returns the envelope result.
func (d *Dispatcher) Dispatch(ctx context.Context, step workflow.Step) (any, error) {
	env := d.Invoke(ctx, step.AgentType, step.Action, Params(step.Parameters))
	if err := env.Err(); err != nil {
		slog.Debug("collaborator failed", "step", step.StepID, "agent_type", step.AgentType, "action", step.Action, "error", err)
		return nil, err
	}
	return env.Result, nil
}

type handlerFunc func(ctx context.Context, p Params) (result map[string]any, message string, err error)

// service is the shared Collaborator implementation: a named table of
// action handlers.
type service struct {
	name     string
	source   string
	handlers map[string]handlerFunc
	order    []string
}

func newService(name, source string) *service {
	return &service{name: name, source: source, handlers: make(map[string]handlerFunc)}
}

func (s *service) handle(action string, h handlerFunc) {
	s.handlers[action] = h
	s.order = append(s.order, action)
}

func (s *service) Name() string      { return s.name }
func (s *service) Source() string    { return s.source }
func (s *service) Actions() []string { return slices.Clone(s.order) }

func (s *service) Invoke(ctx context.Context, action string, params Params) Envelope {
	env := Envelope{Tool: action, SourceIdentifier: s.source}

	h, ok := s.handlers[action]
	if !ok {
		env.Kind = KindNotFound
		env.Error = fmt.Sprintf("unknown action %q for %s", action, s.name)
		env.Message = env.Error
		return env
	}
	if err := ctx.Err(); err != nil {
		env.Kind = KindUnavailable
		env.Error = err.Error()
		env.Message = "operation cancelled"
		return env
	}
	if params == nil {
		params = Params{}
	}

	result, msg, err := h(ctx, params)
	if err != nil {
		env.Error = err.Error()
		env.Message = err.Error()
		var de *Error
		if errors.As(err, &de) {
			env.Kind = de.Kind
			env.Error = de.Message
			env.Message = de.Message
		}
		return env
	}

	env.Success = true
	env.Result = result
	env.Message = msg
	return env
}
