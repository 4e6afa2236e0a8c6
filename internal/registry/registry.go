package registry

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/mtzanidakis/relay/internal/decision"
	"github.com/mtzanidakis/relay/internal/store"
)

// ErrUnknownAction is returned when an agent emits an action that does not
// map to one of its allowed handoff targets.
var ErrUnknownAction = errors.New("unknown action")

// Agent is a named participant of a cohort. Its handoff set is assigned
// during wiring and is read-only afterwards.
type Agent struct {
	Name         string
	Tag          string
	Description  string
	Instructions string
	Tools        []string
	Schema       decision.Schema
	Model        string

	handoffs []string
}

// Handoffs returns the names of the agents this agent may transfer control to.
func (a Agent) Handoffs() []string {
	return slices.Clone(a.handoffs)
}

// Coordinator reports whether the agent routes by emitting triage decisions.
func (a Agent) Coordinator() bool {
	return a.Schema == decision.SchemaTriage
}

// Builder collects agents and their wiring. Build validates the cohort and
// returns an immutable Registry.
type Builder struct {
	agents map[string]*Agent
	order  []string
	wiring map[string][]string
	entry  string
	errs   []error
}

func NewBuilder() *Builder {
	return &Builder{
		agents: make(map[string]*Agent),
		wiring: make(map[string][]string),
	}
}

// Add registers an agent with an empty handoff set.
func (b *Builder) Add(a Agent) *Builder {
	if a.Name == "" {
		b.errs = append(b.errs, errors.New("agent without name"))
		return b
	}
	if _, dup := b.agents[a.Name]; dup {
		b.errs = append(b.errs, fmt.Errorf("duplicate agent %q", a.Name))
		return b
	}
	if a.Schema != decision.SchemaText && a.Schema != decision.SchemaTriage {
		b.errs = append(b.errs, fmt.Errorf("agent %q has unknown schema %q", a.Name, a.Schema))
		return b
	}
	if a.Tag == "" {
		a.Tag = strings.TrimSuffix(a.Name, "_agent")
	}
	a.Tools = slices.Clone(a.Tools)
	a.handoffs = nil
	b.agents[a.Name] = &a
	b.order = append(b.order, a.Name)
	return b
}

// Wire allows from to hand off to each of to. Wiring may reference agents
// added later; names are resolved by Build.
func (b *Builder) Wire(from string, to ...string) *Builder {
	b.wiring[from] = append(b.wiring[from], to...)
	return b
}

func (b *Builder) Entry(name string) *Builder {
	b.entry = name
	return b
}

func (b *Builder) Build() (*Registry, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	if len(b.agents) == 0 {
		return nil, errors.New("empty cohort")
	}
	if b.entry == "" {
		return nil, errors.New("no entry agent")
	}
	entry, ok := b.agents[b.entry]
	if !ok {
		return nil, fmt.Errorf("entry agent %q is not registered", b.entry)
	}
	if !entry.Coordinator() {
		return nil, fmt.Errorf("entry agent %q must emit %s", b.entry, decision.SchemaTriage)
	}

	tags := make(map[string]string, len(b.agents))
	for _, name := range b.order {
		tag := b.agents[name].Tag
		if other, dup := tags[tag]; dup {
			return nil, fmt.Errorf("agents %q and %q share tag %q", other, name, tag)
		}
		tags[tag] = name
	}

	// Wiring pass: copies, so the builder can be reused without aliasing.
	agents := make(map[string]Agent, len(b.agents))
	for _, name := range b.order {
		agents[name] = *b.agents[name]
	}
	for from, targets := range b.wiring {
		a, ok := agents[from]
		if !ok {
			return nil, fmt.Errorf("wiring references unknown agent %q", from)
		}
		for _, to := range targets {
			if _, ok := agents[to]; !ok {
				return nil, fmt.Errorf("agent %q hands off to unknown agent %q", from, to)
			}
			if to == from {
				return nil, fmt.Errorf("agent %q cannot hand off to itself", from)
			}
			if !slices.Contains(a.handoffs, to) {
				a.handoffs = append(a.handoffs, to)
			}
		}
		agents[from] = a
	}

	actions := make(map[string]map[decision.Action]string, len(agents))
	for _, name := range b.order {
		a := agents[name]
		if !a.Coordinator() {
			if len(a.handoffs) != 1 {
				return nil, fmt.Errorf("specialist %q must have exactly one handoff target, has %d", name, len(a.handoffs))
			}
			continue
		}
		m := make(map[decision.Action]string, len(a.handoffs))
		for _, to := range a.handoffs {
			m[decision.HandoffAction(agents[to].Tag)] = to
		}
		actions[name] = m
	}

	return &Registry{
		agents:  agents,
		order:   slices.Clone(b.order),
		entry:   b.entry,
		actions: actions,
	}, nil
}

// Registry is a fully wired cohort. It is safe for concurrent use.
type Registry struct {
	agents  map[string]Agent
	order   []string
	entry   string
	actions map[string]map[decision.Action]string
}

func (r *Registry) Entry() string {
	return r.entry
}

// Get returns a copy of the named agent.
func (r *Registry) Get(name string) (Agent, bool) {
	a, ok := r.agents[name]
	a.Tools = slices.Clone(a.Tools)
	return a, ok
}

// Names returns agent names in declaration order.
func (r *Registry) Names() []string {
	return slices.Clone(r.order)
}

// Resolve maps an action emitted by from to the agent that receives control.
func (r *Registry) Resolve(from string, action decision.Action) (string, error) {
	targets, ok := r.actions[from]
	if !ok {
		return "", fmt.Errorf("%w: agent %q does not route", ErrUnknownAction, from)
	}
	to, ok := targets[action]
	if !ok {
		return "", fmt.Errorf("%w: %q is not allowed for %q", ErrUnknownAction, action, from)
	}
	return to, nil
}

// ReturnTarget returns the single agent a specialist hands control back to.
func (r *Registry) ReturnTarget(name string) (string, bool) {
	a, ok := r.agents[name]
	if !ok || a.Coordinator() || len(a.handoffs) != 1 {
		return "", false
	}
	return a.handoffs[0], true
}

// Actions lists the actions a coordinator may emit, in wiring order, followed
// by complete.
func (r *Registry) Actions(name string) []decision.Action {
	a, ok := r.agents[name]
	if !ok || !a.Coordinator() {
		return nil
	}
	out := make([]decision.Action, 0, len(a.handoffs)+1)
	for _, to := range a.handoffs {
		out = append(out, decision.HandoffAction(r.agents[to].Tag))
	}
	return append(out, decision.ActionComplete)
}

// Descriptions renders the cohort for inclusion in a routing prompt.
func (r *Registry) Descriptions() string {
	var sb strings.Builder
	for _, name := range r.order {
		a := r.agents[name]
		fmt.Fprintf(&sb, "- %s (%s)", a.Name, a.Tag)
		if a.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(a.Description)
		}
		if len(a.Tools) > 0 {
			fmt.Fprintf(&sb, " [tools: %s]", strings.Join(a.Tools, ", "))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Sync persists the cohort so the web UI can list it, removing stale rows.
func (r *Registry) Sync(s *store.Store) error {
	ids := make([]string, 0, len(r.order))
	for _, name := range r.order {
		a := r.agents[name]
		ids = append(ids, name)
		err := s.SaveAgent(&store.Agent{
			ID:          a.Name,
			Tag:         a.Tag,
			Description: a.Description,
			Model:       a.Model,
			Schema:      string(a.Schema),
			Handoffs:    a.Handoffs(),
			Tools:       a.Tools,
			Entry:       name == r.entry,
		})
		if err != nil {
			return fmt.Errorf("save agent %s: %w", name, err)
		}
	}
	if err := s.DeleteAgentsNotIn(ids); err != nil {
		return fmt.Errorf("delete stale agents: %w", err)
	}
	return nil
}
