// Package handoff runs conversations through a cohort of agents. A
// coordinator routes with triage decisions; specialists answer in plain text
// and hand control back to their coordinator.
package handoff

import (
	"errors"
	"fmt"
	"slices"

	"github.com/mtzanidakis/relay/internal/decision"
	"github.com/mtzanidakis/relay/internal/registry"
)

// ErrLoopLimitExceeded is returned when an exchange reaches the turn cap
// before a coordinator completes it.
var ErrLoopLimitExceeded = errors.New("loop limit exceeded")

// Outcome is how an exchange ended.
type Outcome string

const (
	OutcomeComplete  Outcome = "complete"
	OutcomeCapped    Outcome = "capped"
	OutcomeMalformed Outcome = "malformed"
	OutcomeFailed    Outcome = "failed"
)

// Incomplete reports whether the exchange ended without a completion.
func (o Outcome) Incomplete() bool {
	return o != OutcomeComplete
}

// UnexpectedOutputError means an agent replied in a shape that does not match
// its schema, or routed to a target it is not wired to.
type UnexpectedOutputError struct {
	Agent string
	Raw   string
	Err   error
}

func (e *UnexpectedOutputError) Error() string {
	return fmt.Sprintf("agent %s: unexpected output: %v", e.Agent, e.Err)
}

func (e *UnexpectedOutputError) Unwrap() error { return e.Err }

type Message struct {
	Role    string `json:"role"`
	Agent   string `json:"agent,omitempty"`
	Content string `json:"content"`
}

// Conversation is the state of one session. It is owned by a single caller
// and must not be shared between goroutines.
type Conversation struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	Active    string    `json:"active"`
	Turns     int       `json:"turns"`
	Remaining []string  `json:"remaining"`
}

func NewConversation(id, entry string) *Conversation {
	return &Conversation{ID: id, Active: entry, Remaining: []string{}}
}

// LastReply returns the content of the latest agent message.
func (c *Conversation) LastReply() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role != "user" {
			return c.Messages[i].Content
		}
	}
	return ""
}

// Trim keeps only the latest n messages.
func (c *Conversation) Trim(n int) {
	if n <= 0 || len(c.Messages) <= n {
		return
	}
	c.Messages = slices.Clone(c.Messages[len(c.Messages)-n:])
}

// Output is what the active agent produced in one turn. Decision is set only
// when a coordinator's reply parsed as a triage decision.
type Output struct {
	Text     string
	Decision *decision.TriageDecision
}

// Transition is the result of one turn.
type Transition struct {
	Next     string
	Terminal bool
	Outcome  Outcome
	Reply    string
}

// Advance applies one turn of active's output to conv: the output joins the
// history and control moves to exactly one agent, or the exchange completes.
func Advance(reg *registry.Registry, conv *Conversation, active string, out Output) (Transition, error) {
	a, ok := reg.Get(active)
	if !ok {
		return Transition{}, fmt.Errorf("unknown agent %q", active)
	}

	if !a.Coordinator() {
		conv.Messages = append(conv.Messages, Message{Role: "assistant", Agent: active, Content: out.Text})
		next, ok := reg.ReturnTarget(active)
		if !ok {
			return Transition{}, fmt.Errorf("agent %q has no return target", active)
		}
		conv.Active = next
		return Transition{Next: next, Reply: out.Text}, nil
	}

	if out.Decision == nil {
		return Transition{}, &UnexpectedOutputError{
			Agent: active,
			Raw:   out.Text,
			Err:   fmt.Errorf("%w: no triage decision", decision.ErrUnexpectedShape),
		}
	}
	d := *out.Decision

	if d.Action.Complete() {
		conv.Messages = append(conv.Messages, Message{Role: "assistant", Agent: active, Content: d.Message})
		conv.Remaining = slices.Clone(d.RemainingWork)
		return Transition{Next: active, Terminal: true, Outcome: OutcomeComplete, Reply: d.Message}, nil
	}

	target, err := reg.Resolve(active, d.Action)
	if err != nil {
		return Transition{}, &UnexpectedOutputError{Agent: active, Raw: out.Text, Err: err}
	}
	conv.Messages = append(conv.Messages, Message{Role: "assistant", Agent: active, Content: d.Message})
	conv.Remaining = slices.Clone(d.RemainingWork)
	conv.Active = target
	return Transition{Next: target, Reply: d.Message}, nil
}
