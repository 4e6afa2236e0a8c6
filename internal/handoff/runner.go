package handoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mtzanidakis/relay/internal/decision"
	"github.com/mtzanidakis/relay/internal/llm"
	"github.com/mtzanidakis/relay/internal/metrics"
	"github.com/mtzanidakis/relay/internal/natsbus"
	"github.com/mtzanidakis/relay/internal/registry"
	"github.com/mtzanidakis/relay/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultMaxTurns = 20

var tracer = otel.Tracer("github.com/mtzanidakis/relay/internal/handoff")

type Publisher interface {
	PublishJSON(topic string, v any) error
}

// Recorder persists conversation turns. *store.Store satisfies it.
type Recorder interface {
	SaveTurn(t *store.Turn) error
}

// Result summarises one exchange. Outcome is always set.
type Result struct {
	Outcome   Outcome  `json:"outcome"`
	Agent     string   `json:"agent"`
	Reply     string   `json:"reply"`
	Turns     int      `json:"turns"`
	Remaining []string `json:"remaining"`
}

type Runner struct {
	registry  *registry.Registry
	model     llm.Model
	maxTurns  int
	publisher Publisher
	recorder  Recorder
}

type Option func(*Runner)

func WithPublisher(p Publisher) Option {
	return func(r *Runner) { r.publisher = p }
}

func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

func NewRunner(reg *registry.Registry, model llm.Model, maxTurns int, opts ...Option) *Runner {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	r := &Runner{registry: reg, model: model, maxTurns: maxTurns}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Registry() *registry.Registry {
	return r.registry
}

// Run feeds input to the entry agent and advances the conversation until a
// coordinator completes it or the exchange fails. The turn cap is checked
// before every agent invocation.
func (r *Runner) Run(ctx context.Context, conv *Conversation, input string) (Result, error) {
	ctx, span := tracer.Start(ctx, "handoff.run", trace.WithAttributes(
		attribute.String("session.id", conv.ID),
	))
	defer span.End()

	conv.Active = r.registry.Entry()
	conv.Turns = 0
	conv.Messages = append(conv.Messages, Message{Role: "user", Content: input})
	r.record(conv, "user", llm.RoleUser, input, "")
	r.publish(conv.ID, "user_message", map[string]any{"content": input})

	res, err := r.loop(ctx, conv)
	metrics.ConversationOutcomes.WithLabelValues(string(res.Outcome)).Inc()
	span.SetAttributes(attribute.String("outcome", string(res.Outcome)), attribute.Int("turns", res.Turns))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("conversation incomplete", "session", conv.ID, "outcome", res.Outcome, "turns", res.Turns, "error", err)
	}
	r.publish(conv.ID, "exchange_"+string(res.Outcome), map[string]any{
		"agent": res.Agent,
		"turns": res.Turns,
		"reply": res.Reply,
	})
	return res, err
}

func (r *Runner) loop(ctx context.Context, conv *Conversation) (Result, error) {
	result := func(o Outcome) Result {
		return Result{
			Outcome:   o,
			Agent:     conv.Active,
			Reply:     conv.LastReply(),
			Turns:     conv.Turns,
			Remaining: append([]string{}, conv.Remaining...),
		}
	}

	for {
		if conv.Turns >= r.maxTurns {
			return result(OutcomeCapped), fmt.Errorf("%w: %d turns", ErrLoopLimitExceeded, conv.Turns)
		}

		active := conv.Active
		agent, ok := r.registry.Get(active)
		if !ok {
			return result(OutcomeFailed), fmt.Errorf("unknown agent %q", active)
		}

		conv.Turns++
		metrics.HandoffTurns.WithLabelValues(active).Inc()
		text, err := r.invoke(ctx, agent, conv)
		if err != nil {
			return result(OutcomeFailed), fmt.Errorf("agent %s: %w", active, err)
		}

		out := Output{Text: text}
		if agent.Coordinator() {
			d, err := decision.Parse(text)
			if err != nil {
				return result(OutcomeMalformed), &UnexpectedOutputError{Agent: active, Raw: text, Err: err}
			}
			out.Decision = &d
		}

		tr, err := Advance(r.registry, conv, active, out)
		if err != nil {
			outcome := OutcomeFailed
			var ue *UnexpectedOutputError
			if errors.As(err, &ue) {
				outcome = OutcomeMalformed
			}
			return result(outcome), err
		}

		action := ""
		if out.Decision != nil {
			action = string(out.Decision.Action)
		}
		r.record(conv, active, llm.RoleAssistant, tr.Reply, action)

		if tr.Terminal {
			slog.Info("conversation complete", "session", conv.ID, "agent", active, "turns", conv.Turns)
			res := result(OutcomeComplete)
			res.Agent = active
			res.Reply = tr.Reply
			return res, nil
		}

		slog.Debug("handoff", "session", conv.ID, "from", active, "to", tr.Next, "turn", conv.Turns)
		metrics.Handoffs.WithLabelValues(active, tr.Next).Inc()
		r.publish(conv.ID, "handoff", map[string]any{
			"from":      active,
			"to":        tr.Next,
			"turn":      conv.Turns,
			"message":   tr.Reply,
			"remaining": conv.Remaining,
		})
	}
}

func (r *Runner) invoke(ctx context.Context, agent registry.Agent, conv *Conversation) (string, error) {
	ctx, span := tracer.Start(ctx, "handoff.turn", trace.WithAttributes(
		attribute.String("agent", agent.Name),
		attribute.Int("turn", conv.Turns),
	))
	defer span.End()

	start := time.Now()
	text, err := r.model.Complete(ctx, r.request(agent, conv))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	slog.Debug("agent replied", "session", conv.ID, "agent", agent.Name, "duration", time.Since(start))
	return text, nil
}

// request builds the model call for agent. Tools are described in the prompt
// only; domain operations run through workflow plans.
func (r *Runner) request(agent registry.Agent, conv *Conversation) llm.Request {
	var sb strings.Builder
	if agent.Instructions != "" {
		sb.WriteString(agent.Instructions)
		sb.WriteString("\n\n")
	}
	if len(agent.Tools) > 0 {
		fmt.Fprintf(&sb, "Operations you know about: %s.\n\n", strings.Join(agent.Tools, ", "))
	}
	if agent.Coordinator() {
		sb.WriteString("Agents in this team:\n")
		sb.WriteString(r.registry.Descriptions())
		sb.WriteString("\n")
		if len(conv.Remaining) > 0 {
			fmt.Fprintf(&sb, "Work still pending: %s\n\n", strings.Join(conv.Remaining, "; "))
		}
		sb.WriteString(decision.Instructions(r.registry.Actions(agent.Name)))
	} else {
		sb.WriteString("Answer the latest request in your area, then control returns to the coordinator.\n")
	}

	msgs := make([]llm.Message, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		switch {
		case m.Role == "user":
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: m.Content})
		case m.Agent == agent.Name:
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
		default:
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: fmt.Sprintf("[%s] %s", m.Agent, m.Content)})
		}
	}

	return llm.Request{
		Agent:    agent.Name,
		Model:    agent.Model,
		System:   sb.String(),
		Messages: msgs,
		JSON:     agent.Coordinator(),
	}
}

func (r *Runner) record(conv *Conversation, agent, role, content, action string) {
	if r.recorder == nil {
		return
	}
	err := r.recorder.SaveTurn(&store.Turn{
		SessionID: conv.ID,
		Turn:      conv.Turns,
		Agent:     agent,
		Role:      role,
		Content:   content,
		Action:    action,
	})
	if err != nil {
		slog.Warn("record turn failed", "session", conv.ID, "error", err)
	}
}

func (r *Runner) publish(sessionID, eventType string, data map[string]any) {
	if r.publisher == nil {
		return
	}
	event := map[string]any{
		"type":       eventType,
		"session_id": sessionID,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"data":       data,
	}
	if err := r.publisher.PublishJSON(natsbus.TopicEventsSession(sessionID), event); err != nil {
		slog.Debug("publish session event failed", "session", sessionID, "error", err)
	}
}
