// Package orchestrator is the entry point for user messages. It routes each
// message to a workflow plan or to the agent cohort and serialises the
// messages of a session.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mtzanidakis/relay/internal/config"
	"github.com/mtzanidakis/relay/internal/handoff"
	"github.com/mtzanidakis/relay/internal/llm"
	"github.com/mtzanidakis/relay/internal/metrics"
	"github.com/mtzanidakis/relay/internal/natsbus"
	"github.com/mtzanidakis/relay/internal/router"
	"github.com/mtzanidakis/relay/internal/store"
	"github.com/mtzanidakis/relay/internal/workflow"
	"github.com/nats-io/nats.go"
)

// historyLimit bounds the messages a session keeps in memory and the turns
// reloaded when it is resumed.
const historyLimit = 50

// Reply is the answer to one user message.
type Reply struct {
	SessionID string            `json:"session_id"`
	Mode      router.Mode       `json:"mode"`
	Text      string            `json:"text"`
	Outcome   handoff.Outcome   `json:"outcome,omitempty"`
	Agent     string            `json:"agent,omitempty"`
	Plan      *workflow.Plan    `json:"plan,omitempty"`
	Results   []workflow.Result `json:"results,omitempty"`
}

type Orchestrator struct {
	cfg      config.ConversationConfig
	router   *router.Router
	runner   *handoff.Runner
	planner  workflow.Planner
	engine   *workflow.Engine
	store    *store.Store
	client   *natsbus.Client
	sessions *SessionTracker
	queues   map[string]*SessionQueue
	mu       sync.Mutex
	sub      *nats.Subscription
}

// New wires the orchestrator. A nil client disables the IPC handler.
func New(cfg config.ConversationConfig, rtr *router.Router, runner *handoff.Runner, planner workflow.Planner, engine *workflow.Engine, s *store.Store, client *natsbus.Client) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		router:   rtr,
		runner:   runner,
		planner:  planner,
		engine:   engine,
		store:    s,
		client:   client,
		sessions: NewSessionTracker(),
		queues:   make(map[string]*SessionQueue),
	}

	if client != nil {
		sub, err := client.Subscribe(natsbus.TopicIPC, o.handleIPC)
		if err != nil {
			slog.Error("orchestrator ipc subscribe failed", "error", err)
		} else {
			o.sub = sub
		}
	}
	return o
}

func (o *Orchestrator) Close() {
	if o.sub != nil {
		_ = o.sub.Unsubscribe()
	}
}

// HandleMessage routes text and answers it. Messages of the same session are
// handled one at a time in arrival order.
func (o *Orchestrator) HandleMessage(ctx context.Context, sessionID, text string) (Reply, error) {
	if strings.TrimSpace(text) == "" {
		return Reply{}, errors.New("empty message")
	}

	ch := make(chan queuedReply, 1)
	q := o.enqueue(sessionID, queuedMessage{ctx: ctx, text: text, reply: ch})

	go o.processQueue(q)

	select {
	case r := <-ch:
		return r.reply, r.err
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// enqueue adds msg to the session's queue, creating the queue when missing.
// It holds o.mu so EvictIdle never drops a queue between lookup and enqueue.
func (o *Orchestrator) enqueue(sessionID string, msg queuedMessage) *SessionQueue {
	o.mu.Lock()
	defer o.mu.Unlock()

	q, ok := o.queues[sessionID]
	if !ok {
		q = NewSessionQueue(sessionID)
		o.queues[sessionID] = q
	}
	q.Enqueue(msg)
	return q
}

func (o *Orchestrator) processQueue(q *SessionQueue) {
	sessionID := q.sessionID
	if !q.TryLock() {
		return // Already processing
	}

	for {
		msg, ok := q.Dequeue()
		if !ok {
			if q.Unlock() {
				return
			}
			continue
		}

		if err := msg.ctx.Err(); err != nil {
			msg.reply <- queuedReply{err: err}
			continue
		}
		reply, err := o.execute(msg.ctx, sessionID, msg.text)
		if err != nil {
			slog.Error("handle message failed", "session", sessionID, "error", err)
		}
		msg.reply <- queuedReply{reply: reply, err: err}
	}
}

func (o *Orchestrator) execute(ctx context.Context, sessionID, text string) (Reply, error) {
	mode, cleaned := o.router.Route(ctx, text)
	slog.Info("routing message", "session", sessionID, "mode", mode)

	if mode == router.ModeWorkflow {
		plan, results, err := o.RunWorkflow(ctx, cleaned)
		if err != nil {
			return Reply{SessionID: sessionID, Mode: mode, Text: "I could not plan that request: " + err.Error()}, err
		}
		o.remember(sessionID, cleaned, Summarize(plan, results))
		return Reply{
			SessionID: sessionID,
			Mode:      mode,
			Text:      Summarize(plan, results),
			Plan:      plan,
			Results:   results,
		}, nil
	}

	res, err := o.Converse(ctx, sessionID, cleaned)
	return Reply{
		SessionID: sessionID,
		Mode:      mode,
		Text:      replyText(res),
		Outcome:   res.Outcome,
		Agent:     res.Agent,
	}, err
}

// Converse runs one exchange of the session's conversation. Callers must not
// run two exchanges of the same session concurrently; HandleMessage ensures
// that.
func (o *Orchestrator) Converse(ctx context.Context, sessionID, text string) (handoff.Result, error) {
	s := o.sessions.GetOrCreate(sessionID, func() *handoff.Conversation {
		return o.restore(sessionID)
	})
	defer o.sessions.Touch(sessionID)
	defer s.Conversation.Trim(historyLimit)
	return o.runner.Run(ctx, s.Conversation, text)
}

// Plan builds and schedules a plan without executing it.
func (o *Orchestrator) Plan(ctx context.Context, query string) (*workflow.Plan, error) {
	return o.planner.Plan(ctx, query)
}

// RunWorkflow plans query and executes the plan to completion.
func (o *Orchestrator) RunWorkflow(ctx context.Context, query string) (*workflow.Plan, []workflow.Result, error) {
	plan, err := o.planner.Plan(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("plan: %w", err)
	}
	run, results, err := o.engine.Run(ctx, plan)
	if err != nil {
		return nil, nil, fmt.Errorf("start run: %w", err)
	}
	return run.Plan(), results, nil
}

// Reset forgets a session and its recorded turns.
func (o *Orchestrator) Reset(sessionID string) error {
	o.sessions.Remove(sessionID)
	if o.store == nil {
		return nil
	}
	return o.store.DeleteTurns(sessionID)
}

// EvictIdle drops conversations idle for longer than the configured session
// idle time. Recorded turns stay in the store, so an evicted session resumes
// from its history.
func (o *Orchestrator) EvictIdle() int {
	timeout := o.cfg.SessionIdle
	if timeout <= 0 {
		return 0
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	n := 0
	for _, id := range o.sessions.ListIdle(timeout) {
		if q, ok := o.queues[id]; ok && q.Busy() {
			continue
		}
		if !o.sessions.RemoveIfIdle(id, timeout) {
			continue
		}
		delete(o.queues, id)
		metrics.SessionsEvicted.Inc()
		slog.Info("evicted idle session", "session", id, "timeout", timeout)
		n++
	}
	return n
}

func (o *Orchestrator) ActiveSessions() int {
	return o.sessions.Len()
}

// restore rebuilds a conversation from recorded turns.
func (o *Orchestrator) restore(sessionID string) *handoff.Conversation {
	conv := handoff.NewConversation(sessionID, o.runner.Registry().Entry())
	if o.store == nil {
		return conv
	}
	turns, err := o.store.GetTurns(sessionID, historyLimit)
	if err != nil {
		slog.Warn("load session history failed", "session", sessionID, "error", err)
		return conv
	}
	for _, t := range turns {
		m := handoff.Message{Role: t.Role, Content: t.Content}
		if t.Role != llm.RoleUser {
			m.Agent = t.Agent
		}
		conv.Messages = append(conv.Messages, m)
	}
	return conv
}

// remember adds a workflow exchange to the session history so later
// conversation turns can refer to it.
func (o *Orchestrator) remember(sessionID, query, summary string) {
	s := o.sessions.Get(sessionID)
	if s == nil {
		return
	}
	s.Conversation.Messages = append(s.Conversation.Messages,
		handoff.Message{Role: llm.RoleUser, Content: query},
		handoff.Message{Role: llm.RoleAssistant, Agent: "workflow", Content: summary},
	)
	s.Conversation.Trim(historyLimit)
	o.sessions.Touch(sessionID)
}

func replyText(res handoff.Result) string {
	switch res.Outcome {
	case handoff.OutcomeComplete:
		return res.Reply
	case handoff.OutcomeCapped:
		return fmt.Sprintf("I could not finish this request within %d agent turns. Please narrow it down and try again.", res.Turns)
	case handoff.OutcomeMalformed:
		return "The coordinating agent replied in an unexpected format. Please try again."
	default:
		return "The assistant is unavailable right now. Please try again later."
	}
}

// Summarize renders a plan outcome for chat surfaces.
func Summarize(plan *workflow.Plan, results []workflow.Result) string {
	var sb strings.Builder
	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}
	fmt.Fprintf(&sb, "Plan %s: %d of %d steps completed\n", shortID(plan.RequestID), ok, len(plan.Steps))
	for _, r := range results {
		s, _ := plan.Step(r.StepID)
		mark := "✓"
		switch r.Status {
		case workflow.StatusFailed:
			mark = "✗"
		case workflow.StatusSkipped:
			mark = "–"
		}
		fmt.Fprintf(&sb, "%s %s %s/%s", mark, r.StepID, s.AgentType, s.Action)
		if r.ErrorMessage != "" {
			fmt.Fprintf(&sb, ": %s", r.ErrorMessage)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
