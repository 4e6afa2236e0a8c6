// Package router decides whether a message is handled as a workflow plan or
// as a conversation with the agent cohort.
package router

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mtzanidakis/relay/internal/llm"
	"github.com/mtzanidakis/relay/internal/workflow"
)

type Mode string

const (
	ModeConversation Mode = "conversation"
	ModeWorkflow     Mode = "workflow"
)

var prefixes = map[string]Mode{
	"@plan": ModeWorkflow,
	"@chat": ModeConversation,
}

type Router struct {
	model llm.Model
}

func New() *Router {
	return &Router{}
}

// SetModel enables model-assisted routing for messages that neither carry a
// prefix nor look compound.
func (r *Router) SetModel(m llm.Model) {
	r.model = m
}

// Route returns the handling mode and the message with any routing prefix
// removed.
func (r *Router) Route(ctx context.Context, message string) (Mode, string) {
	// 1. Explicit @plan / @chat prefix
	trimmed := strings.TrimSpace(message)
	if strings.HasPrefix(trimmed, "@") {
		head, rest, _ := strings.Cut(trimmed, " ")
		if mode, ok := prefixes[strings.ToLower(head)]; ok {
			return mode, strings.TrimSpace(rest)
		}
	}

	// 2. Compound multi-domain requests need a validated plan
	if workflow.IsCompound(message) {
		return ModeWorkflow, message
	}

	// 3. Ask the model, when configured
	if r.model != nil {
		reply, err := r.model.Complete(ctx, llm.Request{
			Agent:    "router",
			System:   routingPrompt,
			Messages: []llm.Message{{Role: llm.RoleUser, Content: message}},
		})
		if err != nil {
			slog.Debug("model routing failed, using conversation", "error", err)
		} else if Mode(strings.ToLower(strings.TrimSpace(reply))) == ModeWorkflow {
			return ModeWorkflow, message
		}
	}

	// 4. Fall back to conversation
	return ModeConversation, message
}

const routingPrompt = `You are a message router for an automotive service desk.
Answer "workflow" when the message asks for several operations across repair orders,
parts and payments that must be validated and executed in order. Answer
"conversation" for everything else.

Respond with ONLY the word workflow or conversation.`
