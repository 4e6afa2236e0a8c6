// Package llm is the language capability used by agents and the model planner.
package llm

import (
	"context"
	"errors"
)

// Roles of a chat message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var ErrEmptyReply = errors.New("empty model reply")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one model invocation on behalf of an agent.
type Request struct {
	Agent    string
	Model    string
	System   string
	Messages []Message
	// JSON asks the model for a single JSON object reply.
	JSON bool
}

type Model interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, req Request) (string, error)

func (f ModelFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
