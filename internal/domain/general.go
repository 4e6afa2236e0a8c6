package domain

import (
	"context"

	"github.com/mtzanidakis/relay/internal/llm"
)

const (
	AgentGeneral  = "general"
	SourceGeneral = "general-assistant"
)

const generalPrompt = `You are the assistant of an automotive service desk. Answer the user's question concisely. If the request needs an action you cannot perform, say which information is missing.`

type general struct {
	*service
	model llm.Model
}

// NewGeneral returns the collaborator answering requests that match no
// specific domain.
func NewGeneral(m llm.Model) Collaborator {
	c := &general{service: newService(AgentGeneral, SourceGeneral), model: m}
	c.handle("handle_query", c.answer)
	return c
}

func (c *general) answer(ctx context.Context, p Params) (map[string]any, string, error) {
	query := p.String("query")
	if query == "" {
		return nil, "", invalid("query is required")
	}
	if c.model == nil {
		return nil, "", unavailable("no language model configured")
	}
	reply, err := c.model.Complete(ctx, llm.Request{
		Agent:    "general_agent",
		System:   generalPrompt,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: query}},
	})
	if err != nil {
		return nil, "", unavailable("%v", err)
	}
	return map[string]any{"answer": reply}, "Query answered", nil
}
