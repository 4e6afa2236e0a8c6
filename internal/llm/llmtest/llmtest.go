// Package llmtest provides scripted language models for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/mtzanidakis/relay/internal/llm"
)

var ErrExhausted = errors.New("scripted model has no replies left")

// Reply is one scripted answer. Err takes precedence over Text.
type Reply struct {
	Text string
	Err  error
}

// Scripted returns its replies in order and records every request.
type Scripted struct {
	mu       sync.Mutex
	replies  []Reply
	requests []llm.Request
	// Repeat keeps returning the last reply once the script runs out.
	Repeat bool
}

func New(replies ...Reply) *Scripted {
	return &Scripted{replies: replies}
}

// Texts builds a script of plain text replies.
func Texts(texts ...string) *Scripted {
	replies := make([]Reply, len(texts))
	for i, t := range texts {
		replies[i] = Reply{Text: t}
	}
	return New(replies...)
}

func (s *Scripted) Complete(ctx context.Context, req llm.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	idx := len(s.requests) - 1
	if idx >= len(s.replies) {
		if !s.Repeat || len(s.replies) == 0 {
			return "", ErrExhausted
		}
		idx = len(s.replies) - 1
	}
	r := s.replies[idx]
	return r.Text, r.Err
}

func (s *Scripted) Requests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}
