// Package domain implements the collaborators that workflow steps are
// dispatched to. Every operation answers with a uniform Envelope.
package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a failed operation.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindInvalidInput Kind = "invalid_input"
	KindUnavailable  Kind = "unavailable"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrValidation  = errors.New("invalid input")
	ErrUnavailable = errors.New("unavailable")
)

// Envelope is the response of every collaborator operation.
type Envelope struct {
	Success          bool           `json:"success"`
	Tool             string         `json:"tool"`
	Result           map[string]any `json:"result,omitempty"`
	Error            string         `json:"error,omitempty"`
	Message          string         `json:"message"`
	SourceIdentifier string         `json:"source_identifier"`
	Kind             Kind           `json:"kind,omitempty"`
}

// Err returns nil for a successful envelope and an *Error otherwise.
func (e Envelope) Err() error {
	if e.Success {
		return nil
	}
	msg := e.Error
	if msg == "" {
		msg = e.Message
	}
	return &Error{Kind: e.Kind, Tool: e.Tool, Source: e.SourceIdentifier, Message: msg}
}

// Error is a failed collaborator operation.
type Error struct {
	Kind    Kind
	Tool    string
	Source  string
	Message string
}

func (e *Error) Error() string {
	if e.Tool == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Tool, e.Message)
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrValidation:
		return e.Kind == KindInvalidInput
	case ErrUnavailable:
		return e.Kind == KindUnavailable
	}
	return false
}

func notFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func invalid(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

func unavailable(format string, args ...any) *Error {
	return &Error{Kind: KindUnavailable, Message: fmt.Sprintf(format, args...)}
}
