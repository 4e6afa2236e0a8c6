// Package decision holds the structured shapes a coordinating agent emits
// when it routes a conversation.
package decision

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnexpectedShape marks agent output that does not match its declared schema.
var ErrUnexpectedShape = errors.New("unexpected output shape")

// Schema names the structured shape an agent must reply with. The zero value
// means the agent replies in plain text.
type Schema string

const (
	SchemaText   Schema = ""
	SchemaTriage Schema = "triage_decision"
)

// Action is the routing verdict of a triage decision.
type Action string

const (
	ActionComplete Action = "complete"

	handoffPrefix = "handoff_to_"
)

// HandoffAction returns the action that transfers control to the agent
// registered under tag.
func HandoffAction(tag string) Action {
	return Action(handoffPrefix + tag)
}

func (a Action) Complete() bool {
	return a == ActionComplete
}

// Target returns the handoff tag carried by a handoff action.
func (a Action) Target() (string, bool) {
	tag, ok := strings.CutPrefix(string(a), handoffPrefix)
	if !ok || tag == "" {
		return "", false
	}
	return tag, true
}

type TriageDecision struct {
	Action        Action   `json:"action"`
	Message       string   `json:"message"`
	RemainingWork []string `json:"remaining_work"`
}

// Parse decodes a triage decision from raw model output. Output wrapped in a
// fenced code block is accepted.
func Parse(raw string) (TriageDecision, error) {
	body := Unfence(strings.TrimSpace(raw))
	if body == "" {
		return TriageDecision{}, fmt.Errorf("%w: empty output", ErrUnexpectedShape)
	}

	var d TriageDecision
	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		return TriageDecision{}, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	if d.Action == "" {
		return TriageDecision{}, fmt.Errorf("%w: missing action", ErrUnexpectedShape)
	}
	if !d.Action.Complete() {
		if _, ok := d.Action.Target(); !ok {
			return TriageDecision{}, fmt.Errorf("%w: unknown action %q", ErrUnexpectedShape, d.Action)
		}
	}
	if d.RemainingWork == nil {
		d.RemainingWork = []string{}
	}
	return d, nil
}

// Unfence removes a surrounding markdown code fence, if any.
func Unfence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Instructions renders the reply contract appended to a coordinator prompt.
func Instructions(actions []Action) string {
	var sb strings.Builder
	sb.WriteString("Reply with a single JSON object and nothing else:\n")
	sb.WriteString(`{"action": "<action>", "message": "<text for the next agent or the user>", "remaining_work": ["<pending item>", ...]}`)
	sb.WriteString("\n\nValid actions:\n")
	for _, a := range actions {
		fmt.Fprintf(&sb, "- %s\n", a)
	}
	sb.WriteString("\nChoose exactly one action. Use \"complete\" only when nothing remains.\n")
	return sb.String()
}
