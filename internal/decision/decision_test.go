package decision

import (
	"errors"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	d, err := Parse(`{"action":"handoff_to_french","message":"translate please","remaining_work":["spanish","german"]}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.Action != "handoff_to_french" {
		t.Errorf("expected handoff_to_french, got %s", d.Action)
	}
	tag, ok := d.Action.Target()
	if !ok || tag != "french" {
		t.Errorf("expected target french, got %q (%v)", tag, ok)
	}
	if len(d.RemainingWork) != 2 {
		t.Errorf("expected 2 remaining items, got %d", len(d.RemainingWork))
	}
}

func TestParseFencedComplete(t *testing.T) {
	raw := "```json\n{\"action\": \"complete\", \"message\": \"all done\"}\n```"
	d, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !d.Action.Complete() {
		t.Errorf("expected complete, got %s", d.Action)
	}
	if d.RemainingWork == nil || len(d.RemainingWork) != 0 {
		t.Errorf("expected empty remaining work, got %v", d.RemainingWork)
	}
}

func TestParseRejectsUnexpectedShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", "   "},
		{"plain text", "Bonjour le monde"},
		{"missing action", `{"message":"hi"}`},
		{"unknown action", `{"action":"dance","message":"hi"}`},
		{"empty handoff tag", `{"action":"handoff_to_","message":"hi"}`},
		{"unknown field", `{"action":"complete","message":"hi","mood":"happy"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw)
			if !errors.Is(err, ErrUnexpectedShape) {
				t.Errorf("expected ErrUnexpectedShape, got %v", err)
			}
		})
	}
}

func TestHandoffAction(t *testing.T) {
	a := HandoffAction("parts")
	if a != "handoff_to_parts" {
		t.Errorf("expected handoff_to_parts, got %s", a)
	}
	if a.Complete() {
		t.Error("handoff action must not be complete")
	}
	if _, ok := ActionComplete.Target(); ok {
		t.Error("complete has no target")
	}
}

func TestInstructionsListsActions(t *testing.T) {
	out := Instructions([]Action{HandoffAction("parts"), ActionComplete})
	for _, want := range []string{"handoff_to_parts", "complete", "remaining_work"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected instructions to mention %q", want)
		}
	}
}
