package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mtzanidakis/relay/internal/config"
	"github.com/mtzanidakis/relay/internal/natsbus"
	"github.com/mtzanidakis/relay/internal/orchestrator"
	"github.com/mtzanidakis/relay/internal/workflow"
	"github.com/nats-io/nats.go"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want map[string]string
	}{
		{
			name: "empty",
			args: []string{},
			want: map[string]string{},
		},
		{
			name: "single flag",
			args: []string{"--id", "run-1"},
			want: map[string]string{"id": "run-1"},
		},
		{
			name: "multiple flags",
			args: []string{"--query", "hello", "--session", "ops"},
			want: map[string]string{"query": "hello", "session": "ops"},
		},
		{
			name: "flag without value is ignored",
			args: []string{"--id"},
			want: map[string]string{},
		},
		{
			name: "non-flag args ignored",
			args: []string{"positional", "--limit", "5"},
			want: map[string]string{"limit": "5"},
		},
		{
			name: "short prefix not treated as flag",
			args: []string{"-n", "test"},
			want: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseArgs(tt.args)
			if len(got) != len(tt.want) {
				t.Errorf("parseArgs(%v) returned %d entries, want %d", tt.args, len(got), len(tt.want))
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("parseArgs(%v)[%q] = %q, want %q", tt.args, k, got[k], v)
				}
			}
		})
	}
}

func TestQueryArg(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"price", "of", "INFY"}, "price of INFY"},
		{[]string{"--query", "price of TCS"}, "price of TCS"},
		{[]string{"--session", "ops"}, ""},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := queryArg(tt.args); got != tt.want {
			t.Errorf("queryArg(%v) = %q, want %q", tt.args, got, tt.want)
		}
	}
}

// startResponder runs an embedded bus with fn answering relay.ipc.
func startResponder(t *testing.T, fn func(cmd orchestrator.IPCCommand) any) string {
	t.Helper()
	bus, err := natsbus.New(config.NATSConfig{Port: -1})
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(bus.Close)

	conn, err := nats.Connect(bus.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(conn.Close)

	_, err = conn.Subscribe(natsbus.TopicIPC, func(msg *nats.Msg) {
		var cmd orchestrator.IPCCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			t.Errorf("unmarshal request: %v", err)
			return
		}
		resp, _ := json.Marshal(fn(cmd))
		msg.Respond(resp)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	conn.Flush()
	return bus.ClientURL()
}

func TestRunPlan(t *testing.T) {
	url := startResponder(t, func(cmd orchestrator.IPCCommand) any {
		if cmd.Type != "plan" {
			t.Errorf("expected type plan, got %s", cmd.Type)
		}
		var p map[string]any
		json.Unmarshal(cmd.Payload, &p)
		if p["query"] != "validate RO_001" {
			t.Errorf("unexpected payload %v", p)
		}
		plan := &workflow.Plan{
			RequestID: "req-1",
			Steps: []workflow.Step{
				{StepID: "validate_1", AgentType: "repair_order", Action: "validate"},
				{StepID: "execute_1", AgentType: "parts", Action: "add_to_order", Dependencies: []string{"validate_1"}},
			},
		}
		if err := plan.Compile(); err != nil {
			t.Errorf("compile: %v", err)
		}
		return map[string]any{"ok": true, "plan": plan}
	})

	var buf bytes.Buffer
	if err := run(url, "plan", []string{"validate", "RO_001"}, &buf); err != nil {
		t.Fatalf("run: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Plan req-1") || !strings.Contains(out, "[2] execute_1") || !strings.Contains(out, "after validate_1") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestRunRuns(t *testing.T) {
	url := startResponder(t, func(cmd orchestrator.IPCCommand) any {
		var p map[string]any
		json.Unmarshal(cmd.Payload, &p)
		if cmd.Type != "runs" || p["limit"] != float64(5) {
			t.Errorf("unexpected request %s %v", cmd.Type, p)
		}
		return map[string]any{"ok": true, "runs": []map[string]any{
			{"id": "r1", "query": "first", "status": "completed", "started_at": "2026-01-02T10:00:00Z"},
			{"id": "r2", "query": "second", "status": "failed", "started_at": "2026-01-02T11:00:00Z"},
		}}
	})

	var buf bytes.Buffer
	if err := run(url, "runs", []string{"--limit", "5"}, &buf); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(buf.String(), "r1") || !strings.Contains(buf.String(), "failed") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}

func TestRunSymbolAndShow(t *testing.T) {
	url := startResponder(t, func(cmd orchestrator.IPCCommand) any {
		switch cmd.Type {
		case "parse_symbol":
			return map[string]any{"ok": true, "found": true, "symbol": "INFY", "exchange": "BSE", "key": "BSE:INFY"}
		case "run_get":
			return map[string]any{"ok": true, "run": map[string]any{
				"id": "r1", "query": "q", "status": "failed",
				"steps": []map[string]any{{"step_id": "validate_1", "status": "failed", "error_message": "not found"}},
			}}
		}
		return map[string]any{"error": "unknown command: " + cmd.Type}
	})

	var buf bytes.Buffer
	if err := run(url, "symbol", []string{"price of INFY on BSE"}, &buf); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "BSE:INFY" {
		t.Errorf("unexpected symbol output %q", buf.String())
	}

	buf.Reset()
	if err := run(url, "show", []string{"--id", "r1"}, &buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "not found") {
		t.Errorf("unexpected show output:\n%s", buf.String())
	}
}

func TestRunErrorResponse(t *testing.T) {
	url := startResponder(t, func(cmd orchestrator.IPCCommand) any {
		return map[string]any{"error": "run not found"}
	})

	err := run(url, "show", []string{"--id", "missing"}, &bytes.Buffer{})
	if err == nil || err.Error() != "run not found" {
		t.Errorf("expected 'run not found', got %v", err)
	}
}

func TestRunValidatesArgs(t *testing.T) {
	tests := []struct {
		command string
		args    []string
		want    string
	}{
		{"plan", nil, "query is required"},
		{"show", nil, "--id is required"},
		{"runs", []string{"--limit", "many"}, "invalid --limit"},
		{"bogus", nil, "unknown command"},
	}
	for _, tt := range tests {
		err := run("nats://127.0.0.1:1", tt.command, tt.args, &bytes.Buffer{})
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: expected %q, got %v", tt.command, tt.want, err)
		}
	}
}
