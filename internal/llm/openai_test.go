package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/mtzanidakis/relay/internal/config"
	"github.com/mtzanidakis/relay/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const completionBody = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"created": 1,
	"model": "gpt-4o-mini",
	"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": %q}}]
}`

func newTestModel(t *testing.T, handler http.HandlerFunc, retries uint64) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	m, err := NewOpenAI(config.LLMConfig{
		Model:      "gpt-4o-mini",
		BaseURL:    srv.URL + "/",
		APIKey:     "test-key",
		MaxRetries: retries,
	})
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	return m
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	if _, err := NewOpenAI(config.LLMConfig{Model: "gpt-4o-mini"}); err == nil {
		t.Error("expected error without api key")
	}
}

func TestCompleteSendsMessages(t *testing.T) {
	var body map[string]any
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, strings.Replace(completionBody, "%q", `"{\"action\":\"complete\"}"`, 1))
	}, 0)

	reply, err := m.Complete(context.Background(), Request{
		Agent:  "triage_agent",
		System: "You route requests.",
		Messages: []Message{
			{Role: RoleUser, Content: "hola"},
			{Role: RoleAssistant, Content: "hi"},
		},
		JSON: true,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if reply != `{"action":"complete"}` {
		t.Errorf("unexpected reply %q", reply)
	}

	msgs, _ := body["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("expected system + 2 messages, got %v", body["messages"])
	}
	if first, _ := msgs[0].(map[string]any); first["role"] != "system" {
		t.Errorf("expected system message first, got %v", first)
	}
	if body["model"] != "gpt-4o-mini" {
		t.Errorf("expected configured model, got %v", body["model"])
	}
	if rf, _ := body["response_format"].(map[string]any); rf["type"] != "json_object" {
		t.Errorf("expected json_object response format, got %v", body["response_format"])
	}
}

func TestCompleteRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, strings.Replace(completionBody, "%q", `"bonjour"`, 1))
	}, 2)

	reply, err := m.Complete(context.Background(), Request{Agent: "french_agent", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if reply != "bonjour" {
		t.Errorf("unexpected reply %q", reply)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestCompleteDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key"}}`)
	}, 3)

	if _, err := m.Complete(context.Background(), Request{Agent: "a", Messages: []Message{{Role: RoleUser, Content: "hi"}}}); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single call, got %d", calls.Load())
	}
}

func TestModelFunc(t *testing.T) {
	var m Model = ModelFunc(func(_ context.Context, req Request) (string, error) {
		return "echo " + req.Agent, nil
	})
	got, _ := m.Complete(context.Background(), Request{Agent: "x"})
	if got != "echo x" {
		t.Errorf("unexpected reply %q", got)
	}
}

func TestInstrumentCountsCalls(t *testing.T) {
	m := Instrument(ModelFunc(func(context.Context, Request) (string, error) { return "ok", nil }))
	before := testutil.ToFloat64(metrics.ModelCalls.WithLabelValues("instrumented_agent", "ok"))
	if _, err := m.Complete(context.Background(), Request{Agent: "instrumented_agent"}); err != nil {
		t.Fatal(err)
	}
	after := testutil.ToFloat64(metrics.ModelCalls.WithLabelValues("instrumented_agent", "ok"))
	if after-before != 1 {
		t.Errorf("expected one counted call, got %v", after-before)
	}
}
