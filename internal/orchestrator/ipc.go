package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtzanidakis/relay/internal/market"
	"github.com/nats-io/nats.go"
)

// ipcTimeout bounds a request served over NATS.
const ipcTimeout = 2 * time.Minute

// IPCCommand is a request sent to relay.ipc.
type IPCCommand struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type queryPayload struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
}

func (o *Orchestrator) handleIPC(msg *nats.Msg) {
	var cmd IPCCommand
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		slog.Warn("invalid IPC command", "error", err)
		o.respondIPC(msg, map[string]any{"error": "invalid command"})
		return
	}

	slog.Info("IPC command received", "type", cmd.Type)

	switch cmd.Type {
	case "plan":
		o.ipcPlan(msg, cmd.Payload)
	case "run":
		o.ipcRun(msg, cmd.Payload)
	case "runs":
		o.ipcListRuns(msg, cmd.Payload)
	case "run_get":
		o.ipcGetRun(msg, cmd.Payload)
	case "parse_symbol":
		o.ipcParseSymbol(msg, cmd.Payload)
	case "chat":
		o.ipcChat(msg, cmd.Payload)
	default:
		slog.Warn("unknown IPC command", "type", cmd.Type)
		o.respondIPC(msg, map[string]any{"error": "unknown command: " + cmd.Type})
	}
}

func (o *Orchestrator) respondIPC(msg *nats.Msg, data any) {
	resp, err := json.Marshal(data)
	if err != nil {
		slog.Error("failed to marshal IPC response", "error", err)
		return
	}
	if err := msg.Respond(resp); err != nil {
		slog.Error("failed to respond to IPC", "error", err)
	}
}

func decodeQuery(payload json.RawMessage) (queryPayload, error) {
	var req queryPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return req, fmt.Errorf("invalid payload")
	}
	if req.Query == "" {
		return req, fmt.Errorf("query is required")
	}
	return req, nil
}

func (o *Orchestrator) ipcPlan(msg *nats.Msg, payload json.RawMessage) {
	req, err := decodeQuery(payload)
	if err != nil {
		o.respondIPC(msg, map[string]any{"error": err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ipcTimeout)
	defer cancel()

	plan, err := o.Plan(ctx, req.Query)
	if err != nil {
		o.respondIPC(msg, map[string]any{"error": fmt.Sprintf("plan failed: %v", err)})
		return
	}
	o.respondIPC(msg, map[string]any{"ok": true, "plan": plan})
}

// ipcRun executes in the handler goroutine; NATS delivers the next request of
// this subscription only after it returns.
func (o *Orchestrator) ipcRun(msg *nats.Msg, payload json.RawMessage) {
	req, err := decodeQuery(payload)
	if err != nil {
		o.respondIPC(msg, map[string]any{"error": err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ipcTimeout)
	defer cancel()

	plan, results, err := o.RunWorkflow(ctx, req.Query)
	if err != nil {
		o.respondIPC(msg, map[string]any{"error": fmt.Sprintf("run failed: %v", err)})
		return
	}
	slog.Info("plan executed via IPC", "plan", plan.RequestID)
	o.respondIPC(msg, map[string]any{
		"ok":      true,
		"plan":    plan,
		"results": results,
		"summary": Summarize(plan, results),
	})
}

func (o *Orchestrator) ipcListRuns(msg *nats.Msg, payload json.RawMessage) {
	if o.store == nil {
		o.respondIPC(msg, map[string]any{"error": "no store configured"})
		return
	}
	var req struct {
		Limit int `json:"limit"`
	}
	_ = json.Unmarshal(payload, &req)
	if req.Limit <= 0 {
		req.Limit = 20
	}

	runs, err := o.store.ListRuns(req.Limit)
	if err != nil {
		o.respondIPC(msg, map[string]any{"error": fmt.Sprintf("list failed: %v", err)})
		return
	}
	out := make([]map[string]any, 0, len(runs))
	for _, r := range runs {
		out = append(out, map[string]any{
			"id":         r.ID,
			"query":      r.Query,
			"status":     r.Status,
			"started_at": r.StartedAt,
		})
	}
	o.respondIPC(msg, map[string]any{"ok": true, "runs": out})
}

func (o *Orchestrator) ipcGetRun(msg *nats.Msg, payload json.RawMessage) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.ID == "" {
		o.respondIPC(msg, map[string]any{"error": "id is required"})
		return
	}
	if o.store == nil {
		o.respondIPC(msg, map[string]any{"error": "no store configured"})
		return
	}
	run, err := o.store.GetRun(req.ID)
	if err != nil {
		o.respondIPC(msg, map[string]any{"error": fmt.Sprintf("get failed: %v", err)})
		return
	}
	if run == nil {
		o.respondIPC(msg, map[string]any{"error": "run not found"})
		return
	}
	if run.Steps, err = o.store.GetStepResults(run.ID); err != nil {
		o.respondIPC(msg, map[string]any{"error": fmt.Sprintf("get steps failed: %v", err)})
		return
	}
	o.respondIPC(msg, map[string]any{"ok": true, "run": run})
}

func (o *Orchestrator) ipcParseSymbol(msg *nats.Msg, payload json.RawMessage) {
	req, err := decodeQuery(payload)
	if err != nil {
		o.respondIPC(msg, map[string]any{"error": err.Error()})
		return
	}
	symbol, exchange, ok := market.ParseSymbol(req.Query)
	if !ok {
		o.respondIPC(msg, map[string]any{"ok": true, "found": false})
		return
	}
	o.respondIPC(msg, map[string]any{
		"ok":       true,
		"found":    true,
		"symbol":   symbol,
		"exchange": exchange,
		"key":      market.InstrumentKey(symbol, exchange),
	})
}

func (o *Orchestrator) ipcChat(msg *nats.Msg, payload json.RawMessage) {
	req, err := decodeQuery(payload)
	if err != nil {
		o.respondIPC(msg, map[string]any{"error": err.Error()})
		return
	}
	if req.SessionID == "" {
		req.SessionID = "ipc"
	}
	ctx, cancel := context.WithTimeout(context.Background(), ipcTimeout)
	defer cancel()

	reply, err := o.HandleMessage(ctx, req.SessionID, req.Query)
	if err != nil {
		o.respondIPC(msg, map[string]any{"error": err.Error(), "reply": reply})
		return
	}
	o.respondIPC(msg, map[string]any{"ok": true, "reply": reply})
}
