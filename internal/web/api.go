package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mtzanidakis/relay/internal/domain"
	"github.com/mtzanidakis/relay/internal/market"
	"github.com/mtzanidakis/relay/internal/orchestrator"
	"github.com/mtzanidakis/relay/internal/store"
	"github.com/mtzanidakis/relay/internal/workflow"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Workflows
	mux.HandleFunc("POST /api/plans", s.createPlan)
	mux.HandleFunc("POST /api/runs", s.createRun)
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)
	mux.HandleFunc("DELETE /api/runs/{id}", s.deleteRun)

	// Conversations
	mux.HandleFunc("POST /api/chat", s.chat)
	mux.HandleFunc("DELETE /api/chat/{session}", s.resetChat)
	mux.HandleFunc("GET /api/agents", s.listAgents)

	// Domain records
	mux.HandleFunc("GET /api/repair-orders/stats", s.repairOrderStats)
	mux.HandleFunc("GET /api/repair-orders/{id}", s.getRepairOrder)
	mux.HandleFunc("PATCH /api/repair-orders/{id}/status", s.updateRepairOrderStatus)
	mux.HandleFunc("GET /api/parts", s.listParts)
	mux.HandleFunc("GET /api/payment-links/{id}", s.getPaymentLink)
	mux.HandleFunc("POST /api/payment-links/{id}/process", s.paymentAction("process_payment_link"))
	mux.HandleFunc("POST /api/payment-links/{id}/cancel", s.paymentAction("cancel_payment_link"))
	mux.HandleFunc("GET /api/symbols", s.parseSymbol)

	// Secrets
	mux.HandleFunc("GET /api/secrets", s.listSecrets)
	mux.HandleFunc("PUT /api/secrets/{name}", s.putSecret)
	mux.HandleFunc("DELETE /api/secrets/{name}", s.deleteSecret)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
}

type queryBody struct {
	Query string `json:"query"`
}

func decodeQuery(w http.ResponseWriter, r *http.Request) (string, bool) {
	var body queryBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return "", false
	}
	q := strings.TrimSpace(body.Query)
	if q == "" {
		jsonError(w, "query is required", http.StatusBadRequest)
		return "", false
	}
	return q, true
}

func planStatus(err error) int {
	if errors.Is(err, workflow.ErrInvalidPlan) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) createPlan(w http.ResponseWriter, r *http.Request) {
	q, ok := decodeQuery(w, r)
	if !ok {
		return
	}
	plan, err := s.orch.Plan(r.Context(), q)
	if err != nil {
		jsonError(w, err.Error(), planStatus(err))
		return
	}
	jsonResponse(w, plan)
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	q, ok := decodeQuery(w, r)
	if !ok {
		return
	}
	plan, results, err := s.orch.RunWorkflow(r.Context(), q)
	if err != nil {
		jsonError(w, err.Error(), planStatus(err))
		return
	}
	jsonResponse(w, map[string]any{
		"plan":    plan,
		"results": results,
		"summary": orchestrator.Summarize(plan, results),
	})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := s.store.ListRuns(limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []store.WorkflowRun{}
	}
	jsonResponse(w, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.store.GetRun(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	if run.Steps, err = s.store.GetStepResults(id); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, run)
}

func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.store.GetRun(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	if run.Status == "running" {
		jsonError(w, "run is still executing", http.StatusConflict)
		return
	}
	if err := s.store.DeleteRun(id); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		jsonError(w, "message is required", http.StatusBadRequest)
		return
	}
	if body.SessionID == "" {
		body.SessionID = "web"
	}

	reply, err := s.orch.HandleMessage(r.Context(), body.SessionID, body.Message)
	if err != nil && reply.Text == "" {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := map[string]any{"reply": reply}
	if err != nil {
		out["error"] = err.Error()
	}
	jsonResponse(w, out)
}

func (s *Server) resetChat(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Reset(r.PathValue("session")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	out := make([]map[string]any, 0)
	for _, name := range s.registry.Names() {
		a, _ := s.registry.Get(name)
		out = append(out, map[string]any{
			"name":        a.Name,
			"tag":         a.Tag,
			"description": a.Description,
			"coordinator": a.Coordinator(),
			"entry":       name == s.registry.Entry(),
			"handoffs":    a.Handoffs(),
			"tools":       a.Tools,
		})
	}
	jsonResponse(w, out)
}

func (s *Server) getRepairOrder(w http.ResponseWriter, r *http.Request) {
	ro, err := s.store.GetRepairOrder(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if ro == nil {
		jsonError(w, "repair order not found", http.StatusNotFound)
		return
	}
	links, err := s.store.ListPaymentLinks(ro.RONumber)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if links == nil {
		links = []store.PaymentLink{}
	}
	jsonResponse(w, map[string]any{"repair_order": ro, "totals": ro.Totals(), "payment_links": links})
}

func (s *Server) listParts(w http.ResponseWriter, r *http.Request) {
	parts, err := s.store.ListParts()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if parts == nil {
		parts = []store.Part{}
	}
	jsonResponse(w, parts)
}

func (s *Server) getPaymentLink(w http.ResponseWriter, r *http.Request) {
	link, err := s.store.GetPaymentLink(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if link == nil {
		jsonError(w, "payment link not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, link)
}

// paymentAction runs a payment collaborator operation on the link in the
// path, so expiry and state rules are the ones workflow steps see.
func (s *Server) paymentAction(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, s.dispatcher.Invoke(r.Context(), domain.AgentPayment, action, domain.Params{"link_id": r.PathValue("id")}))
	}
}

func (s *Server) updateRepairOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	writeEnvelope(w, s.dispatcher.Invoke(r.Context(), domain.AgentRepairOrders, "update_repair_order_status",
		domain.Params{"ro_number": r.PathValue("id"), "status": req.Status}))
}

func (s *Server) repairOrderStats(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, s.dispatcher.Invoke(r.Context(), domain.AgentRepairOrders, "get_repair_order_stats", nil))
}

// writeEnvelope answers with a collaborator envelope, mapping failure kinds
// to status codes.
func writeEnvelope(w http.ResponseWriter, env domain.Envelope) {
	err := env.Err()
	if err == nil {
		jsonResponse(w, env)
		return
	}
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrValidation):
		code = http.StatusBadRequest
	case errors.Is(err, domain.ErrUnavailable):
		code = http.StatusConflict
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(env)
}

func (s *Server) parseSymbol(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if strings.TrimSpace(q) == "" {
		jsonError(w, "q is required", http.StatusBadRequest)
		return
	}
	symbol, exchange, ok := market.ParseSymbol(q)
	if !ok {
		jsonResponse(w, map[string]any{"found": false})
		return
	}
	jsonResponse(w, map[string]any{
		"found":    true,
		"symbol":   symbol,
		"exchange": exchange,
		"key":      market.InstrumentKey(symbol, exchange),
	})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	runs, _ := s.store.ListRuns(10)
	recent := make([]map[string]any, 0, len(runs))
	for _, run := range runs {
		recent = append(recent, map[string]any{
			"id":     run.ID,
			"query":  run.Query,
			"status": run.Status,
			"age":    formatUptime(time.Since(run.StartedAt)),
		})
	}

	natsStatus := "disabled"
	if s.nats != nil {
		natsStatus = "ok"
	}

	status := map[string]any{
		"status":          "ok",
		"version":         s.version,
		"uptime":          formatUptime(time.Since(s.startedAt)),
		"active_sessions": s.orch.ActiveSessions(),
		"agents_count":    len(s.registry.Names()),
		"ws_clients":      s.hub.Len(),
		"recent_runs":     recent,
		"nats":            natsStatus,
		"timestamp":       time.Now().UTC(),
	}
	if s.sweeper != nil {
		status["sweeper"] = map[string]any{
			"schedule": s.sweeper.Schedule(),
			"last":     s.sweeper.Last(),
		}
	}
	jsonResponse(w, status)
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
