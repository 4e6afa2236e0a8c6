package domain

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mtzanidakis/relay/internal/config"
	"github.com/mtzanidakis/relay/internal/llm/llmtest"
	"github.com/mtzanidakis/relay/internal/market"
	"github.com/mtzanidakis/relay/internal/store"
	"github.com/mtzanidakis/relay/internal/workflow"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Seed(); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return s
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *store.Store) {
	t.Helper()
	s := newTestStore(t)
	model := llmtest.Texts("Brake pads usually last 40,000 km.")
	return NewDefault(s, config.PaymentsConfig{}, market.NewSimulated(7), model), s
}

func TestValidateRepairOrder(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	tests := []struct {
		name string
		ro   any
		kind Kind
	}{
		{"open order", "RO_001", ""},
		{"completed order", "RO_002", KindInvalidInput},
		{"unknown order", "RO_404", KindNotFound},
		{"missing number", nil, KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := d.Invoke(ctx, AgentRepairOrders, "validate_repair_order", Params{"ro_number": tt.ro})
			if env.SourceIdentifier != SourceRepairOrders || env.Tool != "validate_repair_order" {
				t.Errorf("unexpected envelope identity: %+v", env)
			}
			if tt.kind == "" {
				if !env.Success || env.Result["valid"] != true {
					t.Errorf("expected success, got %+v", env)
				}
				return
			}
			if env.Success || env.Kind != tt.kind || env.Error == "" {
				t.Errorf("expected %s failure, got %+v", tt.kind, env)
			}
		})
	}
}

func TestRepairOrderDetails(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	_ = d.Invoke(ctx, AgentParts, "add_part_to_order", Params{"ro_number": "RO_001", "part_number": "PART_001", "quantity": 2})
	env := d.Invoke(ctx, AgentRepairOrders, "get_repair_order_details", Params{"ro_number": "RO_001"})
	if !env.Success {
		t.Fatalf("details failed: %+v", env)
	}
	if env.Result["total"] != 191.98 || env.Result["labor_total"] != 100.0 {
		t.Errorf("unexpected totals: %+v", env.Result)
	}
}

func TestRepairOrderStatus(t *testing.T) {
	d, s := newTestDispatcher(t)
	ctx := context.Background()

	env := d.Invoke(ctx, AgentRepairOrders, "update_repair_order_status", Params{"ro_number": "RO_001", "status": "completed"})
	if !env.Success || env.Result["status"] != store.ROCompleted || env.Result["previous_status"] != store.ROInProgress {
		t.Fatalf("unexpected update result: %+v", env)
	}
	if ro, _ := s.GetRepairOrder("RO_001"); ro.Status != store.ROCompleted {
		t.Errorf("expected COMPLETED, got %s", ro.Status)
	}

	tests := []struct {
		name   string
		params Params
		kind   Kind
	}{
		{"unknown status", Params{"ro_number": "RO_001", "status": "PAUSED"}, KindInvalidInput},
		{"missing status", Params{"ro_number": "RO_001"}, KindInvalidInput},
		{"closed order", Params{"ro_number": "RO_002", "status": "IN_PROGRESS"}, KindInvalidInput},
		{"unknown order", Params{"ro_number": "RO_404", "status": "CREATED"}, KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := d.Invoke(ctx, AgentRepairOrders, "update_repair_order_status", tt.params)
			if env.Success || env.Kind != tt.kind {
				t.Errorf("expected %s, got %+v", tt.kind, env)
			}
		})
	}

	// Repeating the current status of a closed order is accepted.
	env = d.Invoke(ctx, AgentRepairOrders, "update_repair_order_status", Params{"ro_number": "RO_002", "status": "COMPLETED"})
	if !env.Success {
		t.Errorf("expected no-op update to succeed, got %+v", env)
	}

	env = d.Invoke(ctx, AgentRepairOrders, "get_repair_order_stats", nil)
	if !env.Success {
		t.Fatalf("stats failed: %+v", env)
	}
	if env.Result["total_count"] != 2 || env.Result["completed_count"] != 2 || env.Result["in_progress_count"] != 0 {
		t.Errorf("unexpected stats: %+v", env.Result)
	}
}

func TestPartsOperations(t *testing.T) {
	d, s := newTestDispatcher(t)
	ctx := context.Background()

	env := d.Invoke(ctx, AgentParts, "validate_part_exists", Params{"part_number": "PART_001"})
	if !env.Success || env.Result["name"] != "Brake Pad Set - Front" {
		t.Errorf("unexpected validate result: %+v", env)
	}

	env = d.Invoke(ctx, AgentParts, "check_part_availability", Params{"part_number": "PART_003"})
	if !env.Success || env.Result["available"] != false {
		t.Errorf("expected PART_003 to be unavailable, got %+v", env)
	}

	env = d.Invoke(ctx, AgentParts, "validate_part_order", Params{"part_number": "PART_003", "quantity": 1})
	if env.Success || env.Kind != KindUnavailable {
		t.Errorf("expected unavailable, got %+v", env)
	}

	env = d.Invoke(ctx, AgentParts, "add_part_to_order", Params{"ro_number": "RO_001", "part_number": "PART_001", "quantity": float64(3)})
	if !env.Success {
		t.Fatalf("add part failed: %+v", env)
	}
	if env.Result["parts_total"] != 137.97 || env.Result["total"] != 237.97 {
		t.Errorf("unexpected totals: %+v", env.Result)
	}

	env = d.Invoke(ctx, AgentParts, "add_part_to_order", Params{"ro_number": "RO_001", "part_number": "PART_003", "quantity": 1})
	if env.Success || env.Kind != KindUnavailable {
		t.Errorf("expected unavailable, got %+v", env)
	}

	env = d.Invoke(ctx, AgentParts, "add_part_to_order", Params{"ro_number": "RO_002", "part_number": "PART_001"})
	if env.Success || env.Kind != KindInvalidInput {
		t.Errorf("expected closed order to be rejected, got %+v", env)
	}

	env = d.Invoke(ctx, AgentParts, "add_part_to_order", Params{"ro_number": "RO_001", "part_number": "PART_001", "quantity": -1})
	if env.Success || env.Kind != KindInvalidInput {
		t.Errorf("expected negative quantity to be rejected, got %+v", env)
	}

	p, _ := s.GetPart("PART_001")
	if p.QuantityInStock != 22 {
		t.Errorf("expected 22 in stock, got %d", p.QuantityInStock)
	}
}

func TestCreatePaymentLink(t *testing.T) {
	s := newTestStore(t)
	pay := NewPayments(s, config.PaymentsConfig{BaseURL: "https://pay.example.com/l/"})
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	pay.Now = func() time.Time { return now }
	ctx := context.Background()

	env := pay.Invoke(ctx, "create_payment_link", Params{
		"ro_number": "RO_001", "amount": 191.98, "customer_email": "customer@example.com",
	})
	if !env.Success {
		t.Fatalf("create failed: %+v", env)
	}
	if env.Result["link_id"] != "PL_RO_001_191" {
		t.Errorf("unexpected link id %v", env.Result["link_id"])
	}
	if env.Result["currency"] != "INR" {
		t.Errorf("expected default currency INR, got %v", env.Result["currency"])
	}
	if env.Result["payment_url"] != "https://pay.example.com/l/PL_RO_001_191" {
		t.Errorf("unexpected url %v", env.Result["payment_url"])
	}
	if env.Result["expires_at"] != "2026-10-26T09:00:00Z" {
		t.Errorf("expected 7 day expiry, got %v", env.Result["expires_at"])
	}

	tests := []struct {
		name   string
		params Params
		kind   Kind
	}{
		{"bad email", Params{"ro_number": "RO_001", "amount": 10, "customer_email": "not-an-email"}, KindInvalidInput},
		{"email with space", Params{"ro_number": "RO_001", "amount": 10, "customer_email": "a b@c.com"}, KindInvalidInput},
		{"zero amount", Params{"ro_number": "RO_001", "amount": 0, "customer_email": "a@b.com"}, KindInvalidInput},
		{"amount too large", Params{"ro_number": "RO_001", "amount": 1e9, "customer_email": "a@b.com"}, KindInvalidInput},
		{"missing amount", Params{"ro_number": "RO_001", "customer_email": "a@b.com"}, KindInvalidInput},
		{"unknown order", Params{"ro_number": "RO_404", "amount": 10, "customer_email": "a@b.com"}, KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := pay.Invoke(ctx, "create_payment_link", tt.params)
			if env.Success || env.Kind != tt.kind {
				t.Errorf("expected %s, got %+v", tt.kind, env)
			}
		})
	}
}

func TestPaymentLinkLifecycle(t *testing.T) {
	s := newTestStore(t)
	pay := NewPayments(s, config.PaymentsConfig{LinkTTL: time.Hour})
	now := time.Now().UTC()
	pay.Now = func() time.Time { return now }
	ctx := context.Background()

	for _, amount := range []float64{100, 200} {
		env := pay.Invoke(ctx, "create_payment_link", Params{"ro_number": "RO_001", "amount": amount, "customer_email": "a@b.com"})
		if !env.Success {
			t.Fatalf("create: %+v", env)
		}
	}

	env := pay.Invoke(ctx, "process_payment_link", Params{"link_id": "PL_RO_001_100"})
	if !env.Success || env.Result["status"] != store.LinkUsed {
		t.Fatalf("process: %+v", env)
	}
	env = pay.Invoke(ctx, "process_payment_link", Params{"link_id": "PL_RO_001_100"})
	if env.Success || !strings.Contains(env.Error, "USED") {
		t.Errorf("expected used link to be rejected, got %+v", env)
	}
	env = pay.Invoke(ctx, "cancel_payment_link", Params{"link_id": "PL_RO_001_100"})
	if env.Success || env.Kind != KindInvalidInput {
		t.Errorf("expected used link cancel to fail, got %+v", env)
	}

	// Two hours later the second link has expired.
	now = now.Add(2 * time.Hour)
	env = pay.Invoke(ctx, "process_payment_link", Params{"link_id": "PL_RO_001_200"})
	if env.Success || !strings.Contains(env.Error, "expired") {
		t.Errorf("expected expired link, got %+v", env)
	}
	env = pay.Invoke(ctx, "get_payment_link", Params{"link_id": "PL_RO_001_200"})
	if !env.Success || env.Result["status"] != store.LinkExpired {
		t.Errorf("expected EXPIRED status, got %+v", env)
	}
	env = pay.Invoke(ctx, "cancel_payment_link", Params{"link_id": "PL_RO_001_200"})
	if !env.Success || env.Result["status"] != store.LinkCancelled {
		t.Errorf("expected cancel to succeed, got %+v", env)
	}

	env = pay.Invoke(ctx, "get_payment_link", Params{"link_id": "PL_nope"})
	if env.Success || env.Kind != KindNotFound {
		t.Errorf("expected not found, got %+v", env)
	}
}

func TestRecreatePaymentLink(t *testing.T) {
	s := newTestStore(t)
	pay := NewPayments(s, config.PaymentsConfig{LinkTTL: time.Hour})
	now := time.Now().UTC().Truncate(time.Second)
	pay.Now = func() time.Time { return now }
	ctx := context.Background()

	create := func(amount float64) Envelope {
		return pay.Invoke(ctx, "create_payment_link", Params{"ro_number": "RO_001", "amount": amount, "customer_email": "a@b.com"})
	}

	first := create(100)
	if !first.Success {
		t.Fatalf("create: %+v", first)
	}

	// A repeated request for a live link returns it unchanged.
	now = now.Add(10 * time.Minute)
	again := create(100)
	if !again.Success || again.Result["expires_at"] != first.Result["expires_at"] {
		t.Errorf("expected the active link back unchanged, got %+v", again)
	}

	if env := pay.Invoke(ctx, "process_payment_link", Params{"link_id": "PL_RO_001_100"}); !env.Success {
		t.Fatalf("process: %+v", env)
	}

	env := create(100)
	if env.Success || env.Kind != KindInvalidInput || !strings.Contains(env.Error, store.LinkUsed) {
		t.Errorf("expected paid link to stay closed, got %+v", env)
	}
	env = pay.Invoke(ctx, "process_payment_link", Params{"link_id": "PL_RO_001_100"})
	if env.Success {
		t.Errorf("expected second charge to be rejected, got %+v", env)
	}
	if l, _ := s.GetPaymentLink("PL_RO_001_100"); l.Status != store.LinkUsed {
		t.Errorf("expected USED, got %s", l.Status)
	}

	tests := []struct {
		name   string
		amount float64
		setup  func()
		status string
	}{
		{"cancelled", 200, func() {
			pay.Invoke(ctx, "cancel_payment_link", Params{"link_id": "PL_RO_001_200"})
		}, store.LinkCancelled},
		{"expired", 300, func() { now = now.Add(2 * time.Hour) }, store.LinkExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if env := create(tt.amount); !env.Success {
				t.Fatalf("create: %+v", env)
			}
			tt.setup()
			env := create(tt.amount)
			if env.Success || env.Kind != KindInvalidInput || !strings.Contains(env.Error, tt.status) {
				t.Errorf("expected %s link to be refused, got %+v", tt.status, env)
			}
		})
	}
}

func TestDispatch(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	res, err := d.Dispatch(ctx, workflow.Step{StepID: "validate_1", AgentType: AgentRepairOrders,
		Action: "validate_repair_order", Parameters: map[string]any{"ro_number": "RO_001"}})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if m, ok := res.(map[string]any); !ok || m["ro_number"] != "RO_001" {
		t.Errorf("unexpected result %#v", res)
	}

	tests := []struct {
		name string
		step workflow.Step
		want error
	}{
		{"unknown agent type", workflow.Step{AgentType: "inventory", Action: "x"}, ErrNotFound},
		{"unknown action", workflow.Step{AgentType: AgentParts, Action: "delete_part"}, ErrNotFound},
		{"validation", workflow.Step{AgentType: AgentPayment, Action: "create_payment_link",
			Parameters: map[string]any{"ro_number": "RO_001", "amount": 5, "customer_email": "nope"}}, ErrValidation},
		{"stock", workflow.Step{AgentType: AgentParts, Action: "validate_part_order",
			Parameters: map[string]any{"part_number": "PART_003"}}, ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Dispatch(ctx, tt.step)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			var de *Error
			if !errors.As(err, &de) {
				t.Errorf("expected *Error, got %T", err)
			}
		})
	}
}

func TestMarketAndGeneral(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	env := d.Invoke(ctx, AgentMarket, "get_quote", Params{"symbol": "RELIANCE", "exchange": "NSE"})
	if !env.Success || env.Result["symbol"] != "NSE:RELIANCE" {
		t.Errorf("unexpected quote envelope: %+v", env)
	}
	env = d.Invoke(ctx, AgentMarket, "get_quote", Params{"query": "how is TCS doing"})
	if !env.Success || env.Result["symbol"] != "NSE:TCS" {
		t.Errorf("expected symbol parsed from query, got %+v", env)
	}
	env = d.Invoke(ctx, AgentMarket, "get_quote", Params{})
	if env.Success || env.Kind != KindInvalidInput {
		t.Errorf("expected missing symbol to fail, got %+v", env)
	}

	env = d.Invoke(ctx, AgentGeneral, "handle_query", Params{"query": "how long do brake pads last?"})
	if !env.Success || !strings.Contains(env.Result["answer"].(string), "40,000") {
		t.Errorf("unexpected general answer: %+v", env)
	}

	catalog := d.Catalog()
	if len(catalog) != 5 || len(catalog[AgentParts]) != 5 {
		t.Errorf("unexpected catalog: %v", catalog)
	}
}
