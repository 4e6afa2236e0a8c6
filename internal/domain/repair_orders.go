package domain

import (
	"context"
	"slices"
	"strings"

	"github.com/mtzanidakis/relay/internal/store"
)

const (
	AgentRepairOrders  = "repair_orders"
	SourceRepairOrders = "repair-orders-server-3003"
)

// closedStatuses are repair order states that accept no further work.
var closedStatuses = map[string]bool{store.ROCompleted: true, store.ROCancelled: true}

type repairOrders struct {
	*service
	store *store.Store
}

// NewRepairOrders returns the repair order collaborator.
func NewRepairOrders(s *store.Store) Collaborator {
	r := &repairOrders{service: newService(AgentRepairOrders, SourceRepairOrders), store: s}
	r.handle("validate_repair_order", r.validate)
	r.handle("get_repair_order_details", r.details)
	r.handle("update_repair_order_status", r.updateStatus)
	r.handle("get_repair_order_stats", r.stats)
	return r
}

// lookup loads an open or closed order or fails with not_found.
func (r *repairOrders) lookup(p Params) (*store.RepairOrder, error) {
	ro := p.String("ro_number")
	if ro == "" {
		return nil, invalid("ro_number is required")
	}
	order, err := r.store.GetRepairOrder(ro)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, notFound("repair order %s not found", ro)
	}
	return order, nil
}

func (r *repairOrders) validate(_ context.Context, p Params) (map[string]any, string, error) {
	order, err := r.lookup(p)
	if err != nil {
		return nil, "", err
	}
	if closedStatuses[order.Status] {
		return nil, "", invalid("repair order %s is %s and cannot be modified", order.RONumber, order.Status)
	}
	return map[string]any{
		"ro_number":      order.RONumber,
		"status":         order.Status,
		"customer_email": order.CustomerEmail,
		"valid":          true,
	}, "Repair order " + order.RONumber + " is valid", nil
}

func (r *repairOrders) details(_ context.Context, p Params) (map[string]any, string, error) {
	order, err := r.lookup(p)
	if err != nil {
		return nil, "", err
	}
	totals := order.Totals()
	return map[string]any{
		"ro_number":      order.RONumber,
		"status":         order.Status,
		"customer_id":    order.CustomerID,
		"vehicle_id":     order.VehicleID,
		"customer_email": order.CustomerEmail,
		"parts":          order.Parts,
		"parts_total":    totals.PartsTotal,
		"labor_total":    totals.LaborTotal,
		"total":          totals.Total,
	}, "Repair order " + order.RONumber + " retrieved", nil
}

// updateStatus moves an order to a new status. Closed orders keep their
// status; setting the current status again is a no-op.
func (r *repairOrders) updateStatus(_ context.Context, p Params) (map[string]any, string, error) {
	status := strings.ToUpper(p.String("status"))
	if !slices.Contains(store.ROStatuses, status) {
		return nil, "", invalid("invalid status %q, expected one of %s", status, strings.Join(store.ROStatuses, ", "))
	}
	order, err := r.lookup(p)
	if err != nil {
		return nil, "", err
	}
	previous := order.Status
	if previous != status {
		if closedStatuses[previous] {
			return nil, "", invalid("repair order %s is %s and cannot change status", order.RONumber, previous)
		}
		if err := r.store.UpdateRepairOrderStatus(order.RONumber, status); err != nil {
			return nil, "", err
		}
	}
	return map[string]any{
		"ro_number":       order.RONumber,
		"status":          status,
		"previous_status": previous,
	}, "Repair order " + order.RONumber + " is " + status, nil
}

func (r *repairOrders) stats(_ context.Context, _ Params) (map[string]any, string, error) {
	counts, err := r.store.CountRepairOrdersByStatus()
	if err != nil {
		return nil, "", err
	}
	total := 0
	res := make(map[string]any, len(store.ROStatuses)+1)
	for _, st := range store.ROStatuses {
		res[strings.ToLower(st)+"_count"] = counts[st]
	}
	for _, n := range counts {
		total += n
	}
	res["total_count"] = total
	return res, "Repair order statistics retrieved", nil
}
