package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/mtzanidakis/relay/internal/store"
)

const (
	AgentParts  = "parts"
	SourceParts = "parts-server-3005"
)

type parts struct {
	*service
	store *store.Store
}

// NewParts returns the parts catalogue collaborator.
func NewParts(s *store.Store) Collaborator {
	c := &parts{service: newService(AgentParts, SourceParts), store: s}
	c.handle("validate_part_exists", c.validateExists)
	c.handle("get_part_by_number", c.get)
	c.handle("check_part_availability", c.availability)
	c.handle("validate_part_order", c.validateOrder)
	c.handle("add_part_to_order", c.addToOrder)
	return c
}

func (c *parts) lookup(p Params) (*store.Part, error) {
	number := p.String("part_number")
	if number == "" {
		return nil, invalid("part_number is required")
	}
	part, err := c.store.GetPart(number)
	if err != nil {
		return nil, err
	}
	if part == nil {
		return nil, notFound("part %s not found", number)
	}
	return part, nil
}

func quantity(p Params) (int, error) {
	q, ok := p.Int("quantity", 1)
	if !ok || q <= 0 {
		return 0, invalid("quantity must be a positive integer")
	}
	return q, nil
}

func (c *parts) validateExists(_ context.Context, p Params) (map[string]any, string, error) {
	part, err := c.lookup(p)
	if err != nil {
		return nil, "", err
	}
	return map[string]any{
		"part_number":       part.PartNumber,
		"name":              part.Name,
		"unit_price":        part.UnitPrice,
		"quantity_in_stock": part.QuantityInStock,
		"exists":            true,
	}, "Part " + part.PartNumber + " exists", nil
}

func (c *parts) get(_ context.Context, p Params) (map[string]any, string, error) {
	part, err := c.lookup(p)
	if err != nil {
		return nil, "", err
	}
	return map[string]any{
		"part_number":         part.PartNumber,
		"name":                part.Name,
		"category":            part.Category,
		"brand":               part.Brand,
		"unit_price":          part.UnitPrice,
		"currency":            part.Currency,
		"quantity_in_stock":   part.QuantityInStock,
		"compatible_vehicles": part.Compatible,
	}, "Part " + part.PartNumber + " retrieved", nil
}

func (c *parts) availability(_ context.Context, p Params) (map[string]any, string, error) {
	part, err := c.lookup(p)
	if err != nil {
		return nil, "", err
	}
	qty, err := quantity(p)
	if err != nil {
		return nil, "", err
	}
	available := part.QuantityInStock >= qty
	msg := fmt.Sprintf("%d of %s available", part.QuantityInStock, part.PartNumber)
	return map[string]any{
		"part_number":        part.PartNumber,
		"requested_quantity": qty,
		"quantity_in_stock":  part.QuantityInStock,
		"available":          available,
	}, msg, nil
}

func (c *parts) validateOrder(_ context.Context, p Params) (map[string]any, string, error) {
	part, err := c.lookup(p)
	if err != nil {
		return nil, "", err
	}
	qty, err := quantity(p)
	if err != nil {
		return nil, "", err
	}
	if part.QuantityInStock < qty {
		return nil, "", unavailable("part %s has %d in stock, %d requested", part.PartNumber, part.QuantityInStock, qty)
	}
	return map[string]any{
		"part_number": part.PartNumber,
		"quantity":    qty,
		"line_total":  float64(qty) * part.UnitPrice,
		"valid":       true,
	}, "Part order for " + part.PartNumber + " is valid", nil
}

func (c *parts) addToOrder(_ context.Context, p Params) (map[string]any, string, error) {
	ro := p.String("ro_number")
	number := p.String("part_number")
	if ro == "" || number == "" {
		return nil, "", invalid("ro_number and part_number are required")
	}
	qty, err := quantity(p)
	if err != nil {
		return nil, "", err
	}

	order, err := c.store.GetRepairOrder(ro)
	if err != nil {
		return nil, "", err
	}
	if order != nil && closedStatuses[order.Status] {
		return nil, "", invalid("repair order %s is %s and cannot be modified", ro, order.Status)
	}

	order, err = c.store.AddPartToRepairOrder(ro, number, qty)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, "", notFound("%v", err)
	case errors.Is(err, store.ErrInsufficientStock):
		return nil, "", unavailable("%v", err)
	case err != nil:
		return nil, "", err
	}

	totals := order.Totals()
	line := order.Parts[len(order.Parts)-1]
	return map[string]any{
		"ro_number":   ro,
		"part_number": number,
		"quantity":    qty,
		"unit_price":  line.UnitPrice,
		"line_total":  line.UnitPrice * float64(qty),
		"parts_total": totals.PartsTotal,
		"labor_total": totals.LaborTotal,
		"total":       totals.Total,
	}, fmt.Sprintf("Added %d x %s to %s", qty, number, ro), nil
}
