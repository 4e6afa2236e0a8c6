package store

import "fmt"

// Seed inserts the demo repair orders and parts catalogue. Existing rows are
// left untouched so operator edits survive restarts.
func (s *Store) Seed() error {
	orders := []RepairOrder{
		{RONumber: "RO_001", Status: "IN_PROGRESS", CustomerID: "CUST_001", VehicleID: "VEH_001",
			CustomerEmail: "customer@example.com", LaborTotal: 100.00},
		{RONumber: "RO_002", Status: "COMPLETED", CustomerID: "CUST_002", VehicleID: "VEH_002",
			CustomerEmail: "owner@example.com", LaborTotal: 250.00},
	}
	parts := []Part{
		{PartNumber: "PART_001", Name: "Brake Pad Set - Front", Category: "Brakes", Brand: "Bosch",
			UnitPrice: 45.99, Currency: "INR", QuantityInStock: 25, Compatible: []string{"Honda City", "Maruti Swift"}},
		{PartNumber: "PART_002", Name: "Oil Filter", Category: "Engine", Brand: "Mann",
			UnitPrice: 12.50, Currency: "INR", QuantityInStock: 100, Compatible: []string{"Hyundai i20"}},
		{PartNumber: "PART_003", Name: "Timing Belt Kit", Category: "Engine", Brand: "Gates",
			UnitPrice: 189.00, Currency: "INR", QuantityInStock: 0},
	}

	for _, ro := range orders {
		existing, err := s.GetRepairOrder(ro.RONumber)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if err := s.SaveRepairOrder(&ro); err != nil {
			return fmt.Errorf("seed repair order %s: %w", ro.RONumber, err)
		}
	}
	for _, p := range parts {
		existing, err := s.GetPart(p.PartNumber)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if err := s.SavePart(&p); err != nil {
			return fmt.Errorf("seed part %s: %w", p.PartNumber, err)
		}
	}
	return nil
}
