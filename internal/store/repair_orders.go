package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Repair order states.
const (
	ROCreated    = "CREATED"
	ROInProgress = "IN_PROGRESS"
	ROCompleted  = "COMPLETED"
	ROCancelled  = "CANCELLED"
)

// ROStatuses lists the repair order states in lifecycle order.
var ROStatuses = []string{ROCreated, ROInProgress, ROCompleted, ROCancelled}

type RepairOrder struct {
	RONumber      string    `json:"ro_number"`
	Status        string    `json:"status"`
	CustomerID    string    `json:"customer_id,omitempty"`
	VehicleID     string    `json:"vehicle_id,omitempty"`
	CustomerEmail string    `json:"customer_email,omitempty"`
	LaborTotal    float64   `json:"labor_total"`
	Parts         []ROPart  `json:"parts"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ROPart is a part line attached to a repair order.
type ROPart struct {
	ID         int64     `json:"id"`
	RONumber   string    `json:"ro_number"`
	PartNumber string    `json:"part_number"`
	Quantity   int       `json:"quantity"`
	UnitPrice  float64   `json:"unit_price"`
	CreatedAt  time.Time `json:"created_at"`
}

// Totals is the cost breakdown of a repair order.
type Totals struct {
	PartsTotal float64 `json:"parts_total"`
	LaborTotal float64 `json:"labor_total"`
	Total      float64 `json:"total"`
}

func (s *Store) SaveRepairOrder(ro *RepairOrder) error {
	_, err := s.db.Exec(`
		INSERT INTO repair_orders (ro_number, status, customer_id, vehicle_id, customer_email, labor_total)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(ro_number) DO UPDATE SET
			status = excluded.status,
			customer_id = excluded.customer_id,
			vehicle_id = excluded.vehicle_id,
			customer_email = excluded.customer_email,
			labor_total = excluded.labor_total,
			updated_at = CURRENT_TIMESTAMP`,
		ro.RONumber, ro.Status, ro.CustomerID, ro.VehicleID, ro.CustomerEmail, ro.LaborTotal)
	if err != nil {
		return fmt.Errorf("save repair order: %w", err)
	}
	return nil
}

func (s *Store) UpdateRepairOrderStatus(roNumber, status string) error {
	res, err := s.db.Exec(`
		UPDATE repair_orders SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE ro_number = ?`,
		status, roNumber)
	if err != nil {
		return fmt.Errorf("update repair order status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("repair order %s: %w", roNumber, ErrNotFound)
	}
	return nil
}

// CountRepairOrdersByStatus returns the number of orders per status.
func (s *Store) CountRepairOrdersByStatus() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM repair_orders GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count repair orders: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan repair order count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// GetRepairOrder returns the order with its part lines, or nil when it does not exist.
func (s *Store) GetRepairOrder(roNumber string) (*RepairOrder, error) {
	ro := &RepairOrder{}
	var customerID, vehicleID, email sql.NullString
	err := s.db.QueryRow(`
		SELECT ro_number, status, customer_id, vehicle_id, customer_email, labor_total, created_at, updated_at
		FROM repair_orders WHERE ro_number = ?`, roNumber).
		Scan(&ro.RONumber, &ro.Status, &customerID, &vehicleID, &email, &ro.LaborTotal, &ro.CreatedAt, &ro.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get repair order: %w", err)
	}
	ro.CustomerID = customerID.String
	ro.VehicleID = vehicleID.String
	ro.CustomerEmail = email.String

	parts, err := s.ListROParts(roNumber)
	if err != nil {
		return nil, err
	}
	ro.Parts = parts
	return ro, nil
}

func (s *Store) ListROParts(roNumber string) ([]ROPart, error) {
	rows, err := s.db.Query(`
		SELECT id, ro_number, part_number, quantity, unit_price, created_at
		FROM ro_parts WHERE ro_number = ? ORDER BY id`, roNumber)
	if err != nil {
		return nil, fmt.Errorf("list ro parts: %w", err)
	}
	defer rows.Close()

	parts := []ROPart{}
	for rows.Next() {
		var p ROPart
		if err := rows.Scan(&p.ID, &p.RONumber, &p.PartNumber, &p.Quantity, &p.UnitPrice, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ro part: %w", err)
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

func (ro *RepairOrder) Totals() Totals {
	var parts float64
	for _, p := range ro.Parts {
		parts += p.UnitPrice * float64(p.Quantity)
	}
	return Totals{
		PartsTotal: round2(parts),
		LaborTotal: round2(ro.LaborTotal),
		Total:      round2(parts + ro.LaborTotal),
	}
}

// AddPartToRepairOrder attaches quantity units of a part to an order and
// decrements stock in one transaction. Stock never goes negative.
func (s *Store) AddPartToRepairOrder(roNumber, partNumber string, quantity int) (*RepairOrder, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %d", quantity)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRow(`SELECT status FROM repair_orders WHERE ro_number = ?`, roNumber).Scan(&status)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("repair order %s: %w", roNumber, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get repair order: %w", err)
	}

	var price float64
	var stock int
	err = tx.QueryRow(`SELECT unit_price, quantity_in_stock FROM parts WHERE part_number = ?`, partNumber).Scan(&price, &stock)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("part %s: %w", partNumber, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get part: %w", err)
	}
	if stock < quantity {
		return nil, fmt.Errorf("part %s has %d in stock, %d requested: %w", partNumber, stock, quantity, ErrInsufficientStock)
	}

	if _, err := tx.Exec(`
		UPDATE parts SET quantity_in_stock = quantity_in_stock - ?, updated_at = CURRENT_TIMESTAMP
		WHERE part_number = ? AND quantity_in_stock >= ?`, quantity, partNumber, quantity); err != nil {
		return nil, fmt.Errorf("decrement stock: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO ro_parts (ro_number, part_number, quantity, unit_price) VALUES (?, ?, ?, ?)`,
		roNumber, partNumber, quantity, price); err != nil {
		return nil, fmt.Errorf("insert ro part: %w", err)
	}
	if _, err := tx.Exec(`UPDATE repair_orders SET updated_at = CURRENT_TIMESTAMP WHERE ro_number = ?`, roNumber); err != nil {
		return nil, fmt.Errorf("touch repair order: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return s.GetRepairOrder(roNumber)
}

func round2(v float64) float64 {
	if v < 0 {
		return -float64(int64(-v*100+0.5)) / 100
	}
	return float64(int64(v*100+0.5)) / 100
}
