package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Part struct {
	PartNumber      string    `json:"part_number"`
	Name            string    `json:"name"`
	Category        string    `json:"category,omitempty"`
	Brand           string    `json:"brand,omitempty"`
	UnitPrice       float64   `json:"unit_price"`
	Currency        string    `json:"currency"`
	QuantityInStock int       `json:"quantity_in_stock"`
	Compatible      []string  `json:"compatible_vehicles,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

const partColumns = `part_number, name, category, brand, unit_price, currency, quantity_in_stock, compatible, created_at, updated_at`

func (s *Store) SavePart(p *Part) error {
	compatible, _ := json.Marshal(nonNil(p.Compatible))
	currency := p.Currency
	if currency == "" {
		currency = "INR"
	}
	_, err := s.db.Exec(`
		INSERT INTO parts (part_number, name, category, brand, unit_price, currency, quantity_in_stock, compatible)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(part_number) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			brand = excluded.brand,
			unit_price = excluded.unit_price,
			currency = excluded.currency,
			quantity_in_stock = excluded.quantity_in_stock,
			compatible = excluded.compatible,
			updated_at = CURRENT_TIMESTAMP`,
		p.PartNumber, p.Name, p.Category, p.Brand, p.UnitPrice, currency, p.QuantityInStock, string(compatible))
	if err != nil {
		return fmt.Errorf("save part: %w", err)
	}
	return nil
}

func scanPart(sc scanner) (*Part, error) {
	p := &Part{}
	var category, brand, compatible sql.NullString
	if err := sc.Scan(&p.PartNumber, &p.Name, &category, &brand, &p.UnitPrice, &p.Currency,
		&p.QuantityInStock, &compatible, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Category = category.String
	p.Brand = brand.String
	if compatible.Valid {
		_ = json.Unmarshal([]byte(compatible.String), &p.Compatible)
	}
	return p, nil
}

func (s *Store) GetPart(partNumber string) (*Part, error) {
	p, err := scanPart(s.db.QueryRow(`SELECT `+partColumns+` FROM parts WHERE part_number = ?`, partNumber))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get part: %w", err)
	}
	return p, nil
}

func (s *Store) ListParts() ([]Part, error) {
	rows, err := s.db.Query(`SELECT ` + partColumns + ` FROM parts ORDER BY part_number`)
	if err != nil {
		return nil, fmt.Errorf("list parts: %w", err)
	}
	defer rows.Close()

	var parts []Part
	for rows.Next() {
		p, err := scanPart(rows)
		if err != nil {
			return nil, fmt.Errorf("scan part: %w", err)
		}
		parts = append(parts, *p)
	}
	return parts, rows.Err()
}
