package store

import (
	"database/sql"
	"fmt"
	"time"
)

const (
	LinkActive    = "ACTIVE"
	LinkUsed      = "USED"
	LinkCancelled = "CANCELLED"
	LinkExpired   = "EXPIRED"
)

type PaymentLink struct {
	LinkID        string    `json:"link_id"`
	RONumber      string    `json:"ro_number"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	CustomerEmail string    `json:"customer_email"`
	Status        string    `json:"status"`
	URL           string    `json:"payment_url"`
	ExpiresAt     time.Time `json:"expires_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Expired reports whether the link is past its expiry at now.
func (l *PaymentLink) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

const linkColumns = `link_id, ro_number, amount, currency, customer_email, status, url, expires_at, created_at, updated_at`

// CreatePaymentLink inserts l unless a link with the same id already exists.
// An existing link is left untouched and created is false.
func (s *Store) CreatePaymentLink(l *PaymentLink) (created bool, err error) {
	if l.Status == "" {
		l.Status = LinkActive
	}
	res, err := s.db.Exec(`
		INSERT INTO payment_links (link_id, ro_number, amount, currency, customer_email, status, url, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(link_id) DO NOTHING`,
		l.LinkID, l.RONumber, l.Amount, l.Currency, l.CustomerEmail, l.Status, l.URL, sqlTime(l.ExpiresAt))
	if err != nil {
		return false, fmt.Errorf("create payment link: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create payment link: %w", err)
	}
	return n == 1, nil
}

func scanPaymentLink(sc scanner) (*PaymentLink, error) {
	l := &PaymentLink{}
	if err := sc.Scan(&l.LinkID, &l.RONumber, &l.Amount, &l.Currency, &l.CustomerEmail, &l.Status,
		&l.URL, &l.ExpiresAt, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *Store) GetPaymentLink(linkID string) (*PaymentLink, error) {
	l, err := scanPaymentLink(s.db.QueryRow(`SELECT `+linkColumns+` FROM payment_links WHERE link_id = ?`, linkID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get payment link: %w", err)
	}
	return l, nil
}

func (s *Store) ListPaymentLinks(roNumber string) ([]PaymentLink, error) {
	rows, err := s.db.Query(`SELECT `+linkColumns+` FROM payment_links WHERE ro_number = ? ORDER BY created_at, link_id`, roNumber)
	if err != nil {
		return nil, fmt.Errorf("list payment links: %w", err)
	}
	defer rows.Close()

	var links []PaymentLink
	for rows.Next() {
		l, err := scanPaymentLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment link: %w", err)
		}
		links = append(links, *l)
	}
	return links, rows.Err()
}

func (s *Store) UpdatePaymentLinkStatus(linkID, status string) error {
	res, err := s.db.Exec(`
		UPDATE payment_links SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE link_id = ?`,
		status, linkID)
	if err != nil {
		return fmt.Errorf("update payment link: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("payment link %s: %w", linkID, ErrNotFound)
	}
	return nil
}

// ExpirePaymentLinks flips every ACTIVE link whose expiry is before now to
// EXPIRED and returns how many changed.
func (s *Store) ExpirePaymentLinks(now time.Time) (int64, error) {
	res, err := s.db.Exec(`
		UPDATE payment_links SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE status = ? AND expires_at < ?`,
		LinkExpired, LinkActive, sqlTime(now))
	if err != nil {
		return 0, fmt.Errorf("expire payment links: %w", err)
	}
	return res.RowsAffected()
}
