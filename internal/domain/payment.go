package domain

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mtzanidakis/relay/internal/config"
	"github.com/mtzanidakis/relay/internal/store"
)

const (
	AgentPayment  = "payment"
	SourcePayment = "payment-server-3002"

	MaxPaymentAmount = 999999999
)

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Payments is the payment link collaborator.
type Payments struct {
	*service
	store *store.Store
	cfg   config.PaymentsConfig
	// Now is the clock used for expiry decisions.
	Now func() time.Time
}

func NewPayments(s *store.Store, cfg config.PaymentsConfig) *Payments {
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = 7 * 24 * time.Hour
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://pay.relay.local/links"
	}
	c := &Payments{service: newService(AgentPayment, SourcePayment), store: s, cfg: cfg, Now: time.Now}
	c.handle("create_payment_link", c.create)
	c.handle("get_payment_link", c.get)
	c.handle("process_payment_link", c.process)
	c.handle("cancel_payment_link", c.cancel)
	return c
}

// LinkID derives the payment link id of an order and amount.
func LinkID(roNumber string, amount float64) string {
	return fmt.Sprintf("PL_%s_%d", roNumber, int64(amount))
}

func linkResult(l *store.PaymentLink) map[string]any {
	return map[string]any{
		"link_id":        l.LinkID,
		"ro_number":      l.RONumber,
		"payment_url":    l.URL,
		"amount":         l.Amount,
		"currency":       l.Currency,
		"customer_email": l.CustomerEmail,
		"status":         l.Status,
		"expires_at":     l.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func (c *Payments) create(_ context.Context, p Params) (map[string]any, string, error) {
	ro := p.String("ro_number")
	if ro == "" {
		return nil, "", invalid("ro_number is required")
	}
	email := p.String("customer_email")
	if !emailRe.MatchString(email) {
		return nil, "", invalid("invalid email format: %q", email)
	}
	amount, ok := p.Float("amount")
	if !ok || amount <= 0 || amount > MaxPaymentAmount {
		return nil, "", invalid("amount must be greater than 0 and at most %d", MaxPaymentAmount)
	}
	currency := strings.ToUpper(p.String("currency"))
	if currency == "" {
		currency = c.cfg.Currency
	}

	order, err := c.store.GetRepairOrder(ro)
	if err != nil {
		return nil, "", err
	}
	if order == nil {
		return nil, "", notFound("repair order %s not found", ro)
	}

	id := LinkID(ro, amount)
	link := &store.PaymentLink{
		LinkID:        id,
		RONumber:      ro,
		Amount:        amount,
		Currency:      currency,
		CustomerEmail: email,
		Status:        store.LinkActive,
		URL:           strings.TrimSuffix(c.cfg.BaseURL, "/") + "/" + id,
		ExpiresAt:     c.Now().Add(c.cfg.LinkTTL).UTC().Truncate(time.Second),
	}
	created, err := c.store.CreatePaymentLink(link)
	if err != nil {
		return nil, "", err
	}
	if created {
		return linkResult(link), fmt.Sprintf("Payment link %s created for %.2f %s", id, amount, currency), nil
	}

	// The id is derived from order and amount, so a repeated request finds
	// the earlier link. Only a live one is handed out again.
	existing, err := c.store.GetPaymentLink(id)
	if err != nil {
		return nil, "", err
	}
	if existing == nil {
		return nil, "", unavailable("payment link %s could not be created", id)
	}
	if err := c.expire(existing); err != nil {
		return nil, "", err
	}
	if existing.Status != store.LinkActive {
		return nil, "", invalid("payment link %s already exists with status %s", id, existing.Status)
	}
	return linkResult(existing), "Payment link " + id + " is already active", nil
}

func (c *Payments) lookup(p Params) (*store.PaymentLink, error) {
	id := p.String("link_id")
	if id == "" {
		return nil, invalid("link_id is required")
	}
	link, err := c.store.GetPaymentLink(id)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, notFound("payment link not found with id: %s", id)
	}
	return link, nil
}

// expire flips an active link past its expiry to EXPIRED.
func (c *Payments) expire(link *store.PaymentLink) error {
	if link.Status != store.LinkActive || !link.Expired(c.Now()) {
		return nil
	}
	if err := c.store.UpdatePaymentLinkStatus(link.LinkID, store.LinkExpired); err != nil {
		return err
	}
	link.Status = store.LinkExpired
	return nil
}

func (c *Payments) get(_ context.Context, p Params) (map[string]any, string, error) {
	link, err := c.lookup(p)
	if err != nil {
		return nil, "", err
	}
	if err := c.expire(link); err != nil {
		return nil, "", err
	}
	return linkResult(link), "Payment link " + link.LinkID + " is " + link.Status, nil
}

func (c *Payments) process(_ context.Context, p Params) (map[string]any, string, error) {
	link, err := c.lookup(p)
	if err != nil {
		return nil, "", err
	}
	if link.Status != store.LinkActive {
		return nil, "", invalid("payment link is not active. Current status: %s", link.Status)
	}
	if link.Expired(c.Now()) {
		if err := c.expire(link); err != nil {
			return nil, "", err
		}
		return nil, "", invalid("payment link has expired")
	}
	if err := c.store.UpdatePaymentLinkStatus(link.LinkID, store.LinkUsed); err != nil {
		return nil, "", err
	}
	link.Status = store.LinkUsed
	return linkResult(link), "Payment link " + link.LinkID + " processed", nil
}

func (c *Payments) cancel(_ context.Context, p Params) (map[string]any, string, error) {
	link, err := c.lookup(p)
	if err != nil {
		return nil, "", err
	}
	if link.Status == store.LinkUsed {
		return nil, "", invalid("cannot cancel a payment link that has already been used")
	}
	if err := c.store.UpdatePaymentLinkStatus(link.LinkID, store.LinkCancelled); err != nil {
		return nil, "", err
	}
	link.Status = store.LinkCancelled
	return linkResult(link), "Payment link " + link.LinkID + " cancelled", nil
}
