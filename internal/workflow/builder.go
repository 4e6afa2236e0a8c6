package workflow

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/mtzanidakis/relay/internal/market"
)

// Planner turns a free-text request into a compiled plan.
type Planner interface {
	Plan(ctx context.Context, query string) (*Plan, error)
}

var (
	roRe          = regexp.MustCompile(`(?i)\bRO[_-]?(\d+)\b`)
	partNumberRe  = regexp.MustCompile(`(?i)\bPART[_-]?(\d+)\b`)
	addRe         = regexp.MustCompile(`(?i)\badd\b`)
	partWordRe    = regexp.MustCompile(`(?i)\bparts?\b`)
	paymentLinkRe = regexp.MustCompile(`(?i)\bpayment\s+link\b`)
	emailRe       = regexp.MustCompile(`[^\s@]+@[^\s@]+\.[^\s@]+`)
	amountRe      = regexp.MustCompile(`(?i)\b(?:of|for|amount(?:\s+of)?)\s+(rs\.?|inr|usd|eur|₹|\$)?\s*(\d+(?:,\d{3})*(?:\.\d+)?)(?:\s*(inr|usd|eur|rupees|dollars|euros)\b)?`)
	quoteWordRe   = regexp.MustCompile(`(?i)\b(price|prices|quote|quotes|stock|stocks|share|shares|trading|traded|ltp|market|analysis)\b`)

	quantityRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:quantity|qty)\s*(?:of\s*)?[:=]?\s*(\d+)\b`),
		regexp.MustCompile(`(?i)\badd\s+(\d+)\b`),
		regexp.MustCompile(`(?i)\b(\d+)\s*(?:x|units?|pcs|pieces)\b`),
	}
)

var currencies = map[string]string{
	"rs": "INR", "rs.": "INR", "inr": "INR", "₹": "INR", "rupees": "INR",
	"usd": "USD", "$": "USD", "dollars": "USD",
	"eur": "EUR", "euros": "EUR",
}

// Entities are the identifiers and values recognised in a request.
type Entities struct {
	RONumber   string
	PartNumber string
	Quantity   int
	Amount     float64
	HasAmount  bool
	Currency   string
	Email      string
}

// Extract pulls repair order, part, quantity, amount, currency and email
// references out of free text. Quantity defaults to 1.
func Extract(query string) Entities {
	e := Entities{Quantity: 1}

	if m := roRe.FindStringSubmatch(query); m != nil {
		e.RONumber = "RO_" + m[1]
	}
	if m := partNumberRe.FindStringSubmatch(query); m != nil {
		e.PartNumber = "PART_" + m[1]
	}
	for _, re := range quantityRes {
		if m := re.FindStringSubmatch(query); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
				e.Quantity = n
				break
			}
		}
	}

	// Prefer an amount stated after the payment link phrase.
	tail := query
	if loc := paymentLinkRe.FindStringIndex(query); loc != nil {
		tail = query[loc[1]:]
	}
	m := amountRe.FindStringSubmatch(tail)
	if m == nil && tail != query {
		m = amountRe.FindStringSubmatch(query)
	}
	if m != nil {
		if v, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64); err == nil {
			e.Amount = v
			e.HasAmount = true
		}
		for _, c := range []string{m[1], m[3]} {
			if cur, ok := currencies[strings.ToLower(c)]; ok {
				e.Currency = cur
			}
		}
	}

	if em := emailRe.FindString(query); em != "" {
		e.Email = strings.TrimRight(em, ".,;:!?)\"'")
	}
	return e
}

// addsPart reports whether the request adds a part to a repair order.
func addsPart(query string) bool {
	return addRe.MatchString(query) && (partWordRe.MatchString(query) || partNumberRe.MatchString(query))
}

// IsCompound reports whether a request spans several domains and needs a
// validated multi-step plan.
func IsCompound(query string) bool {
	if addsPart(query) {
		return true
	}
	return paymentLinkRe.MatchString(query) && roRe.MatchString(query)
}

// Builder is the rule-based Planner.
type Builder struct {
	// NewID generates plan request ids.
	NewID func() string
	// Currency is used for payment steps that name none.
	Currency string
}

func NewBuilder() *Builder {
	return &Builder{NewID: uuid.NewString, Currency: "INR"}
}

// Plan decomposes query into a compiled plan. Compound requests get a
// validation phase strictly before the mutating execution phase. Everything
// else becomes a single step.
func (b *Builder) Plan(ctx context.Context, query string) (*Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	newID := b.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	plan := &Plan{
		RequestID:     newID(),
		OriginalQuery: query,
		Steps:         b.steps(query),
	}
	if err := plan.Compile(); err != nil {
		return nil, err
	}
	return plan, nil
}

func (b *Builder) steps(query string) []Step {
	if IsCompound(query) {
		return b.compound(query)
	}

	if quoteWordRe.MatchString(query) {
		if sym, ex, ok := market.ParseSymbol(query); ok {
			return []Step{{
				StepID:     "step_1",
				AgentType:  "market",
				Action:     "get_quote",
				Parameters: map[string]any{"symbol": sym, "exchange": ex},
			}}
		}
	}

	return []Step{{
		StepID:     "step_1",
		AgentType:  "general",
		Action:     "handle_query",
		Parameters: map[string]any{"query": query},
	}}
}

func (b *Builder) compound(query string) []Step {
	e := Extract(query)
	addPart := addsPart(query)
	link := paymentLinkRe.MatchString(query)

	steps := []Step{{
		StepID:     "validate_1",
		AgentType:  "repair_orders",
		Action:     "validate_repair_order",
		Parameters: map[string]any{"ro_number": e.RONumber},
	}}
	if addPart {
		steps = append(steps, Step{
			StepID:     "validate_2",
			AgentType:  "parts",
			Action:     "validate_part_exists",
			Parameters: map[string]any{"part_number": e.PartNumber},
		})
	}

	var prev []string
	if addPart {
		steps = append(steps, Step{
			StepID:    "execute_1",
			AgentType: "parts",
			Action:    "add_part_to_order",
			Parameters: map[string]any{
				"ro_number":   e.RONumber,
				"part_number": e.PartNumber,
				"quantity":    e.Quantity,
			},
			Dependencies: []string{"validate_1", "validate_2"},
		})
		prev = append(prev, "execute_1")
	}
	if link {
		currency := e.Currency
		if currency == "" {
			currency = b.Currency
		}
		if currency == "" {
			currency = "INR"
		}
		params := map[string]any{
			"ro_number":      e.RONumber,
			"customer_email": e.Email,
			"currency":       currency,
		}
		if e.HasAmount {
			params["amount"] = e.Amount
		}
		steps = append(steps, Step{
			StepID:       "execute_" + strconv.Itoa(len(prev)+1),
			AgentType:    "payment",
			Action:       "create_payment_link",
			Parameters:   params,
			Dependencies: append([]string{"validate_1"}, prev...),
		})
	}
	return steps
}
