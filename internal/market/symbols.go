// Package market parses instrument references and retrieves quotes.
package market

import (
	"regexp"
	"strings"
)

// Exchanges lists the supported exchange codes.
var Exchanges = []string{"NSE", "BSE", "NFO", "MCX"}

const DefaultExchange = "NSE"

var (
	exchangeColon  = regexp.MustCompile(`\b(NSE|BSE|NFO|MCX):([A-Z0-9&\-]+)`)
	symbolOnExch   = regexp.MustCompile(`\b([A-Z0-9&\-]+)\s+(?:(?:STOCK|SHARES?)\s+)?(?:ON|AT|TRADED\s+AT)\s+(NSE|BSE|NFO|MCX)\b`)
	exchThenSymbol = regexp.MustCompile(`\b(NSE|BSE|NFO|MCX)\s+([A-Z0-9&\-]+)`)
	wordRe         = regexp.MustCompile(`[A-Z0-9&\-]+`)
)

var knownSymbols = []string{
	"RELIANCE", "TCS", "INFY", "HDFC", "ICICI", "SBI", "ITC",
	"HDFCBANK", "BHARTIARTL", "KOTAKBANK", "LT", "ASIANPAINT",
	"MARUTI", "TITAN", "NESTLEIND", "ULTRACEMCO", "BAJFINANCE",
	"SENSEX", "NIFTY",
}

// fillers are words the phrase patterns must not mistake for a symbol.
var fillers = map[string]bool{
	"IS": true, "IT": true, "THE": true, "A": true, "AN": true, "TRADING": true,
	"TRADED": true, "LISTED": true, "PRICE": true, "QUOTE": true, "STOCK": true,
	"SHARES": true, "SHARE": true, "WHAT": true, "OF": true, "FOR": true,
}

// ParseSymbol extracts an instrument from free text. Explicit EXCHANGE:SYMBOL
// tokens win, then "SYMBOL on EXCHANGE" phrases, then "EXCHANGE SYMBOL" pairs,
// then a whole-word match against known symbols on the default exchange.
func ParseSymbol(query string) (symbol, exchange string, ok bool) {
	q := strings.ToUpper(query)

	if m := exchangeColon.FindStringSubmatch(q); m != nil {
		return m[2], m[1], true
	}
	if m := symbolOnExch.FindStringSubmatch(q); m != nil && !fillers[m[1]] {
		return m[1], m[2], true
	}
	if m := exchThenSymbol.FindStringSubmatch(q); m != nil && !fillers[m[2]] && !isExchange(m[2]) {
		return m[2], m[1], true
	}

	words := make(map[string]bool)
	for _, w := range wordRe.FindAllString(q, -1) {
		words[w] = true
	}
	for _, s := range knownSymbols {
		if words[s] {
			return s, DefaultExchange, true
		}
	}
	return "", "", false
}

// InstrumentKey formats the EXCHANGE:SYMBOL key used by quote APIs.
func InstrumentKey(symbol, exchange string) string {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return strings.ToUpper(exchange) + ":" + strings.ToUpper(symbol)
}

func isExchange(s string) bool {
	for _, e := range Exchanges {
		if s == e {
			return true
		}
	}
	return false
}
