package domain

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Params are the verbatim step parameters.
type Params map[string]any

func (p Params) String(key string) string {
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	}
	return ""
}

// Float returns a numeric parameter. ok is false when the value is missing
// or not a number.
func (p Params) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

// Int returns an integer parameter or def when it is missing.
func (p Params) Int(key string, def int) (int, bool) {
	if _, present := p[key]; !present {
		return def, true
	}
	f, ok := p.Float(key)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}
