package sweeper

import (
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

const everyPrefix = "@every "

// Validate accepts a cron expression or "@every <duration>".
func Validate(expr string) error {
	expr = strings.TrimSpace(expr)
	if d, ok, err := parseEvery(expr); ok {
		if err != nil {
			return err
		}
		if d <= 0 {
			return fmt.Errorf("interval must be positive: %s", expr)
		}
		return nil
	}
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("invalid cron expression: %s", expr)
	}
	return nil
}

// NextRun returns the first time after from at which expr is due.
func NextRun(expr string, from time.Time) (time.Time, error) {
	expr = strings.TrimSpace(expr)
	if d, ok, err := parseEvery(expr); ok {
		if err != nil {
			return time.Time{}, err
		}
		return from.Add(d), nil
	}
	next, err := gronx.NextTickAfter(expr, from, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("next tick for %q: %w", expr, err)
	}
	return next, nil
}

func parseEvery(expr string) (time.Duration, bool, error) {
	if !strings.HasPrefix(expr, everyPrefix) {
		return 0, false, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(expr, everyPrefix)))
	if err != nil {
		return 0, true, fmt.Errorf("invalid interval %q: %w", expr, err)
	}
	return d, true, nil
}

// Describe returns a human-readable form of expr.
func Describe(expr string) string {
	expr = strings.TrimSpace(expr)
	if d, ok, err := parseEvery(expr); ok && err == nil {
		switch {
		case d%time.Hour == 0 && d >= time.Hour:
			h := int(d.Hours())
			if h == 1 {
				return "Every hour"
			}
			return fmt.Sprintf("Every %d hours", h)
		case d%time.Minute == 0 && d >= time.Minute:
			m := int(d.Minutes())
			if m == 1 {
				return "Every minute"
			}
			return fmt.Sprintf("Every %d minutes", m)
		default:
			return fmt.Sprintf("Every %d seconds", int(d.Seconds()))
		}
	}
	if fields := strings.Fields(expr); len(fields) == 5 && strings.HasPrefix(fields[0], "*/") && strings.Join(fields[1:], " ") == "* * * *" {
		return "Every " + strings.TrimPrefix(fields[0], "*/") + " minutes"
	}
	return expr
}
