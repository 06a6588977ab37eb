package booking

import (
	"regexp"
	"strings"

	"github.com/samber/lo"
)

// Template is the clinic's daily slot grid, in order.
var Template = []string{
	"09:00", "09:30", "10:00", "10:30", "11:00", "11:30", "12:00",
	"13:00", "13:30", "14:00", "14:30", "15:00", "15:30", "16:00",
}

const (
	noon        = "12:00"
	eveningFrom = "16:00"
)

var hourHint = regexp.MustCompile(`(\d{1,2})(?::(\d{2}))?\s*(am|pm)?`)

// IsSlot reports whether hhmm is on the template.
func IsSlot(hhmm string) bool {
	return lo.Contains(Template, hhmm)
}

// FilterSlots applies at most one coarse filter taken from a free-text hint:
// morning, afternoon, evening, or an hour threshold ("after 2"). Order is kept.
func FilterSlots(slots []string, hint string) []string {
	hint = strings.ToLower(hint)
	switch {
	case strings.Contains(hint, "morning"):
		return lo.Filter(slots, func(s string, _ int) bool { return s < noon })
	case strings.Contains(hint, "afternoon"):
		return lo.Filter(slots, func(s string, _ int) bool { return s >= noon && s < eveningFrom })
	case strings.Contains(hint, "evening"):
		return lo.Filter(slots, func(s string, _ int) bool { return s >= eveningFrom })
	}

	m := hourHint.FindStringSubmatch(hint)
	if m == nil {
		return slots
	}
	raw := m[1]
	if m[2] != "" {
		raw += ":" + m[2]
	}
	threshold, ok := ParseTime(raw + " " + m[3])
	if !ok {
		return slots
	}
	return lo.Filter(slots, func(s string, _ int) bool { return s >= threshold })
}
