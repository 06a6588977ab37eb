package booking

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

var spokenTime = regexp.MustCompile(`^(\d{1,2})(?:[:.](\d{2}))?\s*(a\.?m\.?|p\.?m\.?)?$`)

// ParseTime turns a spoken or written time ("9:30 AM", "9 am", "2pm",
// "14:30") into the canonical 24h "HH:MM" form. Without a meridian, hours
// 1 to 7 are read as afternoon since the clinic is closed in the early morning.
func ParseTime(raw string) (string, bool) {
	m := spokenTime.FindStringSubmatch(strings.ToLower(strings.TrimSpace(raw)))
	if m == nil {
		return "", false
	}
	h, _ := strconv.Atoi(m[1])
	min := 0
	if m[2] != "" {
		min, _ = strconv.Atoi(m[2])
	}
	meridian := strings.ReplaceAll(m[3], ".", "")

	switch meridian {
	case "am":
		if h < 1 || h > 12 {
			return "", false
		}
		if h == 12 {
			h = 0
		}
	case "pm":
		if h < 1 || h > 12 {
			return "", false
		}
		if h != 12 {
			h += 12
		}
	default:
		if h >= 1 && h <= 7 {
			h += 12
		}
	}
	if h > 23 || min > 59 {
		return "", false
	}
	return time.Date(0, 1, 1, h, min, 0, 0, time.UTC).Format(timeLayout), true
}

// DisplayTime renders "14:30" as "2:30 PM". Values that are not canonical
// are returned unchanged.
func DisplayTime(hhmm string) string {
	t, err := time.Parse(timeLayout, hhmm)
	if err != nil {
		return hhmm
	}
	return t.Format("3:04 PM")
}

// DisplayDate renders "2025-01-10" as "Friday, January 10".
func DisplayDate(date string) string {
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return date
	}
	return t.Format("Monday, January 2")
}

// spokenList joins items as "a, b, or c".
func spokenList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " or " + items[1]
	}
	return strings.Join(items[:len(items)-1], ", ") + ", or " + items[len(items)-1]
}
