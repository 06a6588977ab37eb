// Package phone canonicalizes caller phone numbers. The canonical form is the
// only key used for caller profile and patient lookups.
package phone

import (
	"errors"
	"strings"
)

// ErrInvalid is returned by Validate when a spoken number cannot be a phone number.
var ErrInvalid = errors.New("invalid phone number")

const (
	minDigits = 10
	maxDigits = 15
	keyDigits = 11
)

// Normalize strips every non-digit and keeps the last 11 digits.
// It returns ok=false when fewer than 10 digits remain.
//
//	Normalize("sip_+923001234567") == "23001234567", true
func Normalize(raw string) (string, bool) {
	d := digits(raw)
	if len(d) < minDigits {
		return "", false
	}
	if len(d) > keyDigits {
		d = d[len(d)-keyDigits:]
	}
	return d, true
}

// Validate checks a number supplied by the caller (10 to 15 digits, an optional
// leading plus, separators ignored) and returns its canonical form.
func Validate(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.Count(trimmed, "+") > 1 || (strings.Contains(trimmed, "+") && !strings.HasPrefix(trimmed, "+")) {
		return "", ErrInvalid
	}
	for _, r := range trimmed {
		if !isDigit(r) && !strings.ContainsRune("+-() .", r) {
			return "", ErrInvalid
		}
	}
	d := digits(trimmed)
	if len(d) < minDigits || len(d) > maxDigits {
		return "", ErrInvalid
	}
	canonical, _ := Normalize(d)
	return canonical, nil
}

func digits(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if isDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }
