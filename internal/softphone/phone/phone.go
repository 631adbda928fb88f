// Package phone validates and formats dialable numbers.
package phone

import (
	"errors"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used for numbers given without a country code.
const DefaultRegion = "US"

// ErrInvalidNumber indicates the input is not a dialable number.
var ErrInvalidNumber = errors.New("invalid phone number")

// Normalize strips display formatting and returns a dialable form.
// Short internal extensions (2-6 digits) are returned as-is; anything
// longer must be a possible full-length number and is returned in E.164.
func Normalize(raw string) (string, error) {
	cleaned := strip(raw)
	if cleaned == "" {
		return "", ErrInvalidNumber
	}

	digits := strings.TrimPrefix(cleaned, "+")
	if !allDigits(digits) {
		return "", ErrInvalidNumber
	}
	if !strings.HasPrefix(cleaned, "+") && len(digits) >= 2 && len(digits) <= 6 {
		return digits, nil
	}

	num, err := phonenumbers.Parse(cleaned, DefaultRegion)
	if err != nil {
		return "", ErrInvalidNumber
	}
	// Local-only lengths (7-digit US) cannot be dialed without an area code.
	if phonenumbers.IsPossibleNumberWithReason(num) != phonenumbers.IS_POSSIBLE {
		return "", ErrInvalidNumber
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// IsExtension reports whether n is a short internal extension.
func IsExtension(n string) bool {
	return len(n) >= 2 && len(n) <= 6 && allDigits(n)
}

// FormatUS renders North American numbers as "(555) 123-4567".
// Anything else is returned unchanged.
func FormatUS(number string) string {
	cleaned := strip(number)
	digits := strings.TrimPrefix(cleaned, "+")
	if !allDigits(digits) {
		return number
	}
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return number
	}
	return "(" + digits[0:3] + ") " + digits[3:6] + "-" + digits[6:]
}

func strip(raw string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			// Keep unknown runes so allDigits rejects them.
			b.WriteRune(r)
		}
	}
	return b.String()
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
