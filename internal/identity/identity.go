package identity

import (
	"errors"
	"fmt"
	"strings"
)

const (
	minDigits = 8
	maxDigits = 15
	// localDigits is the length of a national number without country code or trunk prefix.
	localDigits = 10
)

// ErrInvalidIdentity is returned when an address cannot be reduced to a phone number.
var ErrInvalidIdentity = errors.New("invalid identity")

// Normalizer reduces the different address formats used by the messaging and
// payment providers to one canonical form: "+" followed by country code and number.
type Normalizer struct {
	CountryCode string
}

// NewNormalizer creates a normalizer that assumes countryCode for bare local numbers
func NewNormalizer(countryCode string) Normalizer {
	return Normalizer{CountryCode: strings.TrimPrefix(strings.TrimSpace(countryCode), "+")}
}

// Normalize returns the canonical identity for raw.
//
// Accepted inputs include "whatsapp:+919876543210", "+91 98765-43210",
// "00919876543210", "09876543210" and "9876543210".
func (n Normalizer) Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}

	var b strings.Builder
	international := false
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			international = true
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", fmt.Errorf("%w: unexpected character %q", ErrInvalidIdentity, r)
		}
	}
	digits := b.String()

	if !international && strings.HasPrefix(digits, "00") {
		digits = digits[2:]
		international = true
	}

	if !international {
		switch {
		case len(digits) == localDigits:
			digits = n.CountryCode + digits
		case len(digits) == localDigits+1 && digits[0] == '0':
			digits = n.CountryCode + digits[1:]
		}
	}

	if len(digits) < minDigits || len(digits) > maxDigits || digits[0] == '0' {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentity, Mask(raw))
	}
	return "+" + digits, nil
}

// Mask masks a phone number for logging (e.g., +9********10)
func Mask(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return phone[:2] + strings.Repeat("*", len(phone)-4) + phone[len(phone)-2:]
}
