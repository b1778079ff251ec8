package auth

import (
	"strings"
	"unicode"

	"github.com/nyaruka/phonenumbers"
)

// NormalizePhone turns user input into E.164 using the North American
// defaults, checked in order: 11 digits starting with 1 gain a "+", 10
// digits gain "+1", other input that already starts with "+" keeps its
// country code and anything else is prefixed with "+1". The digit rules win
// over a leading "+", so "+6591234567" becomes "+16591234567".
func NormalizePhone(input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}

	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, input)

	var candidate string
	switch {
	case len(digits) == 11 && digits[0] == '1':
		candidate = "+" + digits
	case len(digits) == 10:
		candidate = "+1" + digits
	case strings.HasPrefix(input, "+"):
		candidate = "+" + digits
	default:
		candidate = "+1" + digits
	}

	// Canonicalize when libphonenumber recognizes the number; keep the
	// rule-based form otherwise.
	if num, err := phonenumbers.Parse(candidate, ""); err == nil {
		if formatted := phonenumbers.Format(num, phonenumbers.E164); formatted != "" {
			return formatted
		}
	}
	return candidate
}
