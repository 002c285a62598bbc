package providers

import (
	"fmt"
	"strings"
	"unicode"
)

// defaultCountryCode is applied to national numbers (9 digits, Senegal).
const defaultCountryCode = "+221"

// NormalizePhone accepts a national or international phone number and
// normalizes it to a single international form (+221XXXXXXXXX). Spaces,
// dots and dashes are ignored; "00" prefixes become "+".
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for i, r := range raw {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.':
		default:
			return "", fmt.Errorf("invalid character %q in phone number", r)
		}
	}
	s := b.String()
	if strings.HasPrefix(s, "00") {
		s = "+" + s[2:]
	}
	switch {
	case strings.HasPrefix(s, "+"):
		if len(s) < 11 || len(s) > 15 {
			return "", fmt.Errorf("invalid international phone number %q", raw)
		}
		return s, nil
	case len(s) == 9:
		return defaultCountryCode + s, nil
	default:
		return "", fmt.Errorf("invalid phone number %q", raw)
	}
}
