package validation

import (
	"regexp"
	"strings"
)

var (
	// E.164: leading +, country code 1-9, 8 to 15 digits total
	phoneRegex = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)
)

// NormalizePhoneNumber strips common formatting characters so that
// "+1 (555) 123-4567" and "+15551234567" resolve to the same identifier.
func NormalizePhoneNumber(phone string) string {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	for i, r := range phone {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// formatting, drop
		default:
			return phone
		}
	}
	return b.String()
}

// ValidatePhoneNumber validates E.164 phone number format
func ValidatePhoneNumber(phone string) bool {
	return phoneRegex.MatchString(phone)
}

// ValidateOTPCode checks that a submitted code is all digits of the expected length.
func ValidateOTPCode(code string, length int) bool {
	if len(code) != length {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
