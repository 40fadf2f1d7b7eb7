package util

import (
	"strings"

	"github.com/badoux/checkmail"
)

// NormalizeEmail trims and lower-cases an address. Enrollment keys use this form.
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// ValidEmail reports whether the normalized address is syntactically valid.
func ValidEmail(addr string) bool {
	if addr == "" {
		return false
	}
	return checkmail.ValidateFormat(addr) == nil
}
