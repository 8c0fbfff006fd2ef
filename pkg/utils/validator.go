package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	emailRegex   = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	controlChars = regexp.MustCompile(`[\x00-\x08\x0b-\x1f\x7f]`)
)

// ValidateEmail validates an email address
func ValidateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format: %s", email)
	}
	return nil
}

// SanitizeString removes control characters other than newlines and tabs
func SanitizeString(s string) string {
	return controlChars.ReplaceAllString(s, "")
}

// OneLine collapses s to a single trimmed line of at most max runes
func OneLine(s string, max int) string {
	s = strings.Join(strings.Fields(SanitizeString(s)), " ")
	if r := []rune(s); max > 0 && len(r) > max {
		return string(r[:max])
	}
	return s
}
