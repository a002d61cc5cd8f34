package utils

import (
	"fmt"
	"regexp"
)

var identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._:-]*$`)

const maxIdentifierLen = 128

// ValidateIdentifier validates an entity type, entity id, or organization id
func ValidateIdentifier(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", name)
	}
	if len(value) > maxIdentifierLen {
		return fmt.Errorf("%s exceeds %d characters", name, maxIdentifierLen)
	}
	if !identifierRegex.MatchString(value) {
		return fmt.Errorf("%s contains invalid characters: %s", name, value)
	}
	return nil
}

// ValidateCorrelationID validates a caller-supplied idempotency key
func ValidateCorrelationID(id string) error {
	return ValidateIdentifier("correlation id", id)
}

// SanitizeString removes control characters from free-text input
func SanitizeString(s string) string {
	return regexp.MustCompile(`[\x00-\x1f\x7f]`).ReplaceAllString(s, "")
}
