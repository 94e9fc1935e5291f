package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// ValidateSender validates a sender phone identifier (digits, optional
// leading plus, as delivered by the messaging provider).
func ValidateSender(sender string) error {
	if sender == "" {
		return errors.New("sender cannot be empty")
	}
	s := strings.TrimPrefix(sender, "+")
	if len(s) < 6 || len(s) > 20 {
		return errors.New("sender must be 6-20 digits")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return errors.New("sender must contain only digits")
		}
	}
	return nil
}

// ValidateTranscript validates re-injected transcript text.
func ValidateTranscript(text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("transcript cannot be empty")
	}
	if len(text) > 100000 {
		return errors.New("transcript exceeds maximum length")
	}
	if !utf8.ValidString(text) {
		return errors.New("transcript must be valid UTF-8")
	}
	return nil
}

// ValidateStep validates a step name used in resolve queries.
func ValidateStep(step string) error {
	if step == "" {
		return errors.New("step cannot be empty")
	}
	if len(step) > 128 {
		return errors.New("step exceeds maximum length")
	}
	return nil
}
