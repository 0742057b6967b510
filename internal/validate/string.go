// Package validate provides input validation and sanitization for request
// payloads and the user text that risk scoring inspects.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// String validation errors
var (
	ErrStringTooShort    = errors.New("string is too short")
	ErrStringTooLong     = errors.New("string is too long")
	ErrInvalidCharacters = errors.New("string contains invalid characters")
	ErrEmpty             = errors.New("string is empty")
)

// StringConstraints defines validation constraints for a string.
type StringConstraints struct {
	MinLength      int            // Minimum length in runes (0 = no minimum)
	MaxLength      int            // Maximum length in runes (0 = no maximum)
	AllowedPattern *regexp.Regexp // Optional pattern the whole string must match
	AllowEmpty     bool
	TrimSpace      bool
}

// String validates s against the given constraints and returns the
// (optionally trimmed) value.
func String(s string, constraints StringConstraints) (string, error) {
	if constraints.TrimSpace {
		s = strings.TrimSpace(s)
	}
	if s == "" {
		if !constraints.AllowEmpty {
			return "", ErrEmpty
		}
		return s, nil
	}

	length := utf8.RuneCountInString(s)
	if constraints.MinLength > 0 && length < constraints.MinLength {
		return "", fmt.Errorf("%w: got %d chars, need at least %d", ErrStringTooShort, length, constraints.MinLength)
	}
	if constraints.MaxLength > 0 && length > constraints.MaxLength {
		return "", fmt.Errorf("%w: got %d chars, maximum is %d", ErrStringTooLong, length, constraints.MaxLength)
	}
	if constraints.AllowedPattern != nil && !constraints.AllowedPattern.MatchString(s) {
		return "", fmt.Errorf("%w: does not match required pattern", ErrInvalidCharacters)
	}
	return s, nil
}

// strictPolicy strips every element and attribute. bluemonday policies are
// safe for concurrent use once built.
var strictPolicy = bluemonday.StrictPolicy()

// StripMarkup removes HTML markup from user text so keyword and pattern checks
// see what a reader would see. Entities are decoded back to plain characters.
func StripMarkup(s string) string {
	stripped := strictPolicy.Sanitize(s)
	return htmlEntities.Replace(stripped)
}

// bluemonday escapes the characters it keeps; the analyzers want plain text.
var htmlEntities = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&#34;", `"`,
	"&#39;", "'",
	"&quot;", `"`,
)

// MessageText validates a message body: required, at most 5000 characters.
func MessageText(text string) (string, error) {
	return String(text, StringConstraints{
		MinLength: 1,
		MaxLength: 5000,
		TrimSpace: true,
	})
}

// Description validates an optional free-text description of at most 5000 characters.
func Description(desc string) (string, error) {
	return String(desc, StringConstraints{
		MaxLength:  5000,
		AllowEmpty: true,
		TrimSpace:  true,
	})
}

// CountryCode normalizes an ISO 3166-1 alpha-2 code to upper case.
func CountryCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", ErrEmpty
	}
	if len(code) != 2 || !unicode.IsLetter(rune(code[0])) || !unicode.IsLetter(rune(code[1])) {
		return "", fmt.Errorf("%w: %q is not a two-letter country code", ErrInvalidCharacters, code)
	}
	return code, nil
}
