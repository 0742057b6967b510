package validate

import (
	"errors"
	"regexp"
	"strings"
)

// Email validation errors
var (
	ErrInvalidEmail = errors.New("invalid email format")
)

// emailPattern is a reasonable regex for basic email validation.
// More strict validation happens at the SMTP level.
var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Email validates an email address format.
// Returns the normalized (lowercased, trimmed) email and an error if invalid.
func Email(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrEmpty
	}

	// RFC 5321 length limits.
	if len(email) > 254 {
		return "", ErrStringTooLong
	}
	if !emailPattern.MatchString(email) {
		return "", ErrInvalidEmail
	}

	localPart, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "", ErrInvalidEmail
	}
	if len(localPart) > 64 || len(domain) > 255 {
		return "", ErrStringTooLong
	}
	return email, nil
}

// EmailDomain returns the lowercased domain part of an address, or "".
func EmailDomain(email string) string {
	_, domain, ok := strings.Cut(strings.ToLower(strings.TrimSpace(email)), "@")
	if !ok {
		return ""
	}
	return domain
}

// disposableDomains are throwaway mailbox providers commonly used for
// bulk sign-ups.
var disposableDomains = map[string]bool{
	"mailinator.com":    true,
	"guerrillamail.com": true,
	"sharklasers.com":   true,
	"10minutemail.com":  true,
	"tempmail.com":      true,
	"temp-mail.org":     true,
	"yopmail.com":       true,
	"trashmail.com":     true,
	"throwawaymail.com": true,
	"getnada.com":       true,
	"dispostable.com":   true,
	"maildrop.cc":       true,
	"fakeinbox.com":     true,
	"mohmal.com":        true,
	"emailondeck.com":   true,
	"mailnesia.com":     true,
	"mintemail.com":     true,
	"spamgourmet.com":   true,
	"burnermail.io":     true,
}

// IsDisposableEmail reports whether the address uses a known throwaway
// mailbox domain, including its subdomains.
func IsDisposableEmail(email string) bool {
	domain := EmailDomain(email)
	for domain != "" {
		if disposableDomains[domain] {
			return true
		}
		_, rest, ok := strings.Cut(domain, ".")
		if !ok {
			return false
		}
		domain = rest
	}
	return false
}
