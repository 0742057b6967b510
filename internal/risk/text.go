package risk

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	ahocorasick "github.com/cloudflare/ahocorasick"
)

// DefaultUrgencyKeywords mark pressure tactics in messages.
var DefaultUrgencyKeywords = []string{
	"urgent", "asap", "immediately", "right now", "act fast", "hurry",
	"limited time", "last chance", "expires today", "don't wait",
}

// DefaultPaymentKeywords mark requests to pay outside the platform.
var DefaultPaymentKeywords = []string{
	"wire transfer", "western union", "moneygram", "gift card", "itunes card",
	"bitcoin", "crypto", "usdt", "cash app", "cashapp", "zelle", "venmo",
	"momo", "mobile money", "bank transfer", "pay outside", "pay me directly",
	"paypal friends",
}

// DefaultBlacklist is phrasing that is not allowed in service descriptions.
var DefaultBlacklist = []string{
	"escort", "sugar daddy", "guaranteed income", "investment opportunity",
	"deposit first", "no refunds", "double your money", "pay upfront",
	"whatsapp only", "cashapp only",
}

// fuzzyMinLength is the shortest single word matched with one edit of slack.
// Shorter words produce too many accidental near-misses.
const fuzzyMinLength = 5

// keywordSet matches a fixed dictionary against text in one pass. Entries
// match whole words only. Single-word entries of at least fuzzyMinLength runes
// may also match at Levenshtein distance 1, which catches simple obfuscation
// such as "escorrt".
type keywordSet struct {
	words   []string
	matcher *ahocorasick.Matcher
	fuzzy   []string
}

func newKeywordSet(words []string, fuzzy bool) *keywordSet {
	ks := &keywordSet{}
	var patterns []string
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		tokens := tokenize(w)
		if len(tokens) == 0 {
			continue
		}
		ks.words = append(ks.words, w)
		patterns = append(patterns, wordBounded(tokens))
		if fuzzy && len(tokens) == 1 && utf8.RuneCountInString(tokens[0]) >= fuzzyMinLength {
			ks.fuzzy = append(ks.fuzzy, w)
		}
	}
	if len(patterns) > 0 {
		ks.matcher = ahocorasick.NewStringMatcher(patterns)
	}
	return ks
}

// wordBounded joins tokens with single spaces and pads both ends, so that a
// substring match against text normalized the same way lands on word edges.
func wordBounded(tokens []string) string {
	return " " + strings.Join(tokens, " ") + " "
}

// hits returns the distinct dictionary entries found in text, in dictionary
// order. text is matched case-insensitively.
func (ks *keywordSet) hits(text string) []string {
	if ks == nil || ks.matcher == nil || text == "" {
		return nil
	}
	tokens := tokenize(strings.ToLower(text))
	if len(tokens) == 0 {
		return nil
	}

	found := make(map[string]bool)
	for _, idx := range ks.matcher.MatchThreadSafe([]byte(wordBounded(tokens))) {
		found[ks.words[idx]] = true
	}
	if len(ks.fuzzy) > 0 {
		for _, token := range tokens {
			if utf8.RuneCountInString(token) < fuzzyMinLength-1 {
				continue
			}
			for _, w := range ks.fuzzy {
				if !found[w] && levenshtein.ComputeDistance(token, w) <= 1 {
					found[w] = true
				}
			}
		}
	}

	var out []string
	for _, w := range ks.words {
		if found[w] {
			out = append(out, w)
			delete(found, w)
		}
	}
	return out
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// minPhoneDigits is the fewest digits a run needs to count as a phone number.
// ISO dates carry eight.
const minPhoneDigits = 9

var (
	phonePattern  = regexp.MustCompile(`\+?\d[\d\s\-().]{7,}\d`)
	datePattern   = regexp.MustCompile(`\b(\d{4}[-/.]\d{1,2}[-/.]\d{1,2}|\d{1,2}[-/.]\d{1,2}[-/.]\d{4})\b`)
	emailInText   = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	handlePattern = regexp.MustCompile(`(^|\s)@[A-Za-z0-9_.]{3,}`)
)

// contactApps are messaging apps whose mention usually precedes a move off-platform.
var contactApps = newKeywordSet([]string{
	"whatsapp", "telegram", "snapchat", "instagram", "signal me", "wechat",
}, false)

// hasContactInfo reports whether text embeds a phone number, email address,
// social handle or messaging app reference.
func hasContactInfo(text string) bool {
	return hasPhoneNumber(text) ||
		emailInText.MatchString(text) ||
		handlePattern.MatchString(text) ||
		len(contactApps.hits(text)) > 0
}

func hasPhoneNumber(text string) bool {
	for _, m := range phonePattern.FindAllString(text, -1) {
		if datePattern.MatchString(m) {
			continue
		}
		digits := 0
		for _, r := range m {
			if r >= '0' && r <= '9' {
				digits++
			}
		}
		if digits >= minPhoneDigits {
			return true
		}
	}
	return false
}

// capsRatio returns the share of upper-case letters among all letters.
func capsRatio(text string) float64 {
	var letters, upper int
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}
