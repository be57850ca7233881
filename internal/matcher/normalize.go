package matcher

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stopWords = map[string]struct{}{
	"payment":    {},
	"transfer":   {},
	"deposit":    {},
	"withdrawal": {},
	"reference":  {},
	"to":         {},
	"from":       {},
}

// NormalizeDescription prepares a raw bank description for comparison. The
// result is lowercase ASCII-folded text without punctuation, stop words or
// long numeric tokens (usually reference numbers).
func NormalizeDescription(raw string) string {
	// transformers carry state, so one chain per call
	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(folder, raw)
	if err != nil {
		folded = raw
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}

	tokens := strings.Fields(b.String())
	kept := tokens[:0]
	for _, tok := range tokens {
		if _, stop := stopWords[tok]; stop {
			continue
		}
		if len(tok) >= 4 && isAllDigits(tok) {
			continue
		}
		kept = append(kept, tok)
	}

	return strings.Join(kept, " ")
}

// normalizeReference reduces a payment reference to lowercase alphanumerics
func normalizeReference(ref string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(ref) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// referencesMatch reports whether one normalized reference contains the other
func referencesMatch(a, b string) bool {
	na, nb := normalizeReference(a), normalizeReference(b)
	if na == "" || nb == "" {
		return false
	}
	return strings.Contains(na, nb) || strings.Contains(nb, na)
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
