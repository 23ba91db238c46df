package adjustments

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// minItemRefDigits is the minimum length of a remote item identifier.
const minItemRefDigits = 15

// Scanner paste garbage: tabs, newlines, CR runs, or two and more
// consecutive spaces concatenating several scanned codes.
var tokenSplitRe = regexp.MustCompile(`[\t\n\r]+|\s{2,}`)

var nonDigitRe = regexp.MustCompile(`\D`)

// SanitizeItemRef extracts a valid remote item identifier from free-form
// scan input. prefix is the deployment's identifier namespace; candidates
// must be purely numeric, at least 15 digits long and carry the prefix.
// When no token qualifies, the whole input stripped to digits is accepted
// if it is itself long enough. First qualifying candidate wins.
func SanitizeItemRef(raw, prefix string) (string, error) {
	// Scanners occasionally emit full-width digits; fold them first.
	cleaned := strings.TrimSpace(norm.NFKC.String(raw))
	if cleaned == "" {
		return "", fmt.Errorf("%w: empty input", ErrInvalidIdentifier)
	}

	for _, part := range tokenSplitRe.Split(cleaned, -1) {
		part = strings.TrimSpace(part)
		if isItemRef(part, prefix) {
			return part, nil
		}
	}

	// Fallback: the input may be a single identifier with stray separators.
	digits := nonDigitRe.ReplaceAllString(cleaned, "")
	if len(digits) >= minItemRefDigits {
		return digits, nil
	}

	return "", fmt.Errorf("%w: no valid item id in %q", ErrInvalidIdentifier, truncate(raw, 50))
}

func isItemRef(s, prefix string) bool {
	if len(s) < minItemRefDigits {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return prefix == "" || strings.HasPrefix(s, prefix)
}

// truncate shortens s to at most n bytes without cutting a rune in half.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
