// Package wildcard matches keys against "*" patterns. Mapping rows use it
// to cover whole intent families, e.g. "billing_*" for every billing intent.
package wildcard

import (
	"regexp"
	"strings"
)

// PatternToRegex converts a pattern like "billing_*" into a compiled regex
// with capture groups: "^billing_(.*)$". Each "*" becomes one capture group.
func PatternToRegex(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteByte('^')
	for _, ch := range pattern {
		switch ch {
		case '*':
			b.WriteString("(.*)")
		case '.', '+', '?', '(', ')', '[', ']', '{', '}', '\\', '^', '$', '|':
			b.WriteByte('\\')
			b.WriteRune(ch)
		default:
			b.WriteRune(ch)
		}
	}
	b.WriteByte('$')
	return regexp.MustCompile(b.String())
}

// Match tests key against a pattern containing "*". Returns the captured
// segments (one per "*") or nil if the pattern has no "*" or does not match.
func Match(pattern, key string) []string {
	if !strings.Contains(pattern, "*") {
		return nil
	}
	re := PatternToRegex(pattern)
	m := re.FindStringSubmatch(key)
	if m == nil {
		return nil
	}
	return m[1:] // skip full match, return capture groups only
}
