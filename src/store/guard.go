package store

import (
	"fmt"
	"regexp"
	"strings"
)

var writeKeyword = regexp.MustCompile(`(?i)\b(insert|update|delete|merge|upsert|drop|alter|create|truncate|grant|revoke|copy|call|do|lock|vacuum|refresh)\b`)

// CheckReadOnly validates q as a single SELECT (optionally introduced by WITH
// or wrapped in parentheses) and returns it without the trailing semicolon.
// The READ ONLY transaction in Query is the actual enforcement.
func CheckReadOnly(q string) (string, error) {
	q = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(q), "; \t\n"))
	if q == "" {
		return "", fmt.Errorf("%w: empty query", ErrReadOnly)
	}
	code := blankLiterals(q)
	if strings.Contains(code, ";") {
		return "", fmt.Errorf("%w: multiple statements", ErrReadOnly)
	}

	head := strings.ToUpper(strings.TrimLeft(code, "( \t\r\n"))
	switch {
	case hasKeyword(head, "SELECT"):
		return q, nil
	case hasKeyword(head, "WITH"):
		if writeKeyword.MatchString(code) {
			return "", fmt.Errorf("%w: data-modifying common table expression", ErrReadOnly)
		}
		if !strings.Contains(head, "SELECT") {
			return "", ErrReadOnly
		}
		return q, nil
	default:
		return "", ErrReadOnly
	}
}

// hasKeyword reports whether s starts with kw as a whole word.
func hasKeyword(s, kw string) bool {
	if !strings.HasPrefix(s, kw) {
		return false
	}
	if len(s) == len(kw) {
		return true
	}
	c := s[len(kw)]
	return !(c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_')
}

// blankLiterals replaces the contents of quoted strings and identifiers
// with spaces so that keywords and semicolons inside them are ignored.
// Doubled quotes inside a literal are escapes.
func blankLiterals(q string) string {
	out := []byte(q)
	var quote byte
	for i := 0; i < len(out); i++ {
		c := out[i]
		switch {
		case quote == 0 && (c == '\'' || c == '"'):
			quote = c
		case quote != 0 && c == quote:
			if i+1 < len(out) && out[i+1] == quote {
				out[i], out[i+1] = ' ', ' '
				i++
				continue
			}
			quote = 0
		case quote != 0:
			out[i] = ' '
		}
	}
	return string(out)
}
