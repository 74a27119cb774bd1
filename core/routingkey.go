package core

import "strings"

// tokenValid reports whether s matches the routing-key token grammar
// [A-Za-z0-9_-]+. It deliberately avoids regexp — the alphabet is small and
// this runs on every publish/bind.
func tokenValid(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}

// ValidRoutingKey reports whether key is a non-empty, dot-separated sequence
// of tokens matching [A-Za-z0-9_-]+. Empty routing keys are rejected.
func ValidRoutingKey(key string) bool {
	if key == "" {
		return false
	}
	for _, tok := range strings.Split(key, ".") {
		if !tokenValid(tok) {
			return false
		}
	}
	return true
}

// ValidPattern reports whether pattern is a syntactically valid binding
// pattern: the routing-key grammar plus the wildcard tokens "*" and "#".
func ValidPattern(pattern string) bool {
	if pattern == "" {
		return false
	}
	for _, tok := range strings.Split(pattern, ".") {
		if tok == "*" || tok == "#" {
			continue
		}
		if !tokenValid(tok) {
			return false
		}
	}
	return true
}
