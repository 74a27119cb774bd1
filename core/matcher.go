package core

import "strings"

// Matcher decides whether a routing key matches a binding pattern.
type Matcher interface {
	Match(pattern, key string) bool
}

// DefaultMatcher implements the routing-key pattern grammar: "." separates
// tokens, "*" matches exactly one token, and "#" matches one-or-more
// tokens (never zero — "orders.#" does not match the bare key "orders").
// Matching is anchored: the whole key must be consumed.
//
//	"orders.created" matches "orders.created"      (exact)
//	"orders.*"       matches "orders.created"      (single-token)
//	"orders.*"       does NOT match "orders.us.created"
//	"payments.#"     matches "payments.us.created" (one-or-more)
//	"payments.#"     does NOT match "payments"      (needs >=1 token after prefix)
type DefaultMatcher struct{}

func (DefaultMatcher) Match(pattern, key string) bool {
	patParts := strings.Split(pattern, ".")
	keyParts := strings.Split(key, ".")
	return matchFrom(patParts, 0, keyParts, 0)
}

// matchFrom matches pat[pi:] against top[ti:]. "#" is resolved by trying
// every split point for the remainder of pat, since it may appear mid-pattern.
func matchFrom(pat []string, pi int, top []string, ti int) bool {
	for pi < len(pat) && ti < len(top) {
		switch pat[pi] {
		case "#":
			// "#" consumes one-or-more tokens; ti < len(top) here guarantees
			// at least the current token is available to satisfy that.
			if pi == len(pat)-1 {
				return true
			}
			pi++
			// Consume the one token "#" always takes, then try the rest of
			// the pattern at every later split point.
			ti++
			for ti <= len(top) {
				if matchFrom(pat, pi, top, ti) {
					return true
				}
				ti++
			}
			return false
		case "*":
			pi++
			ti++
		default:
			if pat[pi] != top[ti] {
				return false
			}
			pi++
			ti++
		}
	}
	return pi == len(pat) && ti == len(top)
}
