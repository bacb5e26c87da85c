package models

import "strings"

// Terms is a normalized set of search terms: trimmed, lower-cased, non-empty
// and unique, in first-seen order.
type Terms []string

// NewTerms normalizes raw user input into a term set.
func NewTerms(raw ...string) Terms {
	seen := make(map[string]struct{}, len(raw))
	terms := make(Terms, 0, len(raw))
	for _, r := range raw {
		t := strings.ToLower(strings.TrimSpace(r))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}
	return terms
}

// Empty reports whether the set holds no terms.
func (t Terms) Empty() bool {
	return len(t) == 0
}
