// Package match decides whether extracted text contains any search term.
package match

import (
	"fmt"
	"strings"

	"github.com/hyperjump/damgrep/internal/models"
)

// Policy selects how a segment is compared against terms.
type Policy string

const (
	// Substring matches when a term occurs anywhere in the segment.
	Substring Policy = "substring"
	// Exact matches when the whole segment equals a term.
	Exact Policy = "exact"
)

// ParsePolicy converts a configuration value into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case Substring:
		return Substring, nil
	case Exact:
		return Exact, nil
	default:
		return "", fmt.Errorf("unknown match policy %q", s)
	}
}

// Matches reports whether text matches at least one term. Terms are expected
// to be normalized already; text is lower-cased before comparison. Exact
// comparison does not trim the segment.
func (p Policy) Matches(text string, terms models.Terms) bool {
	if len(terms) == 0 || text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, term := range terms {
		switch p {
		case Exact:
			if lower == term {
				return true
			}
		default:
			if strings.Contains(lower, term) {
				return true
			}
		}
	}
	return false
}

// String implements fmt.Stringer.
func (p Policy) String() string {
	return string(p)
}
