// Package filter routes each request to the access-control filter chain of
// the first path pattern it matches and runs that chain.
package filter

import (
	"fmt"
	"slices"
	"strings"

	"authgate/internal/domain"
)

// Built-in filter names.
const (
	Anon     = "anon"
	Authc    = "authc"
	User     = "user"
	JWT      = "jwt_filter"
	MAC      = "mac"
	Throttle = "throttle"
)

// Rule binds a path pattern to an ordered list of filter names.
// Patterns use doublestar syntax: "*" matches within one path segment and
// "**" matches across segments.
type Rule struct {
	Pattern string
	Filters []string
}

func (r Rule) String() string {
	return r.Pattern + " = " + strings.Join(r.Filters, ",")
}

// ParseFilters splits a comma-separated filter list such as "jwt_filter, anon".
func ParseFilters(s string) ([]string, error) {
	var names []string
	for part := range strings.SplitSeq(s, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("empty filter list %q: %w", s, domain.ErrBadArgument)
	}
	return names, nil
}

// Chain is the outcome of routing a path.
type Chain struct {
	// Index is the position of the matched rule, or -1 for the default chain.
	Index   int
	Pattern string
	Filters []string
}

// IsDefault reports whether no rule matched.
func (c Chain) IsDefault() bool { return c.Index < 0 }

// Has reports whether the chain runs the named filter.
func (c Chain) Has(name string) bool {
	return slices.Contains(c.Filters, name)
}
