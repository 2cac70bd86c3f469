package filter

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"authgate/internal/domain"
)

// Router selects the filter chain for a request path. Rules are evaluated
// in declaration order and the first match wins, so a broad pattern listed
// before a narrower one shadows it.
type Router struct {
	rules []Rule
	def   []string
}

// NewRouter validates every pattern and filter name up front so that
// routing cannot fail at request time.
func NewRouter(rules []Rule, defaultChain []string, reg *Registry) (*Router, error) {
	if len(defaultChain) == 0 {
		return nil, fmt.Errorf("default filter chain is empty: %w", domain.ErrBadArgument)
	}
	if err := checkNames(defaultChain, reg); err != nil {
		return nil, fmt.Errorf("default chain: %w", err)
	}

	copied := make([]Rule, len(rules))
	for i, rule := range rules {
		if !strings.HasPrefix(rule.Pattern, "/") {
			return nil, fmt.Errorf("rule %d: pattern %q must start with /: %w", i, rule.Pattern, domain.ErrBadArgument)
		}
		if !doublestar.ValidatePattern(rule.Pattern) {
			return nil, fmt.Errorf("rule %d: invalid pattern %q: %w", i, rule.Pattern, domain.ErrBadArgument)
		}
		if len(rule.Filters) == 0 {
			return nil, fmt.Errorf("rule %d (%s): no filters: %w", i, rule.Pattern, domain.ErrBadArgument)
		}
		if err := checkNames(rule.Filters, reg); err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, rule.Pattern, err)
		}
		copied[i] = Rule{Pattern: rule.Pattern, Filters: append([]string(nil), rule.Filters...)}
	}

	return &Router{rules: copied, def: append([]string(nil), defaultChain...)}, nil
}

func checkNames(names []string, reg *Registry) error {
	for _, n := range names {
		if _, ok := reg.Lookup(n); !ok {
			return fmt.Errorf("unknown filter %q (registered: %s): %w", n, strings.Join(reg.Names(), ", "), domain.ErrBadArgument)
		}
	}
	return nil
}

// Rules returns a copy of the rule list.
func (r *Router) Rules() []Rule {
	return append([]Rule(nil), r.rules...)
}

// DefaultChain returns the filters applied when no rule matches.
func (r *Router) DefaultChain() []string {
	return append([]string(nil), r.def...)
}

// Route returns the chain for p. The path is cleaned first so that dot
// segments and doubled slashes cannot step around a rule.
func (r *Router) Route(p string) Chain {
	clean := CleanPath(p)
	for i, rule := range r.rules {
		// patterns were validated by NewRouter
		if ok, _ := doublestar.Match(rule.Pattern, clean); ok {
			return Chain{Index: i, Pattern: rule.Pattern, Filters: rule.Filters}
		}
	}
	return Chain{Index: -1, Pattern: "", Filters: r.def}
}

// CleanPath normalizes a request path for matching.
func CleanPath(p string) string {
	if p == "" || p[0] != '/' {
		p = "/" + p
	}
	return path.Clean(p)
}
