package filter

import (
	"fmt"
	"sort"

	"authgate/internal/domain"
	"authgate/internal/gateway/middleware"
)

// Registry maps filter names to their middleware.
type Registry struct {
	filters map[string]middleware.Middleware
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{filters: make(map[string]middleware.Middleware)}
}

// Register adds a filter. Names must be unique.
func (r *Registry) Register(name string, mw middleware.Middleware) error {
	if name == "" || mw == nil {
		return fmt.Errorf("registering filter %q: %w", name, domain.ErrBadArgument)
	}
	if _, dup := r.filters[name]; dup {
		return fmt.Errorf("filter %q already registered: %w", name, domain.ErrBadArgument)
	}
	r.filters[name] = mw
	return nil
}

// Lookup returns the named filter.
func (r *Registry) Lookup(name string) (middleware.Middleware, bool) {
	mw, ok := r.filters[name]
	return mw, ok
}

// Names lists registered filters in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.filters))
	for n := range r.filters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
