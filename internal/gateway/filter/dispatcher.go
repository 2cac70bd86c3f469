package filter

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"authgate/internal/domain"
	gw "authgate/internal/gateway"
	"authgate/internal/gateway/authn"
	"authgate/internal/gateway/middleware"
)

// Dispatcher runs each request through the chain its path routes to and
// then hands it to the application handler.
type Dispatcher struct {
	router   *Router
	chains   []http.Handler
	fallback http.Handler
	timeout  domain.SessionTimeout
	now      func() time.Time

	remember     gw.RememberMeManager
	bearerHeader string
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithSessionTimeout sets the timeout recorded on the per-request session
// record. The record is informational; sessions are never persisted.
func WithSessionTimeout(t domain.SessionTimeout) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = t }
}

// WithClock overrides the clock used for session records.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// WithRememberMe restores remember-me identities on requests that carry no
// credential in bearerHeader or HTTP Basic auth. The restored identity is
// visible through gateway.CurrentUser on every chain, but only the user
// filter admits it as a principal.
func WithRememberMe(m gw.RememberMeManager, bearerHeader string) DispatcherOption {
	return func(d *Dispatcher) {
		d.remember = m
		d.bearerHeader = bearerHeader
	}
}

// NewDispatcher composes one handler per rule, plus one for the default
// chain, in front of app.
func NewDispatcher(router *Router, reg *Registry, app http.Handler, opts ...DispatcherOption) (*Dispatcher, error) {
	d := &Dispatcher{router: router, timeout: domain.NeverExpire, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	if d.bearerHeader == "" {
		d.bearerHeader = "Authorization"
	}

	compose := func(names []string) (http.Handler, error) {
		mws := make([]middleware.Middleware, len(names))
		for i, n := range names {
			mw, ok := reg.Lookup(n)
			if !ok {
				return nil, fmt.Errorf("unknown filter %q: %w", n, domain.ErrBadArgument)
			}
			mws[i] = mw
		}
		return middleware.Chain(app, mws...), nil
	}

	for _, rule := range router.rules {
		h, err := compose(rule.Filters)
		if err != nil {
			return nil, fmt.Errorf("composing %s: %w", rule, err)
		}
		d.chains = append(d.chains, h)
	}
	h, err := compose(router.def)
	if err != nil {
		return nil, fmt.Errorf("composing default chain: %w", err)
	}
	d.fallback = h
	return d, nil
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	chain := d.router.Route(r.URL.Path)

	label := chain.Pattern
	if chain.IsDefault() {
		label = "default"
	}
	if rl := gw.RequestLogFromContext(r.Context()); rl != nil {
		rl.Chain = label
	}

	session := authn.NewSessionRecord(d.now(), d.timeout)
	ctx := gw.ContextWithChain(r.Context(), label)
	ctx = gw.ContextWithSession(ctx, session)
	if p, ok := d.rememberedIdentity(r); ok {
		ctx = gw.ContextWithRemembered(ctx, p)
	}

	slog.Debug("filter chain selected",
		"path", r.URL.Path,
		"chain", label,
		"filters", chain.Filters,
		"session_id", session.ID,
		"request_id", gw.RequestIDFromContext(r.Context()),
	)

	h := d.fallback
	if !chain.IsDefault() {
		h = d.chains[chain.Index]
	}
	h.ServeHTTP(w, r.WithContext(ctx))
}

func (d *Dispatcher) rememberedIdentity(r *http.Request) (domain.Principal, bool) {
	if d.remember == nil || credentials(r, d.bearerHeader).Kind() != domain.KindNone {
		return domain.Principal{}, false
	}
	return resolveRememberMe(d.remember, r)
}
