package filter

import (
	"log/slog"
	"net/http"
	"strings"

	"authgate/internal/domain"
	gw "authgate/internal/gateway"
	"authgate/internal/gateway/middleware"
	"authgate/internal/platform/telemetry"
)

// Options holds the collaborators of the built-in filters.
type Options struct {
	Authenticator gw.Authenticator
	// RememberMe is optional; without it the user filter behaves like authc.
	RememberMe gw.RememberMeManager
	// Access is optional; without it the mac filter denies every request.
	Access gw.AccessDecider
	// Limiter is optional; without it the throttle filter admits everything.
	Limiter gw.RateLimiter
	Errors  gw.ErrorMapper

	// LoginURL receives unauthenticated browsers.
	LoginURL string
	// UnauthorizedURL receives authenticated but denied callers.
	UnauthorizedURL string
	// BearerHeader is the header carrying signed tokens.
	BearerHeader string

	Metrics *telemetry.Metrics
}

// Builtin returns a registry holding anon, authc, user, jwt_filter, mac and
// throttle configured from opts.
func Builtin(opts Options) *Registry {
	if opts.Errors == nil {
		opts.Errors = middleware.DefaultErrorMapper{}
	}
	if opts.BearerHeader == "" {
		opts.BearerHeader = "Authorization"
	}
	f := &filters{opts: opts}

	reg := NewRegistry()
	// names are distinct constants; Register cannot fail here
	_ = reg.Register(Anon, f.anon)
	_ = reg.Register(Authc, f.authc)
	_ = reg.Register(User, f.user)
	_ = reg.Register(JWT, f.jwt)
	_ = reg.Register(MAC, f.mac)
	_ = reg.Register(Throttle, f.throttle)
	return reg
}

type filters struct {
	opts Options
}

func (f *filters) anon(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.opts.Metrics.RecordFilterDecision(r.Context(), Anon, "allow")
		next.ServeHTTP(w, r)
	})
}

func (f *filters) authc(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := gw.PrincipalFromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}

		p, err := f.opts.Authenticator.Authenticate(r.Context(), credentials(r, f.opts.BearerHeader))
		if err != nil {
			f.redirectToLogin(w, r, Authc, err)
			return
		}
		f.opts.Metrics.RecordFilterDecision(r.Context(), Authc, "allow")
		next.ServeHTTP(w, withPrincipal(r, p))
	})
}

func (f *filters) user(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := gw.PrincipalFromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}

		token := credentials(r, f.opts.BearerHeader)
		if token.Kind() == domain.KindNone {
			if p, ok := f.remembered(r); ok {
				f.opts.Metrics.RecordFilterDecision(r.Context(), User, "remembered")
				next.ServeHTTP(w, withPrincipal(r, p))
				return
			}
		}

		p, err := f.opts.Authenticator.Authenticate(r.Context(), token)
		if err != nil {
			f.redirectToLogin(w, r, User, err)
			return
		}
		f.opts.Metrics.RecordFilterDecision(r.Context(), User, "allow")
		next.ServeHTTP(w, withPrincipal(r, p))
	})
}

// remembered prefers the identity the dispatcher already restored and
// decrypts the cookie itself only when none was.
func (f *filters) remembered(r *http.Request) (domain.Principal, bool) {
	if p, ok := gw.RememberedFromContext(r.Context()); ok {
		return p, true
	}
	if f.opts.RememberMe == nil {
		return domain.Principal{}, false
	}
	return resolveRememberMe(f.opts.RememberMe, r)
}

func resolveRememberMe(m gw.RememberMeManager, r *http.Request) (domain.Principal, bool) {
	c, err := r.Cookie(m.CookieName())
	if err != nil {
		return domain.Principal{}, false
	}
	return m.Resolve(c.Value)
}

func (f *filters) redirectToLogin(w http.ResponseWriter, r *http.Request, filter string, err error) {
	slog.Debug("authentication failed",
		"filter", filter,
		"path", r.URL.Path,
		"request_id", gw.RequestIDFromContext(r.Context()),
		"error", err,
	)
	f.opts.Metrics.RecordFilterDecision(r.Context(), filter, "redirect")
	redirect(w, r, f.opts.LoginURL)
}

func redirect(w http.ResponseWriter, r *http.Request, target string) {
	if target == "" {
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// credentials reads HTTP Basic credentials or a bearer token from r.
func credentials(r *http.Request, bearerHeader string) domain.AuthenticationToken {
	if user, pass, ok := r.BasicAuth(); ok {
		return domain.UsernamePasswordToken{Username: user, Password: pass}
	}
	if raw, ok := bearerToken(r, bearerHeader); ok {
		return domain.BearerToken{Raw: raw}
	}
	return domain.NoCredential{}
}

// bearerToken reads a token from header. The Authorization header must use
// the Bearer scheme; any other header carries the token as its whole value.
func bearerToken(r *http.Request, header string) (string, bool) {
	v := strings.TrimSpace(r.Header.Get(header))
	if v == "" {
		return "", false
	}
	if !strings.EqualFold(header, "Authorization") {
		return v, true
	}
	scheme, token, ok := strings.Cut(v, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func withPrincipal(r *http.Request, p domain.Principal) *http.Request {
	if rl := gw.RequestLogFromContext(r.Context()); rl != nil {
		rl.PrincipalID = p.ID
	}
	return r.WithContext(gw.ContextWithPrincipal(r.Context(), p))
}
