package gateway

import (
	"context"
	"net/http"

	"authgate/internal/domain"
)

// Authenticator resolves a principal from a presented credential.
type Authenticator interface {
	Authenticate(ctx context.Context, token domain.AuthenticationToken) (domain.Principal, error)
}

// CredentialSource verifies one kind of credential against one trust backend.
type CredentialSource interface {
	Name() string
	Supports(token domain.AuthenticationToken) bool
	Authenticate(ctx context.Context, token domain.AuthenticationToken) (domain.Principal, error)
}

// AccountStore looks up stored password credentials by username.
type AccountStore interface {
	Lookup(ctx context.Context, username string) (domain.Account, error)
}

// KeyResolver returns the verification key for a signed token's key ID.
type KeyResolver interface {
	GetKey(ctx context.Context, kid string) (any, error)
}

// VerificationCache remembers successful verifications for a while.
type VerificationCache interface {
	Get(key string) (domain.Principal, bool)
	Add(key string, p domain.Principal)
}

// AccessDecider decides whether a principal may perform method on path.
type AccessDecider interface {
	Allowed(p domain.Principal, path, method string) (bool, error)
}

// RememberMeManager encrypts and decrypts the long-lived identity cookie.
type RememberMeManager interface {
	Issue(p domain.Principal) (*http.Cookie, error)
	Resolve(value string) (domain.Principal, bool)
	CookieName() string
	Clear() *http.Cookie
}

// ErrorMapper translates an error into an HTTP status and a client payload.
type ErrorMapper interface {
	MapError(err error) (int, domain.ErrorResponse)
}

// RateLimiter decides whether a request identified by key should be allowed.
type RateLimiter interface {
	Allow(key string) RateLimitResult
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	RetryAfter int // seconds until next token available; 0 if allowed
}

// StatusWriter wraps http.ResponseWriter to capture the status code.
type StatusWriter struct {
	http.ResponseWriter
	Code int
}

func (sw *StatusWriter) WriteHeader(code int) {
	sw.Code = code
	sw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sw *StatusWriter) Unwrap() http.ResponseWriter { return sw.ResponseWriter }

// PrincipalFromContext returns the principal authenticated for the current request.
func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(domain.Principal)
	return p, ok
}

// ContextWithPrincipal stores the authenticated principal in the context.
func ContextWithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

type principalKey struct{}

// RememberedFromContext returns the identity restored from a remember-me
// cookie on a request that presented no credential. It is not an
// authenticated principal.
func RememberedFromContext(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(rememberedKey{}).(domain.Principal)
	return p, ok
}

// ContextWithRemembered stores a remembered identity in the context.
func ContextWithRemembered(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, rememberedKey{}, p)
}

type rememberedKey struct{}

// CurrentUser returns the authenticated principal, or failing that the
// remembered identity.
func CurrentUser(ctx context.Context) (domain.Principal, bool) {
	if p, ok := PrincipalFromContext(ctx); ok {
		return p, true
	}
	return RememberedFromContext(ctx)
}

// RequestIDFromContext extracts the request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ContextWithRequestID stores the request ID in the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

type requestIDKey struct{}

// SessionFromContext returns the nominal session record of the request.
// It is meant for audit output only.
func SessionFromContext(ctx context.Context) (domain.SessionRecord, bool) {
	s, ok := ctx.Value(sessionKey{}).(domain.SessionRecord)
	return s, ok
}

// ContextWithSession stores the nominal session record in the context.
func ContextWithSession(ctx context.Context, s domain.SessionRecord) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

type sessionKey struct{}

// RequestLog collects fields that inner handlers contribute to the
// request log line and metrics. Handlers of one request share it.
type RequestLog struct {
	Chain       string
	PrincipalID string
}

// RequestLogFromContext returns the request's log record, or nil.
func RequestLogFromContext(ctx context.Context) *RequestLog {
	l, _ := ctx.Value(requestLogKey{}).(*RequestLog)
	return l
}

// ContextWithRequestLog installs l as the request's log record.
func ContextWithRequestLog(ctx context.Context, l *RequestLog) context.Context {
	return context.WithValue(ctx, requestLogKey{}, l)
}

type requestLogKey struct{}

// ChainFromContext returns the filter chain pattern selected for the request.
func ChainFromContext(ctx context.Context) string {
	c, _ := ctx.Value(chainKey{}).(string)
	return c
}

// ContextWithChain records the filter chain pattern selected for the request.
func ContextWithChain(ctx context.Context, pattern string) context.Context {
	return context.WithValue(ctx, chainKey{}, pattern)
}

type chainKey struct{}
