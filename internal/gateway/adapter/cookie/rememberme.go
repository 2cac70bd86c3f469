// Package cookie issues and resolves the encrypted remember-me cookie.
package cookie

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/hkdf"

	"authgate/internal/domain"
	"authgate/internal/gateway"
	"authgate/internal/platform/telemetry"
)

const (
	// DefaultName is the cookie name browsers already hold.
	DefaultName = "rememberMe"

	// SessionMaxAge makes the cookie expire with the browser session.
	SessionMaxAge = -1

	// Source is the Principal.Source of remembered identities.
	Source = "rememberMe"

	hashKeyInfo = "authgate remember-me hmac"
)

// RememberMe encrypts a principal into a cookie value and back.
// Values are AES encrypted with the operator key and authenticated with an
// HMAC key derived from it.
type RememberMe struct {
	name    string
	maxAge  int
	secure  bool
	codec   *securecookie.SecureCookie
	metrics *telemetry.Metrics
}

var _ gateway.RememberMeManager = (*RememberMe)(nil)

// Option configures a RememberMe.
type Option func(*RememberMe)

// WithName overrides the cookie name.
func WithName(name string) Option {
	return func(r *RememberMe) {
		if name != "" {
			r.name = name
		}
	}
}

// WithMaxAge sets the cookie lifetime in seconds. SessionMaxAge, the
// default, issues a browser-session cookie.
func WithMaxAge(seconds int) Option {
	return func(r *RememberMe) { r.maxAge = seconds }
}

// WithSecure marks issued cookies Secure.
func WithSecure(secure bool) Option {
	return func(r *RememberMe) { r.secure = secure }
}

// WithMetrics records resolution outcomes. m may be nil.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *RememberMe) { r.metrics = m }
}

type payload struct {
	ID    string   `json:"id"`
	Name  string   `json:"name,omitempty"`
	Type  string   `json:"type,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// New creates a RememberMe keyed by an AES key of 16, 24 or 32 bytes.
func New(key []byte, opts ...Option) (*RememberMe, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("remember-me key must be 16, 24 or 32 bytes, got %d: %w", len(key), domain.ErrBadArgument)
	}

	hashKey := make([]byte, 64)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, nil, []byte(hashKeyInfo)), hashKey); err != nil {
		return nil, fmt.Errorf("deriving remember-me hmac key: %w", err)
	}

	r := &RememberMe{name: DefaultName, maxAge: SessionMaxAge}
	for _, opt := range opts {
		opt(r)
	}

	r.codec = securecookie.New(hashKey, key)
	r.codec.SetSerializer(securecookie.JSONEncoder{})
	if r.maxAge > 0 {
		r.codec.MaxAge(r.maxAge)
	} else {
		// browser-session cookies carry no server-side age limit
		r.codec.MaxAge(0)
	}
	return r, nil
}

// CookieName returns the name of the remember-me cookie.
func (r *RememberMe) CookieName() string { return r.name }

// Issue builds the cookie that remembers p.
func (r *RememberMe) Issue(p domain.Principal) (*http.Cookie, error) {
	if p.IsZero() {
		return nil, fmt.Errorf("remembering an empty principal: %w", domain.ErrBadArgument)
	}
	value, err := r.codec.Encode(r.name, payload{
		ID:    p.ID,
		Name:  p.Name,
		Type:  p.Type.String(),
		Roles: p.Roles,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding remember-me cookie: %w", err)
	}
	c := r.base()
	c.Value = value
	if r.maxAge > 0 {
		c.MaxAge = r.maxAge
	}
	return c, nil
}

// Resolve decrypts a cookie value. Any failure yields no identity.
func (r *RememberMe) Resolve(value string) (domain.Principal, bool) {
	ctx := context.Background()
	if value == "" {
		r.metrics.RecordRememberMe(ctx, "absent")
		return domain.Principal{}, false
	}

	var pl payload
	if err := r.codec.Decode(r.name, value, &pl); err != nil || pl.ID == "" {
		r.metrics.RecordRememberMe(ctx, "decode_failed")
		return domain.Principal{}, false
	}

	r.metrics.RecordRememberMe(ctx, "resolved")
	name := pl.Name
	if name == "" {
		name = pl.ID
	}
	return domain.Principal{
		ID:         pl.ID,
		Name:       name,
		Type:       domain.ParsePrincipalType(pl.Type),
		Roles:      pl.Roles,
		Source:     Source,
		Remembered: true,
	}, true
}

// Clear returns a cookie that deletes the remember-me cookie.
func (r *RememberMe) Clear() *http.Cookie {
	c := r.base()
	c.MaxAge = -1
	return c
}

func (r *RememberMe) base() *http.Cookie {
	return &http.Cookie{
		Name:     r.name,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
