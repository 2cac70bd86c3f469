package authn

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"authgate/internal/domain"
	gw "authgate/internal/gateway"
	"authgate/internal/platform/telemetry"
)

// SourceOption configures a credential source.
type SourceOption func(*sourceCommon)

// WithCache enables result caching for a source. A nil cache leaves caching off.
func WithCache(c gw.VerificationCache) SourceOption {
	return func(s *sourceCommon) { s.cache = c }
}

// WithMetrics records each verification. The metrics parameter may be nil.
func WithMetrics(m *telemetry.Metrics) SourceOption {
	return func(s *sourceCommon) { s.metrics = m }
}

type sourceCommon struct {
	name    string
	cache   gw.VerificationCache
	metrics *telemetry.Metrics
}

func newSourceCommon(name string, opts []SourceOption) sourceCommon {
	s := sourceCommon{name: name}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func (s *sourceCommon) Name() string { return s.name }

// cached returns a previously verified principal for token, if any.
func (s *sourceCommon) cached(ctx context.Context, key string) (domain.Principal, bool) {
	if s.cache == nil {
		return domain.Principal{}, false
	}
	p, ok := s.cache.Get(key)
	if ok && p.ExpiredAt(time.Now()) {
		ok = false
	}
	if ok {
		s.metrics.RecordCacheLookup(ctx, s.name, "hit")
	} else {
		s.metrics.RecordCacheLookup(ctx, s.name, "miss")
	}
	return p, ok
}

func (s *sourceCommon) remember(key string, p domain.Principal) {
	if s.cache != nil {
		s.cache.Add(key, p)
	}
}

func (s *sourceCommon) record(ctx context.Context, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "failure"
		slog.Debug("credential verification failed", "source", s.name, "error", err)
	}
	s.metrics.RecordAuthAttempt(ctx, s.name, result, time.Since(start).Seconds())
}

// cacheKey fingerprints a token so that only an identical credential hits.
func (s *sourceCommon) cacheKey(token domain.AuthenticationToken) string {
	h := sha256.New()
	h.Write([]byte(s.name))
	h.Write([]byte{0})
	h.Write([]byte(token.Kind().String()))
	h.Write([]byte{0})
	h.Write([]byte(token.Identifier()))
	h.Write([]byte{0})
	h.Write([]byte(token.Secret()))
	return hex.EncodeToString(h.Sum(nil))
}

// PasswordSource authenticates username/password tokens against an AccountStore.
type PasswordSource struct {
	sourceCommon
	accounts gw.AccountStore
	verifier *HashedVerifier
}

// NewPasswordSource creates a password-hash credential source.
func NewPasswordSource(name string, accounts gw.AccountStore, verifier *HashedVerifier, opts ...SourceOption) *PasswordSource {
	return &PasswordSource{
		sourceCommon: newSourceCommon(name, opts),
		accounts:     accounts,
		verifier:     verifier,
	}
}

// Supports reports whether token is a username/password token.
func (s *PasswordSource) Supports(token domain.AuthenticationToken) bool {
	return token != nil && token.Kind() == domain.KindUsernamePassword
}

// Authenticate verifies the password of the named account.
func (s *PasswordSource) Authenticate(ctx context.Context, token domain.AuthenticationToken) (p domain.Principal, err error) {
	upt, ok := token.(domain.UsernamePasswordToken)
	if !ok {
		return domain.Principal{}, domain.ErrUnsupportedCredential
	}

	key := s.cacheKey(upt)
	if p, ok := s.cached(ctx, key); ok {
		return p, nil
	}

	start := time.Now()
	defer func() { s.record(ctx, start, err) }()

	acct, err := s.accounts.Lookup(ctx, upt.Username)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("looking up %q: %w", upt.Username, err)
	}
	if acct.Disabled {
		return domain.Principal{}, fmt.Errorf("account %q: %w", upt.Username, domain.ErrAccountDisabled)
	}
	if err := s.verifier.Verify(ctx, upt.Password, acct); err != nil {
		return domain.Principal{}, err
	}

	p = acct.Principal(s.name)
	s.remember(key, p)
	return p, nil
}

// TokenSource authenticates bearer tokens by signature alone.
type TokenSource struct {
	sourceCommon
	verifier *SignedTokenVerifier
}

// NewTokenSource creates a signed-token credential source.
func NewTokenSource(name string, verifier *SignedTokenVerifier, opts ...SourceOption) *TokenSource {
	return &TokenSource{
		sourceCommon: newSourceCommon(name, opts),
		verifier:     verifier,
	}
}

// Supports reports whether token is a bearer token.
func (s *TokenSource) Supports(token domain.AuthenticationToken) bool {
	return token != nil && token.Kind() == domain.KindBearer
}

// Authenticate verifies the token signature and expiry.
func (s *TokenSource) Authenticate(ctx context.Context, token domain.AuthenticationToken) (p domain.Principal, err error) {
	bt, ok := token.(domain.BearerToken)
	if !ok {
		return domain.Principal{}, domain.ErrUnsupportedCredential
	}

	key := s.cacheKey(bt)
	if p, ok := s.cached(ctx, key); ok {
		return p, nil
	}

	start := time.Now()
	defer func() { s.record(ctx, start, err) }()

	p, err = s.verifier.Verify(ctx, bt.Raw)
	if err != nil {
		return domain.Principal{}, err
	}
	p.Source = s.name
	s.remember(key, p)
	return p, nil
}
