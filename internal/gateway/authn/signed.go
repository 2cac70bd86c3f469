package authn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"authgate/internal/domain"
	gw "authgate/internal/gateway"
)

const maxClockSkew = 30 * time.Second

// Claims is the payload of the bearer tokens this service issues and accepts.
type Claims struct {
	Name  string   `json:"name,omitempty"`
	Type  string   `json:"type,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// SignedTokenConfig configures a SignedTokenVerifier. At least one of
// Secret and Keys must be set.
type SignedTokenConfig struct {
	// Secret verifies HS256 tokens.
	Secret []byte
	// Keys resolves RS256 verification keys by kid.
	Keys gw.KeyResolver
	// Issuer, when set, must match the iss claim.
	Issuer string
	Leeway time.Duration
}

// SignedTokenVerifier checks a token's signature and expiry. It never
// consults a credential store.
type SignedTokenVerifier struct {
	secret  []byte
	keys    gw.KeyResolver
	methods []string
	opts    []jwt.ParserOption
}

// NewSignedTokenVerifier creates a verifier from cfg.
func NewSignedTokenVerifier(cfg SignedTokenConfig) (*SignedTokenVerifier, error) {
	var methods []string
	if len(cfg.Secret) > 0 {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	if cfg.Keys != nil {
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("signed token verifier needs a secret or a key resolver: %w", domain.ErrBadArgument)
	}

	leeway := cfg.Leeway
	if leeway == 0 {
		leeway = maxClockSkew
	}

	// SECURITY: pin the accepted algorithms to prevent algorithm confusion attacks
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithLeeway(leeway),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	return &SignedTokenVerifier{
		secret:  cfg.Secret,
		keys:    cfg.Keys,
		methods: methods,
		opts:    opts,
	}, nil
}

// Methods returns the accepted signing algorithms.
func (v *SignedTokenVerifier) Methods() []string {
	return append([]string(nil), v.methods...)
}

// Verify parses raw and returns the principal named by its claims.
func (v *SignedTokenVerifier) Verify(ctx context.Context, raw string) (domain.Principal, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodHMAC:
			return v.secret, nil
		case *jwt.SigningMethodRSA:
			kid, ok := t.Header["kid"].(string)
			if !ok || kid == "" {
				return nil, domain.ErrTokenDecodeFailed
			}
			return v.keys.GetKey(ctx, kid)
		default:
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
	}, v.opts...)

	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return domain.Principal{}, fmt.Errorf("%w: %w", domain.ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return domain.Principal{}, fmt.Errorf("%w: %w", domain.ErrTokenDecodeFailed, err)
	default:
		return domain.Principal{}, fmt.Errorf("%w: %w", domain.ErrVerificationFailed, err)
	}

	if claims.Subject == "" {
		return domain.Principal{}, fmt.Errorf("token has no subject: %w", domain.ErrVerificationFailed)
	}

	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	p := domain.Principal{
		ID:    claims.Subject,
		Name:  name,
		Type:  domain.ParsePrincipalType(claims.Type),
		Roles: claims.Roles,
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}

// TokenSigner issues HS256 bearer tokens that a SignedTokenVerifier with the
// same secret accepts.
type TokenSigner struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenSigner creates a signer. clock is injectable for deterministic testing.
func NewTokenSigner(secret []byte, issuer string, ttl time.Duration, clock func() time.Time) (*TokenSigner, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("token signer needs a secret: %w", domain.ErrBadArgument)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s: %w", ttl, domain.ErrBadArgument)
	}
	if clock == nil {
		clock = time.Now
	}
	return &TokenSigner{secret: secret, issuer: issuer, ttl: ttl, now: clock}, nil
}

// TTL returns the lifetime of issued tokens.
func (s *TokenSigner) TTL() time.Duration { return s.ttl }

// Sign issues a token for p and returns it with its expiry time.
func (s *TokenSigner) Sign(p domain.Principal) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := Claims{
		Name:  p.Name,
		Type:  p.Type.String(),
		Roles: p.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, exp, nil
}
