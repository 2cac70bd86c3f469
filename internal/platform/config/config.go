package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"authgate/internal/domain"
	"authgate/internal/gateway/authn"
)

// Config holds all configuration for the authgate service.
type Config struct {
	Addr        string
	UpstreamURL string // empty serves the built-in whoami handler
	LogLevel    string

	FilterChainFile string // empty uses the embedded default rules
	AccountsFile    string
	PolicyFile      string // casbin CSV policy for the mac filter

	LoginURL        string
	UnauthorizedURL string

	// SessionTimeout is the raw SESSION_TIMEOUT value; see Session.
	SessionTimeout string

	Token      TokenConfig
	Hash       HashConfig
	Cache      CacheConfig
	RememberMe RememberMeConfig
	RateLimit  RateLimitConfig
}

// TokenConfig configures bearer token issue and verification.
type TokenConfig struct {
	BearerHeader string
	Secret       string // HS256 secret; empty generates an ephemeral one
	Issuer       string
	TTL          time.Duration
	JWKSEndpoint string // optional RS256 key source
	JWKSRefresh  time.Duration
}

// HashConfig configures stored password verification.
type HashConfig struct {
	Algorithm     string
	Iterations    int
	MaxConcurrent int
}

// CacheConfig configures the verification cache. A zero TTL disables it.
type CacheConfig struct {
	TTL  time.Duration
	Size int
}

// RememberMeConfig configures the remember-me cookie. An empty key
// disables remember-me.
type RememberMeConfig struct {
	Key    string // base64 AES key
	MaxAge int    // seconds; -1 expires with the browser session
	Secure bool
}

// RateLimitConfig holds token bucket parameters for the throttle filter.
type RateLimitConfig struct {
	Rate  float64
	Burst int
}

const minSecretLen = 16

// Load reads configuration from environment variables, falling back to defaults.
func Load() Config {
	return Config{
		Addr:            envOr("AUTHGATE_ADDR", ":8080"),
		UpstreamURL:     os.Getenv("UPSTREAM_URL"),
		LogLevel:        envOr("LOG_LEVEL", "info"),
		FilterChainFile: os.Getenv("FILTER_CHAIN_FILE"),
		AccountsFile:    os.Getenv("ACCOUNTS_FILE"),
		PolicyFile:      os.Getenv("POLICY_FILE"),
		LoginURL:        envOr("LOGIN_URL", "/admin/auth/401"),
		UnauthorizedURL: envOr("UNAUTHORIZED_URL", "/admin/auth/403"),
		SessionTimeout:  envOr("SESSION_TIMEOUT", "never"),
		Token: TokenConfig{
			BearerHeader: envOr("BEARER_HEADER", "Authorization"),
			Secret:       os.Getenv("TOKEN_SECRET"),
			Issuer:       envOr("TOKEN_ISSUER", "authgate"),
			TTL:          envDuration("TOKEN_TTL", time.Hour),
			JWKSEndpoint: os.Getenv("JWKS_ENDPOINT"),
			JWKSRefresh:  envDuration("JWKS_REFRESH", 5*time.Minute),
		},
		Hash: HashConfig{
			Algorithm:     envOr("HASH_ALGORITHM", authn.DefaultAlgorithm),
			Iterations:    envInt("HASH_ITERATIONS", authn.DefaultIterations),
			MaxConcurrent: envInt("HASH_MAX_CONCURRENT", 0),
		},
		Cache: CacheConfig{
			TTL:  envDuration("AUTH_CACHE_TTL", 0),
			Size: envInt("AUTH_CACHE_SIZE", 1024),
		},
		RememberMe: RememberMeConfig{
			Key:    os.Getenv("REMEMBER_ME_KEY"),
			MaxAge: envInt("REMEMBER_ME_MAX_AGE", -1),
			Secure: envBool("REMEMBER_ME_SECURE", false),
		},
		RateLimit: RateLimitConfig{
			Rate:  envFloat("RATE_LIMIT_RATE", 100),
			Burst: envInt("RATE_LIMIT_BURST", 20),
		},
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format+": %w", append(args, domain.ErrBadArgument)...))
	}

	if _, err := authn.LookupDigest(c.Hash.Algorithm); err != nil {
		errs = append(errs, err)
	}
	if c.Hash.Iterations < 1 {
		bad("HASH_ITERATIONS must be at least 1, got %d", c.Hash.Iterations)
	}
	if c.Token.Secret != "" && len(c.Token.Secret) < minSecretLen {
		bad("TOKEN_SECRET must be at least %d bytes", minSecretLen)
	}
	if c.Token.TTL <= 0 {
		bad("TOKEN_TTL must be positive, got %s", c.Token.TTL)
	}
	if c.Cache.TTL < 0 {
		bad("AUTH_CACHE_TTL must not be negative, got %s", c.Cache.TTL)
	}
	if c.Cache.TTL > 0 && c.Cache.Size < 1 {
		bad("AUTH_CACHE_SIZE must be positive when caching, got %d", c.Cache.Size)
	}
	if _, err := c.RememberMeKey(); err != nil {
		errs = append(errs, err)
	}
	if c.RememberMe.MaxAge == 0 || c.RememberMe.MaxAge < -1 {
		bad("REMEMBER_ME_MAX_AGE must be -1 or positive, got %d", c.RememberMe.MaxAge)
	}
	if c.RateLimit.Rate <= 0 || c.RateLimit.Burst < 1 {
		bad("RATE_LIMIT_RATE and RATE_LIMIT_BURST must be positive")
	}
	if !strings.HasPrefix(c.LoginURL, "/") || !strings.HasPrefix(c.UnauthorizedURL, "/") {
		bad("LOGIN_URL and UNAUTHORIZED_URL must be absolute paths")
	}
	if _, _, err := c.Session(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RememberMeKey decodes the remember-me key. It returns nil when
// remember-me is disabled.
func (c Config) RememberMeKey() ([]byte, error) {
	if c.RememberMe.Key == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(c.RememberMe.Key)
	if err != nil {
		return nil, fmt.Errorf("REMEMBER_ME_KEY is not valid base64: %w", domain.ErrBadArgument)
	}
	switch len(key) {
	case 16, 24, 32:
		return key, nil
	default:
		return nil, fmt.Errorf("REMEMBER_ME_KEY must decode to 16, 24 or 32 bytes, got %d: %w", len(key), domain.ErrBadArgument)
	}
}

// Session parses SessionTimeout. legacy reports a negative value, which is
// accepted as "never expire".
func (c Config) Session() (timeout domain.SessionTimeout, legacy bool, err error) {
	timeout, legacy, err = domain.ParseSessionTimeout(c.SessionTimeout)
	if err != nil {
		return domain.SessionTimeout{}, false, fmt.Errorf("SESSION_TIMEOUT: %w", err)
	}
	return timeout, legacy, nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", fallback)
			return fallback
		}
		return n
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			slog.Warn("invalid float env var, using default", "key", key, "value", v, "default", fallback)
			return fallback
		}
		return f
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("invalid duration env var, using default", "key", key, "value", v, "default", fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			slog.Warn("invalid boolean env var, using default", "key", key, "value", v, "default", fallback)
			return fallback
		}
		return b
	}
	return fallback
}
