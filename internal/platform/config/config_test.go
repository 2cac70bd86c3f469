package config_test

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"authgate/internal/domain"
	"authgate/internal/gateway/filter"
	"authgate/internal/platform/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg := config.Load()

	if cfg.Addr != ":8080" {
		t.Errorf("expected default addr :8080, got %q", cfg.Addr)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %q", cfg.LogLevel)
	}
	if cfg.LoginURL != "/admin/auth/401" || cfg.UnauthorizedURL != "/admin/auth/403" {
		t.Errorf("unexpected redirect targets %q %q", cfg.LoginURL, cfg.UnauthorizedURL)
	}
	if cfg.Token.BearerHeader != "Authorization" {
		t.Errorf("expected bearer header Authorization, got %q", cfg.Token.BearerHeader)
	}
	if cfg.Token.TTL != time.Hour {
		t.Errorf("expected token TTL 1h, got %s", cfg.Token.TTL)
	}
	if cfg.Hash.Algorithm != "md5" || cfg.Hash.Iterations != 1024 {
		t.Errorf("expected md5/1024, got %s/%d", cfg.Hash.Algorithm, cfg.Hash.Iterations)
	}
	if cfg.Cache.TTL != 0 {
		t.Errorf("expected caching off by default, got %s", cfg.Cache.TTL)
	}
	if cfg.RememberMe.MaxAge != -1 {
		t.Errorf("expected browser-session remember-me, got %d", cfg.RememberMe.MaxAge)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("AUTHGATE_ADDR", ":9090")
	t.Setenv("UPSTREAM_URL", "http://app:8000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("BEARER_HEADER", "X-Auth-Token")
	t.Setenv("TOKEN_TTL", "15m")
	t.Setenv("HASH_ALGORITHM", "sha-256")
	t.Setenv("HASH_ITERATIONS", "3")
	t.Setenv("AUTH_CACHE_TTL", "30s")
	t.Setenv("REMEMBER_ME_MAX_AGE", "604800")
	t.Setenv("REMEMBER_ME_SECURE", "true")
	t.Setenv("SESSION_TIMEOUT", "30m")

	cfg := config.Load()

	if cfg.Addr != ":9090" {
		t.Errorf("expected :9090, got %q", cfg.Addr)
	}
	if cfg.UpstreamURL != "http://app:8000" {
		t.Errorf("expected upstream URL, got %q", cfg.UpstreamURL)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("expected debug level, got %s", cfg.SlogLevel())
	}
	if cfg.Token.BearerHeader != "X-Auth-Token" {
		t.Errorf("expected custom bearer header, got %q", cfg.Token.BearerHeader)
	}
	if cfg.Token.TTL != 15*time.Minute {
		t.Errorf("expected 15m, got %s", cfg.Token.TTL)
	}
	if cfg.Hash.Algorithm != "sha-256" || cfg.Hash.Iterations != 3 {
		t.Errorf("expected sha-256/3, got %s/%d", cfg.Hash.Algorithm, cfg.Hash.Iterations)
	}
	if cfg.Cache.TTL != 30*time.Second {
		t.Errorf("expected 30s cache TTL, got %s", cfg.Cache.TTL)
	}
	if cfg.RememberMe.MaxAge != 604800 || !cfg.RememberMe.Secure {
		t.Errorf("unexpected remember-me config %+v", cfg.RememberMe)
	}
	timeout, legacy, err := cfg.Session()
	if err != nil || legacy || timeout.Duration != 30*time.Minute {
		t.Errorf("unexpected session timeout %v legacy=%v err=%v", timeout, legacy, err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config: %v", err)
	}
}

func TestLoadInvalidNumberFallsBack(t *testing.T) {
	t.Setenv("HASH_ITERATIONS", "lots")
	t.Setenv("TOKEN_TTL", "soon")

	cfg := config.Load()

	if cfg.Hash.Iterations != 1024 {
		t.Errorf("expected fallback iterations, got %d", cfg.Hash.Iterations)
	}
	if cfg.Token.TTL != time.Hour {
		t.Errorf("expected fallback TTL, got %s", cfg.Token.TTL)
	}
}

func TestRateLimitDefaults(t *testing.T) {
	cfg := config.Load()

	if cfg.RateLimit.Rate != 100 {
		t.Errorf("expected rate 100, got %f", cfg.RateLimit.Rate)
	}
	if cfg.RateLimit.Burst != 20 {
		t.Errorf("expected burst 20, got %d", cfg.RateLimit.Burst)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"unknown digest", func(c *config.Config) { c.Hash.Algorithm = "crc32" }, "crc32"},
		{"zero iterations", func(c *config.Config) { c.Hash.Iterations = 0 }, "HASH_ITERATIONS"},
		{"short secret", func(c *config.Config) { c.Token.Secret = "short" }, "TOKEN_SECRET"},
		{"zero token ttl", func(c *config.Config) { c.Token.TTL = 0 }, "TOKEN_TTL"},
		{"negative cache ttl", func(c *config.Config) { c.Cache.TTL = -time.Second }, "AUTH_CACHE_TTL"},
		{"empty cache", func(c *config.Config) { c.Cache.TTL = time.Second; c.Cache.Size = 0 }, "AUTH_CACHE_SIZE"},
		{"bad remember-me key", func(c *config.Config) { c.RememberMe.Key = "!!!" }, "REMEMBER_ME_KEY"},
		{"zero max age", func(c *config.Config) { c.RememberMe.MaxAge = 0 }, "REMEMBER_ME_MAX_AGE"},
		{"zero burst", func(c *config.Config) { c.RateLimit.Burst = 0 }, "RATE_LIMIT"},
		{"relative login url", func(c *config.Config) { c.LoginURL = "login" }, "LOGIN_URL"},
		{"zero session", func(c *config.Config) { c.SessionTimeout = "0" }, "SESSION_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Load()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, domain.ErrBadArgument) {
				t.Fatalf("expected ErrBadArgument, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateReportsAllErrors(t *testing.T) {
	cfg := config.Load()
	cfg.Hash.Iterations = 0
	cfg.Token.TTL = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"HASH_ITERATIONS", "TOKEN_TTL"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

func TestRememberMeKey(t *testing.T) {
	cfg := config.Load()

	key, err := cfg.RememberMeKey()
	if err != nil || key != nil {
		t.Fatalf("expected disabled remember-me, got %v %v", key, err)
	}

	raw := []byte("0123456789abcdef")
	cfg.RememberMe.Key = base64.StdEncoding.EncodeToString(raw)
	key, err = cfg.RememberMeKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(key) != string(raw) {
		t.Errorf("unexpected key %q", key)
	}

	cfg.RememberMe.Key = base64.StdEncoding.EncodeToString([]byte("too short"))
	if _, err := cfg.RememberMeKey(); !errors.Is(err, domain.ErrBadArgument) {
		t.Errorf("expected ErrBadArgument for a 9 byte key, got %v", err)
	}
}

func TestSessionLegacyNegative(t *testing.T) {
	cfg := config.Load()
	cfg.SessionTimeout = "-1000"

	timeout, legacy, err := cfg.Session()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !legacy || !timeout.NoExpiry {
		t.Errorf("expected legacy never-expire, got %v legacy=%v", timeout, legacy)
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		cfg := config.Config{LogLevel: in}
		if got := cfg.SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestDefaultRules(t *testing.T) {
	rs := config.DefaultRules()

	if !slices.Equal(rs.Default, []string{filter.Authc}) {
		t.Errorf("expected default chain authc, got %v", rs.Default)
	}

	index := func(pattern string) int {
		return slices.IndexFunc(rs.Rules, func(r filter.Rule) bool { return r.Pattern == pattern })
	}
	for _, p := range []string{"/index.jsp", "/user/login", "/jwt/**", "/admin/auth/401", "/admin/**", "/hls/**"} {
		if index(p) < 0 {
			t.Errorf("missing rule %s", p)
		}
	}
	if index("/admin/auth/401") > index("/admin/**") {
		t.Error("/admin/auth/401 must precede /admin/** or the login page is unreachable")
	}

	jwtRule := rs.Rules[index("/jwt/**")]
	if !slices.Equal(jwtRule.Filters, []string{filter.JWT, filter.Anon}) {
		t.Errorf("unexpected /jwt/** filters %v", jwtRule.Filters)
	}
}

func TestDefaultRulesRoute(t *testing.T) {
	rs := config.DefaultRules()
	router, err := filter.NewRouter(rs.Rules, rs.Default, filter.Builtin(filter.Options{}))
	if err != nil {
		t.Fatalf("default rules rejected: %v", err)
	}

	tests := []struct {
		path string
		want []string
	}{
		{"/admin/auth/401", []string{filter.Anon}},
		{"/admin/users", []string{filter.Authc}},
		{"/admin/x/../auth/403", []string{filter.Anon}},
		{"/jwt/orders/7", []string{filter.JWT, filter.Anon}},
		{"/static/app.css", []string{filter.Anon}},
		{"/index.jsp", []string{filter.Authc}},
		{"/orders", []string{filter.Authc}},
	}
	for _, tt := range tests {
		if got := router.Route(tt.path).Filters; !slices.Equal(got, tt.want) {
			t.Errorf("Route(%s) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadRules(t *testing.T) {
	path := writeFile(t, "chains.yaml", `
default: anon
rules:
  - pattern: /api/**
    filters: throttle, authc
  - pattern: /admin/**
    filters: authc,mac
`)

	rs, err := config.LoadRules(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(rs.Default, []string{filter.Anon}) {
		t.Errorf("unexpected default %v", rs.Default)
	}
	if len(rs.Rules) != 2 || rs.Rules[0].Pattern != "/api/**" {
		t.Fatalf("unexpected rules %v", rs.Rules)
	}
	if !slices.Equal(rs.Rules[0].Filters, []string{filter.Throttle, filter.Authc}) {
		t.Errorf("unexpected filters %v", rs.Rules[0].Filters)
	}
}

func TestLoadRulesEmptyPathUsesDefaults(t *testing.T) {
	rs, err := config.LoadRules("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rs.Rules) != len(config.DefaultRules().Rules) {
		t.Errorf("expected the default rule set, got %d rules", len(rs.Rules))
	}
}

func TestParseRulesErrors(t *testing.T) {
	tests := map[string]string{
		"unknown field":     "rules:\n  - pattern: /a\n    filter: anon\n",
		"missing pattern":   "rules:\n  - filters: anon\n",
		"empty filters":     "rules:\n  - pattern: /a\n    filters: ' , '\n",
		"duplicate pattern": "rules:\n  - pattern: /a\n    filters: anon\n  - pattern: /a\n    filters: authc\n",
		"not yaml":          "rules: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := config.ParseRules([]byte(doc)); !errors.Is(err, domain.ErrBadArgument) {
				t.Errorf("expected ErrBadArgument, got %v", err)
			}
		})
	}
}

func TestLoadRulesMissingFile(t *testing.T) {
	if _, err := config.LoadRules(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestLoadAccounts(t *testing.T) {
	path := writeFile(t, "accounts.yaml", `
accounts:
  - username: alice
    salt: alice-salt
    password_hash: 33981eb7cd5347a6ef5ebe650010e0af
    name: Alice
    roles: [admin, ops]
  - username: build-bot
    password_hash: abcd
    id: svc-7
    type: service
    disabled: true
`)

	accts, err := config.LoadAccounts(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(accts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accts))
	}

	alice := accts[0]
	if alice.Username != "alice" || alice.Salt != "alice-salt" || alice.Name != "Alice" {
		t.Errorf("unexpected account %+v", alice)
	}
	if !slices.Equal(alice.Roles, []string{"admin", "ops"}) {
		t.Errorf("unexpected roles %v", alice.Roles)
	}
	if p := alice.Principal("accounts"); p.Type != domain.PrincipalUser || p.ID != "alice" {
		t.Errorf("unexpected principal %+v", p)
	}

	bot := accts[1]
	if bot.Type != domain.PrincipalService || bot.ID != "svc-7" || !bot.Disabled {
		t.Errorf("unexpected account %+v", bot)
	}
}

func TestLoadAccountsEmptyPath(t *testing.T) {
	accts, err := config.LoadAccounts("")
	if err != nil || accts != nil {
		t.Errorf("expected no accounts, got %v %v", accts, err)
	}
}

func TestParseAccountsErrors(t *testing.T) {
	tests := map[string]string{
		"missing hash":       "accounts:\n  - username: a\n",
		"duplicate username": "accounts:\n  - username: a\n    password_hash: x\n  - username: a\n    password_hash: y\n",
		"unknown field":      "accounts:\n  - username: a\n    password: x\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := config.ParseAccounts([]byte(doc)); !errors.Is(err, domain.ErrBadArgument) {
				t.Errorf("expected ErrBadArgument, got %v", err)
			}
		})
	}
}
