// Package service assembles the authentication gateway from configuration.
package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	gw "authgate/internal/gateway"
	"authgate/internal/gateway/adapter/casbinauthz"
	"authgate/internal/gateway/adapter/cookie"
	"authgate/internal/gateway/adapter/inmem"
	"authgate/internal/gateway/adapter/jwks"
	"authgate/internal/gateway/adapter/proxy"
	"authgate/internal/gateway/authn"
	"authgate/internal/gateway/filter"
	"authgate/internal/gateway/handler"
	"authgate/internal/gateway/middleware"
	"authgate/internal/platform/config"
	"authgate/internal/platform/telemetry"
)

const (
	// Source names, in the order the strategy consults them.
	TokenSourceName    = "jwt"
	PasswordSourceName = "accounts"

	throttlePruneInterval = time.Minute
)

// Service is a fully wired gateway.
type Service struct {
	handler  http.Handler
	throttle *inmem.Throttle
	jwks     *jwks.Client

	Accounts *inmem.AccountStore
	Access   *casbinauthz.Enforcer
	Router   *filter.Router
	Signer   *authn.TokenSigner
}

// New builds the gateway described by cfg. The metrics parameter may be nil.
func New(cfg config.Config, logger *slog.Logger, m *telemetry.Metrics) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{}

	secret := []byte(cfg.Token.Secret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		rand.Read(secret)
		logger.Warn("TOKEN_SECRET not set, using an ephemeral secret; issued tokens will not survive a restart")
	}

	accts, err := config.LoadAccounts(cfg.AccountsFile)
	if err != nil {
		return nil, err
	}
	s.Accounts = inmem.NewAccountStore(accts...)

	hashes, err := authn.NewHashedVerifier(cfg.Hash.Algorithm, cfg.Hash.Iterations,
		authn.WithMaxConcurrentHashes(cfg.Hash.MaxConcurrent))
	if err != nil {
		return nil, err
	}

	sourceOpts := []authn.SourceOption{authn.WithMetrics(m)}
	if cfg.Cache.TTL > 0 {
		sourceOpts = append(sourceOpts, authn.WithCache(inmem.NewVerificationCache(cfg.Cache.Size, cfg.Cache.TTL)))
	}

	tokenCfg := authn.SignedTokenConfig{Secret: secret, Issuer: cfg.Token.Issuer}
	if cfg.Token.JWKSEndpoint != "" {
		s.jwks = jwks.NewClient(cfg.Token.JWKSEndpoint, cfg.Token.JWKSRefresh, jwks.WithMetrics(m))
		tokenCfg.Keys = s.jwks
	}
	tokens, err := authn.NewSignedTokenVerifier(tokenCfg)
	if err != nil {
		return nil, err
	}

	strategy := authn.NewFirstSuccessful(
		authn.NewTokenSource(TokenSourceName, tokens, sourceOpts...),
		authn.NewPasswordSource(PasswordSourceName, s.Accounts, hashes, sourceOpts...),
	)

	s.Signer, err = authn.NewTokenSigner(secret, cfg.Token.Issuer, cfg.Token.TTL, nil)
	if err != nil {
		return nil, err
	}

	var remember gw.RememberMeManager
	key, err := cfg.RememberMeKey()
	if err != nil {
		return nil, err
	}
	if key != nil {
		rm, err := cookie.New(key,
			cookie.WithMaxAge(cfg.RememberMe.MaxAge),
			cookie.WithSecure(cfg.RememberMe.Secure),
			cookie.WithMetrics(m),
		)
		if err != nil {
			return nil, err
		}
		remember = rm
	}

	s.Access, err = casbinauthz.New(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	s.throttle = inmem.NewThrottle(cfg.RateLimit.Rate, cfg.RateLimit.Burst, nil)

	errs := middleware.DefaultErrorMapper{}
	reg := filter.Builtin(filter.Options{
		Authenticator:   strategy,
		RememberMe:      remember,
		Access:          s.Access,
		Limiter:         s.throttle,
		Errors:          errs,
		LoginURL:        cfg.LoginURL,
		UnauthorizedURL: cfg.UnauthorizedURL,
		BearerHeader:    cfg.Token.BearerHeader,
		Metrics:         m,
	})

	rules, err := config.LoadRules(cfg.FilterChainFile)
	if err != nil {
		return nil, err
	}
	s.Router, err = filter.NewRouter(rules.Rules, rules.Default, reg)
	if err != nil {
		return nil, err
	}
	warnRedirectLoops(logger, s.Router, cfg.LoginURL, cfg.UnauthorizedURL)

	var upstream http.Handler
	if cfg.UpstreamURL != "" {
		up, err := proxy.New(cfg.UpstreamURL, m)
		if err != nil {
			return nil, err
		}
		upstream = up
	}

	authOpts := []handler.AuthOption{handler.WithErrorMapper(errs)}
	if remember != nil {
		authOpts = append(authOpts, handler.WithRememberMe(remember))
	}
	app := handler.App{
		Auth:     handler.NewAuth(strategy, s.Signer, authOpts...),
		Upstream: upstream,
		Ready:    s.readyChecks(),
	}

	timeout, legacy, err := cfg.Session()
	if err != nil {
		return nil, err
	}
	if legacy {
		logger.Warn("negative SESSION_TIMEOUT treated as never", "value", cfg.SessionTimeout)
	}
	dispatcher, err := filter.NewDispatcher(s.Router, reg, app.Handler(),
		filter.WithSessionTimeout(timeout),
		filter.WithRememberMe(remember, cfg.Token.BearerHeader),
	)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.MetricsHandler())
	mux.Handle("/", middleware.Chain(
		dispatcher,
		middleware.Metrics(m),
		middleware.RequestID,
		middleware.Logging(logger),
		middleware.Recovery(errs),
	))
	s.handler = mux

	logger.Info("gateway assembled",
		"sources", strategy.SourceNames(),
		"rules", len(rules.Rules),
		"default_chain", rules.Default,
		"accounts", s.Accounts.Len(),
		"policies", s.Access.PolicyCount(),
		"remember_me", remember != nil,
		"jwks", cfg.Token.JWKSEndpoint != "",
		"cache_ttl", cfg.Cache.TTL,
		"session_timeout", timeout.String(),
		"upstream", cfg.UpstreamURL,
	)
	return s, nil
}

// Handler returns the root handler, including /metrics.
func (s *Service) Handler() http.Handler { return s.handler }

// Run performs background maintenance until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	if s.jwks != nil {
		if err := s.jwks.Warm(ctx); err != nil {
			slog.Warn("initial JWKS fetch failed", "error", err)
		}
	}
	s.throttle.Run(ctx, throttlePruneInterval)
}

func (s *Service) readyChecks() []handler.ReadyCheck {
	if s.jwks == nil {
		return nil
	}
	return []handler.ReadyCheck{{
		Name: "jwks",
		Check: func(ctx context.Context) error {
			if s.jwks.KeyCount() > 0 {
				return nil
			}
			return s.jwks.Warm(ctx)
		},
	}}
}

// warnRedirectLoops flags redirect targets that are themselves protected,
// which would bounce a failed request between the filter and the target.
func warnRedirectLoops(logger *slog.Logger, r *filter.Router, targets ...string) {
	protecting := []string{filter.Authc, filter.User, filter.JWT, filter.MAC}
	for _, target := range targets {
		chain := r.Route(target)
		if slices.ContainsFunc(chain.Filters, func(n string) bool { return slices.Contains(protecting, n) }) {
			logger.Warn("redirect target is protected by its own filter chain",
				"target", target,
				"chain", chain.Pattern,
				"filters", chain.Filters,
			)
		}
	}
}
