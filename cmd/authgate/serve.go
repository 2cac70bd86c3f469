package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"authgate/internal/gateway/service"
	"authgate/internal/platform/config"
	"authgate/internal/platform/server"
	"authgate/internal/platform/telemetry"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Long: `Run the gateway.

Settings come from the environment: AUTHGATE_ADDR, UPSTREAM_URL, LOG_LEVEL,
FILTER_CHAIN_FILE, ACCOUNTS_FILE, POLICY_FILE, LOGIN_URL, UNAUTHORIZED_URL,
SESSION_TIMEOUT, BEARER_HEADER, TOKEN_SECRET, TOKEN_ISSUER, TOKEN_TTL,
JWKS_ENDPOINT, JWKS_REFRESH, HASH_ALGORITHM, HASH_ITERATIONS,
HASH_MAX_CONCURRENT, AUTH_CACHE_TTL, AUTH_CACHE_SIZE, REMEMBER_ME_KEY,
REMEMBER_ME_MAX_AGE, REMEMBER_ME_SECURE, RATE_LIMIT_RATE, RATE_LIMIT_BURST.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if addr != "" {
				cfg.Addr = addr
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides AUTHGATE_ADDR)")
	return cmd
}

func serve(parent context.Context, cfg config.Config) error {
	// Logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry
	shutdown, err := telemetry.Setup(ctx, "authgate")
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			slog.Error("telemetry shutdown error", "error", err)
		}
	}()

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		slog.Error("metrics initialization failed", "error", err)
		return err
	}

	svc, err := service.New(cfg, logger, metrics)
	if err != nil {
		slog.Error("gateway initialization failed", "error", err)
		return err
	}
	go svc.Run(ctx)

	srv := server.New(cfg.Addr, svc.Handler(), server.WithErrorLog(logger))

	slog.Info("authgate starting",
		"addr", cfg.Addr,
		"upstream_url", cfg.UpstreamURL,
		"login_url", cfg.LoginURL,
		"unauthorized_url", cfg.UnauthorizedURL,
	)

	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
		return err
	}
	return nil
}
