// Command mockbackend is a demo upstream that trusts the principal headers
// authgate injects and echoes them back.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"authgate/internal/domain"
	"authgate/internal/gateway/adapter/proxy"
	"authgate/internal/gateway/middleware"
	"authgate/internal/platform/server"
)

type identity struct {
	ID         string   `json:"id,omitempty"`
	Name       string   `json:"name,omitempty"`
	Type       string   `json:"type,omitempty"`
	Roles      []string `json:"roles,omitempty"`
	Remembered bool     `json:"remembered"`
}

func identityFrom(r *http.Request) identity {
	id := identity{
		ID:         r.Header.Get(proxy.HeaderPrincipalID),
		Name:       r.Header.Get(proxy.HeaderPrincipalName),
		Type:       r.Header.Get(proxy.HeaderPrincipalType),
		Remembered: r.Header.Get(proxy.HeaderRemembered) == "true",
	}
	if roles := r.Header.Get(proxy.HeaderPrincipalRoles); roles != "" {
		id.Roles = strings.Split(roles, ",")
	}
	return id
}

type backend struct {
	name   string
	base   time.Duration
	jitter time.Duration
}

func (b backend) echo(w http.ResponseWriter, r *http.Request) {
	b.simulateWork()
	writeJSON(w, map[string]any{
		"backend":               b.name,
		"method":                r.Method,
		"path":                  r.URL.Path,
		"principal":             identityFrom(r),
		"request_id":            r.Header.Get(middleware.RequestIDHeader),
		"authorization_present": r.Header.Get("Authorization") != "",
	})
}

// requireRole refuses remembered identities and principals lacking role.
func requireRole(role string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := identityFrom(r)
		if id.ID == "" {
			middleware.WriteMappedError(w, nil, domain.ErrUnauthorized)
			return
		}
		if id.Remembered {
			middleware.WriteMappedError(w, nil, fmt.Errorf("%s is only remembered: %w", id.ID, domain.ErrUnauthorized))
			return
		}
		if !slices.Contains(id.Roles, role) {
			middleware.WriteMappedError(w, nil, fmt.Errorf("%s lacks role %q: %w", id.ID, role, domain.ErrForbidden))
			return
		}
		next(w, r)
	}
}

// simulateWork sleeps for base + random(0, jitter).
func (b backend) simulateWork() {
	delay := b.base
	if b.jitter > 0 {
		delay += time.Duration(rand.Int64N(int64(b.jitter)))
	}
	if delay > 0 {
		time.Sleep(delay)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

func main() {
	addr := envOr("ADDR", ":8082")
	b := backend{
		name:   envOr("BACKEND_NAME", "mock-app"),
		base:   envMillis("LATENCY_BASE"),
		jitter: envMillis("LATENCY_JITTER"),
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	slog.Info("mock backend starting", "addr", addr, "name", b.name,
		"latency_base", b.base, "latency_jitter", b.jitter)

	mux := http.NewServeMux()
	mux.HandleFunc("/", b.echo)
	mux.HandleFunc("/admin/", requireRole("admin", b.echo))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok", "service": b.name})
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.New(addr, mux).Run(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envMillis reads a whole number of milliseconds, e.g. "50" -> 50ms.
func envMillis(key string) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key) + "ms")
	if err != nil {
		return 0
	}
	return d
}
