package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"authgate/internal/domain"
	gw "authgate/internal/gateway"
	"authgate/internal/gateway/middleware"
)

// StatusPage answers with the JSON envelope for status. It backs the
// redirect targets of the authentication filters.
func StatusPage(status int) http.Handler {
	var err error
	switch status {
	case http.StatusUnauthorized:
		err = domain.ErrUnauthorized
	case http.StatusForbidden:
		err = domain.ErrForbidden
	default:
		err = domain.ErrNotFound
	}
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteMappedError(w, nil, err)
	})
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyCheck reports whether a dependency is usable.
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Readyz reports readiness once every check passes.
func Readyz(checks ...ReadyCheck) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		failed := map[string]string{}
		for _, c := range checks {
			if err := c.Check(ctx); err != nil {
				slog.Warn("readiness check failed", "check", c.Name, "error", err)
				failed[c.Name] = err.Error()
			}
		}
		if len(failed) > 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "failed": failed})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
}

// WhoAmI echoes the identity the filter chain resolved. It stands in for
// the protected application when no upstream is configured.
func WhoAmI(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"authenticated": false,
		"path":          r.URL.Path,
		"chain":         gw.ChainFromContext(r.Context()),
		"request_id":    gw.RequestIDFromContext(r.Context()),
	}
	if p, ok := gw.CurrentUser(r.Context()); ok {
		_, authenticated := gw.PrincipalFromContext(r.Context())
		resp["authenticated"] = authenticated
		resp["principal"] = viewOf(p)
	}
	if s, ok := gw.SessionFromContext(r.Context()); ok {
		resp["session"] = map[string]string{"id": s.ID, "timeout": s.Timeout.String()}
	}
	writeJSON(w, http.StatusOK, resp)
}
