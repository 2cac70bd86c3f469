package filter

import (
	"log/slog"
	"net/http"

	"authgate/internal/domain"
	gw "authgate/internal/gateway"
	"authgate/internal/gateway/middleware"
)

// jwt requires a valid signed token in the bearer header. Failures are
// answered with 401 JSON and never redirected, since callers are API clients.
func (f *filters) jwt(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r, f.opts.BearerHeader)
		if !ok {
			f.opts.Metrics.RecordFilterDecision(r.Context(), JWT, "unauthorized")
			middleware.WriteError(w, http.StatusUnauthorized, domain.ErrorResponse{
				Error:   "unauthorized",
				Message: "missing or malformed bearer token",
			})
			return
		}

		p, err := f.opts.Authenticator.Authenticate(r.Context(), domain.BearerToken{Raw: raw})
		if err != nil {
			slog.Debug("token rejected",
				"path", r.URL.Path,
				"request_id", gw.RequestIDFromContext(r.Context()),
				"error", err,
			)
			f.opts.Metrics.RecordFilterDecision(r.Context(), JWT, "unauthorized")
			middleware.WriteMappedError(w, f.opts.Errors, err)
			return
		}

		f.opts.Metrics.RecordFilterDecision(r.Context(), JWT, "allow")
		next.ServeHTTP(w, withPrincipal(r, p))
	})
}
