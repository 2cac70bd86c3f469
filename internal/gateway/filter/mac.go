package filter

import (
	"log/slog"
	"net/http"

	gw "authgate/internal/gateway"
	"authgate/internal/gateway/middleware"
)

// mac is the custom access-control filter. It runs after an authenticating
// filter and asks the access decider about the principal and path.
func (f *filters) mac(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := gw.PrincipalFromContext(r.Context())
		if !ok {
			f.opts.Metrics.RecordFilterDecision(r.Context(), MAC, "redirect")
			redirect(w, r, f.opts.LoginURL)
			return
		}

		allowed := false
		if f.opts.Access != nil {
			var err error
			allowed, err = f.opts.Access.Allowed(p, CleanPath(r.URL.Path), r.Method)
			if err != nil {
				f.opts.Metrics.RecordFilterDecision(r.Context(), MAC, "error")
				middleware.WriteMappedError(w, f.opts.Errors, err)
				return
			}
		}
		if !allowed {
			slog.Warn("access denied",
				"principal_id", p.ID,
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", gw.RequestIDFromContext(r.Context()),
			)
			f.opts.Metrics.RecordFilterDecision(r.Context(), MAC, "deny")
			redirect(w, r, f.opts.UnauthorizedURL)
			return
		}

		f.opts.Metrics.RecordFilterDecision(r.Context(), MAC, "allow")
		next.ServeHTTP(w, r)
	})
}
