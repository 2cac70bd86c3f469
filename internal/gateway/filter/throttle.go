package filter

import (
	"net"
	"net/http"

	"authgate/internal/domain"
	"authgate/internal/gateway/middleware"
)

// throttle enforces a per client IP request rate.
func (f *filters) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.opts.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		if result := f.opts.Limiter.Allow(clientIP(r)); !result.Allowed {
			f.opts.Metrics.RecordThrottleDecision(r.Context(), "denied")
			f.opts.Metrics.RecordFilterDecision(r.Context(), Throttle, "deny")
			middleware.WriteError(w, http.StatusTooManyRequests, domain.ErrorResponse{
				Error:      "rate_limited",
				Message:    "too many requests",
				RetryAfter: result.RetryAfter,
			})
			return
		}
		f.opts.Metrics.RecordThrottleDecision(r.Context(), "allowed")
		f.opts.Metrics.RecordFilterDecision(r.Context(), Throttle, "allow")
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	// X-Forwarded-For is client-controlled and not trusted here.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
