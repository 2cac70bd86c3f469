package middleware

import (
	"net/http"
	"time"

	gw "authgate/internal/gateway"
	"authgate/internal/platform/telemetry"
)

// Metrics returns middleware that records HTTP request metrics labeled by
// the matched filter chain pattern, which keeps label cardinality bounded.
// Place as the outermost middleware to capture the full request lifecycle.
func Metrics(m *telemetry.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &gw.StatusWriter{ResponseWriter: w, Code: http.StatusOK}
			rl, r := requestLog(r)

			next.ServeHTTP(sw, r)

			route := rl.Chain
			if route == "" {
				route = "unmatched"
			}
			m.RecordHTTPRequest(r.Context(), r.Method, route, sw.Code, time.Since(start).Seconds())
		})
	}
}
