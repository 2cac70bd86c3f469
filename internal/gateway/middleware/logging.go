package middleware

import (
	"log/slog"
	"net/http"
	"time"

	gw "authgate/internal/gateway"
)

// Logging returns a middleware that logs each request using slog.
// Server errors are logged at error level.
func Logging(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &gw.StatusWriter{ResponseWriter: w, Code: http.StatusOK}
			rl, r := requestLog(r)

			next.ServeHTTP(sw, r)

			level := slog.LevelInfo
			if sw.Code >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.Code,
				"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
				"request_id", gw.RequestIDFromContext(r.Context()),
				"chain", rl.Chain,
				"principal_id", rl.PrincipalID,
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}

// requestLog returns the request's shared log record, installing one if
// no outer middleware did.
func requestLog(r *http.Request) (*gw.RequestLog, *http.Request) {
	if rl := gw.RequestLogFromContext(r.Context()); rl != nil {
		return rl, r
	}
	rl := &gw.RequestLog{}
	return rl, r.WithContext(gw.ContextWithRequestLog(r.Context(), rl))
}
