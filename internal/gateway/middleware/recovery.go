package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	gw "authgate/internal/gateway"
)

// Recovery catches panics from downstream handlers and answers with the
// mapped JSON error. A panic carrying an error is mapped like a returned
// error; any other value becomes a 500.
func Recovery(mapper gw.ErrorMapper) Middleware {
	if mapper == nil {
		mapper = DefaultErrorMapper{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				err, ok := rec.(error)
				if !ok {
					err = fmt.Errorf("panic: %v", rec)
				}
				slog.Error("panic recovered",
					"error", err,
					"request_id", gw.RequestIDFromContext(r.Context()),
					"stack", string(debug.Stack()),
				)
				status, resp := mapper.MapError(err)
				WriteError(w, status, resp)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
