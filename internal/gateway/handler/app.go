package handler

import (
	"net/http"
)

// App lists the handlers mounted behind the filter chains.
type App struct {
	Auth *Auth
	// Upstream receives every path the gateway does not serve itself.
	// Nil falls back to WhoAmI.
	Upstream http.Handler
	Ready    []ReadyCheck
}

// Handler returns the application mux.
func (a App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/user/login", a.Auth.Login)
	mux.HandleFunc("/user/logout", a.Auth.Logout)
	mux.Handle("GET /admin/auth/401", StatusPage(http.StatusUnauthorized))
	mux.Handle("GET /admin/auth/403", StatusPage(http.StatusForbidden))
	mux.Handle("GET /admin/auth/404", StatusPage(http.StatusNotFound))
	mux.HandleFunc("GET /healthz", Healthz)
	mux.Handle("GET /readyz", Readyz(a.Ready...))

	upstream := a.Upstream
	if upstream == nil {
		upstream = http.HandlerFunc(WhoAmI)
	}
	mux.Handle("/", upstream)
	return mux
}
