package proxy

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"authgate/internal/domain"
	gw "authgate/internal/gateway"
	"authgate/internal/gateway/middleware"
	"authgate/internal/platform/telemetry"
)

// Principal headers set on upstream requests. Upstreams trust these instead
// of re-verifying credentials, so clients may never supply them.
const (
	HeaderPrincipalID    = "X-Principal-ID"
	HeaderPrincipalName  = "X-Principal-Name"
	HeaderPrincipalType  = "X-Principal-Type"
	HeaderPrincipalRoles = "X-Principal-Roles"
	HeaderRemembered     = "X-Principal-Remembered"
)

// Upstream forwards requests that passed their filter chain to the
// protected application.
type Upstream struct {
	target  *url.URL
	rp      *httputil.ReverseProxy
	metrics *telemetry.Metrics
}

// New creates a reverse proxy to upstreamURL.
// The metrics parameter is optional; pass nil to skip metric recording.
func New(upstreamURL string, m *telemetry.Metrics) (*Upstream, error) {
	target, err := url.Parse(upstreamURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream URL: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("upstream URL %q needs a scheme and host: %w", upstreamURL, domain.ErrBadArgument)
	}

	u := &Upstream{target: target, metrics: m}
	u.rp = &httputil.ReverseProxy{
		Director:     u.direct,
		ErrorHandler: u.fail,
	}
	return u, nil
}

func (u *Upstream) direct(req *http.Request) {
	req.URL.Scheme = u.target.Scheme
	req.URL.Host = u.target.Host
	if base := strings.TrimSuffix(u.target.Path, "/"); base != "" {
		req.URL.Path = base + req.URL.Path
		req.URL.RawPath = ""
	}
	req.Host = u.target.Host

	// Upstreams trust the principal headers, never the raw credential.
	req.Header.Del("Authorization")
	for name := range req.Header {
		if strings.HasPrefix(name, "X-Principal-") {
			req.Header.Del(name)
		}
	}

	if p, ok := gw.CurrentUser(req.Context()); ok {
		req.Header.Set(HeaderPrincipalID, p.ID)
		req.Header.Set(HeaderPrincipalType, p.Type.String())
		if p.Name != "" {
			req.Header.Set(HeaderPrincipalName, p.Name)
		}
		if len(p.Roles) > 0 {
			req.Header.Set(HeaderPrincipalRoles, strings.Join(p.Roles, ","))
		}
		if p.Remembered {
			req.Header.Set(HeaderRemembered, "true")
		}
	}

	// Propagate request ID
	if reqID := gw.RequestIDFromContext(req.Context()); reqID != "" {
		req.Header.Set(middleware.RequestIDHeader, reqID)
	}
}

func (u *Upstream) fail(w http.ResponseWriter, req *http.Request, err error) {
	slog.Error("upstream request failed",
		"upstream", u.target.Host,
		"path", req.URL.Path,
		"request_id", gw.RequestIDFromContext(req.Context()),
		"error", err,
	)
	middleware.WriteError(w, http.StatusBadGateway, domain.ErrorResponse{
		Error:   "bad_gateway",
		Message: "upstream unavailable",
	})
}

func (u *Upstream) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	sw := &gw.StatusWriter{ResponseWriter: w, Code: http.StatusOK}
	u.rp.ServeHTTP(sw, req)

	u.metrics.RecordProxyRequest(req.Context(), u.target.Host, sw.Code, time.Since(start).Seconds())
}
