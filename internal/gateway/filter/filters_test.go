package filter_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"authgate/internal/domain"
	"authgate/internal/gateway"
	"authgate/internal/gateway/adapter/casbinauthz"
	"authgate/internal/gateway/adapter/cookie"
	"authgate/internal/gateway/adapter/inmem"
	"authgate/internal/gateway/authn"
	"authgate/internal/gateway/filter"
	"authgate/internal/testutil"
)

type countingAuthenticator struct {
	mu    sync.Mutex
	calls int
	next  gateway.Authenticator
}

func (a *countingAuthenticator) Authenticate(ctx context.Context, token domain.AuthenticationToken) (domain.Principal, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	if a.next == nil {
		return domain.Principal{}, domain.ErrUnsupportedCredential
	}
	return a.next.Authenticate(ctx, token)
}

func (a *countingAuthenticator) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// realAuthenticator wires a token source followed by a password source, the
// same order the service uses.
func realAuthenticator(t *testing.T) *countingAuthenticator {
	t.Helper()
	hv, err := authn.NewHashedVerifier(authn.DefaultAlgorithm, authn.DefaultIterations)
	if err != nil {
		t.Fatal(err)
	}
	tv, err := authn.NewSignedTokenVerifier(authn.SignedTokenConfig{Secret: testutil.TestSecret})
	if err != nil {
		t.Fatal(err)
	}
	accounts := inmem.NewAccountStore(testutil.FixtureAccount("alice", "wonderland", "admin", hv.Hash))
	return &countingAuthenticator{next: authn.NewFirstSuccessful(
		authn.NewTokenSource("jwt", tv),
		authn.NewPasswordSource("accounts", accounts, hv),
	)}
}

type captured struct {
	called    bool
	principal domain.Principal
	ok        bool
}

func appHandler(c *captured) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.called = true
		c.principal, c.ok = gateway.PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func newDispatcher(t *testing.T, opts filter.Options, rules []filter.Rule, app http.Handler, dopts ...filter.DispatcherOption) *filter.Dispatcher {
	t.Helper()
	if opts.LoginURL == "" {
		opts.LoginURL = "/admin/auth/401"
	}
	if opts.UnauthorizedURL == "" {
		opts.UnauthorizedURL = "/admin/auth/403"
	}
	reg := filter.Builtin(opts)
	router, err := filter.NewRouter(rules, []string{filter.Authc}, reg)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	d, err := filter.NewDispatcher(router, reg, app, dopts...)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return d
}

var appRules = []filter.Rule{
	{Pattern: "/user/login", Filters: []string{filter.Anon}},
	{Pattern: "/admin/auth/401", Filters: []string{filter.Anon}},
	{Pattern: "/admin/auth/403", Filters: []string{filter.Anon}},
	{Pattern: "/jwt/**", Filters: []string{filter.JWT, filter.Anon}},
	{Pattern: "/admin/**", Filters: []string{filter.Authc}},
	{Pattern: "/home/**", Filters: []string{filter.User}},
	{Pattern: "/ops/**", Filters: []string{filter.Authc, filter.MAC}},
	{Pattern: "/limited/**", Filters: []string{filter.Throttle, filter.Anon}},
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAnonNeverAuthenticates(t *testing.T) {
	auth := &countingAuthenticator{}
	var c captured
	d := newDispatcher(t, filter.Options{Authenticator: auth}, appRules, appHandler(&c))

	req := httptest.NewRequest(http.MethodPost, "/user/login", nil)
	req.SetBasicAuth("alice", "whatever")
	rec := serve(d, req)

	if rec.Code != http.StatusOK || !c.called {
		t.Fatalf("expected pass-through, got %d", rec.Code)
	}
	if auth.count() != 0 {
		t.Errorf("expected no authentication attempts, got %d", auth.count())
	}
	if c.ok {
		t.Error("anon must not attach a principal")
	}
}

func TestAuthcRedirectsWithoutCredentials(t *testing.T) {
	var c captured
	d := newDispatcher(t, filter.Options{Authenticator: realAuthenticator(t)}, appRules, appHandler(&c))

	rec := serve(d, httptest.NewRequest(http.MethodGet, "/admin/users", nil))

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/admin/auth/401" {
		t.Errorf("expected redirect to /admin/auth/401, got %q", loc)
	}
	if c.called {
		t.Error("protected handler must not run")
	}
}

func TestAuthcRedirectsOnBadPassword(t *testing.T) {
	var c captured
	d := newDispatcher(t, filter.Options{Authenticator: realAuthenticator(t)}, appRules, appHandler(&c))

	req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	req.SetBasicAuth("alice", "nope")
	rec := serve(d, req)

	if rec.Code != http.StatusFound || c.called {
		t.Errorf("expected redirect, got %d (handler called: %v)", rec.Code, c.called)
	}
}

func TestAuthcAcceptsBasicAndBearer(t *testing.T) {
	token := testutil.IssueHMACToken(t, domain.Principal{ID: "svc-1", Type: domain.PrincipalService}, time.Minute)

	tests := []struct {
		name   string
		setup  func(*http.Request)
		wantID string
	}{
		{"basic", func(r *http.Request) { r.SetBasicAuth("alice", "wonderland") }, "alice"},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, "svc-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c captured
			d := newDispatcher(t, filter.Options{Authenticator: realAuthenticator(t)}, appRules, appHandler(&c))

			req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
			tt.setup(req)
			rec := serve(d, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			if !c.ok || c.principal.ID != tt.wantID {
				t.Errorf("expected principal %q, got %+v", tt.wantID, c.principal)
			}
		})
	}
}

func TestDefaultChainIsAuthc(t *testing.T) {
	var c captured
	d := newDispatcher(t, filter.Options{Authenticator: realAuthenticator(t)}, appRules, appHandler(&c))

	rec := serve(d, httptest.NewRequest(http.MethodGet, "/unrouted/thing", nil))
	if rec.Code != http.StatusFound {
		t.Errorf("expected unmatched path to require authentication, got %d", rec.Code)
	}
}

func TestJWTFilter(t *testing.T) {
	auth := realAuthenticator(t)
	var c captured
	d := newDispatcher(t, filter.Options{Authenticator: auth}, appRules, appHandler(&c))

	rec := serve(d, httptest.NewRequest(http.MethodGet, "/jwt/orders", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec.Header().Get("Location") != "" {
		t.Error("jwt_filter must not redirect")
	}
	var resp domain.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil || resp.Error != "unauthorized" {
		t.Errorf("expected JSON unauthorized body, got %v / %+v", err, resp)
	}

	token := testutil.IssueHMACToken(t, domain.Principal{ID: "bob", Roles: []string{"viewer"}}, time.Minute)
	for i := range 2 {
		req := httptest.NewRequest(http.MethodGet, "/jwt/orders", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		if rec := serve(d, req); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
		if c.principal.ID != "bob" {
			t.Errorf("expected bob, got %q", c.principal.ID)
		}
	}
	if auth.count() != 2 {
		t.Errorf("expected the token to be verified on every request, got %d", auth.count())
	}

	expired := testutil.IssueHMACToken(t, domain.Principal{ID: "bob"}, -time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/jwt/orders", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	if rec := serve(d, req); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for expired token, got %d", rec.Code)
	}
}

func TestJWTFilterCustomHeader(t *testing.T) {
	var c captured
	d := newDispatcher(t, filter.Options{Authenticator: realAuthenticator(t), BearerHeader: "X-Auth-Token"}, appRules, appHandler(&c))
	token := testutil.IssueHMACToken(t, domain.Principal{ID: "bob"}, time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/jwt/orders", nil)
	req.Header.Set("X-Auth-Token", token)
	if rec := serve(d, req); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/jwt/orders", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if rec := serve(d, req); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected the Authorization header to be ignored, got %d", rec.Code)
	}
}

func TestBearerSchemeEdgeCases(t *testing.T) {
	var c captured
	d := newDispatcher(t, filter.Options{Authenticator: realAuthenticator(t)}, appRules, appHandler(&c))
	token := testutil.IssueHMACToken(t, domain.Principal{ID: "bob"}, time.Minute)

	tests := []struct {
		header string
		want   int
	}{
		{"bearer " + token, http.StatusOK},
		{"BEARER  " + token, http.StatusOK},
		{"Token " + token, http.StatusUnauthorized},
		{"Bearer", http.StatusUnauthorized},
		{"Bearer ", http.StatusUnauthorized},
		{token, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/jwt/x", nil)
		req.Header.Set("Authorization", tt.header)
		if rec := serve(d, req); rec.Code != tt.want {
			t.Errorf("header %.20q: expected %d, got %d", tt.header, tt.want, rec.Code)
		}
	}
}

func TestUserFilterAcceptsRememberMe(t *testing.T) {
	rm, err := cookie.New(bytes.Repeat([]byte{1}, 16))
	if err != nil {
		t.Fatal(err)
	}
	remembered, err := rm.Issue(domain.Principal{ID: "alice", Roles: []string{"admin"}})
	if err != nil {
		t.Fatal(err)
	}

	var c captured
	d := newDispatcher(t, filter.Options{Authenticator: realAuthenticator(t), RememberMe: rm}, appRules, appHandler(&c))

	req := httptest.NewRequest(http.MethodGet, "/home/feed", nil)
	req.AddCookie(remembered)
	rec := serve(d, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !c.principal.Remembered || c.principal.ID != "alice" {
		t.Errorf("expected remembered alice, got %+v", c.principal)
	}

	// authc does not accept the cookie
	c = captured{}
	req = httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	req.AddCookie(remembered)
	if rec := serve(d, req); rec.Code != http.StatusFound {
		t.Errorf("expected authc to ignore remember-me, got %d", rec.Code)
	}

	// a tampered cookie yields no identity
	bad := *remembered
	bad.Value = "A" + bad.Value[1:]
	if bad.Value == remembered.Value {
		bad.Value = "B" + bad.Value[1:]
	}
	req = httptest.NewRequest(http.MethodGet, "/home/feed", nil)
	req.AddCookie(&bad)
	if rec := serve(d, req); rec.Code != http.StatusFound {
		t.Errorf("expected redirect for tampered cookie, got %d", rec.Code)
	}
}

func TestDispatcherRestoresRememberedIdentity(t *testing.T) {
	rm, err := cookie.New(bytes.Repeat([]byte{2}, 32))
	if err != nil {
		t.Fatal(err)
	}
	remembered, err := rm.Issue(domain.Principal{ID: "alice", Type: domain.PrincipalUser, Roles: []string{"admin"}})
	if err != nil {
		t.Fatal(err)
	}

	var current, authenticated domain.Principal
	var hasCurrent, hasAuthenticated bool
	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current, hasCurrent = gateway.CurrentUser(r.Context())
		authenticated, hasAuthenticated = gateway.PrincipalFromContext(r.Context())
	})
	auth := realAuthenticator(t)
	d := newDispatcher(t, filter.Options{Authenticator: auth, RememberMe: rm}, appRules, app,
		filter.WithRememberMe(rm, ""))

	tests := []struct {
		name         string
		path         string
		setup        func(*http.Request)
		wantCurrent  string
		wantAuthed   string
		wantRedirect bool
	}{
		{"anon with cookie", "/user/login", func(r *http.Request) { r.AddCookie(remembered) }, "alice", "", false},
		{"anon without cookie", "/user/login", nil, "", "", false},
		{"anon with credential ignores cookie", "/user/login", func(r *http.Request) {
			r.AddCookie(remembered)
			r.SetBasicAuth("alice", "wonderland")
		}, "", "", false},
		{"user with cookie", "/home/feed", func(r *http.Request) { r.AddCookie(remembered) }, "alice", "alice", false},
		{"authc with cookie", "/admin/users", func(r *http.Request) { r.AddCookie(remembered) }, "", "", true},
		{"authc with credential", "/admin/users", func(r *http.Request) {
			r.AddCookie(remembered)
			r.SetBasicAuth("alice", "wonderland")
		}, "alice", "alice", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current, authenticated = domain.Principal{}, domain.Principal{}
			hasCurrent, hasAuthenticated = false, false

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.setup != nil {
				tt.setup(req)
			}
			rec := serve(d, req)
			if tt.wantRedirect {
				if rec.Code != http.StatusFound {
					t.Errorf("expected 302, got %d", rec.Code)
				}
				return
			}
			if hasCurrent != (tt.wantCurrent != "") || current.ID != tt.wantCurrent {
				t.Errorf("current user: got %+v (%v), want %q", current, hasCurrent, tt.wantCurrent)
			}
			if hasAuthenticated != (tt.wantAuthed != "") || authenticated.ID != tt.wantAuthed {
				t.Errorf("authenticated: got %+v (%v), want %q", authenticated, hasAuthenticated, tt.wantAuthed)
			}
		})
	}

	if auth.count() != 2 {
		t.Errorf("expected only the authc chains to authenticate, got %d calls", auth.count())
	}
}

func TestMACFilter(t *testing.T) {
	enf, err := casbinauthz.New("")
	if err != nil {
		t.Fatal(err)
	}
	if err := enf.Permit("admin", "/ops/*", "GET"); err != nil {
		t.Fatal(err)
	}

	var c captured
	d := newDispatcher(t, filter.Options{Authenticator: realAuthenticator(t), Access: enf}, appRules, appHandler(&c))

	allowed := httptest.NewRequest(http.MethodGet, "/ops/status", nil)
	allowed.SetBasicAuth("alice", "wonderland")
	if rec := serve(d, allowed); rec.Code != http.StatusOK {
		t.Errorf("expected admin GET to pass, got %d", rec.Code)
	}

	denied := httptest.NewRequest(http.MethodDelete, "/ops/status", nil)
	denied.SetBasicAuth("alice", "wonderland")
	rec := serve(d, denied)
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/admin/auth/403" {
		t.Errorf("expected redirect to /admin/auth/403, got %d %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestMACWithoutPrincipalRedirectsToLogin(t *testing.T) {
	var c captured
	d := newDispatcher(t, filter.Options{Authenticator: realAuthenticator(t)},
		[]filter.Rule{{Pattern: "/**", Filters: []string{filter.MAC}}}, appHandler(&c))

	rec := serve(d, httptest.NewRequest(http.MethodGet, "/anything", nil))
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/admin/auth/401" {
		t.Errorf("expected redirect to login, got %d %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestThrottleFilter(t *testing.T) {
	now := time.Now()
	limiter := inmem.NewThrottle(1, 2, func() time.Time { return now })

	var c captured
	d := newDispatcher(t, filter.Options{Authenticator: &countingAuthenticator{}, Limiter: limiter}, appRules, appHandler(&c))

	for i := range 2 {
		req := httptest.NewRequest(http.MethodGet, "/limited/x", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		if rec := serve(d, req); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/limited/x", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := serve(d, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	other := httptest.NewRequest(http.MethodGet, "/limited/x", nil)
	other.RemoteAddr = "10.0.0.2:1234"
	if rec := serve(d, other); rec.Code != http.StatusOK {
		t.Errorf("expected separate bucket for another IP, got %d", rec.Code)
	}
}

func TestDispatcherAnnotatesRequest(t *testing.T) {
	var chain string
	var session domain.SessionRecord
	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chain = gateway.ChainFromContext(r.Context())
		session, _ = gateway.SessionFromContext(r.Context())
	})
	d := newDispatcher(t, filter.Options{Authenticator: &countingAuthenticator{}}, appRules, app)

	rl := &gateway.RequestLog{}
	req := httptest.NewRequest(http.MethodGet, "/user/login", nil)
	req = req.WithContext(gateway.ContextWithRequestLog(req.Context(), rl))
	serve(d, req)

	if chain != "/user/login" || rl.Chain != "/user/login" {
		t.Errorf("expected chain /user/login, got %q / %q", chain, rl.Chain)
	}
	if session.ID == "" || !session.Timeout.NoExpiry {
		t.Errorf("unexpected session record %+v", session)
	}
}
