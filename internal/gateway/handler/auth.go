package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"authgate/internal/domain"
	gw "authgate/internal/gateway"
	"authgate/internal/gateway/authn"
	"authgate/internal/gateway/middleware"
)

const maxLoginBody = 64 << 10

// Auth serves the login and logout endpoints.
type Auth struct {
	authenticator gw.Authenticator
	signer        *authn.TokenSigner
	remember      gw.RememberMeManager
	sessions      authn.SessionPolicy
	errors        gw.ErrorMapper
}

// AuthOption configures Auth.
type AuthOption func(*Auth)

// WithRememberMe enables the remember-me cookie on login and clears it on logout.
func WithRememberMe(m gw.RememberMeManager) AuthOption {
	return func(a *Auth) { a.remember = m }
}

// WithSessionPolicy overrides the default stateless policy.
func WithSessionPolicy(p authn.SessionPolicy) AuthOption {
	return func(a *Auth) { a.sessions = p }
}

// WithErrorMapper overrides the default error mapper.
func WithErrorMapper(m gw.ErrorMapper) AuthOption {
	return func(a *Auth) { a.errors = m }
}

// NewAuth creates the login/logout handlers.
func NewAuth(authenticator gw.Authenticator, signer *authn.TokenSigner, opts ...AuthOption) *Auth {
	a := &Auth{
		authenticator: authenticator,
		signer:        signer,
		sessions:      authn.Stateless{},
		errors:        middleware.DefaultErrorMapper{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type"`
	ExpiresIn   int64         `json:"expires_in"`
	ExpiresAt   time.Time     `json:"expires_at"`
	Principal   PrincipalView `json:"principal"`
	Remembered  bool          `json:"remembered"`
}

// PrincipalView is the client-facing form of a principal.
type PrincipalView struct {
	ID         string   `json:"id"`
	Name       string   `json:"name,omitempty"`
	Type       string   `json:"type"`
	Roles      []string `json:"roles,omitempty"`
	Source     string   `json:"source,omitempty"`
	Remembered bool     `json:"remembered,omitempty"`
}

func viewOf(p domain.Principal) PrincipalView {
	return PrincipalView{
		ID:         p.ID,
		Name:       p.Name,
		Type:       p.Type.String(),
		Roles:      p.Roles,
		Source:     p.Source,
		Remembered: p.Remembered,
	}
}

// Login authenticates a username and password read from a form or JSON
// body and answers with a signed bearer token.
func (a *Auth) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		middleware.WriteMappedError(w, a.errors, fmt.Errorf("%s %s: %w", r.Method, r.URL.Path, domain.ErrMethodNotAllowed))
		return
	}

	req, err := readLogin(w, r)
	if err != nil {
		middleware.WriteMappedError(w, a.errors, err)
		return
	}

	token := domain.UsernamePasswordToken{Username: req.Username, Password: req.Password, RememberMe: req.RememberMe}
	p, err := a.authenticator.Authenticate(r.Context(), token)
	if err != nil {
		slog.Info("login failed",
			"username", req.Username,
			"request_id", gw.RequestIDFromContext(r.Context()),
			"error", err,
		)
		middleware.WriteMappedError(w, a.errors, err)
		return
	}
	if rl := gw.RequestLogFromContext(r.Context()); rl != nil {
		rl.PrincipalID = p.ID
	}

	signed, exp, err := a.signer.Sign(p)
	if err != nil {
		middleware.WriteMappedError(w, a.errors, err)
		return
	}

	resp := LoginResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(a.signer.TTL().Seconds()),
		ExpiresAt:   exp.UTC(),
		Principal:   viewOf(p),
	}

	if token.RememberMe && a.remember != nil {
		cookie, err := a.remember.Issue(p)
		if err != nil {
			middleware.WriteMappedError(w, a.errors, err)
			return
		}
		http.SetCookie(w, cookie)
		resp.Remembered = true
	}

	if !a.sessions.Persistable(p) {
		w.Header().Set("Cache-Control", "no-store")
	}

	slog.Info("login succeeded",
		"principal_id", p.ID,
		"source", p.Source,
		"remembered", resp.Remembered,
		"request_id", gw.RequestIDFromContext(r.Context()),
	)
	writeJSON(w, http.StatusOK, resp)
}

// Logout clears the remember-me cookie. Bearer tokens are not revocable and
// stay valid until they expire.
func (a *Auth) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET, POST")
		middleware.WriteMappedError(w, a.errors, fmt.Errorf("%s %s: %w", r.Method, r.URL.Path, domain.ErrMethodNotAllowed))
		return
	}
	if a.remember != nil {
		http.SetCookie(w, a.remember.Clear())
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func readLogin(w http.ResponseWriter, r *http.Request) (loginRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxLoginBody)

	var req loginRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return loginRequest{}, fmt.Errorf("decoding login request: %v: %w", err, domain.ErrBadArgument)
		}
	} else {
		if err := r.ParseForm(); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return loginRequest{}, fmt.Errorf("login request too large: %w", domain.ErrBadArgument)
			}
			return loginRequest{}, fmt.Errorf("parsing login form: %v: %w", err, domain.ErrBadArgument)
		}
		req.Username = r.PostForm.Get("username")
		req.Password = r.PostForm.Get("password")
		req.RememberMe = formBool(r.PostForm.Get("rememberMe"))
	}

	if req.Username == "" || req.Password == "" {
		return loginRequest{}, fmt.Errorf("username and password are required: %w", domain.ErrBadArgument)
	}
	return req, nil
}

func formBool(v string) bool {
	if v == "on" {
		return true
	}
	b, _ := strconv.ParseBool(v)
	return b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}
