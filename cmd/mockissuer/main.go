package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"authgate/internal/domain"
	"authgate/internal/gateway/authn"
	"authgate/internal/platform/server"
)

// mockissuer stands in for an external identity provider that signs RS256
// tokens and publishes its keys, for exercising JWKS_ENDPOINT.
func main() {
	addr := envOr("ISSUER_ADDR", ":8081")
	issuer := envOr("TOKEN_ISSUER", "authgate")
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Generate RSA key pair
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		slog.Error("generating RSA key", "error", err)
		os.Exit(1)
	}
	kid := fmt.Sprintf("mock-key-%d", time.Now().Unix())

	slog.Info("mock issuer starting", "addr", addr, "kid", kid, "issuer", issuer)

	mux := http.NewServeMux()

	// JWKS endpoint
	mux.HandleFunc("GET /.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		pub := &priv.PublicKey
		jwks := map[string]any{
			"keys": []map[string]any{
				{
					"kty": "RSA",
					"alg": "RS256",
					"use": "sig",
					"kid": kid,
					"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
					"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(jwks)
	})

	// Token issuance; no credential check, any subject is signed
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Subject string   `json:"subject"`
			Name    string   `json:"name"`
			Type    string   `json:"type"`
			Roles   []string `json:"roles"`
			TTL     string   `json:"ttl"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Subject == "" {
			writeError(w, http.StatusBadRequest, "bad_argument", "provide a JSON body with a subject")
			return
		}

		ttl := 15 * time.Minute
		if req.TTL != "" {
			if ttl, err = time.ParseDuration(req.TTL); err != nil {
				writeError(w, http.StatusBadRequest, "bad_argument", "ttl is not a duration")
				return
			}
		}
		now := time.Now()

		claims := authn.Claims{
			Name:  req.Name,
			Type:  domain.ParsePrincipalType(req.Type).String(),
			Roles: req.Roles,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   req.Subject,
				Issuer:    issuer,
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			},
		}

		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		token.Header["kid"] = kid

		signed, err := token.SignedString(priv)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to sign token")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": signed,
			"expires_in":   int(ttl.Seconds()),
			"token_type":   "Bearer",
		})
	})

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "service": "mock-issuer"})
	})

	srv := server.New(addr, mux)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(domain.ErrorResponse{Error: code, Message: msg})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
