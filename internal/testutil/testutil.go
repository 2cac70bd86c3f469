package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"authgate/internal/domain"
)

// TestSecret is the HMAC secret shared by tokens issued in tests.
var TestSecret = []byte("authgate-test-secret-0123456789ab")

// TestIssuer is the iss claim of tokens issued in tests.
const TestIssuer = "authgate-test"

// GenerateTestKeyPair generates an RSA key pair for testing.
// Returns (keyID, privateKey, publicKey).
func GenerateTestKeyPair(t *testing.T) (string, *rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}
	kid := fmt.Sprintf("test-key-%d", time.Now().UnixNano())
	return kid, priv, &priv.PublicKey
}

func principalClaims(principal domain.Principal, ttl time.Duration) jwt.MapClaims {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  principal.ID,
		"type": principal.Type.String(),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
		"iss":  TestIssuer,
	}
	if principal.Name != "" {
		claims["name"] = principal.Name
	}
	if len(principal.Roles) > 0 {
		claims["roles"] = principal.Roles
	}
	return claims
}

// IssueTestToken creates an RS256 token for testing.
// A negative ttl produces an already-expired token.
func IssueTestToken(t *testing.T, kid string, priv *rsa.PrivateKey, principal domain.Principal, ttl time.Duration) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, principalClaims(principal, ttl))
	token.Header["kid"] = kid

	signed, err := token.SignedString(priv)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

// IssueHMACToken creates an HS256 token signed with TestSecret.
// A negative ttl produces an already-expired token.
func IssueHMACToken(t *testing.T, principal domain.Principal, ttl time.Duration) string {
	t.Helper()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, principalClaims(principal, ttl)).SignedString(TestSecret)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

// MockJWKSHandler returns an http.Handler that serves a JWKS response
// containing the given public key.
func MockJWKSHandler(kid string, pub *rsa.PublicKey) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jwks := map[string]any{
			"keys": []map[string]any{
				{
					"kty": "RSA",
					"alg": "RS256",
					"use": "sig",
					"kid": kid,
					"n":   base64URLEncode(pub.N.Bytes()),
					"e":   base64URLEncode(big.NewInt(int64(pub.E)).Bytes()),
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(jwks)
	})
}

// MockBackendHandler returns an http.Handler that echoes request details.
// Used to test that the gateway forwards principal headers upstream.
func MockBackendHandler(name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"backend":         name,
			"method":          r.Method,
			"path":            r.URL.Path,
			"principal_id":    r.Header.Get("X-Principal-ID"),
			"principal_roles": r.Header.Get("X-Principal-Roles"),
			"remembered":      r.Header.Get("X-Principal-Remembered") == "true",
			"request_id":      r.Header.Get("X-Request-ID"),
			"authorization":   r.Header.Get("Authorization"),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
}

// FixtureAccount builds an account whose PasswordHash was derived by hash.
// Roles are given as a comma-separated list.
func FixtureAccount(username, password, roles string, hash func(salt, password string) string) domain.Account {
	salt := username + "-salt"
	acct := domain.Account{
		Username:     username,
		Salt:         salt,
		PasswordHash: hash(salt, password),
	}
	if roles != "" {
		acct.Roles = strings.Split(roles, ",")
	}
	return acct
}

func base64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
