// Package jwks resolves RS256 verification keys published at a JWKS endpoint.
package jwks

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"authgate/internal/domain"
	"authgate/internal/gateway"
	"authgate/internal/platform/telemetry"
)

// ErrUnknownKey is returned when a kid is absent from the published key set.
var ErrUnknownKey = errors.New("unknown signing key")

// Client fetches and caches the key set. An unknown kid triggers a refetch,
// rate limited by minRefresh, so rotated keys are picked up.
type Client struct {
	endpoint   string
	minRefresh time.Duration
	httpClient *http.Client
	metrics    *telemetry.Metrics

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	lastFetch time.Time
}

var _ gateway.KeyResolver = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMetrics records each refresh. m may be nil.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a client for endpoint that refetches at most once per minRefresh.
func NewClient(endpoint string, minRefresh time.Duration, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		minRefresh: minRefresh,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		keys:       make(map[string]*rsa.PublicKey),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetKey returns the RSA public key published under kid.
func (c *Client) GetKey(ctx context.Context, kid string) (any, error) {
	if key, ok := c.lookup(kid); ok {
		return key, nil
	}
	if err := c.refresh(ctx); err != nil {
		return nil, fmt.Errorf("resolving key %q: %w", kid, err)
	}
	if key, ok := c.lookup(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("key %q: %w", kid, ErrUnknownKey)
}

// Warm fetches the key set if it has never been fetched.
func (c *Client) Warm(ctx context.Context) error {
	c.mu.RLock()
	fetched := !c.lastFetch.IsZero()
	c.mu.RUnlock()
	if fetched {
		return nil
	}
	return c.refresh(ctx)
}

// KeyCount returns the number of cached keys.
func (c *Client) KeyCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keys)
}

func (c *Client) lookup(kid string) (*rsa.PublicKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.keys[kid]
	return key, ok
}

func (c *Client) refresh(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// another caller may have refreshed while we waited for the lock
	if !c.lastFetch.IsZero() && time.Since(c.lastFetch) < c.minRefresh {
		return nil
	}

	defer func() {
		result := "success"
		if err != nil {
			result = "failure"
		}
		c.metrics.RecordJWKSRefresh(ctx, result)
	}()

	keys, err := c.fetch(ctx)
	if err != nil {
		return err
	}
	c.keys = keys
	c.lastFetch = time.Now()
	slog.Debug("jwks refreshed", "endpoint", c.endpoint, "keys", len(keys))
	return nil
}

func (c *Client) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating JWKS request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned %d: %w", resp.StatusCode, domain.ErrVerificationFailed)
	}

	var set keySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("decoding JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if !k.usable() {
			slog.Debug("skipping JWKS key", "kid", k.Kid, "kty", k.Kty, "alg", k.Alg, "use", k.Use)
			continue
		}
		pub, err := k.rsaPublicKey()
		if err != nil {
			slog.Warn("failed to parse JWKS key", "kid", k.Kid, "error", err)
			continue
		}
		keys[k.Kid] = pub
	}
	return keys, nil
}

type keySet struct {
	Keys []jsonWebKey `json:"keys"`
}

type jsonWebKey struct {
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// usable reports whether k is an RSA signing key for RS256. Keys without
// alg or use are accepted.
func (k jsonWebKey) usable() bool {
	return k.Kty == "RSA" && k.Kid != "" &&
		(k.Alg == "" || k.Alg == "RS256") &&
		(k.Use == "" || k.Use == "sig")
}

func (k jsonWebKey) rsaPublicKey() (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding n: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding e: %w", err)
	}
	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() < 3 {
		return nil, fmt.Errorf("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: int(e.Int64())}, nil
}
