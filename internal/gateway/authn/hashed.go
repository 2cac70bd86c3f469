package authn

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/sync/semaphore"

	"authgate/internal/domain"
)

// HashedVerifier checks a plaintext password against a stored salted,
// iterated digest.
type HashedVerifier struct {
	digest     Digest
	iterations int
	sem        *semaphore.Weighted
}

// HashOption configures a HashedVerifier.
type HashOption func(*HashedVerifier)

// WithMaxConcurrentHashes bounds how many hash computations run at once.
// Callers over the limit wait, honoring their context. n <= 0 means unbounded.
func WithMaxConcurrentHashes(n int) HashOption {
	return func(v *HashedVerifier) {
		if n > 0 {
			v.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// NewHashedVerifier creates a verifier for the named digest algorithm.
func NewHashedVerifier(algorithm string, iterations int, opts ...HashOption) (*HashedVerifier, error) {
	d, err := LookupDigest(algorithm)
	if err != nil {
		return nil, err
	}
	if iterations < 1 {
		return nil, fmt.Errorf("hash iterations must be at least 1, got %d: %w", iterations, domain.ErrBadArgument)
	}
	v := &HashedVerifier{digest: d, iterations: iterations}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Algorithm returns the canonical digest name.
func (v *HashedVerifier) Algorithm() string { return v.digest.Name() }

// Iterations returns the configured iteration count.
func (v *HashedVerifier) Iterations() int { return v.iterations }

// Hash derives the hex-encoded stored form of password under salt.
func (v *HashedVerifier) Hash(salt, password string) string {
	return v.digest.HexSum(salt, password, v.iterations)
}

// Verify reports nil when password hashes to the account's stored hash.
func (v *HashedVerifier) Verify(ctx context.Context, password string, acct domain.Account) error {
	stored, err := hex.DecodeString(acct.PasswordHash)
	if err != nil {
		return fmt.Errorf("decoding stored hash for %q: %w", acct.Username, domain.ErrVerificationFailed)
	}

	if v.sem != nil {
		if err := v.sem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("waiting for hash slot: %w", err)
		}
		defer v.sem.Release(1)
	}

	derived := v.digest.Sum([]byte(acct.Salt), []byte(password), v.iterations)
	if subtle.ConstantTimeCompare(derived, stored) != 1 {
		return fmt.Errorf("password mismatch for %q: %w", acct.Username, domain.ErrVerificationFailed)
	}
	return nil
}
