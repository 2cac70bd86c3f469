package authn

import (
	"crypto/md5"  //nolint:gosec // legacy stored hashes use md5
	"crypto/sha1" //nolint:gosec // legacy stored hashes may use sha-1
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	"authgate/internal/domain"
)

// DefaultAlgorithm and DefaultIterations match the stored credentials of the
// original deployment.
const (
	DefaultAlgorithm  = "md5"
	DefaultIterations = 1024
)

// Digest is a named hash function used for iterated password hashing.
type Digest struct {
	name    string
	newHash func() hash.Hash
}

var digests = map[string]func() hash.Hash{
	"md5":     md5.New,
	"sha-1":   sha1.New,
	"sha-256": sha256.New,
	"sha-384": sha512.New384,
	"sha-512": sha512.New,
	"sha3-256": func() hash.Hash {
		return sha3.New256()
	},
	"blake2b-256": func() hash.Hash {
		h, _ := blake2b.New256(nil) // only fails for keys longer than 64 bytes
		return h
	},
}

var digestAliases = map[string]string{
	"sha1":   "sha-1",
	"sha256": "sha-256",
	"sha384": "sha-384",
	"sha512": "sha-512",
}

// LookupDigest returns the digest registered under name (case-insensitive).
func LookupDigest(name string) (Digest, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := digestAliases[key]; ok {
		key = alias
	}
	fn, ok := digests[key]
	if !ok {
		return Digest{}, fmt.Errorf("unknown hash algorithm %q (supported: %s): %w", name, strings.Join(DigestNames(), ", "), domain.ErrBadArgument)
	}
	return Digest{name: key, newHash: fn}, nil
}

// DigestNames lists the supported algorithm names in sorted order.
func DigestNames() []string {
	names := make([]string, 0, len(digests))
	for n := range digests {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Name returns the canonical algorithm name.
func (d Digest) Name() string { return d.name }

// Sum hashes salt followed by password, then re-hashes the result until the
// digest has been applied iterations times in total.
func (d Digest) Sum(salt, password []byte, iterations int) []byte {
	if iterations < 1 {
		iterations = 1
	}
	h := d.newHash()
	h.Write(salt)
	h.Write(password)
	sum := h.Sum(nil)
	for i := 1; i < iterations; i++ {
		h.Reset()
		h.Write(sum)
		sum = h.Sum(sum[:0])
	}
	return sum
}

// HexSum is Sum encoded the way stored hashes are kept.
func (d Digest) HexSum(salt, password string, iterations int) string {
	return hex.EncodeToString(d.Sum([]byte(salt), []byte(password), iterations))
}
