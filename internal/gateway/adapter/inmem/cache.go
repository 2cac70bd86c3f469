package inmem

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"authgate/internal/domain"
	"authgate/internal/gateway"
)

// VerificationCache holds recently verified principals keyed by credential
// fingerprint. Entries expire after a fixed TTL and the least recently used
// entry is evicted once the cache is full.
type VerificationCache struct {
	lru *expirable.LRU[string, domain.Principal]
}

var _ gateway.VerificationCache = (*VerificationCache)(nil)

// NewVerificationCache creates a cache holding at most size entries for ttl each.
func NewVerificationCache(size int, ttl time.Duration) *VerificationCache {
	return &VerificationCache{lru: expirable.NewLRU[string, domain.Principal](size, nil, ttl)}
}

func (c *VerificationCache) Get(key string) (domain.Principal, bool) {
	return c.lru.Get(key)
}

func (c *VerificationCache) Add(key string, p domain.Principal) {
	c.lru.Add(key, p)
}

// Len returns the number of live entries.
func (c *VerificationCache) Len() int { return c.lru.Len() }

// Purge drops every entry.
func (c *VerificationCache) Purge() { c.lru.Purge() }
