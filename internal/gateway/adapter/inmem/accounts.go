package inmem

import (
	"context"
	"fmt"
	"sync"

	"authgate/internal/domain"
	"authgate/internal/gateway"
)

// AccountStore is an AccountStore backed by a map loaded at startup.
type AccountStore struct {
	mu       sync.RWMutex
	accounts map[string]domain.Account
}

var _ gateway.AccountStore = (*AccountStore)(nil)

// NewAccountStore creates a store holding accounts. Later duplicates of a
// username replace earlier ones.
func NewAccountStore(accounts ...domain.Account) *AccountStore {
	s := &AccountStore{}
	s.Replace(accounts)
	return s
}

// Lookup returns the account for username or an error wrapping
// domain.ErrAccountNotFound.
func (s *AccountStore) Lookup(ctx context.Context, username string) (domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, err
	}
	s.mu.RLock()
	acct, ok := s.accounts[username]
	s.mu.RUnlock()
	if !ok {
		return domain.Account{}, fmt.Errorf("%q: %w", username, domain.ErrAccountNotFound)
	}
	return acct, nil
}

// Replace swaps the whole account set.
func (s *AccountStore) Replace(accounts []domain.Account) {
	m := make(map[string]domain.Account, len(accounts))
	for _, a := range accounts {
		m[a.Username] = a
	}
	s.mu.Lock()
	s.accounts = m
	s.mu.Unlock()
}

// Len returns the number of accounts.
func (s *AccountStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}
