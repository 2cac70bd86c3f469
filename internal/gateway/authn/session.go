package authn

import (
	"time"

	"github.com/google/uuid"

	"authgate/internal/domain"
)

// SessionPolicy decides whether an authenticated identity may be carried
// over to later requests.
type SessionPolicy interface {
	Persistable(p domain.Principal) bool
}

// Stateless never persists identities: every request re-authenticates.
type Stateless struct{}

func (Stateless) Persistable(domain.Principal) bool { return false }

// NewSessionRecord starts a nominal session for audit output.
func NewSessionRecord(now time.Time, timeout domain.SessionTimeout) domain.SessionRecord {
	return domain.SessionRecord{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		LastAccessAt: now,
		Timeout:      timeout,
	}
}
