package domain

import (
	"slices"
	"time"
)

// PrincipalType distinguishes between human users and service accounts.
type PrincipalType int

const (
	PrincipalUnknown PrincipalType = iota
	PrincipalUser
	PrincipalService
)

func (pt PrincipalType) String() string {
	switch pt {
	case PrincipalUser:
		return "user"
	case PrincipalService:
		return "service"
	default:
		return "unknown"
	}
}

// ParsePrincipalType maps a claim value back to a PrincipalType.
// Anything other than "service" is treated as a user.
func ParsePrincipalType(s string) PrincipalType {
	if s == "service" {
		return PrincipalService
	}
	return PrincipalUser
}

// Principal is the identity resolved by a successful authentication.
// It lives for the duration of a single request.
type Principal struct {
	ID    string
	Name  string
	Type  PrincipalType
	Roles []string

	// Source names the credential source that produced the principal.
	Source string

	// Remembered is set when the identity came from a remember-me cookie
	// rather than from credentials presented with this request.
	Remembered bool

	// ExpiresAt is when the credential backing the principal stops being
	// valid. Zero means the credential carries no expiry.
	ExpiresAt time.Time
}

// HasRole reports whether the principal carries the given role.
func (p Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

// IsZero reports whether p is the empty principal.
func (p Principal) IsZero() bool {
	return p.ID == ""
}

// ExpiredAt reports whether the backing credential has expired at now.
func (p Principal) ExpiredAt(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}
