package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// SessionTimeout is a session lifetime with an explicit no-expiry flag,
// so "never expires" is not encoded as a negative duration.
type SessionTimeout struct {
	Duration time.Duration
	NoExpiry bool
}

// NeverExpire is the timeout of a session that does not expire.
var NeverExpire = SessionTimeout{NoExpiry: true}

func (t SessionTimeout) String() string {
	if t.NoExpiry {
		return "never"
	}
	return t.Duration.String()
}

// maxMillis is the largest millisecond count a time.Duration can hold.
const maxMillis = math.MaxInt64 / int64(time.Millisecond)

// ParseSessionTimeout parses "never", a Go duration ("30m") or a bare
// millisecond count ("1800000").
//
// Negative values are accepted as the legacy spelling of "never" and reported
// through legacy so the caller can warn: the value is ambiguous between an
// intended sentinel and a misconfigured duration.
func ParseSessionTimeout(s string) (timeout SessionTimeout, legacy bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "never") {
		return NeverExpire, false, nil
	}

	var d time.Duration
	if ms, convErr := strconv.ParseInt(s, 10, 64); convErr == nil {
		if ms > maxMillis || ms < -maxMillis {
			return SessionTimeout{}, false, fmt.Errorf("session timeout %q out of range: %w", s, ErrBadArgument)
		}
		d = time.Duration(ms) * time.Millisecond
	} else {
		d, err = time.ParseDuration(s)
		if err != nil {
			return SessionTimeout{}, false, fmt.Errorf("parsing session timeout %q: %w", s, err)
		}
	}

	switch {
	case d < 0:
		return NeverExpire, true, nil
	case d == 0:
		return SessionTimeout{}, false, fmt.Errorf("session timeout %q: %w", s, ErrBadArgument)
	default:
		return SessionTimeout{Duration: d}, false, nil
	}
}

// SessionRecord is the nominal per-request session. It exists for audit
// logging; nothing reads it to make a trust decision.
type SessionRecord struct {
	ID           string
	CreatedAt    time.Time
	LastAccessAt time.Time
	Timeout      SessionTimeout
}

// Expired reports whether the record has outlived its timeout at now.
func (s SessionRecord) Expired(now time.Time) bool {
	if s.Timeout.NoExpiry {
		return false
	}
	return now.Sub(s.LastAccessAt) > s.Timeout.Duration
}
