package domain

import (
	"errors"
	"strings"
)

// Sentinel errors used across service boundaries.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")

	// ErrUnsupportedCredential means no registered source can evaluate the
	// presented token kind.
	ErrUnsupportedCredential = errors.New("unsupported credential")
	// ErrVerificationFailed means a source evaluated the credential and rejected it.
	ErrVerificationFailed = errors.New("verification failed")
	// ErrAllSourcesFailed is matched by every *AllSourcesFailedError.
	ErrAllSourcesFailed = errors.New("all credential sources failed")
	// ErrTokenDecodeFailed means a cookie or bearer token was malformed or tampered.
	ErrTokenDecodeFailed = errors.New("token decode failed")

	ErrAccountNotFound = errors.New("account not found")
	ErrAccountDisabled = errors.New("account disabled")
	ErrTokenExpired    = errors.New("token expired")

	ErrBadArgument      = errors.New("bad argument")
	ErrMethodNotAllowed = errors.New("method not allowed")
)

// SourceFailure records why one credential source rejected a token.
type SourceFailure struct {
	Source string
	Err    error
}

// AllSourcesFailedError aggregates the failures of every source that
// supported a token. Failures are kept in source order.
type AllSourcesFailedError struct {
	Failures []SourceFailure
}

func (e *AllSourcesFailedError) Error() string {
	var b strings.Builder
	b.WriteString(ErrAllSourcesFailed.Error())
	for i, f := range e.Failures {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(f.Source)
		b.WriteString(": ")
		b.WriteString(f.Err.Error())
	}
	return b.String()
}

// Is makes errors.Is(err, ErrAllSourcesFailed) hold.
func (e *AllSourcesFailedError) Is(target error) bool {
	return target == ErrAllSourcesFailed
}

// Unwrap exposes every individual failure reason.
func (e *AllSourcesFailedError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// ErrorResponse is the standard JSON error envelope returned to clients.
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}
