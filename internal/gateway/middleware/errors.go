package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"authgate/internal/domain"
	gw "authgate/internal/gateway"
)

// DefaultErrorMapper maps domain errors to HTTP statuses. Unknown errors
// become 500 internal_error and their text is never sent to the client.
type DefaultErrorMapper struct{}

var _ gw.ErrorMapper = DefaultErrorMapper{}

func (DefaultErrorMapper) MapError(err error) (int, domain.ErrorResponse) {
	switch {
	case errors.Is(err, domain.ErrBadArgument):
		return http.StatusBadRequest, domain.ErrorResponse{Error: "bad_argument", Message: "invalid request argument"}
	case errors.Is(err, domain.ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed, domain.ErrorResponse{Error: "method_not_allowed", Message: "request method not supported"}
	case errors.Is(err, domain.ErrTokenExpired):
		return http.StatusUnauthorized, domain.ErrorResponse{Error: "unauthorized", Message: "token expired"}
	case errors.Is(err, domain.ErrUnsupportedCredential):
		return http.StatusUnauthorized, domain.ErrorResponse{Error: "unauthorized", Message: "missing or unsupported credentials"}
	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrAllSourcesFailed),
		errors.Is(err, domain.ErrVerificationFailed),
		errors.Is(err, domain.ErrTokenDecodeFailed),
		errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrAccountDisabled):
		return http.StatusUnauthorized, domain.ErrorResponse{Error: "unauthorized", Message: "authentication failed"}
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, domain.ErrorResponse{Error: "forbidden", Message: "access denied"}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, domain.ErrorResponse{Error: "not_found", Message: "resource not found"}
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, domain.ErrorResponse{Error: "rate_limited", Message: "too many requests"}
	default:
		return http.StatusInternalServerError, domain.ErrorResponse{Error: "internal_error", Message: "an unexpected error occurred"}
	}
}

// WriteError writes resp as the JSON error envelope.
func WriteError(w http.ResponseWriter, status int, resp domain.ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	if resp.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfter))
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="authgate"`)
	}
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("encoding error response", "error", err)
	}
}

// WriteMappedError translates err with mapper and writes the result.
func WriteMappedError(w http.ResponseWriter, mapper gw.ErrorMapper, err error) {
	if mapper == nil {
		mapper = DefaultErrorMapper{}
	}
	status, resp := mapper.MapError(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	WriteError(w, status, resp)
}
