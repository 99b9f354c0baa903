package apperr

import (
	"errors"
	"net/http"
)

// Failure classes shared by every component. Concrete error types wrap one of
// these so callers can branch with errors.Is.
var (
	// ErrAuthenticationFailure is a bad or missing signature. Reject, no side effects.
	ErrAuthenticationFailure = errors.New("authentication failure")
	// ErrReplayRejected is a stale timestamp or a duplicate completion.
	ErrReplayRejected = errors.New("replay rejected")
	// ErrCredentialUnusable means the stored token cannot be decrypted or is absent;
	// the tenant must re-authorize.
	ErrCredentialUnusable = errors.New("credential unusable")
	// ErrRemoteUnavailable is a network or HTTP failure talking to the remote API.
	ErrRemoteUnavailable = errors.New("remote unavailable")
	// ErrItemSyncFailure is a single item that could not be parsed or stored.
	ErrItemSyncFailure = errors.New("item sync failure")
	// ErrConfigurationFatal is a missing required secret at startup.
	ErrConfigurationFatal = errors.New("configuration fatal")

	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
)

// HTTPStatus maps an error onto the status code returned to API callers.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrAuthenticationFailure), errors.Is(err, ErrReplayRejected):
		return http.StatusUnauthorized
	case errors.Is(err, ErrCredentialUnusable):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrItemSyncFailure), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrRemoteUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
