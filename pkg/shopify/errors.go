package shopify

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/adk-sentryskin/shopify-sync/internal/apperr"
)

// HTTPError is a non-2xx answer from the Admin API after retries ran out.
type HTTPError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: http %d: %s", e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: http %d", e.Operation, e.StatusCode)
}

func (e *HTTPError) Unwrap() error {
	return apperr.ErrRemoteUnavailable
}

// IsNotFound reports whether err is a 404 from the Admin API.
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound
}

// TokenExchangeError is any failed authorization-code exchange. A 4xx means the
// code was rejected (already used, expired); transport errors and 5xx are transient.
type TokenExchangeError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TokenExchangeError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("token exchange: http %d: %v", e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("token exchange: http %d: %s", e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("token exchange: %v", e.Err)
	}
}

// Temporary reports whether retrying the exchange could succeed.
func (e *TokenExchangeError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func (e *TokenExchangeError) Unwrap() []error {
	var errs []error
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Temporary() {
		errs = append(errs, apperr.ErrRemoteUnavailable)
	}
	return errs
}
