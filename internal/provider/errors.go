package provider

import (
	"errors"
	"fmt"
)

// APIError is returned when the backend answers with a non-200 status or an
// error body.
type APIError struct {
	Provider   string
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s error [%s]: %s", e.Provider, e.Type, e.Message)
	}
	return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

func IsRateLimitError(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == 429
}

func IsAuthError(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && (ae.StatusCode == 401 || ae.StatusCode == 403)
}

// IsRetryable reports whether a caller-side retry may succeed. Nothing in
// this module retries on its own.
func IsRetryable(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	return ae.StatusCode == 429 || ae.StatusCode >= 500
}
