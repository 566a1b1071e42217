package completion

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is returned before any model call when the request
	// breaks a precondition.
	ErrInvalidRequest = errors.New("invalid completion request")

	ErrMalformedResponse = errors.New("malformed model response")
)

// MalformedResponseError reports model output that is not a JSON object or
// does not satisfy the schema. Raw holds the content as received.
type MalformedResponseError struct {
	Raw   string
	Cause error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: %v", ErrMalformedResponse, e.Cause)
}

func (e *MalformedResponseError) Unwrap() []error {
	return []error{ErrMalformedResponse, e.Cause}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
