package failover

import (
	"fmt"
	"strings"
)

// AllExhaustedError is returned when every model was skipped or failed with
// a recoverable error. Last is the final backend error, if any backend was
// tried at all.
type AllExhaustedError struct {
	Attempted []string
	Last      error
}

func (e *AllExhaustedError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("all models cooling down: %s", strings.Join(e.Attempted, ", "))
	}
	return fmt.Sprintf("all models exhausted (%s): %v", strings.Join(e.Attempted, ", "), e.Last)
}

func (e *AllExhaustedError) Unwrap() error { return e.Last }
