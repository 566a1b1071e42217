package schema

import (
	"errors"
	"fmt"
)

// ErrSchemaValidation is matched by every *ValidationError. Use errors.Is.
var ErrSchemaValidation = errors.New("schema validation failed")

// ValidationError identifies the first field that is missing or has the
// wrong type. Nested fields use a dotted path, e.g. "changes[0].field".
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema validation: field %q: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrSchemaValidation }
