package tools

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownTool      = errors.New("unknown tool")
	ErrHandlerExecution = errors.New("tool handler failed")
	ErrInvalidArguments = errors.New("invalid tool arguments")
	ErrInvalidCallID    = errors.New("invalid tool call id")
)

// UnknownToolError means the model asked for a tool the registry does not
// hold. It is fatal to the run: the conversation cannot be completed
// without a result for the call.
type UnknownToolError struct {
	Name   string
	CallID string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("%s %q (call %s)", ErrUnknownTool, e.Name, e.CallID)
}

func (e *UnknownToolError) Is(target error) bool { return target == ErrUnknownTool }

// InvalidCallIDError means the assistant turn carries a blank or repeated
// call id. Results could not be paired with their calls, so it is fatal like
// UnknownToolError.
type InvalidCallIDError struct {
	Tool   string
	CallID string
	Reason string
}

func (e *InvalidCallIDError) Error() string {
	return fmt.Sprintf("%s %q for tool %q: %s", ErrInvalidCallID, e.CallID, e.Tool, e.Reason)
}

func (e *InvalidCallIDError) Is(target error) bool { return target == ErrInvalidCallID }

// HandlerExecutionError wraps a failure inside a single call: bad arguments,
// a handler error or a recovered panic. It is relayed to the model and does
// not abort the run.
type HandlerExecutionError struct {
	Tool   string
	CallID string
	Err    error
}

func (e *HandlerExecutionError) Error() string {
	return fmt.Sprintf("tool %q: %v", e.Tool, e.Err)
}

func (e *HandlerExecutionError) Unwrap() []error {
	return []error{ErrHandlerExecution, e.Err}
}
