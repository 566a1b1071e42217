// Package tools holds the tool registry and the dispatcher that executes
// tool calls requested by the model.
package tools

import (
	"context"

	"github.com/structflow/structflow/internal/schema"
)

// Handler executes one tool call. The returned value must be JSON
// serializable.
type Handler interface {
	Invoke(ctx context.Context, args schema.Result) (any, error)
}

type HandlerFunc func(ctx context.Context, args schema.Result) (any, error)

func (f HandlerFunc) Invoke(ctx context.Context, args schema.Result) (any, error) {
	return f(ctx, args)
}

// Descriptor declares a tool. Parameters is nil for tools without arguments.
type Descriptor struct {
	Name        string
	Description string
	Parameters  *schema.Descriptor
	Handler     Handler
}

// Result is the outcome of one tool call. Exactly one of Value and Err is
// meaningful; Content is what the model receives.
type Result struct {
	CallID  string
	Name    string
	Value   any
	Err     error
	Content string
}
