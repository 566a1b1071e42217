package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"github.com/structflow/structflow/internal/conversation"
	"github.com/structflow/structflow/internal/logger"
	"github.com/structflow/structflow/internal/metrics"
	"github.com/structflow/structflow/internal/provider"
	"github.com/structflow/structflow/internal/schema"
)

// Chatter sends a conversation to the model. completion.Client implements
// it.
type Chatter interface {
	Chat(ctx context.Context, conv *conversation.Conversation, temperature float64, tools []provider.ToolDefinition) (*provider.CompletionResponse, error)
}

type Dispatcher struct {
	registry *Registry
	guard    *Guard
	metrics  *metrics.Metrics
}

type DispatcherOption func(*Dispatcher)

func WithGuard(g *Guard) DispatcherOption {
	return func(d *Dispatcher) { d.guard = g }
}

func WithMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

func NewDispatcher(registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{registry: registry, guard: NewGuard()}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dispatcher) Registry() *Registry { return d.registry }

// ResolveAndInvoke runs every tool call carried by the assistant turn. All
// names and call ids are checked before anything runs; an unknown name
// returns an *UnknownToolError, a blank or repeated id an
// *InvalidCallIDError, and conv is left untouched. Otherwise the assistant turn
// and one tool turn per call are appended, in the order the model emitted
// the calls. Handler failures are captured in the results, never returned.
func (d *Dispatcher) ResolveAndInvoke(ctx context.Context, conv *conversation.Conversation, assistant provider.Message) ([]Result, error) {
	if err := d.guard.CheckCallIDs(assistant.ToolCalls); err != nil {
		return nil, err
	}
	entries := make([]*entry, len(assistant.ToolCalls))
	for i, call := range assistant.ToolCalls {
		e, ok := d.registry.lookup(call.Name)
		if !ok {
			return nil, &UnknownToolError{Name: call.Name, CallID: call.ID}
		}
		entries[i] = e
	}

	log := logger.Get(ctx)
	results := make([]Result, len(assistant.ToolCalls))
	for i, call := range assistant.ToolCalls {
		res := d.invoke(ctx, entries[i], call)
		res = d.guard.Sanitize(res)
		results[i] = res

		d.metrics.ObserveTool(call.Name, res.Err)
		if res.Err != nil {
			log.Warn("tool call failed", "tool", call.Name, "call_id", call.ID, "error", res.Err)
		} else {
			log.Info("tool call", "tool", call.Name, "call_id", call.ID)
		}
	}

	conv.Append(assistant)
	for _, res := range results {
		conv.Append(conversation.ToolResult(res.CallID, res.Content))
	}
	if err := conv.ValidatePairing(); err != nil {
		return results, fmt.Errorf("dispatch: %w", err)
	}
	return results, nil
}

// Dispatch runs the tool calls in resp and asks the model again with the
// augmented conversation. If resp carries no tool calls it is returned
// unchanged.
func (d *Dispatcher) Dispatch(ctx context.Context, model Chatter, conv *conversation.Conversation, resp *provider.CompletionResponse, temperature float64) (*provider.CompletionResponse, error) {
	if len(resp.ToolCalls) == 0 {
		return resp, nil
	}
	if _, err := d.ResolveAndInvoke(ctx, conv, resp.Message()); err != nil {
		return nil, err
	}
	return model.Chat(ctx, conv, temperature, d.registry.Definitions())
}

func (d *Dispatcher) invoke(ctx context.Context, e *entry, call provider.ToolCall) (res Result) {
	res = Result{CallID: call.ID, Name: call.Name}
	fail := func(err error) Result {
		res.Err = &HandlerExecutionError{Tool: call.Name, CallID: call.ID, Err: err}
		res.Content = errorContent(res.Err)
		return res
	}

	defer func() {
		if p := recover(); p != nil {
			logger.Get(ctx).Error("tool handler panicked", "tool", call.Name, "panic", p, "stack", string(debug.Stack()))
			res = fail(fmt.Errorf("handler panicked: %v", p))
		}
	}()

	args, err := d.arguments(e, call.Arguments)
	if err != nil {
		return fail(err)
	}
	value, err := e.desc.Handler.Invoke(ctx, args)
	if err != nil {
		return fail(err)
	}
	content, err := json.Marshal(value)
	if err != nil {
		return fail(fmt.Errorf("encode result: %w", err))
	}
	res.Value = value
	res.Content = string(content)
	return res
}

func (d *Dispatcher) arguments(e *entry, raw string) (schema.Result, error) {
	parsed, err := parseArguments(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	coerced := coerceArguments(e.desc.Parameters, parsed)
	if e.desc.Parameters == nil {
		return schema.Result(coerced), nil
	}
	args, err := schema.Validate(e.desc.Parameters, coerced)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArguments, err)
	}
	if err := e.resolved.Validate(coerced); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return args, nil
}

func errorContent(err error) string {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(data)
}
