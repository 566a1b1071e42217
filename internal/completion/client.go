// Package completion issues single schema-constrained model calls and turns
// the reply into a validated schema.Result.
package completion

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/structflow/structflow/internal/conversation"
	"github.com/structflow/structflow/internal/logger"
	"github.com/structflow/structflow/internal/metrics"
	"github.com/structflow/structflow/internal/provider"
	"github.com/structflow/structflow/internal/schema"
)

const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
)

// LLM is the subset of provider.Provider the client needs.
type LLM interface {
	Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error)
}

type Config struct {
	Model string
	// Strict disables the fallback that extracts the outermost {...} span
	// when the reply carries text around the JSON object.
	Strict    bool
	MaxTokens int
}

type Client struct {
	llm     LLM
	cfg     Config
	metrics *metrics.Metrics
}

type ClientOption func(*Client)

func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

func New(llm LLM, cfg Config, opts ...ClientOption) *Client {
	c := &Client{llm: llm, cfg: cfg}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Model() string { return c.cfg.Model }

type callOptions struct {
	tools []provider.ToolDefinition
}

// Option adjusts a single Complete call.
type Option func(*callOptions)

// WithTools declares tools on the request. The model is still expected to
// answer with the JSON object.
func WithTools(defs []provider.ToolDefinition) Option {
	return func(o *callOptions) { o.tools = defs }
}

// Complete makes exactly one model call and returns the validated result.
// The conversation is not modified; the schema instructions are appended to
// the first system turn of a request-local copy.
func (c *Client) Complete(ctx context.Context, conv *conversation.Conversation, d *schema.Descriptor, temperature float64, opts ...Option) (schema.Result, error) {
	if d == nil {
		return nil, invalid("schema is nil")
	}
	var co callOptions
	for _, o := range opts {
		o(&co)
	}
	if err := checkRequest(conv, temperature); err != nil {
		return nil, err
	}

	msgs := withInstructions(conv.Messages(), schema.RenderInstructions(d))
	resp, err := c.send(ctx, &provider.CompletionRequest{
		Model:          c.cfg.Model,
		Messages:       msgs,
		Tools:          co.tools,
		ResponseFormat: provider.ResponseFormatJSONObject,
		MaxTokens:      c.cfg.MaxTokens,
		Temperature:    provider.Float(temperature),
	})
	if err != nil {
		return nil, err
	}

	obj, err := decodeObject(resp.Content, c.cfg.Strict)
	if err != nil {
		return nil, &MalformedResponseError{Raw: resp.Content, Cause: err}
	}
	result, err := schema.Validate(d, obj)
	if err != nil {
		return nil, &MalformedResponseError{Raw: resp.Content, Cause: err}
	}
	logger.Get(ctx).Debug("structured completion", "model", c.cfg.Model, "result", result.Text())
	return result, nil
}

// Chat makes one unconstrained call, typically offering tools. The caller
// appends the reply to the conversation.
func (c *Client) Chat(ctx context.Context, conv *conversation.Conversation, temperature float64, tools []provider.ToolDefinition) (*provider.CompletionResponse, error) {
	if err := checkRequest(conv, temperature); err != nil {
		return nil, err
	}
	return c.send(ctx, &provider.CompletionRequest{
		Model:       c.cfg.Model,
		Messages:    conv.Messages(),
		Tools:       tools,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: provider.Float(temperature),
	})
}

func (c *Client) send(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	start := time.Now()
	resp, err := c.llm.Complete(ctx, req)
	c.metrics.ObserveModelCall(c.cfg.Model, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}
	logger.Get(ctx).Debug("model call",
		"model", c.cfg.Model,
		"turns", len(req.Messages),
		"tools", len(req.Tools),
		"finish_reason", resp.FinishReason,
		"tool_calls", len(resp.ToolCalls),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)
	return resp, nil
}

func checkRequest(conv *conversation.Conversation, temperature float64) error {
	if math.IsNaN(temperature) || temperature < MinTemperature || temperature > MaxTemperature {
		return invalid("temperature %v outside [%v, %v]", temperature, MinTemperature, MaxTemperature)
	}
	if conv == nil || conv.Len() == 0 {
		return invalid("conversation is empty")
	}
	last, _ := conv.Last()
	if last.Role != provider.RoleUser && last.Role != provider.RoleTool {
		return invalid("conversation ends on a %s turn", last.Role)
	}
	if err := conv.ValidatePairing(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

func withInstructions(msgs []provider.Message, instructions string) []provider.Message {
	for i, m := range msgs {
		if m.Role == provider.RoleSystem {
			msgs[i].Content = m.Content + "\n\n" + instructions
			return msgs
		}
	}
	return append([]provider.Message{{Role: provider.RoleSystem, Content: instructions}}, msgs...)
}
