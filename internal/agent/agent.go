// Package agent answers a question by letting the model call tools and then
// asking for a schema-constrained answer over the augmented conversation.
package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/structflow/structflow/internal/completion"
	"github.com/structflow/structflow/internal/conversation"
	"github.com/structflow/structflow/internal/logger"
	"github.com/structflow/structflow/internal/provider"
	"github.com/structflow/structflow/internal/schema"
	"github.com/structflow/structflow/internal/tools"
)

const (
	DefaultMaxRounds         = 1
	maxAgentLoopIterations   = 20
	DefaultToolTemperature   = 0.7
	DefaultAnswerTemperature = 1.0
)

var ErrNoAnswer = errors.New("agent produced no answer")

type Config struct {
	Name         string
	SystemPrompt string
	// Answer is the schema of the final reply. Reply ignores it.
	Answer            *schema.Descriptor
	ToolTemperature   float64
	AnswerTemperature float64
	// MaxRounds bounds the number of tool-enabled model calls before the
	// final answer is requested.
	MaxRounds int
}

type Agent struct {
	client     *completion.Client
	dispatcher *tools.Dispatcher
	rules      *tools.Rules
	cfg        Config
}

type Option func(*Agent)

func WithRules(r *tools.Rules) Option {
	return func(a *Agent) { a.rules = r }
}

// New builds an agent. dispatcher may be nil for an agent without tools.
func New(client *completion.Client, dispatcher *tools.Dispatcher, cfg Config, opts ...Option) *Agent {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.MaxRounds > maxAgentLoopIterations {
		cfg.MaxRounds = maxAgentLoopIterations
	}
	a := &Agent{
		client:     client,
		dispatcher: dispatcher,
		rules:      tools.DefaultRules(),
		cfg:        cfg,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Agent) Name() string { return a.cfg.Name }

func (a *Agent) hasTools() bool {
	return a.dispatcher != nil && a.dispatcher.Registry().Len() > 0
}

func (a *Agent) conversation(question string) *conversation.Conversation {
	system := a.cfg.SystemPrompt
	if a.hasTools() {
		system = SystemPrompt(system, a.rules)
	}
	return conversation.FromPrompt(system, question)
}

// Ask runs the tool round for question and returns the structured answer.
func (a *Agent) Ask(ctx context.Context, question string) (schema.Result, error) {
	if a.cfg.Answer == nil {
		return nil, fmt.Errorf("agent %q: no answer schema configured", a.cfg.Name)
	}
	conv := a.conversation(question)
	var opts []completion.Option
	if a.hasTools() {
		if err := ToolRound(ctx, a.client, a.dispatcher, conv, a.cfg.ToolTemperature, a.cfg.MaxRounds); err != nil {
			return nil, fmt.Errorf("agent %q: %w", a.cfg.Name, err)
		}
		opts = append(opts, completion.WithTools(a.dispatcher.Registry().Definitions()))
	}
	result, err := a.client.Complete(ctx, conv, a.cfg.Answer, a.cfg.AnswerTemperature, opts...)
	if err != nil {
		return nil, fmt.Errorf("agent %q: %w", a.cfg.Name, err)
	}
	return result, nil
}

// Reply returns a free-text answer, re-asking the model after each batch of
// tool calls until it answers without tools or MaxRounds is reached.
func (a *Agent) Reply(ctx context.Context, conv *conversation.Conversation) (string, error) {
	var defs []provider.ToolDefinition
	if a.hasTools() {
		defs = a.dispatcher.Registry().Definitions()
	}
	resp, err := a.client.Chat(ctx, conv, a.cfg.ToolTemperature, defs)
	if err != nil {
		return "", err
	}
	for round := 0; len(resp.ToolCalls) > 0; round++ {
		if round >= a.cfg.MaxRounds || a.dispatcher == nil {
			return "", fmt.Errorf("%w: still calling tools after %d rounds", ErrNoAnswer, round)
		}
		if resp, err = a.dispatcher.Dispatch(ctx, a.client, conv, resp, a.cfg.ToolTemperature); err != nil {
			return "", err
		}
	}
	conv.Append(resp.Message())
	return resp.Content, nil
}

// NewConversation starts a conversation with the agent's system prompt and
// the first user turn, for use with Reply.
func (a *Agent) NewConversation(question string) *conversation.Conversation {
	return a.conversation(question)
}

// ToolRound offers the dispatcher's tools to the model up to maxRounds
// times, executing every requested call. It stops early once the model
// answers without calling a tool. conv is extended with each assistant turn
// that called tools and its results.
func ToolRound(ctx context.Context, client *completion.Client, dispatcher *tools.Dispatcher, conv *conversation.Conversation, temperature float64, maxRounds int) error {
	log := logger.Get(ctx)
	defs := dispatcher.Registry().Definitions()
	for round := 0; round < maxRounds; round++ {
		resp, err := client.Chat(ctx, conv, temperature, defs)
		if err != nil {
			return fmt.Errorf("tool round %d: %w", round+1, err)
		}
		if len(resp.ToolCalls) == 0 {
			log.Debug("model answered without tools", "round", round+1)
			return nil
		}
		if _, err := dispatcher.ResolveAndInvoke(ctx, conv, resp.Message()); err != nil {
			return fmt.Errorf("tool round %d: %w", round+1, err)
		}
	}
	return nil
}

// SystemPrompt appends the tool-use rules to a system prompt.
func SystemPrompt(base string, rules *tools.Rules) string {
	if rules == nil {
		return base
	}
	return base + "\n\n" + rules.BuildPromptSection()
}
