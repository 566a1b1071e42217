package app

import (
	"context"
	"errors"

	"github.com/structflow/structflow/internal/agent"
	"github.com/structflow/structflow/internal/handlers"
	"github.com/structflow/structflow/internal/schema"
	"github.com/structflow/structflow/internal/tools"
)

var (
	WeatherAnswer = schema.MustNew(
		schema.Field{Name: "temperature", Description: "The current temperature in celsius for the given location.", Type: schema.Float, Required: true},
		schema.Field{Name: "response", Description: "A natural language response to the user's question.", Type: schema.String, Required: true},
	)

	KBAnswer = schema.MustNew(
		schema.Field{Name: "answer", Description: "The answer to the user's question.", Type: schema.String, Required: true},
		schema.Field{Name: "source", Description: "The record id of the answer.", Type: schema.Int, Required: true},
	)
)

var ErrNoKnowledgeBase = errors.New("tools.knowledge_base is not configured")

func (a *App) newAgent(cfg agent.Config, descs ...tools.Descriptor) (*agent.Agent, error) {
	if cfg.MaxRounds == 0 {
		cfg.MaxRounds = a.cfg.Tools.MaxRounds
	}
	cfg.ToolTemperature = agent.DefaultToolTemperature
	cfg.AnswerTemperature = agent.DefaultAnswerTemperature
	var d *tools.Dispatcher
	if len(descs) > 0 {
		reg := tools.NewRegistry()
		for _, desc := range descs {
			if err := reg.Register(desc); err != nil {
				return nil, err
			}
		}
		d = tools.NewDispatcher(reg, a.dispatcherOptions()...)
	}
	return agent.New(a.client, d, cfg, agent.WithRules(a.rules)), nil
}

func (a *App) WeatherAgent() (*agent.Agent, error) {
	return a.newAgent(agent.Config{
		Name:         "weather",
		SystemPrompt: "You are a helpful weather assistant.",
		Answer:       WeatherAnswer,
	}, a.weather.Tool())
}

func (a *App) FAQAgent() (*agent.Agent, error) {
	if a.cfg.Tools.KnowledgeBase == "" {
		return nil, ErrNoKnowledgeBase
	}
	kb, err := handlers.LoadKnowledgeBase(a.cfg.Tools.KnowledgeBase)
	if err != nil {
		return nil, err
	}
	return a.newAgent(agent.Config{
		Name:         "faq",
		SystemPrompt: "You are a helpful assistant that answers questions from the knowledge base about our e-commerce store.",
		Answer:       KBAnswer,
	}, kb.Tool())
}

// ChatAgent offers every available tool and answers in free text.
func (a *App) ChatAgent(ctx context.Context) (*agent.Agent, error) {
	descs := []tools.Descriptor{a.weather.Tool()}
	events, err := a.Events(ctx)
	if err != nil {
		return nil, err
	}
	descs = append(descs, handlers.Events(events)...)
	if a.cfg.Tools.KnowledgeBase != "" {
		kb, err := handlers.LoadKnowledgeBase(a.cfg.Tools.KnowledgeBase)
		if err != nil {
			return nil, err
		}
		descs = append(descs, kb.Tool())
	}
	scripts, err := a.Scripts()
	if err != nil {
		return nil, err
	}
	descs = append(descs, scripts...)
	requests, err := a.Requests()
	if err != nil {
		return nil, err
	}
	descs = append(descs, requests...)
	return a.newAgent(agent.Config{
		Name:         "chat",
		SystemPrompt: "You are a helpful assistant for calendar, weather and store questions. Use the tools when they help.",
		MaxRounds:    5,
	}, descs...)
}
