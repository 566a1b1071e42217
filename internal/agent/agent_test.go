package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/structflow/structflow/internal/completion"
	"github.com/structflow/structflow/internal/conversation"
	"github.com/structflow/structflow/internal/provider"
	"github.com/structflow/structflow/internal/schema"
	"github.com/structflow/structflow/internal/tools"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type scriptedLLM struct {
	replies  []*provider.CompletionResponse
	requests []*provider.CompletionRequest
}

func (s *scriptedLLM) Complete(_ context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	s.requests = append(s.requests, req)
	if len(s.replies) == 0 {
		return nil, errors.New("script exhausted")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

var weatherAnswer = schema.MustNew(
	schema.Field{Name: "temperature", Description: "Current temperature in Celsius", Type: schema.Float, Required: true},
	schema.Field{Name: "response", Description: "A natural language response to the user's question.", Type: schema.String, Required: true},
)

func weatherDispatcher(h tools.Handler) *tools.Dispatcher {
	reg := tools.NewRegistry().MustRegister(tools.Descriptor{
		Name:        "get_weather",
		Description: "Get weather of a location",
		Parameters: schema.MustNew(
			schema.Field{Name: "latitude", Type: schema.Float, Required: true},
			schema.Field{Name: "longitude", Type: schema.Float, Required: true},
		),
		Handler: h,
	})
	return tools.NewDispatcher(reg)
}

func toolCall(id string) *provider.CompletionResponse {
	return &provider.CompletionResponse{
		FinishReason: "tool_calls",
		ToolCalls: []provider.ToolCall{{
			ID: id, Name: "get_weather", Arguments: `{"latitude":52.52,"longitude":13.41}`,
		}},
	}
}

func text(s string) *provider.CompletionResponse {
	return &provider.CompletionResponse{Content: s, FinishReason: "stop"}
}

func TestAsk_ToolRoundThenStructuredAnswer(t *testing.T) {
	llm := &scriptedLLM{replies: []*provider.CompletionResponse{
		toolCall("c1"),
		text(`{"temperature": 21.3, "response": "It is 21.3°C in Berlin."}`),
	}}
	handler := tools.HandlerFunc(func(_ context.Context, args schema.Result) (any, error) {
		assert.InDelta(t, 52.52, args.Float("latitude"), 1e-9)
		return map[string]any{"temperature_2m": 21.3, "wind_speed_10m": 9.4}, nil
	})
	a := New(completion.New(llm, completion.Config{Model: "deepseek-chat"}), weatherDispatcher(handler), Config{
		Name:              "weather",
		SystemPrompt:      "You are a helpful weather assistant.",
		Answer:            weatherAnswer,
		ToolTemperature:   DefaultToolTemperature,
		AnswerTemperature: DefaultAnswerTemperature,
	})

	res, err := a.Ask(context.Background(), "What is the weather in Berlin today?")
	require.NoError(t, err)
	assert.InDelta(t, 21.3, res.Float("temperature"), 1e-9)
	assert.Contains(t, res.String("response"), "Berlin")

	require.Len(t, llm.requests, 2)
	first, final := llm.requests[0], llm.requests[1]
	assert.Len(t, first.Tools, 1)
	assert.Equal(t, provider.ResponseFormatText, first.ResponseFormat)
	assert.Contains(t, first.Messages[0].Content, "TOOL USE RULES")

	assert.Equal(t, provider.ResponseFormatJSONObject, final.ResponseFormat)
	assert.Len(t, final.Tools, 1, "tools stay declared on the final call")
	require.Len(t, final.Messages, 4)
	assert.Equal(t, provider.RoleTool, final.Messages[3].Role)
	assert.Equal(t, "c1", final.Messages[3].ToolCallID)
	assert.Equal(t, 1.0, *final.Temperature)
}

func TestAsk_ModelSkipsTools(t *testing.T) {
	llm := &scriptedLLM{replies: []*provider.CompletionResponse{
		text("I need a location."),
		text(`{"temperature": 0, "response": "Please tell me where."}`),
	}}
	a := New(completion.New(llm, completion.Config{Model: "m"}), weatherDispatcher(tools.HandlerFunc(
		func(context.Context, schema.Result) (any, error) { t.Fatal("tool must not run"); return nil, nil },
	)), Config{Answer: weatherAnswer})

	res, err := a.Ask(context.Background(), "what's the weather like")
	require.NoError(t, err)
	assert.Equal(t, "Please tell me where.", res.String("response"))
	assert.Len(t, llm.requests[1].Messages, 2)
}

func TestAsk_NoTools(t *testing.T) {
	llm := &scriptedLLM{replies: []*provider.CompletionResponse{text(`{"temperature": 3, "response": "cold"}`)}}
	a := New(completion.New(llm, completion.Config{Model: "m"}), nil, Config{SystemPrompt: "s", Answer: weatherAnswer})

	_, err := a.Ask(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, llm.requests, 1)
	assert.Empty(t, llm.requests[0].Tools)
	assert.NotContains(t, llm.requests[0].Messages[0].Content, "TOOL USE RULES")
}

func TestAsk_UnknownToolAborts(t *testing.T) {
	llm := &scriptedLLM{replies: []*provider.CompletionResponse{{
		ToolCalls: []provider.ToolCall{{ID: "c1", Name: "search_web", Arguments: "{}"}},
	}}}
	a := New(completion.New(llm, completion.Config{Model: "m"}), weatherDispatcher(tools.HandlerFunc(
		func(context.Context, schema.Result) (any, error) { return nil, nil },
	)), Config{Answer: weatherAnswer})

	_, err := a.Ask(context.Background(), "q")
	assert.ErrorIs(t, err, tools.ErrUnknownTool)
	assert.Len(t, llm.requests, 1)
}

func TestAsk_HandlerFailureStillAnswers(t *testing.T) {
	llm := &scriptedLLM{replies: []*provider.CompletionResponse{
		toolCall("c1"),
		text(`{"temperature": 0, "response": "The weather service is unreachable right now."}`),
	}}
	a := New(completion.New(llm, completion.Config{Model: "m"}), weatherDispatcher(tools.HandlerFunc(
		func(context.Context, schema.Result) (any, error) {
			return nil, errors.New("dial tcp api.open-meteo.com:443: connect: network is unreachable")
		},
	)), Config{Answer: weatherAnswer})

	res, err := a.Ask(context.Background(), "Weather in Berlin?")
	require.NoError(t, err)
	assert.Contains(t, res.String("response"), "unreachable")
	assert.Contains(t, llm.requests[1].Messages[3].Content, `"error"`)
}

func TestAsk_RequiresAnswerSchema(t *testing.T) {
	a := New(completion.New(&scriptedLLM{}, completion.Config{Model: "m"}), nil, Config{Name: "faq"})
	_, err := a.Ask(context.Background(), "q")
	assert.ErrorContains(t, err, "no answer schema")
}

func TestToolRound_Bounded(t *testing.T) {
	llm := &scriptedLLM{replies: []*provider.CompletionResponse{toolCall("c1"), toolCall("c2"), toolCall("c3")}}
	calls := 0
	d := weatherDispatcher(tools.HandlerFunc(func(context.Context, schema.Result) (any, error) {
		calls++
		return "ok", nil
	}))
	conv := conversation.FromPrompt("s", "u")

	err := ToolRound(context.Background(), completion.New(llm, completion.Config{Model: "m"}), d, conv, 0.7, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, llm.requests, 2)
	assert.Equal(t, 2+2*2, conv.Len())
	assert.Empty(t, conv.Unmatched())
}

func TestReply(t *testing.T) {
	llm := &scriptedLLM{replies: []*provider.CompletionResponse{toolCall("c1"), text("21°C and sunny.")}}
	a := New(completion.New(llm, completion.Config{Model: "m"}), weatherDispatcher(tools.HandlerFunc(
		func(context.Context, schema.Result) (any, error) { return map[string]float64{"temperature_2m": 21}, nil },
	)), Config{SystemPrompt: "weather", MaxRounds: 2})

	conv := a.NewConversation("Berlin?")
	answer, err := a.Reply(context.Background(), conv)
	require.NoError(t, err)
	assert.Equal(t, "21°C and sunny.", answer)

	last, _ := conv.Last()
	assert.Equal(t, provider.RoleAssistant, last.Role)
	assert.Equal(t, 5, conv.Len())

	conv.Append(conversation.User("and tomorrow?"))
	llm.replies = []*provider.CompletionResponse{toolCall("c2"), toolCall("c3"), toolCall("c4")}
	_, err = a.Reply(context.Background(), conv)
	assert.ErrorIs(t, err, ErrNoAnswer)
}

func TestSystemPrompt(t *testing.T) {
	assert.Equal(t, "base", SystemPrompt("base", nil))
	assert.True(t, strings.HasPrefix(SystemPrompt("base", tools.DefaultRules()), "base\n\n## TOOL USE RULES"))
}
