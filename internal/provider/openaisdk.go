package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// SDKProvider talks to OpenAI-compatible endpoints through the official
// openai-go client instead of the hand-rolled wire types in openai.go.
type SDKProvider struct {
	id     string
	models []ModelInfo
	client openai.Client
}

// SDKOption configures an SDKProvider.
type SDKOption func(*sdkSettings)

type sdkSettings struct {
	httpClient *http.Client
}

// WithSDKHTTPClient sets the HTTP client the SDK sends requests with.
func WithSDKHTTPClient(c *http.Client) SDKOption {
	return func(s *sdkSettings) { s.httpClient = c }
}

// NewSDKProvider creates a provider backed by openai-go. Retries are
// disabled; a failed call surfaces to the caller unchanged.
func NewSDKProvider(id, baseURL, apiKey string, models []ModelInfo, opts ...SDKOption) *SDKProvider {
	settings := sdkSettings{httpClient: &http.Client{Timeout: 120 * time.Second}}
	for _, o := range opts {
		o(&settings)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(settings.httpClient),
	}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	return &SDKProvider{
		id:     id,
		models: models,
		client: openai.NewClient(reqOpts...),
	}
}

func (p *SDKProvider) ID() string { return p.id }

func (p *SDKProvider) Models() []ModelInfo { return p.models }

func (p *SDKProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	params, err := toSDKParams(req)
	if err != nil {
		return nil, err
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &APIError{
				Provider:   p.id,
				StatusCode: apiErr.StatusCode,
				Type:       apiErr.Type,
				Message:    apiErr.Message,
			}
		}
		return nil, fmt.Errorf("chat completion: %w", err)
	}

	resp := &CompletionResponse{
		ID:    completion.ID,
		Model: completion.Model,
		Usage: Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}
	if len(completion.Choices) > 0 {
		choice := completion.Choices[0]
		resp.Content = choice.Message.Content
		resp.FinishReason = choice.FinishReason
		for _, tc := range choice.Message.ToolCalls {
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}
	return resp, nil
}

func toSDKParams(req *CompletionRequest) (openai.ChatCompletionNewParams, error) {
	params := openai.ChatCompletionNewParams{
		Model: req.Model,
	}
	if req.Temperature != nil {
		params.Temperature = param.NewOpt(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.ResponseFormat == ResponseFormatJSONObject {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case RoleUser:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		case RoleTool:
			params.Messages = append(params.Messages, openai.ToolMessage(m.Content, m.ToolCallID))
		case RoleAssistant:
			if len(m.ToolCalls) == 0 {
				params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				assistant.Content.OfString = param.NewOpt(m.Content)
			}
			for _, tc := range m.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			params.Messages = append(params.Messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		default:
			return params, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}

	for _, t := range req.Tools {
		fn := shared.FunctionDefinitionParam{Name: t.Name}
		if t.Description != "" {
			fn.Description = param.NewOpt(t.Description)
		}
		if t.Parameters != nil {
			props, err := schemaToMap(t.Parameters)
			if err != nil {
				return params, fmt.Errorf("tool %q parameters: %w", t.Name, err)
			}
			fn.Parameters = props
		}
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{Function: fn})
	}
	return params, nil
}

func schemaToMap(s *jsonschema.Schema) (shared.FunctionParameters, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var out shared.FunctionParameters
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
