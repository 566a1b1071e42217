package provider

import "fmt"

const (
	APIOpenAI    = "openai-completions"
	APIAnthropic = "anthropic-messages"
	APIOpenAISDK = "openai-sdk"
)

// ProviderConfig mirrors config.ProviderConfig to avoid circular imports.
type ProviderConfig struct {
	ID      string
	BaseURL string
	APIKey  string
	API     string
	Models  []ModelInfo
}

// FromConfig creates a Provider from a config entry. The api field
// determines which wire format to use:
//   - "openai-completions"  -> OpenAI-compatible over net/http (OpenAI, DeepSeek, Ollama, vLLM)
//   - "anthropic-messages"  -> Anthropic Messages API
//   - "openai-sdk"          -> OpenAI-compatible through the openai-go client
func FromConfig(cfg ProviderConfig) (Provider, error) {
	switch cfg.API {
	case APIOpenAI, "":
		return NewOpenAIProvider(cfg.ID, cfg.BaseURL, cfg.APIKey, cfg.Models), nil
	case APIAnthropic:
		return NewAnthropicProvider(cfg.ID, cfg.BaseURL, cfg.APIKey, cfg.Models), nil
	case APIOpenAISDK:
		return NewSDKProvider(cfg.ID, cfg.BaseURL, cfg.APIKey, cfg.Models), nil
	default:
		return nil, fmt.Errorf("unknown api type %q for provider %q (supported: %s, %s, %s)",
			cfg.API, cfg.ID, APIOpenAI, APIAnthropic, APIOpenAISDK)
	}
}
