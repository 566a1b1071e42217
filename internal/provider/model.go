package provider

import (
	"fmt"
	"strings"
)

// ModelRef names a model as "provider/model", e.g. "deepseek/deepseek-chat".
type ModelRef string

func NewModelRef(providerID, modelID string) ModelRef {
	return ModelRef(providerID + "/" + modelID)
}

func (r ModelRef) Provider() string {
	providerID, _, ok := strings.Cut(string(r), "/")
	if !ok {
		return ""
	}
	return providerID
}

func (r ModelRef) Model() string {
	_, modelID, ok := strings.Cut(string(r), "/")
	if !ok {
		return string(r)
	}
	return modelID
}

func (r ModelRef) String() string {
	return string(r)
}

func (r ModelRef) Valid() bool {
	return r.Provider() != "" && r.Model() != ""
}

func ParseModelRef(s string) (ModelRef, error) {
	ref := ModelRef(s)
	if !ref.Valid() {
		return "", fmt.Errorf("invalid model ref %q: expected format provider/model", s)
	}
	return ref, nil
}

type Feature string

const (
	FeatureTools     Feature = "tools"
	FeatureJSONMode  Feature = "json_mode"
	FeatureReasoning Feature = "reasoning"
)

type ModelInfo struct {
	ID            string    `json:"id" yaml:"id"`
	Name          string    `json:"name" yaml:"name"`
	ProviderID    string    `json:"provider_id" yaml:"provider_id"`
	ContextWindow int       `json:"context_window" yaml:"context_window"`
	MaxTokens     int       `json:"max_tokens" yaml:"max_tokens"`
	Features      []Feature `json:"features" yaml:"features"`
}

func (m ModelInfo) Ref() ModelRef {
	return NewModelRef(m.ProviderID, m.ID)
}

func (m ModelInfo) SupportsFeature(f Feature) bool {
	for _, feat := range m.Features {
		if feat == f {
			return true
		}
	}
	return false
}

// PromptOnlyJSON reports whether a JSON reply from model on p rests on the
// prompt alone. That holds for the Anthropic API, which has no JSON mode, and
// for models whose declared features leave out json_mode. Models declared
// without features are assumed to honour response_format.
func PromptOnlyJSON(p Provider, model string) bool {
	if _, ok := p.(*AnthropicProvider); ok {
		return true
	}
	for _, m := range p.Models() {
		if m.ID == model {
			return len(m.Features) > 0 && !m.SupportsFeature(FeatureJSONMode)
		}
	}
	return false
}
