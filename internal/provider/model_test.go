package provider

import "testing"

func TestModelRefParsing(t *testing.T) {
	tests := []struct {
		input    string
		provider string
		model    string
		valid    bool
	}{
		{"deepseek/deepseek-chat", "deepseek", "deepseek-chat", true},
		{"openai/gpt-4o-mini", "openai", "gpt-4o-mini", true},
		{"ollama/llama3", "ollama", "llama3", true},
		{"invalid", "", "invalid", false},
		{"", "", "", false},
		{"a/b/c", "a", "b/c", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			ref := ModelRef(tt.input)
			if got := ref.Provider(); got != tt.provider {
				t.Errorf("Provider() = %q, want %q", got, tt.provider)
			}
			if got := ref.Model(); got != tt.model {
				t.Errorf("Model() = %q, want %q", got, tt.model)
			}
			if got := ref.Valid(); got != tt.valid {
				t.Errorf("Valid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestParseModelRef(t *testing.T) {
	ref, err := ParseModelRef("deepseek/deepseek-chat")
	if err != nil {
		t.Fatal(err)
	}
	if ref.Provider() != "deepseek" || ref.Model() != "deepseek-chat" {
		t.Errorf("unexpected ref: %s", ref)
	}
	if NewModelRef("deepseek", "deepseek-chat") != ref {
		t.Errorf("NewModelRef mismatch")
	}

	_, err = ParseModelRef("invalid")
	if err == nil {
		t.Error("expected error for invalid ref")
	}
}

func TestModelInfo(t *testing.T) {
	info := ModelInfo{ID: "deepseek-chat", ProviderID: "deepseek", Features: []Feature{FeatureTools, FeatureJSONMode}}
	if got := info.Ref().String(); got != "deepseek/deepseek-chat" {
		t.Errorf("Ref() = %q", got)
	}
	if !info.SupportsFeature(FeatureJSONMode) {
		t.Error("expected SupportsFeature(json_mode) = true")
	}
	if info.SupportsFeature(FeatureReasoning) {
		t.Error("expected SupportsFeature(reasoning) = false")
	}
}

func TestPromptOnlyJSON(t *testing.T) {
	models := []ModelInfo{
		{ID: "deepseek-chat", ProviderID: "deepseek", Features: []Feature{FeatureTools, FeatureJSONMode}},
		{ID: "deepseek-reasoner", ProviderID: "deepseek", Features: []Feature{FeatureReasoning}},
		{ID: "plain", ProviderID: "deepseek"},
	}
	p := NewOpenAIProvider("deepseek", "", "key", models)
	tests := []struct {
		model string
		want  bool
	}{
		{"deepseek-chat", false},
		{"deepseek-reasoner", true},
		{"plain", false},
		{"undeclared", false},
	}
	for _, tt := range tests {
		if got := PromptOnlyJSON(p, tt.model); got != tt.want {
			t.Errorf("PromptOnlyJSON(%q) = %v, want %v", tt.model, got, tt.want)
		}
	}
	if !PromptOnlyJSON(NewAnthropicProvider("anthropic", "", "key", nil), "claude-sonnet-4-20250514") {
		t.Error("anthropic provider should be prompt-only")
	}
}

func TestAPIErrorClassification(t *testing.T) {
	tests := []struct {
		err       error
		rateLimit bool
		auth      bool
		retryable bool
	}{
		{&APIError{Provider: "p", StatusCode: 429}, true, false, true},
		{&APIError{Provider: "p", StatusCode: 401}, false, true, false},
		{&APIError{Provider: "p", StatusCode: 503}, false, false, true},
		{&APIError{Provider: "p", StatusCode: 504}, false, false, true},
		{&APIError{Provider: "p", StatusCode: 529}, false, false, true},
		{&APIError{Provider: "p", StatusCode: 404}, false, false, false},
		{&APIError{Provider: "p", Type: "invalid_request_error"}, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := IsRateLimitError(tt.err); got != tt.rateLimit {
				t.Errorf("IsRateLimitError = %v", got)
			}
			if got := IsAuthError(tt.err); got != tt.auth {
				t.Errorf("IsAuthError = %v", got)
			}
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable = %v", got)
			}
		})
	}
}
