package failover

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/structflow/structflow/internal/provider"
)

type mockProvider struct {
	id     string
	calls  int
	models []string
	err    error
}

func (m *mockProvider) ID() string { return m.id }
func (m *mockProvider) Complete(_ context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	m.calls++
	m.models = append(m.models, req.Model)
	if m.err != nil {
		return nil, m.err
	}
	return &provider.CompletionResponse{Content: "ok from " + m.id}, nil
}
func (m *mockProvider) Models() []provider.ModelInfo { return nil }

func rateLimited(id string) error {
	return &provider.APIError{Provider: id, StatusCode: 429, Message: "rate limited"}
}

func setup(t *testing.T, ps ...*mockProvider) *provider.Registry {
	t.Helper()
	reg := provider.NewRegistry()
	for _, p := range ps {
		if err := reg.Register(p); err != nil {
			t.Fatal(err)
		}
	}
	return reg
}

func TestCompletePrimary(t *testing.T) {
	primary := &mockProvider{id: "deepseek"}
	backup := &mockProvider{id: "openai"}
	ctrl := NewController(setup(t, primary, backup), "deepseek/deepseek-chat", []provider.ModelRef{"openai/gpt-4o-mini"})

	req := &provider.CompletionRequest{Model: "deepseek-chat"}
	resp, err := ctrl.Complete(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "ok from deepseek" {
		t.Errorf("content = %q", resp.Content)
	}
	if backup.calls != 0 {
		t.Errorf("backup called %d times", backup.calls)
	}
}

func TestCompleteFallsBack(t *testing.T) {
	primary := &mockProvider{id: "deepseek", err: rateLimited("deepseek")}
	backup := &mockProvider{id: "openai"}
	ctrl := NewController(setup(t, primary, backup), "deepseek/deepseek-chat", []provider.ModelRef{"openai/gpt-4o-mini"})

	req := &provider.CompletionRequest{Model: "deepseek-chat"}
	resp, err := ctrl.Complete(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "ok from openai" {
		t.Errorf("content = %q", resp.Content)
	}
	if len(backup.models) != 1 || backup.models[0] != "gpt-4o-mini" {
		t.Errorf("backup saw models %v", backup.models)
	}
	if req.Model != "deepseek-chat" {
		t.Errorf("caller request modified: model = %q", req.Model)
	}
}

func TestCooldownSkipsFailedProvider(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	primary := &mockProvider{id: "deepseek", err: rateLimited("deepseek")}
	backup := &mockProvider{id: "openai"}
	ctrl := NewController(setup(t, primary, backup), "deepseek/deepseek-chat", []provider.ModelRef{"openai/gpt-4o-mini"},
		WithCooldown(CooldownConfig{Initial: time.Minute, Max: time.Hour, Multiplier: 2}),
		WithClock(func() time.Time { return now }))

	for i := 0; i < 3; i++ {
		if _, err := ctrl.Complete(context.Background(), &provider.CompletionRequest{}); err != nil {
			t.Fatal(err)
		}
	}
	if primary.calls != 1 {
		t.Errorf("primary called %d times during cooldown, want 1", primary.calls)
	}

	now = now.Add(2 * time.Minute)
	primary.err = nil
	resp, err := ctrl.Complete(context.Background(), &provider.CompletionRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "ok from deepseek" {
		t.Errorf("content after cooldown = %q", resp.Content)
	}
}

func TestAuthErrorFallsBack(t *testing.T) {
	primary := &mockProvider{id: "deepseek", err: &provider.APIError{Provider: "deepseek", StatusCode: 401}}
	backup := &mockProvider{id: "openai"}
	ctrl := NewController(setup(t, primary, backup), "deepseek/deepseek-chat", []provider.ModelRef{"openai/gpt-4o-mini"})
	if _, err := ctrl.Complete(context.Background(), &provider.CompletionRequest{}); err != nil {
		t.Fatal(err)
	}
	if backup.calls != 1 {
		t.Errorf("backup calls = %d", backup.calls)
	}
}

func TestNonRecoverableErrorReturned(t *testing.T) {
	badRequest := &provider.APIError{Provider: "deepseek", StatusCode: 400, Message: "bad request"}
	primary := &mockProvider{id: "deepseek", err: badRequest}
	backup := &mockProvider{id: "openai"}
	ctrl := NewController(setup(t, primary, backup), "deepseek/deepseek-chat", []provider.ModelRef{"openai/gpt-4o-mini"})

	_, err := ctrl.Complete(context.Background(), &provider.CompletionRequest{})
	if !errors.Is(err, badRequest) {
		t.Errorf("err = %v, want the 400", err)
	}
	if backup.calls != 0 {
		t.Errorf("backup called on non-recoverable error")
	}
}

func TestAllExhausted(t *testing.T) {
	primary := &mockProvider{id: "deepseek", err: rateLimited("deepseek")}
	backup := &mockProvider{id: "openai", err: &provider.APIError{Provider: "openai", StatusCode: 503}}
	ctrl := NewController(setup(t, primary, backup), "deepseek/deepseek-chat", []provider.ModelRef{"openai/gpt-4o-mini"})

	_, err := ctrl.Complete(context.Background(), &provider.CompletionRequest{})
	var exhausted *AllExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %T %v, want AllExhaustedError", err, err)
	}
	if len(exhausted.Attempted) != 2 {
		t.Errorf("attempted = %v", exhausted.Attempted)
	}
	var apiErr *provider.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 503 {
		t.Errorf("last error = %v", exhausted.Last)
	}

	_, err = ctrl.Complete(context.Background(), &provider.CompletionRequest{})
	if !errors.As(err, &exhausted) || exhausted.Last != nil {
		t.Errorf("second call should skip cooling providers, got %v", err)
	}
}

func TestDuplicateModelsCollapsed(t *testing.T) {
	primary := &mockProvider{id: "deepseek", err: rateLimited("deepseek")}
	ctrl := NewController(setup(t, primary), "deepseek/deepseek-chat", []provider.ModelRef{"deepseek/deepseek-chat"})
	if got := ctrl.Models(); len(got) != 1 {
		t.Errorf("models = %v", got)
	}
	if _, err := ctrl.Complete(context.Background(), &provider.CompletionRequest{}); err == nil {
		t.Fatal("expected error")
	}
	if primary.calls != 1 {
		t.Errorf("calls = %d", primary.calls)
	}
}

func TestUnregisteredProvider(t *testing.T) {
	ctrl := NewController(setup(t), "unknown/model-x", nil)
	if _, err := ctrl.Complete(context.Background(), &provider.CompletionRequest{}); err == nil {
		t.Fatal("expected error for unregistered provider")
	}
}

func TestCooldownDuration(t *testing.T) {
	c := newCooldowns(CooldownConfig{Initial: time.Second, Max: 10 * time.Second, Multiplier: 3})
	tests := []struct {
		errors int
		want   time.Duration
	}{
		{1, time.Second},
		{2, 3 * time.Second},
		{3, 9 * time.Second},
		{4, 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.errors), func(t *testing.T) {
			if got := c.duration(tt.errors); got != tt.want {
				t.Errorf("duration(%d) = %v, want %v", tt.errors, got, tt.want)
			}
		})
	}
}
