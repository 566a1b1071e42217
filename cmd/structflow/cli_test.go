package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/structflow/structflow/internal/app"
	"github.com/structflow/structflow/internal/config"
	"github.com/structflow/structflow/internal/provider"
)

type scripted struct {
	replies []string
}

func (s *scripted) Complete(context.Context, *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	if len(s.replies) == 0 {
		return nil, errors.New("no replies left")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return &provider.CompletionResponse{Content: r, FinishReason: "stop"}, nil
}

func run(t *testing.T, llm *scripted, stdin string, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "structflow.yaml")
	if err := os.WriteFile(cfgPath, []byte("providers:\n  deepseek:\n    api_key: test\nstore:\n  data_dir: "+dir+"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	orig := appFactory
	t.Cleanup(func() { appFactory = orig })
	appFactory = func(cfg *config.Config, c *cli.Context) (*app.App, error) {
		return app.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), app.WithLLM(llm))
	}

	var out bytes.Buffer
	a := newCLI()
	a.Writer = &out
	a.ErrWriter = io.Discard
	a.Reader = strings.NewReader(stdin)
	err := a.RunContext(context.Background(), append([]string{"structflow", "--config", cfgPath}, args...))
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, &scripted{}, "", "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "structflow ") {
		t.Errorf("output = %q", out)
	}
}

func TestConfirmCommand(t *testing.T) {
	llm := &scripted{replies: []string{
		`{"description": "dinner with Sam", "is_calendar_event": true, "confidence_score": 0.95}`,
		`{"name_of_event": "Dinner", "date": "2025-06-06T19:00:00", "duration_minutes": 120, "participants": ["Sam"]}`,
		`{"confirmation_message": "Dinner with Sam is booked."}`,
	}}
	out, err := run(t, llm, "", "confirm", "dinner with Sam on Friday at 7pm")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Dinner with Sam is booked.") {
		t.Errorf("output = %q", out)
	}
}

func TestConfirmCommandRejected(t *testing.T) {
	llm := &scripted{replies: []string{
		`{"description": "a poem", "is_calendar_event": false, "confidence_score": 0.9}`,
	}}
	out, err := run(t, llm, "", "confirm", "write me a poem")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "request not handled at stage extract") {
		t.Errorf("output = %q", out)
	}
}

func TestChatFlowReadsLines(t *testing.T) {
	llm := &scripted{replies: []string{
		`{"description": "lunch", "is_calendar_event": false, "confidence_score": 0.9}`,
		`{"description": "tea", "is_calendar_event": false, "confidence_score": 0.9}`,
	}}
	out, err := run(t, llm, "lunch?\n\ntea?\nexit\nignored\n", "chat", "--flow", "confirm")
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(out, "request not handled"); n != 2 {
		t.Errorf("handled %d lines, want 2:\n%s", n, out)
	}
}

func TestChatUnknownFlow(t *testing.T) {
	if _, err := run(t, &scripted{}, "", "chat", "--flow", "poetry"); err == nil {
		t.Error("expected error for unknown flow")
	}
}

func TestDBCommands(t *testing.T) {
	out, err := run(t, &scripted{}, "", "db", "init", "--seed")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "event store ready") {
		t.Errorf("init output = %q", out)
	}
}

func TestInvalidLogFormat(t *testing.T) {
	if _, err := run(t, &scripted{}, "", "--log-format", "xml", "db", "list"); err == nil {
		t.Error("expected error for unknown log format")
	}
}
