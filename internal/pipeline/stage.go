package pipeline

import (
	"context"
	"fmt"

	"github.com/structflow/structflow/internal/schema"
	"github.com/structflow/structflow/internal/tools"
)

// Input is what a stage sees when it builds its prompt.
type Input struct {
	// Text is the user text the run started with.
	Text string
	// Previous is the result of the stage that transitioned here, nil for
	// the first stage.
	Previous schema.Result
	results  map[string]schema.Result
}

// Result returns the result of an earlier stage of the same run.
func (in Input) Result(stage string) (schema.Result, bool) {
	r, ok := in.results[stage]
	return r, ok
}

// Stage is one model call plus validation. Schema and either SystemPrompt
// or Prompt are required.
type Stage struct {
	Name   string
	Schema *schema.Descriptor

	SystemPrompt string
	// Prompt builds the system prompt at run time; it overrides
	// SystemPrompt.
	Prompt func(ctx context.Context, in Input) (string, error)
	// UserInput builds the user turn. The default is the run text for the
	// first stage and the previous result as JSON afterwards.
	UserInput func(in Input) (string, error)

	Temperature float64

	// ConfidenceField names a numeric field of Schema; a result below
	// Threshold rejects the run.
	ConfidenceField string
	Threshold       float64

	// Tools, when set, are offered for up to ToolRounds calls (default 1)
	// before the structured call.
	Tools           *tools.Dispatcher
	ToolRounds      int
	ToolTemperature float64

	// Next picks the transition after a result passes the gate. nil
	// accepts.
	Next func(schema.Result) Transition
}

func (s Stage) validate() error {
	if s.Name == "" {
		return fmt.Errorf("stage name is required")
	}
	if s.Schema == nil {
		return fmt.Errorf("stage %q: schema is required", s.Name)
	}
	if s.SystemPrompt == "" && s.Prompt == nil {
		return fmt.Errorf("stage %q: system prompt is required", s.Name)
	}
	if s.Threshold < 0 || s.Threshold > 1 {
		return fmt.Errorf("stage %q: threshold %v outside [0, 1]", s.Name, s.Threshold)
	}
	if s.ConfidenceField != "" {
		f, ok := s.Schema.Field(s.ConfidenceField)
		if !ok {
			return fmt.Errorf("stage %q: confidence field %q not in schema", s.Name, s.ConfidenceField)
		}
		if f.Type != schema.Float && f.Type != schema.Int {
			return fmt.Errorf("stage %q: confidence field %q must be numeric, is %s", s.Name, s.ConfidenceField, f.Type)
		}
	}
	return nil
}

func (s Stage) userInput(in Input) (string, error) {
	if s.UserInput != nil {
		return s.UserInput(in)
	}
	if in.Previous == nil {
		return in.Text, nil
	}
	return in.Previous.Text(), nil
}

func (s Stage) systemPrompt(ctx context.Context, in Input) (string, error) {
	if s.Prompt != nil {
		return s.Prompt(ctx, in)
	}
	return s.SystemPrompt, nil
}
