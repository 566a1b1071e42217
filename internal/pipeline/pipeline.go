// Package pipeline chains structured completion stages into a state machine
// with confidence-gated early exit.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/structflow/structflow/internal/agent"
	"github.com/structflow/structflow/internal/completion"
	"github.com/structflow/structflow/internal/conversation"
	"github.com/structflow/structflow/internal/logger"
	"github.com/structflow/structflow/internal/metrics"
	"github.com/structflow/structflow/internal/schema"
	"github.com/structflow/structflow/internal/tools"
)

var ErrUnknownStage = errors.New("unknown stage")

type Pipeline struct {
	name    string
	client  *completion.Client
	stages  []Stage
	index   map[string]int
	rules   *tools.Rules
	metrics *metrics.Metrics
}

type Option func(*Pipeline)

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithRules(r *tools.Rules) Option {
	return func(p *Pipeline) { p.rules = r }
}

// New validates the stages. The first stage is where every run starts.
func New(name string, client *completion.Client, stages []Stage, opts ...Option) (*Pipeline, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("pipeline %q: no stages", name)
	}
	p := &Pipeline{
		name:   name,
		client: client,
		stages: stages,
		index:  make(map[string]int, len(stages)),
		rules:  tools.DefaultRules(),
	}
	for i, s := range stages {
		if err := s.validate(); err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", name, err)
		}
		if _, dup := p.index[s.Name]; dup {
			return nil, fmt.Errorf("pipeline %q: duplicate stage %q", name, s.Name)
		}
		p.index[s.Name] = i
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

func (p *Pipeline) Name() string { return p.name }

// StageResult is one executed stage of a run.
type StageResult struct {
	Stage  string
	Result schema.Result
}

// Outcome describes how a run ended. Result is nil unless Accepted.
type Outcome struct {
	Accepted bool
	Result   schema.Result
	// Stage is the stage the run ended at.
	Stage  string
	Reason string
	// Confidence is the observed value when the gate rejected the run.
	Confidence *float64
	Trace      []StageResult
}

// Results returns the result of the named stage, if it ran.
func (o *Outcome) Results(stage string) (schema.Result, bool) {
	for _, s := range o.Trace {
		if s.Stage == stage {
			return s.Result, true
		}
	}
	return nil, false
}

// Run returns the accepted result, or nil when the run was rejected.
// Errors are reserved for failed model calls, malformed responses and
// configuration defects.
func (p *Pipeline) Run(ctx context.Context, text string) (schema.Result, error) {
	out, err := p.Execute(ctx, text)
	if err != nil {
		return nil, err
	}
	if !out.Accepted {
		return nil, nil
	}
	return out.Result, nil
}

// Execute runs the state machine from the first stage. Every stage runs at
// most once and each stage starts a fresh conversation.
func (p *Pipeline) Execute(ctx context.Context, text string) (*Outcome, error) {
	log := logger.Get(ctx).With("pipeline", p.name)
	out := &Outcome{}
	in := Input{Text: text, results: make(map[string]schema.Result)}
	visited := make(map[string]bool, len(p.stages))

	current := p.stages[0]
	for {
		visited[current.Name] = true
		out.Stage = current.Name
		log.Info("stage started", "stage", current.Name)

		result, err := p.runStage(ctx, current, in)
		if err != nil {
			p.metrics.ObserveStage(p.name, current.Name, "error")
			return nil, fmt.Errorf("pipeline %q: stage %q: %w", p.name, current.Name, err)
		}
		out.Trace = append(out.Trace, StageResult{Stage: current.Name, Result: result})
		in.results[current.Name] = result

		if current.ConfidenceField != "" {
			if !p.passesGate(current, result, out) {
				log.Warn("low confidence", "stage", current.Name, "reason", out.Reason)
				p.metrics.ObserveStage(p.name, current.Name, "reject")
				return out, nil
			}
		}

		next := Accept()
		if current.Next != nil {
			next = current.Next(result)
		}

		switch next.kind {
		case toAccept:
			log.Info("run accepted", "stage", current.Name)
			p.metrics.ObserveStage(p.name, current.Name, "accept")
			out.Accepted = true
			out.Result = result
			return out, nil
		case toReject:
			log.Warn("run rejected", "stage", current.Name, "reason", next.reason)
			p.metrics.ObserveStage(p.name, current.Name, "reject")
			out.Reason = next.reason
			return out, nil
		}

		i, ok := p.index[next.stage]
		if !ok {
			p.metrics.ObserveStage(p.name, current.Name, "error")
			return nil, fmt.Errorf("pipeline %q: stage %q: %w %q", p.name, current.Name, ErrUnknownStage, next.stage)
		}
		if visited[next.stage] {
			log.Warn("stage revisited", "stage", current.Name, "next", next.stage)
			p.metrics.ObserveStage(p.name, current.Name, "reject")
			out.Reason = fmt.Sprintf("stage %q already ran", next.stage)
			return out, nil
		}
		p.metrics.ObserveStage(p.name, current.Name, "advance")
		in.Previous = result
		current = p.stages[i]
	}
}

func (p *Pipeline) passesGate(s Stage, result schema.Result, out *Outcome) bool {
	if result.IsNull(s.ConfidenceField) {
		out.Reason = fmt.Sprintf("%s is missing", s.ConfidenceField)
		return false
	}
	confidence := result.Float(s.ConfidenceField)
	if confidence < s.Threshold {
		out.Confidence = &confidence
		out.Reason = fmt.Sprintf("%s %.2f below threshold %.2f", s.ConfidenceField, confidence, s.Threshold)
		return false
	}
	return true
}

func (p *Pipeline) runStage(ctx context.Context, s Stage, in Input) (schema.Result, error) {
	system, err := s.systemPrompt(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("build system prompt: %w", err)
	}
	user, err := s.userInput(in)
	if err != nil {
		return nil, fmt.Errorf("build input: %w", err)
	}

	if s.Tools == nil {
		return p.client.Complete(ctx, conversation.FromPrompt(system, user), s.Schema, s.Temperature)
	}

	conv := conversation.FromPrompt(agent.SystemPrompt(system, p.rules), user)
	rounds := s.ToolRounds
	if rounds <= 0 {
		rounds = 1
	}
	if err := agent.ToolRound(ctx, p.client, s.Tools, conv, s.ToolTemperature, rounds); err != nil {
		return nil, err
	}
	return p.client.Complete(ctx, conv, s.Schema, s.Temperature, completion.WithTools(s.Tools.Registry().Definitions()))
}
