package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/structflow/structflow/internal/completion"
	"github.com/structflow/structflow/internal/handlers"
	"github.com/structflow/structflow/internal/pipeline"
	"github.com/structflow/structflow/internal/schema"
	"github.com/structflow/structflow/internal/store"
	"github.com/structflow/structflow/internal/tools"
)

const (
	RequestCreate = "create"
	RequestUpdate = "update"
)

// Change is one field update requested by the user.
type Change struct {
	Field string `json:"field_to_update"`
	Value string `json:"new_value"`
}

// RouterResult describes an accepted create or update request.
type RouterResult struct {
	RequestType string
	Description string
	// Event is set for create requests.
	Event *Event
	// Changes are set for update requests, against the event named by
	// Target.
	Target  string
	Changes []Change
	// Stored reports whether the event tool call succeeded.
	Stored  bool
	Summary string
}

// Router classifies a request as create or update, extracts the matching
// details and applies them to the event store through the event tools.
type Router struct {
	p *pipeline.Pipeline
}

// NewRouter builds the router over events. The create and update stages
// may only call create_event and update_event respectively.
func NewRouter(client *completion.Client, events handlers.EventStore, dispatcherOpts []tools.DispatcherOption, opts ...Option) (*Router, error) {
	o := buildOptions(opts)
	reg := tools.NewRegistry()
	for _, d := range handlers.Events(events) {
		if err := reg.Register(d); err != nil {
			return nil, err
		}
	}
	createTools, err := reg.Subset("create_event")
	if err != nil {
		return nil, err
	}
	updateTools, err := reg.Subset("update_event")
	if err != nil {
		return nil, err
	}

	description := func(in pipeline.Input) (string, error) {
		classified, _ := in.Result("classify")
		return classified.String("description"), nil
	}

	p, err := pipeline.New("calendar-router", client, []pipeline.Stage{
		{
			Name:   "classify",
			Schema: RequestType,
			Prompt: func(context.Context, pipeline.Input) (string, error) {
				return fmt.Sprintf("Today is %s. Determine if this is a request to create a new calendar event or modify an existing one.", today(o.now)), nil
			},
			ConfidenceField: "confidence_score",
			Threshold:       o.threshold,
			Next: pipeline.Route("request_type", map[string]pipeline.Transition{
				RequestCreate: pipeline.Then("create"),
				RequestUpdate: pipeline.Then("update"),
			}),
		},
		{
			Name:   "create",
			Schema: EventDetails,
			Prompt: func(context.Context, pipeline.Input) (string, error) {
				return fmt.Sprintf("Extract details for creating a new calendar event. Today is %s.", today(o.now)), nil
			},
			UserInput: description,
			Next:      func(schema.Result) pipeline.Transition { return pipeline.Then("insert") },
		},
		{
			Name:            "insert",
			Schema:          StoreReport,
			SystemPrompt:    "Store the new calendar event by calling the create_event tool with the details provided, then report the outcome.",
			Tools:           tools.NewDispatcher(createTools, dispatcherOpts...),
			ToolTemperature: 0.7,
			Temperature:     0.7,
		},
		{
			Name:   "update",
			Schema: EventUpdate,
			Prompt: func(ctx context.Context, _ pipeline.Input) (string, error) {
				current, err := events.List(ctx)
				if err != nil {
					return "", fmt.Errorf("list current events: %w", err)
				}
				return updatePrompt(current, today(o.now))
			},
			UserInput: description,
			Next:      func(schema.Result) pipeline.Transition { return pipeline.Then("apply") },
		},
		{
			Name:            "apply",
			Schema:          StoreReport,
			SystemPrompt:    "Apply the requested changes by calling the update_event tool once. Use name_of_event to identify the event, then report the outcome.",
			Tools:           tools.NewDispatcher(updateTools, dispatcherOpts...),
			ToolTemperature: 0.7,
			Temperature:     0.7,
		},
	}, o.pipeline...)
	if err != nil {
		return nil, err
	}
	return &Router{p: p}, nil
}

func updatePrompt(current []*store.Event, now string) (string, error) {
	if current == nil {
		current = []*store.Event{}
	}
	rows, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString("Extract details for updating an existing calendar event.\n")
	sb.WriteString("- field_to_update must be one of: name_of_event, date, duration_minutes, participants.\n")
	sb.WriteString("- Combine date and time into a single ISO 8601 string.\n")
	sb.WriteString("- Use the exact name_of_event of the matching event below.\n")
	sb.WriteString("Today is " + now + ".\n")
	sb.WriteString("The current events are:\n")
	sb.Write(rows)
	return sb.String(), nil
}

func (r *Router) Execute(ctx context.Context, text string) (*pipeline.Outcome, error) {
	return r.p.Execute(ctx, text)
}

// Handle returns nil, nil for requests that are neither create nor update
// or whose classification confidence is too low.
func (r *Router) Handle(ctx context.Context, text string) (*RouterResult, error) {
	out, err := r.p.Execute(ctx, text)
	if err != nil || !out.Accepted {
		return nil, err
	}
	classified, _ := out.Results("classify")
	res := &RouterResult{
		RequestType: classified.String("request_type"),
		Description: classified.String("description"),
		Stored:      out.Result.Bool("success"),
		Summary:     out.Result.String("summary"),
	}
	if details, ok := out.Results("create"); ok {
		e := eventFrom(details)
		res.Event = &e
	}
	if update, ok := out.Results("update"); ok {
		res.Target = update.String("name_of_event")
		for _, v := range update.List("requested_changes") {
			if c, ok := v.(schema.Result); ok {
				res.Changes = append(res.Changes, Change{Field: c.String("field_to_update"), Value: c.String("new_value")})
			}
		}
	}
	return res, nil
}
