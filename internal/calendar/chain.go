package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/structflow/structflow/internal/completion"
	"github.com/structflow/structflow/internal/pipeline"
	"github.com/structflow/structflow/internal/schema"
)

type options struct {
	now       func() time.Time
	threshold float64
	pipeline  []pipeline.Option
}

type Option func(*options)

// WithClock sets the reference time for relative dates such as "tomorrow".
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithThreshold(t float64) Option {
	return func(o *options) { o.threshold = t }
}

func WithPipelineOptions(opts ...pipeline.Option) Option {
	return func(o *options) { o.pipeline = append(o.pipeline, opts...) }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, threshold: DefaultThreshold}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func today(now func() time.Time) string {
	return now().Format("Monday, January 2, 2006 15:04 MST")
}

// Event is an extracted calendar event.
type Event struct {
	Name            string   `json:"name_of_event"`
	Date            string   `json:"date"`
	DurationMinutes int      `json:"duration_minutes"`
	Participants    []string `json:"participants"`
}

func eventFrom(r schema.Result) Event {
	return Event{
		Name:            r.String("name_of_event"),
		Date:            r.String("date"),
		DurationMinutes: int(r.Int("duration_minutes")),
		Participants:    r.Strings("participants"),
	}
}

// Confirmation is the result of an accepted chain run.
type Confirmation struct {
	Event        Event
	Message      string
	CalendarLink string
}

// Chain extracts an event from free text, fills in its details and writes a
// confirmation. Each step sees only the previous step's result.
type Chain struct {
	p *pipeline.Pipeline
}

func NewChain(client *completion.Client, opts ...Option) (*Chain, error) {
	o := buildOptions(opts)
	p, err := pipeline.New("calendar-chain", client, []pipeline.Stage{
		{
			Name:   "extract",
			Schema: EventExtraction,
			Prompt: func(context.Context, pipeline.Input) (string, error) {
				return fmt.Sprintf("Today is %s. Analyze if the text describes a calendar event.", today(o.now)), nil
			},
			ConfidenceField: "confidence_score",
			Threshold:       o.threshold,
			Next:            pipeline.When("is_calendar_event", pipeline.Then("details"), "not a calendar event"),
		},
		{
			Name:   "details",
			Schema: EventDetails,
			Prompt: func(context.Context, pipeline.Input) (string, error) {
				return fmt.Sprintf("Extract detailed event information. When dates reference 'next Tuesday' or similar relative dates, use this current date as reference: %s", today(o.now)), nil
			},
			UserInput: func(in pipeline.Input) (string, error) {
				return in.Previous.String("description"), nil
			},
			Next: func(schema.Result) pipeline.Transition { return pipeline.Then("confirm") },
		},
		{
			Name:         "confirm",
			Schema:       EventConfirmation,
			SystemPrompt: "Generate a natural confirmation message for the event. Sign off with your name; Susie",
		},
	}, o.pipeline...)
	if err != nil {
		return nil, err
	}
	return &Chain{p: p}, nil
}

// Execute returns the full outcome, including rejected runs.
func (c *Chain) Execute(ctx context.Context, text string) (*pipeline.Outcome, error) {
	return c.p.Execute(ctx, text)
}

// Run returns nil, nil when the text is not a calendar event or the
// extraction confidence is too low.
func (c *Chain) Run(ctx context.Context, text string) (*Confirmation, error) {
	out, err := c.p.Execute(ctx, text)
	if err != nil || !out.Accepted {
		return nil, err
	}
	details, _ := out.Results("details")
	return &Confirmation{
		Event:        eventFrom(details),
		Message:      out.Result.String("confirmation_message"),
		CalendarLink: out.Result.String("calendar_link"),
	}, nil
}
