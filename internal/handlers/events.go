// Package handlers provides the tools models can call: calendar events,
// weather lookups, a knowledge base and Lua scripts.
package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/structflow/structflow/internal/schema"
	"github.com/structflow/structflow/internal/store"
	"github.com/structflow/structflow/internal/tools"
)

// EventStore is the subset of the event store the calendar tools need.
type EventStore interface {
	Insert(ctx context.Context, e store.Event) (*store.Event, error)
	Update(ctx context.Context, name string, changes []store.Change) (*store.Event, error)
	List(ctx context.Context) ([]*store.Event, error)
}

var (
	createEventParams = schema.MustNew(
		schema.Field{Name: "name_of_event", Description: "Name of the event", Type: schema.String, Required: true},
		schema.Field{Name: "date", Description: "Date and time in ISO 8601 format", Type: schema.String, Required: true},
		schema.Field{Name: "duration_minutes", Description: "Duration in minutes", Type: schema.Int},
		schema.Field{Name: "participants", Description: "Names of the participants", Type: schema.List, Items: schema.String},
	)
	updateEventParams = schema.MustNew(
		schema.Field{Name: "name_of_event", Description: "Name of the event to update", Type: schema.String, Required: true},
		schema.Field{
			Name: "requested_changes", Description: "Changes to apply", Type: schema.List, Items: schema.Object, Required: true,
			Fields: schema.MustNew(
				schema.Field{Name: "field_to_update", Description: "One of name_of_event, date, duration_minutes, participants", Type: schema.String, Required: true},
				schema.Field{Name: "new_value", Description: "New value; participants as a comma separated list", Type: schema.String, Required: true},
			),
		},
	)
)

// Events returns the create_event, update_event and list_events tools.
func Events(s EventStore) []tools.Descriptor {
	return []tools.Descriptor{
		{
			Name:        "create_event",
			Description: "Create a calendar event.",
			Parameters:  createEventParams,
			Handler:     tools.HandlerFunc(func(ctx context.Context, args schema.Result) (any, error) { return createEvent(ctx, s, args) }),
		},
		{
			Name:        "update_event",
			Description: "Update fields of an existing calendar event.",
			Parameters:  updateEventParams,
			Handler:     tools.HandlerFunc(func(ctx context.Context, args schema.Result) (any, error) { return updateEvent(ctx, s, args) }),
		},
		{
			Name:        "list_events",
			Description: "List all calendar events.",
			Handler: tools.HandlerFunc(func(ctx context.Context, _ schema.Result) (any, error) {
				events, err := s.List(ctx)
				if err != nil {
					return nil, err
				}
				if events == nil {
					events = []*store.Event{}
				}
				return events, nil
			}),
		},
	}
}

func createEvent(ctx context.Context, s EventStore, args schema.Result) (any, error) {
	return s.Insert(ctx, store.Event{
		Name:            args.String("name_of_event"),
		Date:            args.String("date"),
		DurationMinutes: int(args.Int("duration_minutes")),
		Participants:    args.Strings("participants"),
	})
}

func updateEvent(ctx context.Context, s EventStore, args schema.Result) (any, error) {
	var changes []store.Change
	for _, v := range args.List("requested_changes") {
		c, ok := v.(schema.Result)
		if !ok {
			return nil, errors.New("requested_changes must be objects")
		}
		changes = append(changes, store.Change{Field: c.String("field_to_update"), Value: c.String("new_value")})
	}
	e, err := s.Update(ctx, args.String("name_of_event"), changes)
	if err != nil {
		return nil, fmt.Errorf("update_event: %w", err)
	}
	return e, nil
}
