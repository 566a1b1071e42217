// Package calendar builds the calendar pipelines: a confirmation chain, a
// create/update router over the event store and a single-call meeting
// parser.
package calendar

import (
	"github.com/structflow/structflow/internal/schema"
)

// DefaultThreshold is the minimum confidence for a run to continue past its
// first stage.
const DefaultThreshold = 0.7

var (
	// EventExtraction decides whether text describes a calendar event.
	EventExtraction = schema.MustNew(
		schema.Field{Name: "description", Description: "Raw description of the event", Type: schema.String, Required: true},
		schema.Field{Name: "is_calendar_event", Description: "Whether this text describes a calendar event", Type: schema.Bool, Required: true},
		schema.Field{Name: "confidence_score", Description: "Confidence score between 0 and 1", Type: schema.Float, Required: true},
	)

	EventDetails = schema.MustNew(
		schema.Field{Name: "name_of_event", Description: "Name of the event", Type: schema.String, Required: true},
		schema.Field{Name: "date", Description: "Date and time of the event. Use ISO 8601 to format this value.", Type: schema.String, Required: true},
		schema.Field{Name: "duration_minutes", Description: "Expected duration in minutes", Type: schema.Int, Required: true},
		schema.Field{Name: "participants", Description: "List of participants", Type: schema.List, Items: schema.String},
	)

	EventConfirmation = schema.MustNew(
		schema.Field{Name: "confirmation_message", Description: "Natural language confirmation message", Type: schema.String, Required: true},
		schema.Field{Name: "calendar_link", Description: "Generated calendar link if applicable", Type: schema.String},
	)

	RequestType = schema.MustNew(
		schema.Field{Name: "request_type", Description: "Type of calendar request", Type: schema.LiteralSet, Values: []string{"create", "update", "other"}, Required: true},
		schema.Field{Name: "confidence_score", Description: "Confidence score between 0 and 1 for the request type classification", Type: schema.Float, Required: true},
		schema.Field{Name: "description", Description: "Cleaned description of the request", Type: schema.String, Required: true},
	)

	RequestedChange = schema.MustNew(
		schema.Field{Name: "field_to_update", Description: "Name of the field to update: name_of_event, date, duration_minutes or participants", Type: schema.String, Required: true},
		schema.Field{Name: "new_value", Description: "New value for the field; participants as a comma separated list", Type: schema.String, Required: true},
	)

	EventUpdate = schema.MustNew(
		schema.Field{Name: "name_of_event", Description: "Name of the existing event to update", Type: schema.String, Required: true},
		schema.Field{Name: "requested_changes", Description: "List of requested changes to the event", Type: schema.List, Items: schema.Object, Fields: RequestedChange, Required: true},
	)

	// StoreReport is what the model reports after calling the event tools.
	StoreReport = schema.MustNew(
		schema.Field{Name: "name_of_event", Description: "Name of the event that was stored", Type: schema.String, Required: true},
		schema.Field{Name: "success", Description: "Whether the event tool call succeeded", Type: schema.Bool, Required: true},
		schema.Field{Name: "summary", Description: "One sentence describing what changed", Type: schema.String, Required: true},
	)

	MeetingDetails = schema.MustNew(
		schema.Field{Name: "date", Description: "Date and time of the meeting in ISO 8601 format", Type: schema.String, Required: true},
		schema.Field{Name: "place", Description: "Meeting location", Type: schema.String, Required: true},
		schema.Field{Name: "participants", Description: "List of participant names", Type: schema.List, Items: schema.String, Required: true},
	)
)
