package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	ErrNotFound     = errors.New("event not found")
	ErrDuplicate    = errors.New("event already exists")
	ErrUnknownField = errors.New("unknown event field")
)

// Event is one stored calendar entry. Name is unique.
type Event struct {
	ID              string    `json:"id"`
	Name            string    `json:"name_of_event"`
	Date            string    `json:"date"`
	DurationMinutes int       `json:"duration_minutes"`
	Participants    []string  `json:"participants"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Change sets one field of an event, with the value as the model wrote it.
type Change struct {
	Field string `json:"field_to_update"`
	Value string `json:"new_value"`
}

// EventStore reads and writes the calendar_events table.
type EventStore struct {
	db *DB
}

func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

const eventColumns = `id, name_of_event, date, duration_minutes, participants, created_at, updated_at`

// Insert stores a new event and returns it with its ID and timestamps set.
func (s *EventStore) Insert(ctx context.Context, e Event) (*Event, error) {
	e.Name = strings.TrimSpace(e.Name)
	if e.Name == "" {
		return nil, errors.New("event insert: name_of_event is required")
	}
	if e.Date == "" {
		return nil, errors.New("event insert: date is required")
	}
	if e.DurationMinutes < 0 {
		return nil, fmt.Errorf("event insert: negative duration %d", e.DurationMinutes)
	}
	e.ID = "evt_" + uuid.New().String()
	now := time.Now().UTC().Truncate(time.Second)
	e.CreatedAt, e.UpdatedAt = now, now
	e.Participants = cleanParticipants(e.Participants)

	_, err := s.db.SQLDB().ExecContext(ctx, s.db.rebind(
		`INSERT INTO calendar_events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.Name, e.Date, e.DurationMinutes, encodeParticipants(e.Participants),
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("event insert %q: %w", e.Name, ErrDuplicate)
		}
		return nil, fmt.Errorf("event insert: %w", err)
	}
	return &e, nil
}

// Get returns the event with the given name.
func (s *EventStore) Get(ctx context.Context, name string) (*Event, error) {
	row := s.db.SQLDB().QueryRowContext(ctx, s.db.rebind(
		`SELECT `+eventColumns+` FROM calendar_events WHERE name_of_event = ?`), strings.TrimSpace(name))
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("event get: %w", err)
	}
	return e, nil
}

// List returns all events ordered by date, then name.
func (s *EventStore) List(ctx context.Context) ([]*Event, error) {
	rows, err := s.db.SQLDB().QueryContext(ctx,
		`SELECT `+eventColumns+` FROM calendar_events ORDER BY date, name_of_event`)
	if err != nil {
		return nil, fmt.Errorf("event list: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("event scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Update applies changes to the named event in one transaction and returns
// the result. Field names are the stored column names; "duration" and
// "name" are accepted as aliases.
func (s *EventStore) Update(ctx context.Context, name string, changes []Change) (*Event, error) {
	if len(changes) == 0 {
		return nil, errors.New("event update: no changes")
	}
	tx, err := s.db.SQLDB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("event update: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	e, err := scanEvent(tx.QueryRowContext(ctx, s.db.rebind(
		`SELECT `+eventColumns+` FROM calendar_events WHERE name_of_event = ?`), strings.TrimSpace(name)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("event update: %w", err)
	}
	for _, c := range changes {
		if err := apply(e, c); err != nil {
			return nil, fmt.Errorf("event update %q: %w", name, err)
		}
	}
	e.UpdatedAt = time.Now().UTC().Truncate(time.Second)

	_, err = tx.ExecContext(ctx, s.db.rebind(
		`UPDATE calendar_events SET name_of_event = ?, date = ?, duration_minutes = ?, participants = ?, updated_at = ? WHERE id = ?`),
		e.Name, e.Date, e.DurationMinutes, encodeParticipants(e.Participants), e.UpdatedAt.Format(time.RFC3339), e.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("event update %q: %w", e.Name, ErrDuplicate)
		}
		return nil, fmt.Errorf("event update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("event update: commit: %w", err)
	}
	return e, nil
}

// Seed inserts the sample event if the table is empty.
func (s *EventStore) Seed(ctx context.Context) error {
	events, err := s.List(ctx)
	if err != nil || len(events) > 0 {
		return err
	}
	_, err = s.Insert(ctx, Event{
		Name:            "Team Meeting",
		Date:            "2023-10-01T10:00:00",
		DurationMinutes: 60,
		Participants:    []string{"Alice", "Bob", "Charlie"},
	})
	return err
}

func apply(e *Event, c Change) error {
	value := strings.TrimSpace(c.Value)
	switch strings.ToLower(strings.TrimSpace(c.Field)) {
	case "name_of_event", "name":
		if value == "" {
			return errors.New("name_of_event cannot be empty")
		}
		e.Name = value
	case "date":
		if value == "" {
			return errors.New("date cannot be empty")
		}
		e.Date = value
	case "duration_minutes", "duration":
		n, err := parseMinutes(value)
		if err != nil {
			return err
		}
		e.DurationMinutes = n
	case "participants":
		p, err := parseParticipants(value)
		if err != nil {
			return err
		}
		e.Participants = p
	default:
		return fmt.Errorf("%w %q", ErrUnknownField, c.Field)
	}
	return nil
}

// parseMinutes accepts "90", "90 minutes" and Go durations such as "1h30m".
func parseMinutes(v string) (int, error) {
	if d, err := time.ParseDuration(strings.ReplaceAll(v, " ", "")); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("negative duration %q", v)
		}
		return int(d.Minutes()), nil
	}
	fields := strings.Fields(v)
	if len(fields) > 0 {
		if n, err := strconv.Atoi(fields[0]); err == nil && n >= 0 {
			return n, nil
		}
	}
	return 0, fmt.Errorf("invalid duration %q", v)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*Event, error) {
	var (
		e                    Event
		participants         string
		createdAt, updatedAt string
	)
	err := row.Scan(&e.ID, &e.Name, &e.Date, &e.DurationMinutes, &participants, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if e.Participants, err = decodeParticipants(participants); err != nil {
		return nil, fmt.Errorf("event %q: %w", e.Name, err)
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	e.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &e, nil
}

func cleanParticipants(in []string) []string {
	out := []string{}
	for _, p := range in {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// encodeParticipants stores the list as a JSON array so names may contain
// commas.
func encodeParticipants(p []string) string {
	b, _ := json.Marshal(cleanParticipants(p))
	return string(b)
}

// decodeParticipants reads a JSON array, or the comma-joined text written
// before migration 0003.
func decodeParticipants(s string) ([]string, error) {
	if !strings.HasPrefix(strings.TrimSpace(s), "[") {
		return cleanParticipants(strings.Split(s, ",")), nil
	}
	var p []string
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("participants: %w", err)
	}
	return cleanParticipants(p), nil
}

// parseParticipants reads a change value: a JSON array when the model sent
// one, otherwise a comma-separated list.
func parseParticipants(v string) ([]string, error) {
	if strings.HasPrefix(v, "[") {
		var p []string
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			return nil, fmt.Errorf("invalid participants %q: %w", v, err)
		}
		return cleanParticipants(p), nil
	}
	return cleanParticipants(strings.Split(v, ",")), nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
