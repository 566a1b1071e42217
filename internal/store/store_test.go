package store

import (
	"context"
	"errors"
	"testing"
)

func openTest(t *testing.T) (*DB, *EventStore) {
	t.Helper()
	db, err := Open(context.Background(), Options{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, NewEventStore(db)
}

func TestOpenAndMigrations(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	db, err := Open(ctx, Options{Driver: DriverSQLite, DataDir: dir})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	v, err := db.Version(ctx)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v != 3 {
		t.Errorf("schema_version = %d, want 3", v)
	}
	_ = db.Close()

	// Re-open: idempotent
	db2, err := Open(ctx, Options{DataDir: dir})
	if err != nil {
		t.Fatalf("Open again: %v", err)
	}
	defer db2.Close()
	if v, _ := db2.Version(ctx); v != 3 {
		t.Errorf("schema_version after re-open = %d, want 3", v)
	}
}

func TestOpenErrors(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, Options{}); err == nil {
		t.Error("expected error without data_dir")
	}
	if _, err := Open(ctx, Options{Driver: DriverPostgres}); err == nil {
		t.Error("expected error without dsn")
	}
	if _, err := Open(ctx, Options{Driver: "mysql", DataDir: t.TempDir()}); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestRebind(t *testing.T) {
	q := "UPDATE t SET a = ?, b = ? WHERE id = ?"
	pg := &DB{driver: DriverPostgres}
	if got := pg.rebind(q); got != "UPDATE t SET a = $1, b = $2 WHERE id = $3" {
		t.Errorf("postgres rebind = %q", got)
	}
	lite := &DB{driver: DriverSQLite}
	if got := lite.rebind(q); got != q {
		t.Errorf("sqlite rebind = %q", got)
	}
}

func TestInsertGetList(t *testing.T) {
	_, s := openTest(t)
	ctx := context.Background()

	e, err := s.Insert(ctx, Event{Name: " Standup ", Date: "2025-06-03T09:00:00", DurationMinutes: 15, Participants: []string{"Alice", " ", "Bob "}})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if e.ID == "" || e.Name != "Standup" {
		t.Errorf("inserted = %+v", e)
	}
	if _, err := s.Insert(ctx, Event{Name: "Retro", Date: "2025-06-01T15:00:00"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.Get(ctx, "Standup")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.DurationMinutes != 15 || len(got.Participants) != 2 || got.Participants[1] != "Bob" {
		t.Errorf("Get = %+v", got)
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].Name != "Retro" {
		t.Errorf("List order = %v, %v", list[0].Name, list[1].Name)
	}
	if list[0].Participants == nil || len(list[0].Participants) != 0 {
		t.Errorf("empty participants = %#v", list[0].Participants)
	}

	if _, err := s.Get(ctx, "Missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing err = %v", err)
	}
}

func TestParticipantsWithCommas(t *testing.T) {
	db, s := openTest(t)
	ctx := context.Background()

	if _, err := s.Insert(ctx, Event{Name: "Review", Date: "2025-06-04T10:00:00", Participants: []string{"Smith, John", "Alice"}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := s.Get(ctx, "Review")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Participants) != 2 || got.Participants[0] != "Smith, John" {
		t.Errorf("participants = %#v", got.Participants)
	}

	got, err = s.Update(ctx, "Review", []Change{{Field: "participants", Value: `["Doe, Jane", "Bob"]`}})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(got.Participants) != 2 || got.Participants[0] != "Doe, Jane" {
		t.Errorf("updated participants = %#v", got.Participants)
	}

	// rows written before the JSON encoding still read as a comma list
	if _, err := db.db.ExecContext(ctx, "UPDATE calendar_events SET participants = 'Ann, Ben' WHERE name_of_event = 'Review'"); err != nil {
		t.Fatal(err)
	}
	got, err = s.Get(ctx, "Review")
	if err != nil {
		t.Fatalf("Get legacy: %v", err)
	}
	if len(got.Participants) != 2 || got.Participants[1] != "Ben" {
		t.Errorf("legacy participants = %#v", got.Participants)
	}
}

func TestInsertValidation(t *testing.T) {
	_, s := openTest(t)
	ctx := context.Background()
	for _, e := range []Event{
		{Date: "2025-01-01"},
		{Name: "x"},
		{Name: "x", Date: "2025-01-01", DurationMinutes: -1},
	} {
		if _, err := s.Insert(ctx, e); err == nil {
			t.Errorf("Insert(%+v): expected error", e)
		}
	}
	if _, err := s.Insert(ctx, Event{Name: "dup", Date: "d"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Insert(ctx, Event{Name: "dup", Date: "d"}); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate err = %v", err)
	}
}

func TestUpdate(t *testing.T) {
	_, s := openTest(t)
	ctx := context.Background()
	if err := s.Seed(ctx); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if err := s.Seed(ctx); err != nil {
		t.Fatalf("Seed again: %v", err)
	}
	if list, _ := s.List(ctx); len(list) != 1 {
		t.Fatalf("seeded %d events, want 1", len(list))
	}

	e, err := s.Update(ctx, "Team Meeting", []Change{
		{Field: "date", Value: "2023-10-01T15:00:00"},
		{Field: "duration", Value: "1h30m"},
		{Field: "participants", Value: "Alice, Dana"},
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if e.Date != "2023-10-01T15:00:00" || e.DurationMinutes != 90 {
		t.Errorf("updated = %+v", e)
	}
	got, _ := s.Get(ctx, "Team Meeting")
	if len(got.Participants) != 2 || got.Participants[1] != "Dana" {
		t.Errorf("participants = %v", got.Participants)
	}

	if _, err := s.Update(ctx, "Team Meeting", []Change{{Field: "name", Value: "Sync"}}); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := s.Get(ctx, "Sync"); err != nil {
		t.Errorf("Get renamed: %v", err)
	}
}

func TestUpdateErrors(t *testing.T) {
	_, s := openTest(t)
	ctx := context.Background()
	if err := s.Seed(ctx); err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		name    string
		event   string
		changes []Change
		want    error
	}{
		{"missing event", "Nope", []Change{{Field: "date", Value: "x"}}, ErrNotFound},
		{"unknown field", "Team Meeting", []Change{{Field: "location", Value: "Room 1"}}, ErrUnknownField},
		{"bad duration", "Team Meeting", []Change{{Field: "duration_minutes", Value: "soon"}}, nil},
		{"negative duration", "Team Meeting", []Change{{Field: "duration_minutes", Value: "-30m"}}, nil},
		{"bad participants", "Team Meeting", []Change{{Field: "participants", Value: `["Alice"`}}, nil},
		{"no changes", "Team Meeting", nil, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Update(ctx, tc.event, tc.changes)
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
	// failed updates leave the row untouched
	e, _ := s.Get(ctx, "Team Meeting")
	if e.DurationMinutes != 60 {
		t.Errorf("duration = %d after failed updates", e.DurationMinutes)
	}
}

func TestParseMinutes(t *testing.T) {
	cases := map[string]int{"45": 45, "90 minutes": 90, "2h": 120, "1h15m": 75}
	for in, want := range cases {
		got, err := parseMinutes(in)
		if err != nil || got != want {
			t.Errorf("parseMinutes(%q) = %d, %v; want %d", in, got, err, want)
		}
	}
	for _, in := range []string{"-5", "-30m", "-1h"} {
		if _, err := parseMinutes(in); err == nil {
			t.Errorf("parseMinutes(%q): negative duration accepted", in)
		}
	}
}
