// Package store persists calendar events in SQLite or Postgres.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options selects the backend. SQLite uses DataDir/events.db; Postgres
// uses DSN.
type Options struct {
	Driver  string
	DataDir string
	DSN     string
}

// DB holds the connection and the dialect used to rebind queries.
type DB struct {
	db     *sql.DB
	driver string
}

// Open connects and runs pending migrations. Caller must call Close when done.
func Open(ctx context.Context, opts Options) (*DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch opts.Driver {
	case "", DriverSQLite:
		opts.Driver = DriverSQLite
		db, err = openSQLite(ctx, opts.DataDir)
	case DriverPostgres:
		db, err = openPostgres(ctx, opts.DSN)
	default:
		return nil, fmt.Errorf("event store: unknown driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}
	d := &DB{db: db, driver: opts.Driver}
	if err := d.runMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func openSQLite(ctx context.Context, dataDir string) (*sql.DB, error) {
	if dataDir == "" {
		return nil, errors.New("event store: data_dir is required")
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("event store: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dataDir, "events.db"))
	if err != nil {
		return nil, fmt.Errorf("event store: open db: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("event store: WAL: %w", err)
	}
	return db, nil
}

func openPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("event store: dsn is required for postgres")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging postgres database: %w", err)
	}
	return db, nil
}

// SQLDB returns the underlying *sql.DB. Do not close it directly; use Close on DB.
func (d *DB) SQLDB() *sql.DB {
	return d.db
}

func (d *DB) Driver() string { return d.driver }

func (d *DB) Close() error {
	return d.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres.
func (d *DB) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Version returns the applied schema version.
func (d *DB) Version(ctx context.Context) (int, error) {
	var v sql.NullInt64
	err := d.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&v)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !v.Valid) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("migrations: read version: %w", err)
	}
	return int(v.Int64), nil
}

func (d *DB) runMigrations(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL PRIMARY KEY)"); err != nil {
		return fmt.Errorf("migrations: create schema_version: %w", err)
	}
	current, err := d.Version(ctx)
	if err != nil {
		return err
	}
	names, err := migrationNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		n, err := migrationNumber(name)
		if err != nil || n <= current {
			continue
		}
		data, err := fs.ReadFile(migrationsFS, "migrations/"+name)
		if err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
		if err := d.apply(ctx, name, n, string(data)); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) apply(ctx context.Context, name string, version int, stmt string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %s: begin: %w", name, err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("migration %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_version"); err != nil {
		return fmt.Errorf("migration %s: clear version: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, d.rebind("INSERT INTO schema_version (version) VALUES (?)"), version); err != nil {
		return fmt.Errorf("migration %s: set version: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migration %s: commit: %w", name, err)
	}
	return nil
}

func migrationNames() ([]string, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func migrationNumber(name string) (int, error) {
	prefix, _, ok := strings.Cut(strings.TrimSuffix(name, ".sql"), "_")
	if !ok {
		return 0, fmt.Errorf("invalid migration name %q", name)
	}
	n, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid migration number in %q", name)
	}
	return n, nil
}
