// Package dbopen opens the SQLite databases feedsweep writes (the progress
// journal) with WAL and a busy timeout, so a journal can be tailed by
// another process while a campaign appends to it.
//
//	db, err := dbopen.Open("var/journal.db", dbopen.WithMkdirAll(), dbopen.WithSchema(ddl))
//
// The package blank-imports modernc.org/sqlite. Tests use OpenMemory.
package dbopen

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// Driver is the database/sql driver name registered by modernc.org/sqlite.
const Driver = "sqlite"

// DefaultBusyTimeout is the busy_timeout in milliseconds.
const DefaultBusyTimeout = 5000

type options struct {
	busyTimeout int
	mkdirAll    bool
	schemas     []string
}

// Option customises Open.
type Option func(*options)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds.
func WithBusyTimeout(ms int) Option { return func(o *options) { o.busyTimeout = ms } }

// WithMkdirAll creates the parent directory of the database file.
func WithMkdirAll() Option { return func(o *options) { o.mkdirAll = true } }

// WithSchema runs ddl after the pragmas. May be repeated.
func WithSchema(ddl string) Option { return func(o *options) { o.schemas = append(o.schemas, ddl) } }

// Open opens the database at path, applies the pragmas and the schemas,
// and pings it.
func Open(path string, opts ...Option) (*sql.DB, error) {
	o := options{busyTimeout: DefaultBusyTimeout}
	for _, fn := range opts {
		fn(&o)
	}

	if o.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	db, err := sql.Open(Driver, path)
	if err != nil {
		return nil, fmt.Errorf("dbopen: open: %w", err)
	}
	if err := setup(db, &o); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func setup(db *sql.DB, o *options) error {
	for _, p := range []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", o.busyTimeout),
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("dbopen: %s: %w", p, err)
		}
	}
	for _, ddl := range o.schemas {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("dbopen: schema: %w", err)
		}
	}
	if err := db.Ping(); err != nil {
		return fmt.Errorf("dbopen: ping: %w", err)
	}
	return nil
}

// OpenMemory opens a private in-memory database closed at test cleanup.
// It is limited to one connection: every ":memory:" connection is a
// separate database.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
