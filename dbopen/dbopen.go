// Package dbopen opens the SQLite files domguard keeps: the guard_pages
// table read with -db and the suppression_events log of the sqlite sink.
//
// Pragmas travel in the DSN so every pooled connection gets them:
//
//	foreign_keys = 1, journal_mode = WAL, synchronous = NORMAL,
//	busy_timeout = 10s (WithBusyTimeout)
//
// The caller blank-imports the driver:
//
//	import _ "modernc.org/sqlite"
//	db, err := dbopen.Open("var/domguard.db", dbopen.WithSchema(domguard.PageSchema))
package dbopen

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Memory is the path of a private in-memory database.
const Memory = ":memory:"

type settings struct {
	busy    time.Duration
	schemas []string
}

// Option customises Open.
type Option func(*settings)

// WithBusyTimeout sets how long a connection waits on a locked database.
func WithBusyTimeout(d time.Duration) Option { return func(s *settings) { s.busy = d } }

// WithSchema queues DDL to run after the database is opened.
func WithSchema(ddl string) Option { return func(s *settings) { s.schemas = append(s.schemas, ddl) } }

// DSN renders path with the connection pragmas as modernc.org/sqlite
// query parameters.
func DSN(path string, busy time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	return path + "?" + q.Encode()
}

// Open opens path, creating its directory when needed, and applies any
// queued schema.
func Open(path string, opts ...Option) (*sql.DB, error) {
	s := settings{busy: 10 * time.Second}
	for _, o := range opts {
		o(&s)
	}
	if path != Memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", DSN(path, s.busy))
	if err != nil {
		return nil, fmt.Errorf("dbopen: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbopen: ping %s: %w", path, err)
	}
	for i, ddl := range s.schemas {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: schema %d: %w", i, err)
		}
	}
	return db, nil
}

// OpenMemory opens an in-memory database for tests. It is pinned to one
// connection so every query sees the same database, and closed on cleanup.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(Memory, opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
