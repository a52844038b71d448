package sink

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hazyhaar/domguard/dbopen"
)

// Schema for the suppression_events table.
const Schema = `
CREATE TABLE IF NOT EXISTS suppression_events (
	id         TEXT PRIMARY KEY,
	source     TEXT NOT NULL,
	level      TEXT NOT NULL,
	message    TEXT NOT NULL,
	page_id    TEXT NOT NULL DEFAULT '',
	page_url   TEXT NOT NULL DEFAULT '',
	xpath      TEXT NOT NULL DEFAULT '',
	excerpt    TEXT NOT NULL DEFAULT '',
	strategy   TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_suppression_events_page ON suppression_events(page_id, created_at);
`

// SQLite appends events to the suppression_events table. It is an event
// log for operators; nothing reads it back to decide what to suppress.
type SQLite struct {
	db *sql.DB
}

// NewSQLite applies Schema and returns the sink.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("sink: sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Emit(ctx context.Context, ev Event) error {
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO suppression_events (
			id, source, level, message, page_id, page_url, xpath, excerpt, strategy, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		ev.ID, ev.Source, string(ev.Level), ev.Message, ev.PageID, ev.PageURL,
		ev.XPath, ev.Excerpt, ev.Strategy, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("sink: sqlite insert: %w", err)
	}
	return nil
}

// Recent returns the latest events, newest first. An empty pageID selects
// all pages.
func (s *SQLite) Recent(ctx context.Context, pageID string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, level, message, page_id, page_url, xpath, excerpt, strategy, created_at
		FROM suppression_events
		WHERE ? = '' OR page_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, pageID, pageID, limit)
	if err != nil {
		return nil, fmt.Errorf("sink: sqlite query: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var level string
		if err := rows.Scan(&ev.ID, &ev.Source, &level, &ev.Message, &ev.PageID,
			&ev.PageURL, &ev.XPath, &ev.Excerpt, &ev.Strategy, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.Level = Level(level)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close leaves the database open; its owner closes it.
func (s *SQLite) Close() error { return nil }
