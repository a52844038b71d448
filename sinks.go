package domguard

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/hazyhaar/domguard/dbopen"
	"github.com/hazyhaar/domguard/internal/sink"
)

// Sink receives watcher events.
type Sink = sink.Sink

// Event is one watcher log line.
type Event = sink.Event

// Level is the event severity (info or warn).
type Level = sink.Level

const (
	LevelInfo = sink.LevelInfo
	LevelWarn = sink.LevelWarn
)

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewCallbackSink creates an in-process sink.
func NewCallbackSink(fn func(ctx context.Context, ev Event) error) Sink {
	return sink.NewCallback(fn)
}

// sqliteSink owns its database.
type sqliteSink struct {
	*sink.SQLite
	db *sql.DB
}

func (s *sqliteSink) Close() error { return s.db.Close() }

// NewSQLiteSink opens (or creates) an event log database at path. The
// caller must import a database/sql driver registered as "sqlite".
func NewSQLiteSink(path string) (Sink, error) {
	db, err := dbopen.Open(path, dbopen.WithSchema(sink.Schema))
	if err != nil {
		return nil, fmt.Errorf("domguard: sqlite sink: %w", err)
	}
	s, err := sink.NewSQLite(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &sqliteSink{SQLite: s, db: db}, nil
}

// BuildSinks creates the sinks listed in the configuration. On error the
// sinks already built are closed.
func BuildSinks(cfgs []SinkConfig, stdout io.Writer, logger *slog.Logger) ([]Sink, error) {
	var out []Sink
	for _, c := range cfgs {
		var s Sink
		switch strings.ToLower(c.Type) {
		case "stdout":
			s = NewStdoutSink(stdout)
		case "webhook":
			s = NewWebhookSink(c.URL, logger)
		case "sqlite":
			var err error
			if s, err = NewSQLiteSink(c.Path); err != nil {
				closeAll(out)
				return nil, err
			}
		default:
			closeAll(out)
			return nil, fmt.Errorf("domguard: unknown sink type %q", c.Type)
		}
		out = append(out, s)
	}
	return out, nil
}

func closeAll(sinks []Sink) {
	for _, s := range sinks {
		s.Close()
	}
}

// eventLog is implemented by sinks that can read events back.
type eventLog interface {
	Recent(ctx context.Context, pageID string, limit int) ([]Event, error)
}
