// Package sink defines the logging sink the watcher reports to. A sink
// accepts events tagged with a source name and a level; the watcher never
// depends on the outcome of an Emit.
package sink

import (
	"context"
)

// Level is the event severity.
type Level string

const (
	LevelInfo Level = "info"
	LevelWarn Level = "warn"
)

// Event is one watcher log line.
type Event struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	Level     Level  `json:"level"`
	Message   string `json:"message"`
	PageID    string `json:"page_id,omitempty"`
	PageURL   string `json:"page_url,omitempty"`
	XPath     string `json:"xpath,omitempty"`
	Excerpt   string `json:"excerpt,omitempty"`
	Strategy  string `json:"strategy,omitempty"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
}

// Sink is the output interface. Implementations deliver events to
// different backends (stdout, webhook, SQLite, in-process callback).
type Sink interface {
	Emit(ctx context.Context, ev Event) error
	Close() error
}
