package sink

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
)

// Stdout writes one JSON envelope per line. Events share the writer with
// nothing else, so a daemon's stdout can be piped straight into jq.
type Stdout struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewStdout creates a Stdout sink. If w is nil, os.Stdout is used.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Stdout{enc: enc}
}

func (s *Stdout) Emit(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(wrap(ev))
}

func (s *Stdout) Close() error { return nil }

// envelope is the wire form shared by the stdout and webhook sinks.
// Type is "suppression" for an element taken out of a page and "notice"
// for everything else.
type envelope struct {
	Type string `json:"type"`
	Data Event  `json:"data"`
}

func wrap(ev Event) envelope {
	typ := "notice"
	if ev.Strategy != "" {
		typ = "suppression"
	}
	return envelope{Type: typ, Data: ev}
}
