package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/domguard/idgen"
)

// Router fans out events to all configured sinks. One sink error does not
// block the others; errors are logged and the first encountered is
// returned. Missing IDs and timestamps are stamped before fan-out.
type Router struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger *slog.Logger
	newID  idgen.Generator
}

// NewRouter creates a fan-out router delivering to all sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger, newID: idgen.Event}
}

// Add registers another sink.
func (r *Router) Add(s Sink) {
	r.mu.Lock()
	r.sinks = append(r.sinks, s)
	r.mu.Unlock()
}

func (r *Router) Emit(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = r.newID()
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	if ev.Level == "" {
		ev.Level = LevelInfo
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Emit(ctx, ev); err != nil {
			r.logger.Warn("sink: emit failed", "error", err, "event", ev.ID)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.sinks = nil
	return firstErr
}
