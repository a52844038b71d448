// Package suppress removes or hides matched elements and reports each
// suppression to the logging sink.
package suppress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/domguard/internal/dom"
	"github.com/hazyhaar/domguard/internal/sink"
)

// Strategy is how an element is suppressed. One strategy applies to the
// whole process.
type Strategy string

const (
	Remove Strategy = "remove"
	Hide   Strategy = "hide"
)

// ParseStrategy accepts "remove", "hide" or "" (remove).
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", Remove:
		return Remove, nil
	case Hide:
		return Hide, nil
	}
	return "", fmt.Errorf("suppress: unknown strategy %q (want remove or hide)", s)
}

// Outcome classifies one Suppress call.
type Outcome int

const (
	// Suppressed: the document changed and one info event was emitted.
	Suppressed Outcome = iota
	// AlreadySuppressed: the element was detached or hidden already.
	AlreadySuppressed
	// Unsuppressible: the node kind cannot take the strategy. Warn event.
	Unsuppressible
	// Failed: the backend returned an error. Warn event.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Suppressed:
		return "suppressed"
	case AlreadySuppressed:
		return "already_suppressed"
	case Unsuppressible:
		return "unsuppressible"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// ExcerptLen is the maximum excerpt length in runes.
const ExcerptLen = 160

// Options configures a Suppressor.
type Options struct {
	Strategy Strategy
	// Source is the sink source name. Default "domguard".
	Source  string
	PageID  string
	PageURL string
	// Sink receives suppression events. nil discards them.
	Sink   sink.Sink
	Logger *slog.Logger
}

// Suppressor applies the strategy to elements of one document. It keeps no
// state between calls and is safe for concurrent use.
type Suppressor struct {
	doc    dom.Document
	opts   Options
	policy *bluemonday.Policy
	log    *slog.Logger
}

// New creates a Suppressor over doc.
func New(doc dom.Document, opts Options) *Suppressor {
	if opts.Strategy == "" {
		opts.Strategy = Remove
	}
	if opts.Source == "" {
		opts.Source = "domguard"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Suppressor{
		doc:    doc,
		opts:   opts,
		policy: bluemonday.StrictPolicy(),
		log:    opts.Logger.With("page_id", opts.PageID, "strategy", string(opts.Strategy)),
	}
}

func (s *Suppressor) Strategy() Strategy { return s.opts.Strategy }

// Suppress applies the strategy to n. It never returns an error: failures
// are classified and logged.
func (s *Suppressor) Suppress(ctx context.Context, n dom.Node) Outcome {
	if !s.supports(n.Kind()) {
		s.warn(ctx, n, fmt.Sprintf("cannot %s %s node", s.opts.Strategy, n.Kind()))
		return Unsuppressible
	}
	if !n.Attached() {
		s.log.Debug("suppress: already detached", "xpath", n.Path())
		return AlreadySuppressed
	}

	excerpt, err := s.doc.OuterHTML(ctx, n)
	if err != nil {
		s.log.Debug("suppress: outer html unavailable", "xpath", n.Path(), "error", err)
	}

	var res dom.Result
	switch s.opts.Strategy {
	case Hide:
		res, err = s.doc.Hide(ctx, n)
	default:
		res, err = s.doc.Remove(ctx, n)
	}
	switch {
	case errors.Is(err, dom.ErrUnsupported):
		s.warn(ctx, n, fmt.Sprintf("cannot %s %s node", s.opts.Strategy, n.Kind()))
		return Unsuppressible
	case err != nil:
		s.log.Warn("suppress: backend error", "xpath", n.Path(), "error", err)
		s.warn(ctx, n, fmt.Sprintf("%s failed: %v", s.opts.Strategy, err))
		return Failed
	case res == dom.Noop:
		s.log.Debug("suppress: no-op", "xpath", n.Path())
		return AlreadySuppressed
	}

	msg := "removed target element"
	if s.opts.Strategy == Hide {
		msg = "hid target element"
	}
	s.log.Info("suppress: "+msg, "xpath", n.Path())
	s.emit(ctx, sink.Event{
		Level:   sink.LevelInfo,
		Message: msg,
		XPath:   n.Path(),
		Excerpt: s.Excerpt(excerpt),
	})
	return Suppressed
}

// Report sends a message about this page to the sink, outside any
// particular element.
func (s *Suppressor) Report(ctx context.Context, level sink.Level, message string) {
	s.emit(ctx, sink.Event{Level: level, Message: message})
}

// Excerpt reduces markup to plain text of at most ExcerptLen runes.
func (s *Suppressor) Excerpt(markup string) string {
	text := strings.Join(strings.Fields(s.policy.Sanitize(markup)), " ")
	if utf8.RuneCountInString(text) <= ExcerptLen {
		return text
	}
	r := []rune(text)
	return string(r[:ExcerptLen-3]) + "..."
}

func (s *Suppressor) supports(k dom.Kind) bool {
	if s.opts.Strategy == Hide {
		return k == dom.KindElement
	}
	switch k {
	case dom.KindElement, dom.KindText, dom.KindComment:
		return true
	}
	return false
}

func (s *Suppressor) warn(ctx context.Context, n dom.Node, msg string) {
	s.log.Warn("suppress: "+msg, "xpath", n.Path())
	s.emit(ctx, sink.Event{Level: sink.LevelWarn, Message: msg, XPath: n.Path()})
}

func (s *Suppressor) emit(ctx context.Context, ev sink.Event) {
	if s.opts.Sink == nil {
		return
	}
	ev.Source = s.opts.Source
	ev.PageID = s.opts.PageID
	ev.PageURL = s.opts.PageURL
	ev.Strategy = string(s.opts.Strategy)
	_ = s.opts.Sink.Emit(ctx, ev)
}
