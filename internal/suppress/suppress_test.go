package suppress

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/hazyhaar/domguard/internal/dom"
	"github.com/hazyhaar/domguard/internal/htmldom"
	"github.com/hazyhaar/domguard/internal/sink"
)

const page = `<html><body>
<div id="app"><p>text</p><div data-target="x" style="color:red">Share <b>now</b><script>alert(1)</script></div></div>
</body></html>`

type events struct {
	mu  sync.Mutex
	evs []sink.Event
}

func (e *events) sink() sink.Sink {
	return sink.NewCallback(func(_ context.Context, ev sink.Event) error {
		e.mu.Lock()
		e.evs = append(e.evs, ev)
		e.mu.Unlock()
		return nil
	})
}

func (e *events) list() []sink.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]sink.Event(nil), e.evs...)
}

func setup(t *testing.T, strategy Strategy) (*htmldom.Document, dom.Node, *Suppressor, *events) {
	t.Helper()
	doc, err := htmldom.ParseString(page)
	if err != nil {
		t.Fatal(err)
	}
	targets := doc.ElementsByAttr("data-target", "x")
	if len(targets) != 1 {
		t.Fatalf("fixture: %d targets", len(targets))
	}
	ev := &events{}
	s := New(doc, Options{Strategy: strategy, PageID: "p1", PageURL: "https://example.test/", Sink: ev.sink()})
	return doc, targets[0], s, ev
}

func TestParseStrategy(t *testing.T) {
	for in, want := range map[string]Strategy{"": Remove, "remove": Remove, " HIDE ": Hide} {
		got, err := ParseStrategy(in)
		if err != nil || got != want {
			t.Errorf("ParseStrategy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseStrategy("blur"); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestRemove_OneEventThenNoop(t *testing.T) {
	doc, target, s, ev := setup(t, Remove)
	ctx := context.Background()

	if got := s.Suppress(ctx, target); got != Suppressed {
		t.Fatalf("first: got %s", got)
	}
	if target.Attached() {
		t.Error("target still attached")
	}
	if got := s.Suppress(ctx, target); got != AlreadySuppressed {
		t.Fatalf("second: got %s", got)
	}
	if n := len(doc.ElementsByAttr("data-target", "x")); n != 0 {
		t.Errorf("%d targets left", n)
	}

	evs := ev.list()
	if len(evs) != 1 {
		t.Fatalf("got %d events, want exactly 1", len(evs))
	}
	e := evs[0]
	if e.Level != sink.LevelInfo || e.Source != "domguard" || e.PageID != "p1" || e.Strategy != "remove" {
		t.Errorf("unexpected event: %+v", e)
	}
	if e.XPath == "" {
		t.Error("event has no xpath")
	}
	if strings.ContainsAny(e.Excerpt, "<>") || strings.Contains(e.Excerpt, "alert") {
		t.Errorf("excerpt leaks markup: %q", e.Excerpt)
	}
	if !strings.Contains(e.Excerpt, "Share now") {
		t.Errorf("excerpt missing text: %q", e.Excerpt)
	}
}

func TestHide_OneEventThenNoop(t *testing.T) {
	doc, target, s, ev := setup(t, Hide)
	ctx := context.Background()

	if got := s.Suppress(ctx, target); got != Suppressed {
		t.Fatalf("first: got %s", got)
	}
	if !target.Attached() {
		t.Fatal("hide detached the element")
	}
	attrs := target.Attrs()
	if _, ok := attrs[htmldom.HiddenAttr]; !ok {
		t.Error("marker attribute missing")
	}
	if !strings.Contains(attrs["style"], "display: none !important") || !strings.HasPrefix(attrs["style"], "color:red;") {
		t.Errorf("style: %q", attrs["style"])
	}

	before, _ := doc.OuterHTML(ctx, target)
	if got := s.Suppress(ctx, target); got != AlreadySuppressed {
		t.Fatalf("second: got %s", got)
	}
	after, _ := doc.OuterHTML(ctx, target)
	if before != after {
		t.Errorf("second hide changed the element:\n%s\n%s", before, after)
	}
	if n := len(ev.list()); n != 1 {
		t.Errorf("got %d events, want 1", n)
	}
}

func TestUnsuppressible_WarnsAndContinues(t *testing.T) {
	doc, target, s, ev := setup(t, Hide)
	ctx := context.Background()

	text := target.Children()[0]
	if text.Kind() != dom.KindText {
		t.Fatalf("fixture: first child is %s", text.Kind())
	}
	if got := s.Suppress(ctx, text); got != Unsuppressible {
		t.Fatalf("text node: got %s", got)
	}
	if got := s.Suppress(ctx, target); got != Suppressed {
		t.Fatalf("element after warning: got %s", got)
	}

	evs := ev.list()
	if len(evs) != 2 || evs[0].Level != sink.LevelWarn || evs[1].Level != sink.LevelInfo {
		t.Fatalf("unexpected events: %+v", evs)
	}

	rs := New(doc, Options{Strategy: Remove})
	if got := rs.Suppress(ctx, doc.Root()); got != Unsuppressible {
		t.Errorf("remove document: got %s", got)
	}
}

type brokenDoc struct {
	*htmldom.Document
}

func (brokenDoc) Remove(context.Context, dom.Node) (dom.Result, error) {
	return dom.Noop, errors.New("target closed")
}

func TestBackendFailure(t *testing.T) {
	doc, target, _, _ := setup(t, Remove)
	ev := &events{}
	s := New(brokenDoc{doc}, Options{Sink: ev.sink()})

	if got := s.Suppress(context.Background(), target); got != Failed {
		t.Fatalf("got %s, want failed", got)
	}
	evs := ev.list()
	if len(evs) != 1 || evs[0].Level != sink.LevelWarn || !strings.Contains(evs[0].Message, "target closed") {
		t.Fatalf("unexpected events: %+v", evs)
	}
}

func TestNilSink(t *testing.T) {
	doc, err := htmldom.ParseString(page)
	if err != nil {
		t.Fatal(err)
	}
	s := New(doc, Options{})
	if got := s.Suppress(context.Background(), doc.ElementsByAttr("data-target", "x")[0]); got != Suppressed {
		t.Fatalf("got %s", got)
	}
}

func TestExcerpt_Truncates(t *testing.T) {
	s := New(nil, Options{})
	long := "<p>" + strings.Repeat("word ", 100) + "</p>"
	got := s.Excerpt(long)
	if n := len([]rune(got)); n != ExcerptLen {
		t.Fatalf("excerpt length %d, want %d", n, ExcerptLen)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("missing ellipsis: %q", got)
	}
}
