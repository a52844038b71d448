package domguard

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/domguard/internal/htmldom"
	"github.com/hazyhaar/domguard/internal/matcher"
	"github.com/hazyhaar/domguard/internal/sink"
	"github.com/hazyhaar/domguard/internal/suppress"
	"github.com/hazyhaar/domguard/signature"
)

// CleanHTML parses a document from r, suppresses every element matching
// sig under its body with the given strategy ("remove" or "hide") and
// renders the result to w. It returns the number of suppressed elements.
// Events go to the sinks, if any.
func CleanHTML(ctx context.Context, r io.Reader, w io.Writer, sig signature.Signature, strategy string, sinks ...Sink) (int, error) {
	st, err := suppress.ParseStrategy(strategy)
	if err != nil {
		return 0, err
	}
	m, err := matcher.New(sig)
	if err != nil {
		return 0, err
	}
	doc, err := htmldom.Parse(r)
	if err != nil {
		return 0, fmt.Errorf("domguard: parse: %w", err)
	}
	body, err := doc.Body(ctx)
	if err != nil {
		return 0, err
	}

	var sk Sink
	if len(sinks) > 0 {
		sk = sink.NewRouter(nil, sinks...)
	}
	sup := suppress.New(doc, suppress.Options{Strategy: st, PageID: "offline", Sink: sk, Logger: slog.Default()})

	n := 0
	for _, el := range m.Collect(body) {
		if sup.Suppress(ctx, el) == suppress.Suppressed {
			n++
		}
	}
	if err := doc.Render(w); err != nil {
		return n, fmt.Errorf("domguard: render: %w", err)
	}
	return n, nil
}
