// Package htmldom is an in-memory live document built on golang.org/x/net/html.
// It behaves like a browser document for the watcher: nodes can be inserted,
// removed and hidden at any time, and child-list mutations are delivered to
// subscribers asynchronously in batches, the way a MutationObserver delivers
// records after the mutating task returns.
package htmldom

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/domguard/internal/dom"
)

// HiddenAttr marks elements hidden by Hide.
const HiddenAttr = dom.HiddenAttr

// Document is safe for concurrent use.
type Document struct {
	mu      sync.Mutex
	root    *html.Node
	handles map[*html.Node]*node
	subs    map[*subscription]struct{}
}

var _ dom.Document = (*Document)(nil)

// Parse reads a complete HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("htmldom: parse: %w", err)
	}
	return &Document{
		root:    root,
		handles: make(map[*html.Node]*node),
		subs:    make(map[*subscription]struct{}),
	}, nil
}

// ParseString is Parse for literals.
func ParseString(markup string) (*Document, error) {
	return Parse(strings.NewReader(markup))
}

// Body implements dom.Document.
func (d *Document) Body(_ context.Context) (dom.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.bodyLocked()
	if b == nil {
		return nil, nil
	}
	return d.handle(b), nil
}

// Root returns the document node.
func (d *Document) Root() dom.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handle(d.root)
}

func (d *Document) bodyLocked() *html.Node {
	htmlEl := findChild(d.root, atom.Html)
	if htmlEl == nil {
		return nil
	}
	return findChild(htmlEl, atom.Body)
}

func findChild(n *html.Node, a atom.Atom) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			return c
		}
	}
	return nil
}

// handle returns the unique handle for n. Caller holds d.mu.
func (d *Document) handle(n *html.Node) *node {
	if h, ok := d.handles[n]; ok {
		return h
	}
	h := &node{doc: d, n: n}
	d.handles[n] = h
	return h
}

func (d *Document) own(n dom.Node) (*node, error) {
	h, ok := n.(*node)
	if !ok || h.doc != d {
		return nil, dom.ErrForeignNode
	}
	return h, nil
}

func (d *Document) attachedLocked(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == d.root {
			return true
		}
	}
	return false
}

// Append parses markup in the context of parent and appends the resulting
// nodes to it. It returns the inserted top-level nodes.
func (d *Document) Append(parent dom.Node, markup string) ([]dom.Node, error) {
	p, err := d.own(parent)
	if err != nil {
		return nil, err
	}
	if p.n.Type != html.ElementNode {
		return nil, fmt.Errorf("htmldom: append into %s: %w", kindOf(p.n), dom.ErrUnsupported)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	frag, err := html.ParseFragment(strings.NewReader(markup), p.n)
	if err != nil {
		return nil, fmt.Errorf("htmldom: parse fragment: %w", err)
	}
	added := make([]dom.Node, 0, len(frag))
	for _, n := range frag {
		p.n.AppendChild(n)
		added = append(added, d.handle(n))
	}
	d.notifyLocked(p.n, added)
	return added, nil
}

// ReplaceBody swaps the body element for a new one built from markup, the
// way a client-side route change can replace the primary content subtree.
// The previous body is detached.
func (d *Document) ReplaceBody(markup string) (dom.Node, error) {
	fresh, err := html.Parse(strings.NewReader("<html><head></head><body>" + markup + "</body></html>"))
	if err != nil {
		return nil, fmt.Errorf("htmldom: parse body: %w", err)
	}
	newBody := findChild(findChild(fresh, atom.Html), atom.Body)
	newBody.Parent.RemoveChild(newBody)

	d.mu.Lock()
	defer d.mu.Unlock()
	htmlEl := findChild(d.root, atom.Html)
	if htmlEl == nil {
		return nil, fmt.Errorf("htmldom: document has no html element")
	}
	if old := findChild(htmlEl, atom.Body); old != nil {
		htmlEl.RemoveChild(old)
	}
	htmlEl.AppendChild(newBody)
	h := d.handle(newBody)
	d.notifyLocked(htmlEl, []dom.Node{h})
	return h, nil
}

// Remove implements dom.Document.
func (d *Document) Remove(_ context.Context, n dom.Node) (dom.Result, error) {
	h, err := d.own(n)
	if err != nil {
		return dom.Noop, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	switch h.n.Type {
	case html.DocumentNode, html.DoctypeNode:
		return dom.Noop, fmt.Errorf("htmldom: remove %s: %w", kindOf(h.n), dom.ErrUnsupported)
	}
	if h.n.Parent == nil || !d.attachedLocked(h.n) {
		return dom.Noop, nil
	}
	h.n.Parent.RemoveChild(h.n)
	return dom.Done, nil
}

// Hide implements dom.Document.
func (d *Document) Hide(_ context.Context, n dom.Node) (dom.Result, error) {
	h, err := d.own(n)
	if err != nil {
		return dom.Noop, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if h.n.Type != html.ElementNode {
		return dom.Noop, fmt.Errorf("htmldom: hide %s: %w", kindOf(h.n), dom.ErrUnsupported)
	}
	if _, ok := attr(h.n, HiddenAttr); ok {
		return dom.Noop, nil
	}
	style, _ := attr(h.n, "style")
	style = strings.TrimSpace(style)
	if style != "" && !strings.HasSuffix(style, ";") {
		style += ";"
	}
	setAttr(h.n, "style", strings.TrimSpace(style+" display: none !important;"))
	setAttr(h.n, HiddenAttr, "1")
	return dom.Done, nil
}

// OuterHTML implements dom.Document.
func (d *Document) OuterHTML(_ context.Context, n dom.Node) (string, error) {
	h, err := d.own(n)
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf bytes.Buffer
	if err := html.Render(&buf, h.n); err != nil {
		return "", fmt.Errorf("htmldom: render: %w", err)
	}
	return buf.String(), nil
}

// Render writes the whole document.
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return html.Render(w, d.root)
}

// ElementsByAttr returns attached elements carrying name=value, in
// document order.
func (d *Document) ElementsByAttr(name, value string) []dom.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []dom.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if v, ok := attr(n, name); ok && v == value {
				out = append(out, d.handle(n))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
	return out
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func kindOf(n *html.Node) dom.Kind {
	switch n.Type {
	case html.ElementNode:
		return dom.KindElement
	case html.TextNode:
		return dom.KindText
	case html.CommentNode:
		return dom.KindComment
	case html.DocumentNode:
		return dom.KindDocument
	}
	return dom.KindOther
}
