// Package matcher finds the elements of a subtree that satisfy a signature.
package matcher

import (
	"fmt"
	"iter"

	"quamina.net/go/quamina"

	"github.com/hazyhaar/domguard/internal/dom"
	"github.com/hazyhaar/domguard/signature"
)

// Matcher evaluates one signature. A Matcher is not safe for concurrent
// use; each coordinator owns its own, taken with Clone.
type Matcher struct {
	sig      signature.Signature
	q        *quamina.Quamina
	required []string
}

// New compiles sig.
func New(sig signature.Signature) (*Matcher, error) {
	if sig.IsZero() {
		return nil, signature.ErrEmpty
	}
	q, err := quamina.New()
	if err != nil {
		return nil, fmt.Errorf("matcher: quamina: %w", err)
	}
	if err := q.AddPattern(sig.Name(), sig.Pattern()); err != nil {
		return nil, fmt.Errorf("matcher: add pattern: %w", err)
	}
	return &Matcher{sig: sig, q: q, required: sig.Required()}, nil
}

// Clone returns a Matcher sharing the compiled pattern but with its own
// match state, for use on another goroutine.
func (m *Matcher) Clone() *Matcher {
	return &Matcher{sig: m.sig, q: m.q.Copy(), required: m.required}
}

// Signature returns the compiled signature.
func (m *Matcher) Signature() signature.Signature { return m.sig }

// Match reports whether n is an element satisfying the signature.
func (m *Matcher) Match(n dom.Node) bool {
	if n == nil || n.Kind() != dom.KindElement {
		return false
	}
	if t := m.sig.Tag(); t != "" && n.Tag() != t {
		return false
	}
	attrs := n.Attrs()
	for _, name := range m.required {
		if _, ok := attrs[name]; !ok {
			return false
		}
	}
	ev, err := signature.Event(n.Tag(), attrs)
	if err != nil {
		return false
	}
	matches, err := m.q.MatchesForEvent(ev)
	return err == nil && len(matches) > 0
}

// Find yields the matching elements of root's subtree, root included, in
// pre-order document order. A nil or detached root yields nothing.
//
// The walk is lazy and tolerates the consumer suppressing what it yields:
// children are read before a node is yielded, and the subtree of a node
// that is no longer attached after the yield is skipped.
func (m *Matcher) Find(root dom.Node) iter.Seq[dom.Node] {
	return func(yield func(dom.Node) bool) {
		if root == nil || !root.Attached() {
			return
		}
		m.walk(root, yield)
	}
}

func (m *Matcher) walk(n dom.Node, yield func(dom.Node) bool) bool {
	switch n.Kind() {
	case dom.KindElement, dom.KindDocument, dom.KindFragment:
	default:
		return true
	}
	children := n.Children()
	if m.Match(n) {
		if !yield(n) {
			return false
		}
		if !n.Attached() {
			return true
		}
	}
	for _, c := range children {
		if !m.walk(c, yield) {
			return false
		}
	}
	return true
}

// Collect drains Find into a slice.
func (m *Matcher) Collect(root dom.Node) []dom.Node {
	var out []dom.Node
	for n := range m.Find(root) {
		out = append(out, n)
	}
	return out
}
