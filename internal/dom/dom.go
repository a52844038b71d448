// Package dom defines the backend-neutral view of a live document that the
// watcher operates on. Two backends implement it: cdpdom (a Chrome tab
// driven over CDP) and htmldom (an in-memory document used offline and in
// tests).
package dom

import (
	"context"
	"errors"
)

// Kind is the node kind, following the DOM nodeType values.
type Kind int

const (
	KindOther    Kind = 0
	KindElement  Kind = 1
	KindText     Kind = 3
	KindComment  Kind = 8
	KindDocument Kind = 9
	KindFragment Kind = 11
)

func (k Kind) String() string {
	switch k {
	case KindElement:
		return "element"
	case KindText:
		return "text"
	case KindComment:
		return "comment"
	case KindDocument:
		return "document"
	case KindFragment:
		return "fragment"
	}
	return "other"
}

// Node is a handle on one node. Handles outlive the node's attachment: a
// detached node still answers Kind/Tag/Attrs and reports Attached false.
type Node interface {
	Kind() Kind
	// Tag is the lowercase element name, empty for non-elements.
	Tag() string
	// Attrs returns a copy of the element attributes.
	Attrs() map[string]string
	// Children returns the child nodes in document order. Open shadow
	// roots are included after the light children.
	Children() []Node
	// Attached reports whether the node is part of the document.
	Attached() bool
	// Path is an XPath-like locator used in logs.
	Path() string
}

// HiddenAttr marks elements hidden by Document.Hide. Its presence makes a
// second Hide a no-op.
const HiddenAttr = "data-domguard-hidden"

// Result classifies a suppression action.
type Result int

const (
	// Done means the document changed.
	Done Result = iota
	// Noop means the node was already detached or hidden.
	Noop
)

// Sentinel errors returned by Document implementations.
var (
	// ErrUnsupported is returned when the node kind cannot take the
	// requested action (hiding a text node, removing the document).
	ErrUnsupported = errors.New("dom: unsupported node kind for action")
	// ErrForeignNode is returned for a handle created by another Document.
	ErrForeignNode = errors.New("dom: node does not belong to this document")
)

// Document is a live document.
type Document interface {
	// Body returns the current document body, or nil when the document has
	// none yet. Returned nodes reflect the document at call time.
	Body(ctx context.Context) (Node, error)

	// Observe subscribes to child-list mutations in the subtree of root.
	// fn receives, per mutation batch, the added nodes in delivery order.
	// fn is never called concurrently with itself for one subscription.
	Observe(ctx context.Context, root Node, fn func(added []Node)) (Subscription, error)

	// Remove detaches n from the document.
	Remove(ctx context.Context, n Node) (Result, error)

	// Hide makes n permanently non-visible while leaving it in place.
	Hide(ctx context.Context, n Node) (Result, error)

	// OuterHTML serialises n, for log excerpts.
	OuterHTML(ctx context.Context, n Node) (string, error)
}

// Subscription is a live mutation subscription.
type Subscription interface {
	// Disconnect stops delivery. It is safe to call more than once.
	Disconnect()
}
