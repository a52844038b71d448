package cdpdom

import (
	"strings"
	"sync/atomic"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/domguard/internal/dom"
)

// node is a snapshot of one DOM node taken by DOM.describeNode. Its shape
// (kind, tag, attributes, children) is fixed at snapshot time; attachment
// is live, answered from the node map.
type node struct {
	doc      *Document
	epoch    uint64
	id       proto.DOMNodeID // 0 when the browser is not tracking it
	backend  proto.DOMBackendNodeID
	parent   *node
	kind     dom.Kind
	tag      string
	attrs    map[string]string
	children []dom.Node
	removed  atomic.Bool
}

// build converts a describeNode result into handles. Open shadow roots
// follow the light children; user-agent and closed roots are skipped.
func (d *Document) build(n *proto.DOMNode, parent *node, epoch uint64) *node {
	h := &node{
		doc:     d,
		epoch:   epoch,
		backend: n.BackendNodeID,
		parent:  parent,
		kind:    kindOf(n.NodeType),
	}
	h.id = n.NodeID
	if h.id == 0 {
		h.id = d.nodes.lookup(n.BackendNodeID)
	}
	if h.kind == dom.KindElement {
		h.tag = strings.ToLower(n.LocalName)
		if h.tag == "" {
			h.tag = strings.ToLower(n.NodeName)
		}
		h.attrs = make(map[string]string, len(n.Attributes)/2)
		for i := 0; i+1 < len(n.Attributes); i += 2 {
			h.attrs[strings.ToLower(n.Attributes[i])] = n.Attributes[i+1]
		}
	}
	for _, c := range n.Children {
		h.children = append(h.children, d.build(c, h, epoch))
	}
	for _, sr := range n.ShadowRoots {
		if sr.ShadowRootType == proto.DOMShadowRootTypeOpen {
			h.children = append(h.children, d.build(sr, h, epoch))
		}
	}
	return h
}

func kindOf(t int) dom.Kind {
	switch t {
	case 1:
		return dom.KindElement
	case 3:
		return dom.KindText
	case 8:
		return dom.KindComment
	case 9:
		return dom.KindDocument
	case 11:
		return dom.KindFragment
	}
	return dom.KindOther
}

func (h *node) Kind() dom.Kind { return h.kind }
func (h *node) Tag() string    { return h.tag }

func (h *node) Attrs() map[string]string {
	out := make(map[string]string, len(h.attrs))
	for k, v := range h.attrs {
		out[k] = v
	}
	return out
}

func (h *node) Children() []dom.Node { return h.children }

// Attached walks up to the nearest tracked node. A node removed through
// this Document, or snapshotted before the document was replaced, is
// detached.
func (h *node) Attached() bool {
	if h.epoch != h.doc.epoch.Load() {
		return false
	}
	for n := h; n != nil; n = n.parent {
		if n.removed.Load() {
			return false
		}
		if n.id != 0 {
			return h.doc.nodes.has(n.id)
		}
	}
	return true
}

func (h *node) Path() string {
	if h.id != 0 {
		if p, ok := h.doc.nodes.xpath(h.id); ok {
			return p
		}
	}
	var seg string
	switch h.kind {
	case dom.KindText:
		seg = "text()"
	case dom.KindComment:
		seg = "comment()"
	case dom.KindFragment:
		seg = "shadow-root"
	default:
		seg = h.tag
	}
	if h.parent != nil {
		return h.parent.Path() + "/" + seg
	}
	return "/" + seg
}

func (h *node) String() string { return h.Path() }
