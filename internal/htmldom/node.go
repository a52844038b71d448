package htmldom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/domguard/internal/dom"
)

// node is a live handle: every accessor reads the current tree under the
// document lock.
type node struct {
	doc *Document
	n   *html.Node
}

func (h *node) Kind() dom.Kind { return kindOf(h.n) }

func (h *node) Tag() string {
	if h.n.Type != html.ElementNode {
		return ""
	}
	return strings.ToLower(h.n.Data)
}

func (h *node) Attrs() map[string]string {
	h.doc.mu.Lock()
	defer h.doc.mu.Unlock()
	out := make(map[string]string, len(h.n.Attr))
	for _, a := range h.n.Attr {
		if a.Namespace == "" {
			out[a.Key] = a.Val
		}
	}
	return out
}

func (h *node) Children() []dom.Node {
	h.doc.mu.Lock()
	defer h.doc.mu.Unlock()
	var out []dom.Node
	for c := h.n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, h.doc.handle(c))
	}
	return out
}

func (h *node) Attached() bool {
	h.doc.mu.Lock()
	defer h.doc.mu.Unlock()
	return h.doc.attachedLocked(h.n)
}

func (h *node) Path() string {
	h.doc.mu.Lock()
	defer h.doc.mu.Unlock()
	return xpath(h.n)
}

func (h *node) String() string { return h.Path() }

// xpath builds /html[1]/body[1]/div[2] style locators. Detached subtrees
// are rooted at their topmost ancestor.
func xpath(n *html.Node) string {
	var parts []string
	for c := n; c != nil && c.Type != html.DocumentNode; c = c.Parent {
		switch c.Type {
		case html.ElementNode:
			idx := 1
			for s := c.PrevSibling; s != nil; s = s.PrevSibling {
				if s.Type == html.ElementNode && s.Data == c.Data {
					idx++
				}
			}
			parts = append(parts, fmt.Sprintf("%s[%d]", strings.ToLower(c.Data), idx))
		case html.TextNode:
			parts = append(parts, "text()")
		case html.CommentNode:
			parts = append(parts, "comment()")
		}
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/")
}
