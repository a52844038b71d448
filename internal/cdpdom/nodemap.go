package cdpdom

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-rod/rod/lib/proto"
)

// nodeMap mirrors the tree of nodes the browser is tracking for us. It is
// fed by DOM.getDocument and by the DOM domain events, and answers three
// questions: is a node still in the document, is it under a given root,
// and what is its XPath.
type nodeMap struct {
	mu        sync.RWMutex
	root      proto.DOMNodeID
	paths     map[proto.DOMNodeID]string
	tags      map[proto.DOMNodeID]string
	parent    map[proto.DOMNodeID]proto.DOMNodeID
	children  map[proto.DOMNodeID][]proto.DOMNodeID
	byBackend map[proto.DOMBackendNodeID]proto.DOMNodeID
	backend   map[proto.DOMNodeID]proto.DOMBackendNodeID
}

func newNodeMap() *nodeMap {
	nm := &nodeMap{}
	nm.resetLocked()
	return nm
}

func (nm *nodeMap) resetLocked() {
	nm.root = 0
	nm.paths = make(map[proto.DOMNodeID]string)
	nm.tags = make(map[proto.DOMNodeID]string)
	nm.parent = make(map[proto.DOMNodeID]proto.DOMNodeID)
	nm.children = make(map[proto.DOMNodeID][]proto.DOMNodeID)
	nm.byBackend = make(map[proto.DOMBackendNodeID]proto.DOMNodeID)
	nm.backend = make(map[proto.DOMNodeID]proto.DOMBackendNodeID)
}

// reset forgets every node. Used when the document is replaced.
func (nm *nodeMap) reset() {
	nm.mu.Lock()
	nm.resetLocked()
	nm.mu.Unlock()
}

// build replaces the map with the tree returned by DOM.getDocument.
func (nm *nodeMap) build(root *proto.DOMNode) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.resetLocked()
	if root == nil {
		return
	}
	nm.root = root.NodeID
	nm.walkNode(root, "")
}

func (nm *nodeMap) walkNode(node *proto.DOMNode, parentPath string) {
	if node == nil || node.NodeID == 0 {
		return
	}
	xpath := nm.computeXPath(node, parentPath)
	nm.paths[node.NodeID] = xpath
	nm.tags[node.NodeID] = strings.ToLower(node.NodeName)
	if node.BackendNodeID != 0 {
		nm.byBackend[node.BackendNodeID] = node.NodeID
		nm.backend[node.NodeID] = node.BackendNodeID
	}

	for _, child := range node.Children {
		nm.link(node.NodeID, child.NodeID)
		nm.walkNode(child, xpath)
	}
	for _, sr := range node.ShadowRoots {
		nm.link(node.NodeID, sr.NodeID)
		nm.walkNode(sr, xpath+"/shadow-root")
	}
}

func (nm *nodeMap) link(parent, child proto.DOMNodeID) {
	if old, ok := nm.parent[child]; ok && old == parent {
		return
	}
	nm.parent[child] = parent
	nm.children[parent] = append(nm.children[parent], child)
}

func (nm *nodeMap) computeXPath(node *proto.DOMNode, parentPath string) string {
	name := strings.ToLower(node.NodeName)

	switch node.NodeType {
	case 9: // Document
		return ""
	case 10: // DocumentType
		return parentPath
	case 3:
		return parentPath + "/text()"
	case 8:
		return parentPath + "/comment()"
	case 1:
	default:
		return parentPath + "/" + name
	}

	switch name {
	case "html":
		return "/html"
	case "head", "body":
		return "/html/" + name
	}

	parentID, ok := nm.parent[node.NodeID]
	if !ok {
		return parentPath + "/" + name
	}
	idx, total := 0, 0
	for _, sib := range nm.children[parentID] {
		if nm.tags[sib] != name && sib != node.NodeID {
			continue
		}
		total++
		if sib == node.NodeID {
			idx = total
		}
	}
	if idx == 0 {
		idx = total + 1
		total++
	}
	if total > 1 {
		return fmt.Sprintf("%s/%s[%d]", parentPath, name, idx)
	}
	return parentPath + "/" + name
}

// insert registers a node reported by DOM.childNodeInserted.
func (nm *nodeMap) insert(parentID proto.DOMNodeID, node *proto.DOMNode) {
	if node == nil {
		return
	}
	nm.mu.Lock()
	defer nm.mu.Unlock()
	if _, ok := nm.paths[parentID]; !ok && parentID != nm.root {
		return
	}
	nm.link(parentID, node.NodeID)
	nm.walkNode(node, nm.paths[parentID])
}

// setChildren registers the children pushed by DOM.setChildNodes.
func (nm *nodeMap) setChildren(parentID proto.DOMNodeID, nodes []*proto.DOMNode) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	if _, ok := nm.paths[parentID]; !ok && parentID != nm.root {
		return
	}
	for _, n := range nodes {
		nm.link(parentID, n.NodeID)
		nm.walkNode(n, nm.paths[parentID])
	}
}

// remove forgets a node and its subtree.
func (nm *nodeMap) remove(nodeID proto.DOMNodeID) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.removeLocked(nodeID)
}

func (nm *nodeMap) removeLocked(nodeID proto.DOMNodeID) {
	for _, child := range nm.children[nodeID] {
		nm.removeLocked(child)
	}
	if parentID, ok := nm.parent[nodeID]; ok {
		kids := nm.children[parentID]
		for i, id := range kids {
			if id == nodeID {
				nm.children[parentID] = append(kids[:i], kids[i+1:]...)
				break
			}
		}
	}
	if b, ok := nm.backend[nodeID]; ok {
		delete(nm.byBackend, b)
	}
	delete(nm.backend, nodeID)
	delete(nm.paths, nodeID)
	delete(nm.tags, nodeID)
	delete(nm.parent, nodeID)
	delete(nm.children, nodeID)
}

// has reports whether nodeID is tracked, that is, in the document.
func (nm *nodeMap) has(nodeID proto.DOMNodeID) bool {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	_, ok := nm.paths[nodeID]
	return ok || (nodeID != 0 && nodeID == nm.root)
}

// lookup returns the tracked NodeID for a backend node, or 0.
func (nm *nodeMap) lookup(b proto.DOMBackendNodeID) proto.DOMNodeID {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	return nm.byBackend[b]
}

// within reports whether nodeID is root or one of its descendants.
func (nm *nodeMap) within(nodeID, root proto.DOMNodeID) bool {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	for id := nodeID; id != 0; {
		if id == root {
			return true
		}
		p, ok := nm.parent[id]
		if !ok {
			return false
		}
		id = p
	}
	return false
}

// body returns the NodeID of /html/body, or 0.
func (nm *nodeMap) body() proto.DOMNodeID {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	for _, h := range nm.children[nm.root] {
		if nm.tags[h] != "html" {
			continue
		}
		for _, b := range nm.children[h] {
			if nm.tags[b] == "body" {
				return b
			}
		}
	}
	return 0
}

// xpath returns the cached XPath for nodeID.
func (nm *nodeMap) xpath(nodeID proto.DOMNodeID) (string, bool) {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	p, ok := nm.paths[nodeID]
	return p, ok
}

func (nm *nodeMap) size() int {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	return len(nm.paths)
}
