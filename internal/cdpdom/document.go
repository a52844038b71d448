// Package cdpdom is the live browser document: a dom.Document over a rod
// page. Nodes are tracked through the CDP DOM domain (DOM.getDocument with
// depth -1, then childNodeInserted / childNodeRemoved / setChildNodes
// events), subtrees are read with DOM.describeNode, and elements are
// removed or hidden by calling a function on the resolved node.
package cdpdom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/domguard/internal/dom"
)

// Options configures a Document.
type Options struct {
	// BatchWindow is the quiet period that closes a mutation batch.
	// Default: 15ms.
	BatchWindow time.Duration
	// BatchMax flushes a batch early at this many insertions. Default: 256.
	BatchMax int
	Logger   *slog.Logger
}

// Document tracks one page. Close releases it.
type Document struct {
	page *rod.Page
	opts Options
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	nodes *nodeMap
	epoch atomic.Uint64

	mu    sync.Mutex
	subs  map[*subscription]struct{}
	onNav func()

	navCh   chan struct{}
	retrack atomic.Bool
	wg      sync.WaitGroup
}

var _ dom.Document = (*Document)(nil)

// New enables the DOM and Page domains, starts listening for DOM events and
// builds the initial node map.
func New(ctx context.Context, page *rod.Page, opts Options) (*Document, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	dctx, cancel := context.WithCancel(ctx)
	d := &Document{
		page:   page,
		opts:   opts,
		log:    opts.Logger,
		ctx:    dctx,
		cancel: cancel,
		nodes:  newNodeMap(),
		subs:   make(map[*subscription]struct{}),
		navCh:  make(chan struct{}, 1),
	}

	p := page.Context(dctx)
	if err := (proto.DOMEnable{}).Call(p); err != nil {
		cancel()
		return nil, fmt.Errorf("cdpdom: DOM.enable: %w", err)
	}
	if err := (proto.PageEnable{}).Call(p); err != nil {
		cancel()
		return nil, fmt.Errorf("cdpdom: Page.enable: %w", err)
	}

	// Subscribe before the first getDocument so no insertion is missed.
	wait := p.EachEvent(
		func(e *proto.DOMSetChildNodes) {
			d.nodes.setChildren(e.ParentID, e.Nodes)
		},
		func(e *proto.DOMChildNodeInserted) {
			d.nodes.insert(e.ParentNodeID, e.Node)
			d.dispatch(e)
		},
		func(e *proto.DOMChildNodeRemoved) {
			d.nodes.remove(e.NodeID)
		},
		func(e *proto.DOMShadowRootPushed) {
			d.nodes.setChildren(e.HostID, []*proto.DOMNode{e.Root})
		},
		func(e *proto.DOMDocumentUpdated) {
			d.invalidate()
			d.signal(true)
		},
		func(e *proto.PageFrameNavigated) {
			if e.Frame != nil && e.Frame.ParentID == "" {
				d.invalidate()
				d.signal(true)
			}
		},
		func(e *proto.PageNavigatedWithinDocument) {
			if e.FrameID == page.FrameID {
				d.signal(false)
			}
		},
	)
	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		wait()
	}()
	go d.navigations()

	if err := d.track(dctx); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// OnNavigate registers fn to run after each navigation signal: a main
// frame navigation, an in-document (hash or history) navigation or a
// document replacement. Signals arriving while fn runs are coalesced
// into one more call.
func (d *Document) OnNavigate(fn func()) {
	d.mu.Lock()
	d.onNav = fn
	d.mu.Unlock()
}

// Close stops event processing and every subscription.
func (d *Document) Close() {
	d.cancel()
	d.mu.Lock()
	subs := make([]*subscription, 0, len(d.subs))
	for s := range d.subs {
		subs = append(subs, s)
	}
	d.mu.Unlock()
	for _, s := range subs {
		s.Disconnect()
	}
	d.wg.Wait()
}

// Tracked returns the number of nodes in the node map.
func (d *Document) Tracked() int { return d.nodes.size() }

// track calls DOM.getDocument with depth -1 so the browser reports
// mutations anywhere in the tree, and rebuilds the node map from it.
func (d *Document) track(ctx context.Context) error {
	depth := -1
	res, err := proto.DOMGetDocument{Depth: &depth, Pierce: true}.Call(d.page.Context(ctx))
	if err != nil {
		return fmt.Errorf("cdpdom: DOM.getDocument: %w", err)
	}
	d.epoch.Add(1)
	d.nodes.build(res.Root)
	d.log.Debug("cdpdom: tracking", "nodes", d.nodes.size())
	return nil
}

// invalidate detaches every handle taken so far.
func (d *Document) invalidate() {
	d.epoch.Add(1)
	d.nodes.reset()
}

func (d *Document) signal(retrack bool) {
	if retrack {
		d.retrack.Store(true)
	}
	select {
	case d.navCh <- struct{}{}:
	default:
	}
}

func (d *Document) navigations() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.navCh:
		}
		if d.retrack.Swap(false) {
			if err := d.track(d.ctx); err != nil {
				d.log.Warn("cdpdom: retrack after navigation failed", "error", err)
			}
		}
		d.mu.Lock()
		fn := d.onNav
		d.mu.Unlock()
		if fn != nil {
			fn()
		}
	}
}

// Body implements dom.Document. The node map is rebuilt once if the cached
// body id has gone stale.
func (d *Document) Body(ctx context.Context) (dom.Node, error) {
	for attempt := 0; attempt < 2; attempt++ {
		id := d.nodes.body()
		if id == 0 {
			if err := d.track(ctx); err != nil {
				return nil, err
			}
			if id = d.nodes.body(); id == 0 {
				return nil, nil
			}
		}
		epoch := d.epoch.Load()
		depth := -1
		res, err := proto.DOMDescribeNode{NodeID: id, Depth: &depth, Pierce: true}.Call(d.page.Context(ctx))
		if err == nil {
			return d.build(res.Node, nil, epoch), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.log.Debug("cdpdom: describe body failed, retracking", "error", err)
		d.nodes.reset()
	}
	return nil, fmt.Errorf("cdpdom: body unavailable")
}

// describe snapshots the subtree of a backend node.
func (d *Document) describe(ctx context.Context, b proto.DOMBackendNodeID) (*node, error) {
	epoch := d.epoch.Load()
	depth := -1
	res, err := proto.DOMDescribeNode{BackendNodeID: b, Depth: &depth, Pierce: true}.Call(d.page.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("cdpdom: describe %d: %w", b, err)
	}
	return d.build(res.Node, nil, epoch), nil
}

func (d *Document) own(n dom.Node) (*node, error) {
	h, ok := n.(*node)
	if !ok || h.doc != d {
		return nil, dom.ErrForeignNode
	}
	return h, nil
}

const removeJS = `function () {
	if (!this.parentNode || !this.isConnected) return "noop";
	this.parentNode.removeChild(this);
	return "done";
}`

const hideJS = `function (marker) {
	if (this.nodeType !== 1 || !this.style) return "unsupported";
	if (this.hasAttribute(marker)) return "noop";
	this.style.setProperty("display", "none", "important");
	this.setAttribute(marker, "1");
	return "done";
}`

// Remove implements dom.Document.
func (d *Document) Remove(ctx context.Context, n dom.Node) (dom.Result, error) {
	h, err := d.own(n)
	if err != nil {
		return dom.Noop, err
	}
	switch h.kind {
	case dom.KindDocument, dom.KindFragment, dom.KindOther:
		return dom.Noop, fmt.Errorf("cdpdom: remove %s: %w", h.kind, dom.ErrUnsupported)
	}
	if !h.Attached() {
		return dom.Noop, nil
	}
	res, err := d.callOn(ctx, h, removeJS)
	if err != nil {
		return dom.Noop, err
	}
	h.removed.Store(true)
	if h.id != 0 {
		d.nodes.remove(h.id)
	}
	return res, nil
}

// Hide implements dom.Document.
func (d *Document) Hide(ctx context.Context, n dom.Node) (dom.Result, error) {
	h, err := d.own(n)
	if err != nil {
		return dom.Noop, err
	}
	if h.kind != dom.KindElement {
		return dom.Noop, fmt.Errorf("cdpdom: hide %s: %w", h.kind, dom.ErrUnsupported)
	}
	if _, ok := h.attrs[dom.HiddenAttr]; ok {
		return dom.Noop, nil
	}
	return d.callOn(ctx, h, hideJS, dom.HiddenAttr)
}

// callOn resolves h and calls js with this bound to the node. js returns
// "done", "noop" or "unsupported".
func (d *Document) callOn(ctx context.Context, h *node, js string, args ...any) (dom.Result, error) {
	p := d.page.Context(ctx)
	obj, err := proto.DOMResolveNode{BackendNodeID: h.backend}.Call(p)
	if err != nil {
		// A node the browser no longer knows is gone already.
		d.log.Debug("cdpdom: resolve failed", "xpath", h.Path(), "error", err)
		return dom.Noop, nil
	}
	defer func() {
		_ = proto.RuntimeReleaseObject{ObjectID: obj.Object.ObjectID}.Call(p)
	}()

	res, err := p.Evaluate(rod.Eval(js, args...).This(obj.Object))
	if err != nil {
		return dom.Noop, fmt.Errorf("cdpdom: call on %s: %w", h.Path(), err)
	}
	switch res.Value.Str() {
	case "done":
		return dom.Done, nil
	case "noop":
		return dom.Noop, nil
	case "unsupported":
		return dom.Noop, fmt.Errorf("cdpdom: %s: %w", h.Path(), dom.ErrUnsupported)
	}
	return dom.Noop, errors.New("cdpdom: unexpected result " + res.Value.String())
}

// OuterHTML implements dom.Document.
func (d *Document) OuterHTML(ctx context.Context, n dom.Node) (string, error) {
	h, err := d.own(n)
	if err != nil {
		return "", err
	}
	res, err := proto.DOMGetOuterHTML{BackendNodeID: h.backend}.Call(d.page.Context(ctx))
	if err != nil {
		return "", fmt.Errorf("cdpdom: outer html: %w", err)
	}
	return res.OuterHTML, nil
}
