package cdpdom

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/domguard/internal/dom"
)

// subscription batches the insertions under one root and delivers the
// described subtrees from its own goroutine.
type subscription struct {
	doc    *Document
	root   proto.DOMNodeID
	fn     func([]dom.Node)
	in     chan insertion
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Observe implements dom.Document. root must be a tracked node, normally
// the body returned by Body.
func (d *Document) Observe(ctx context.Context, root dom.Node, fn func(added []dom.Node)) (dom.Subscription, error) {
	h, err := d.own(root)
	if err != nil {
		return nil, err
	}
	if h.id == 0 || !h.Attached() {
		return nil, fmt.Errorf("cdpdom: observe %s: root not tracked", h.Path())
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &subscription{
		doc:    d,
		root:   h.id,
		fn:     fn,
		in:     make(chan insertion, 4096),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	d.mu.Lock()
	d.subs[s] = struct{}{}
	d.mu.Unlock()

	go s.run(sctx)
	return s, nil
}

// dispatch hands an insertion to every subscription whose root contains
// it. A full queue drops the insertion; the poller still finds it.
func (d *Document) dispatch(e *proto.DOMChildNodeInserted) {
	if e.Node == nil {
		return
	}
	ins := insertion{
		parent:  e.ParentNodeID,
		node:    e.Node.NodeID,
		backend: e.Node.BackendNodeID,
		kind:    e.Node.NodeType,
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for s := range d.subs {
		if !d.nodes.within(ins.parent, s.root) {
			continue
		}
		select {
		case s.in <- ins:
		default:
			d.log.Warn("cdpdom: insertion queue full, dropping", "node", ins.node)
		}
	}
}

// Subscriptions returns the number of live subscriptions.
func (d *Document) Subscriptions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

func (s *subscription) run(ctx context.Context) {
	defer close(s.done)
	d := s.doc
	b := newBatcher(batchConfig{Window: d.opts.BatchWindow, MaxBuffer: d.opts.BatchMax}, func(batch []insertion) {
		s.deliver(ctx, batch)
	})
	defer b.stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ins := <-s.in:
			if ins.kind == 1 {
				s.track(ctx, ins.node)
			}
			b.add(ins)
		case <-b.timerC():
			b.flush()
		}
	}
}

// track asks the browser to push the inserted subtree so mutations inside
// it are reported too.
func (s *subscription) track(ctx context.Context, id proto.DOMNodeID) {
	depth := -1
	err := proto.DOMRequestChildNodes{NodeID: id, Depth: &depth, Pierce: true}.Call(s.doc.page.Context(ctx))
	if err != nil && ctx.Err() == nil {
		s.doc.log.Debug("cdpdom: request child nodes failed", "node", id, "error", err)
	}
}

func (s *subscription) deliver(ctx context.Context, batch []insertion) {
	d := s.doc
	var added []dom.Node
	for _, ins := range prune(batch, d.nodes) {
		if ctx.Err() != nil {
			return
		}
		if ins.kind != 1 {
			added = append(added, d.leaf(ins))
			continue
		}
		h, err := d.describe(ctx, ins.backend)
		if err != nil {
			d.log.Debug("cdpdom: inserted node gone before describe", "node", ins.node, "error", err)
			continue
		}
		added = append(added, h)
	}
	if len(added) == 0 || ctx.Err() != nil {
		return
	}
	s.fn(added)
}

// leaf builds a handle for an inserted text or comment node from the event
// payload alone.
func (d *Document) leaf(ins insertion) *node {
	return &node{
		doc:     d,
		epoch:   d.epoch.Load(),
		id:      ins.node,
		backend: ins.backend,
		kind:    kindOf(ins.kind),
	}
}

// Disconnect implements dom.Subscription. It returns once the delivery
// goroutine has exited.
func (s *subscription) Disconnect() {
	s.once.Do(func() {
		s.cancel()
		s.doc.mu.Lock()
		delete(s.doc.subs, s)
		s.doc.mu.Unlock()
		<-s.done
	})
}
