package htmldom

import (
	"context"
	"sync"

	"golang.org/x/net/html"

	"github.com/hazyhaar/domguard/internal/dom"
)

// subscription delivers batches from its own goroutine so batches reach fn
// in mutation order and fn never runs concurrently with itself.
type subscription struct {
	doc     *Document
	root    *html.Node
	fn      func([]dom.Node)
	pending []dom.Node
	wake    chan struct{}
	stop    chan struct{}
	once    sync.Once
}

// Observe implements dom.Document.
func (d *Document) Observe(ctx context.Context, root dom.Node, fn func(added []dom.Node)) (dom.Subscription, error) {
	h, err := d.own(root)
	if err != nil {
		return nil, err
	}
	s := &subscription{
		doc:  d,
		root: h.n,
		fn:   fn,
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
	d.mu.Lock()
	d.subs[s] = struct{}{}
	d.mu.Unlock()

	go s.run(ctx)
	return s, nil
}

// Subscriptions returns the number of live subscriptions.
func (d *Document) Subscriptions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

// notifyLocked queues added nodes for every subscription whose root is
// target or one of its ancestors. Caller holds d.mu.
func (d *Document) notifyLocked(target *html.Node, added []dom.Node) {
	if len(added) == 0 {
		return
	}
	for s := range d.subs {
		if !contains(s.root, target) {
			continue
		}
		s.pending = append(s.pending, added...)
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

func contains(root, n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == root {
			return true
		}
	}
	return false
}

func (s *subscription) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.Disconnect()
			return
		case <-s.stop:
			return
		case <-s.wake:
		}

		s.doc.mu.Lock()
		batch := s.pending
		s.pending = nil
		s.doc.mu.Unlock()

		select {
		case <-s.stop:
			return
		default:
		}
		if len(batch) > 0 {
			s.fn(batch)
		}
	}
}

// Disconnect implements dom.Subscription.
func (s *subscription) Disconnect() {
	s.once.Do(func() {
		close(s.stop)
		s.doc.mu.Lock()
		delete(s.doc.subs, s)
		s.pending = nil
		s.doc.mu.Unlock()
	})
}
