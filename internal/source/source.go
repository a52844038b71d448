// Package source provides the two change sources that trigger a check: a
// fixed-period Poller and a mutation Observer. Both are plain handles; the
// coordinator owns them and decides when to start and stop them.
package source

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/domguard/internal/dom"
)

// Live counts handles that were started and not yet stopped.
type Live struct {
	pollers   atomic.Int64
	observers atomic.Int64
}

func (l *Live) Pollers() int64   { return l.pollers.Load() }
func (l *Live) Observers() int64 { return l.observers.Load() }

// Poller ticks on a fixed period until stopped.
type Poller struct {
	t    *time.Ticker
	live *Live
	once sync.Once
}

// NewPoller starts a ticker. live may be nil.
func NewPoller(period time.Duration, live *Live) *Poller {
	if live != nil {
		live.pollers.Add(1)
	}
	return &Poller{t: time.NewTicker(period), live: live}
}

// C is the tick channel. No tick is received once Stop has returned.
func (p *Poller) C() <-chan time.Time { return p.t.C }

// Stop is idempotent.
func (p *Poller) Stop() {
	p.once.Do(func() {
		p.t.Stop()
		if p.live != nil {
			p.live.pollers.Add(-1)
		}
	})
}

// Batch is one mutation delivery. Gen identifies the Observer that produced
// it so batches from a stopped observer can be told apart.
type Batch struct {
	Gen   uint64
	Added []dom.Node
}

// Observer forwards child-list mutations under root to a channel.
type Observer struct {
	gen  uint64
	root dom.Node
	sub  dom.Subscription
	stop chan struct{}
	live *Live
	once sync.Once
}

// Attach subscribes to mutations under root. Each batch is sent on out
// tagged with gen; a send blocked on out is abandoned when the Observer is
// stopped.
func Attach(ctx context.Context, doc dom.Document, root dom.Node, gen uint64, out chan<- Batch, live *Live) (*Observer, error) {
	o := &Observer{gen: gen, root: root, stop: make(chan struct{}), live: live}
	sub, err := doc.Observe(ctx, root, func(added []dom.Node) {
		select {
		case out <- Batch{Gen: gen, Added: added}:
		case <-o.stop:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("source: observe %s: %w", root.Path(), err)
	}
	o.sub = sub
	if live != nil {
		live.observers.Add(1)
	}
	return o, nil
}

func (o *Observer) Gen() uint64 { return o.gen }

// Root is the node the subscription is rooted at.
func (o *Observer) Root() dom.Node { return o.root }

// Stop disconnects the subscription. It is idempotent.
func (o *Observer) Stop() {
	o.once.Do(func() {
		close(o.stop)
		o.sub.Disconnect()
		if o.live != nil {
			o.live.observers.Add(-1)
		}
	})
}
