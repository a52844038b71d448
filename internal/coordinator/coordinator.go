// Package coordinator owns the lifecycle of the change sources for one
// page. All state lives in a single goroutine: host calls are commands sent
// to it, poll ticks and mutation batches are events it selects on, so the
// matcher, the suppressor and the source handles are never touched
// concurrently.
//
// States: Idle -> Active -> Idle. Activate while Active is a no-op.
// OnNavigationSignal restarts (deactivate then activate). Teardown
// deactivates once and stops the goroutine; every later call is a no-op.
package coordinator

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/domguard/internal/dom"
	"github.com/hazyhaar/domguard/internal/matcher"
	"github.com/hazyhaar/domguard/internal/sink"
	"github.com/hazyhaar/domguard/internal/source"
	"github.com/hazyhaar/domguard/internal/suppress"
)

// DefaultPeriod is the poll period.
const DefaultPeriod = 250 * time.Millisecond

// Options configures a Coordinator.
type Options struct {
	// Period between full-document checks. Default DefaultPeriod.
	Period time.Duration
	Logger *slog.Logger
}

// Stats is a point-in-time view of a Coordinator.
type Stats struct {
	Active        bool  `json:"active"`
	LivePollers   int64 `json:"live_pollers"`
	LiveObservers int64 `json:"live_observers"`
	Polls         int64 `json:"polls"`
	Batches       int64 `json:"batches"`
	Suppressed    int64 `json:"suppressed"`
	Restarts      int64 `json:"restarts"`
}

type op int

const (
	opActivate op = iota
	opNavigate
	opDeactivate
	opTeardown
)

func (o op) String() string {
	return [...]string{"activate", "navigate", "deactivate", "teardown"}[o]
}

type command struct {
	op    op
	reply chan struct{}
}

// state is the WatcherState. Only the loop goroutine reads or writes it.
type state struct {
	active   bool
	poller   *source.Poller
	observer *source.Observer
	gen      uint64
	// absentReported is set once "target not present" was reported for
	// the current absence period.
	absentReported bool
}

// Coordinator drives one page.
type Coordinator struct {
	doc   dom.Document
	match *matcher.Matcher
	sup   *suppress.Suppressor
	opts  Options
	log   *slog.Logger

	cmds    chan command
	batches chan source.Batch
	done    chan struct{}

	live       source.Live
	active     atomic.Bool
	polls      atomic.Int64
	batchCount atomic.Int64
	suppressed atomic.Int64
	restarts   atomic.Int64
}

// New starts the coordinator goroutine in the Idle state. Cancelling ctx
// has the same effect as Teardown. The suppressor's sink must not call back
// into the Coordinator synchronously.
func New(ctx context.Context, doc dom.Document, m *matcher.Matcher, sup *suppress.Suppressor, opts Options) *Coordinator {
	if opts.Period <= 0 {
		opts.Period = DefaultPeriod
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Coordinator{
		doc:     doc,
		match:   m,
		sup:     sup,
		opts:    opts,
		log:     opts.Logger,
		cmds:    make(chan command),
		batches: make(chan source.Batch),
		done:    make(chan struct{}),
	}
	go c.run(ctx)
	return c
}

// Activate starts the poller and the observer. No-op while Active.
func (c *Coordinator) Activate() { c.do(opActivate) }

// OnNavigationSignal restarts both sources so the observer attaches to the
// current body.
func (c *Coordinator) OnNavigationSignal() { c.do(opNavigate) }

// Deactivate stops both sources. No-op while Idle.
func (c *Coordinator) Deactivate() { c.do(opDeactivate) }

// Teardown deactivates and stops the coordinator for good.
func (c *Coordinator) Teardown() { c.do(opTeardown) }

// OnActivate is the host activation hook.
func (c *Coordinator) OnActivate() { c.Activate() }

// OnDeactivate is the host unload hook.
func (c *Coordinator) OnDeactivate() { c.Teardown() }

// Done is closed once the coordinator has torn down.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

func (c *Coordinator) Stats() Stats {
	return Stats{
		Active:        c.active.Load(),
		LivePollers:   c.live.Pollers(),
		LiveObservers: c.live.Observers(),
		Polls:         c.polls.Load(),
		Batches:       c.batchCount.Load(),
		Suppressed:    c.suppressed.Load(),
		Restarts:      c.restarts.Load(),
	}
}

// do hands a command to the loop and waits until it has been applied.
func (c *Coordinator) do(o op) {
	reply := make(chan struct{})
	select {
	case c.cmds <- command{op: o, reply: reply}:
		<-reply
	case <-c.done:
	}
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)
	var st state
	for {
		var tick <-chan time.Time
		if st.poller != nil {
			tick = st.poller.C()
		}

		select {
		case <-ctx.Done():
			c.deactivate(&st)
			c.log.Info("coordinator: context done, torn down")
			return

		case cmd := <-c.cmds:
			switch cmd.op {
			case opActivate:
				c.activate(ctx, &st)
			case opNavigate:
				c.restarts.Add(1)
				c.log.Info("coordinator: navigation, restarting sources")
				c.deactivate(&st)
				c.activate(ctx, &st)
			case opDeactivate:
				c.deactivate(&st)
			case opTeardown:
				c.deactivate(&st)
				c.log.Info("coordinator: torn down")
				close(cmd.reply)
				return
			}
			close(cmd.reply)

		case <-tick:
			c.poll(ctx, &st)

		case b := <-c.batches:
			if st.observer == nil || b.Gen != st.observer.Gen() {
				c.log.Debug("coordinator: dropped batch from stopped observer", "gen", b.Gen)
				continue
			}
			c.batch(ctx, &st, b.Added)
		}
	}
}

func (c *Coordinator) activate(ctx context.Context, st *state) {
	if st.active {
		c.log.Debug("coordinator: already active")
		return
	}
	st.active = true
	st.absentReported = false
	st.poller = source.NewPoller(c.opts.Period, &c.live)
	c.active.Store(true)
	c.log.Info("coordinator: activated", "period", c.opts.Period)

	// First check runs now rather than one period later.
	c.poll(ctx, st)
}

func (c *Coordinator) deactivate(st *state) {
	if !st.active {
		return
	}
	if st.poller != nil {
		st.poller.Stop()
		st.poller = nil
	}
	if st.observer != nil {
		st.observer.Stop()
		st.observer = nil
	}
	st.active = false
	c.active.Store(false)
	c.log.Info("coordinator: deactivated")
}

// attach subscribes to body, replacing any observer on a detached root.
// A failure leaves the poller running; the next tick retries.
func (c *Coordinator) attach(ctx context.Context, st *state, body dom.Node) {
	if st.observer != nil {
		if st.observer.Root().Attached() {
			return
		}
		c.log.Info("coordinator: observed root detached, reattaching")
		st.observer.Stop()
		st.observer = nil
	}
	st.gen++
	obs, err := source.Attach(ctx, c.doc, body, st.gen, c.batches, &c.live)
	if err != nil {
		c.log.Warn("coordinator: observer attach failed", "error", err)
		return
	}
	st.observer = obs
	c.log.Debug("coordinator: observer attached", "root", body.Path(), "gen", st.gen)
}

// poll checks the whole body.
func (c *Coordinator) poll(ctx context.Context, st *state) {
	c.polls.Add(1)
	body, err := c.doc.Body(ctx)
	if err != nil {
		c.log.Warn("coordinator: body lookup failed", "error", err)
		return
	}
	if body == nil {
		c.log.Debug("coordinator: no body yet")
		return
	}
	c.attach(ctx, st, body)

	matched, suppressed := c.check(ctx, body)
	switch {
	case suppressed > 0:
		st.absentReported = false
	case matched == 0 && !st.absentReported:
		st.absentReported = true
		c.sup.Report(ctx, sink.LevelInfo, "target not present")
	}
}

// batch checks the subtree of each added node, and nothing else.
func (c *Coordinator) batch(ctx context.Context, st *state, added []dom.Node) {
	c.batchCount.Add(1)
	for _, n := range added {
		if n.Kind() != dom.KindElement {
			continue
		}
		if _, suppressed := c.check(ctx, n); suppressed > 0 {
			st.absentReported = false
		}
	}
}

func (c *Coordinator) check(ctx context.Context, root dom.Node) (matched, suppressed int) {
	for n := range c.match.Find(root) {
		matched++
		if c.sup.Suppress(ctx, n) == suppress.Suppressed {
			suppressed++
		}
	}
	if suppressed > 0 {
		c.suppressed.Add(int64(suppressed))
	}
	return matched, suppressed
}
