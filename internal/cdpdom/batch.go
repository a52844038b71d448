package cdpdom

import (
	"time"

	"github.com/go-rod/rod/lib/proto"
)

// insertion is one DOM.childNodeInserted record.
type insertion struct {
	parent  proto.DOMNodeID
	node    proto.DOMNodeID
	backend proto.DOMBackendNodeID
	kind    int
}

// batchConfig controls how insertions are grouped into one delivery.
type batchConfig struct {
	// Window is the quiet period that closes a batch. Default: 15ms.
	Window time.Duration
	// MaxBuffer flushes immediately when this many insertions accumulate.
	// Default: 256.
	MaxBuffer int
}

func (bc *batchConfig) defaults() {
	if bc.Window <= 0 {
		bc.Window = 15 * time.Millisecond
	}
	if bc.MaxBuffer <= 0 {
		bc.MaxBuffer = 256
	}
}

// batcher collects insertions and hands them to flushFn when the window
// expires or the buffer fills. It is driven by one goroutine.
type batcher struct {
	cfg     batchConfig
	pending []insertion
	timer   *time.Timer
	timerCh <-chan time.Time
	flushFn func([]insertion)
}

func newBatcher(cfg batchConfig, flushFn func([]insertion)) *batcher {
	cfg.defaults()
	return &batcher{
		cfg:     cfg,
		pending: make([]insertion, 0, cfg.MaxBuffer),
		flushFn: flushFn,
	}
}

// add buffers ins. It returns true if the buffer filled and was flushed.
func (b *batcher) add(ins insertion) bool {
	b.pending = append(b.pending, ins)
	if len(b.pending) >= b.cfg.MaxBuffer {
		b.flush()
		return true
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.NewTimer(b.cfg.Window)
	b.timerCh = b.timer.C
	return false
}

// timerC fires when the window expires. nil while nothing is pending.
func (b *batcher) timerC() <-chan time.Time {
	return b.timerCh
}

func (b *batcher) flush() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
		b.timerCh = nil
	}
	if len(b.pending) == 0 {
		return
	}
	out := make([]insertion, len(b.pending))
	copy(out, b.pending)
	b.pending = b.pending[:0]
	b.flushFn(out)
}

// stop drops anything pending.
func (b *batcher) stop() {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer, b.timerCh = nil, nil
	b.pending = b.pending[:0]
}

// prune reduces a batch to the insertions worth checking, in order:
//   - nodes no longer in the document are dropped
//   - a node inserted twice keeps its last insertion
//   - a node whose ancestor is also in the batch is dropped, since the
//     ancestor's subtree check covers it
func prune(batch []insertion, nm *nodeMap) []insertion {
	if len(batch) == 0 {
		return nil
	}
	last := make(map[proto.DOMNodeID]int, len(batch))
	for i, ins := range batch {
		last[ins.node] = i
	}
	out := make([]insertion, 0, len(batch))
	for i, ins := range batch {
		if last[ins.node] != i || !nm.has(ins.node) {
			continue
		}
		covered := false
		for other := range last {
			if other != ins.node && nm.within(ins.node, other) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, ins)
		}
	}
	return out
}
