package bus

import (
	"sync"
	"time"
)

// FlushFunc receives an ordered batch of messages that share a DebounceKey.
type FlushFunc func(batch []InboundMessage)

// InboundDebouncer merges rapid consecutive messages from one sender into a single batch.
// Each DebounceKey has its own quiet-window timer; a new message restarts it. Batches are
// handed to the flush callback from a single goroutine, so flushes for one key arrive in
// the order their messages were pushed.
type InboundDebouncer struct {
	window time.Duration
	flush  FlushFunc
	bypass func(InboundMessage) bool

	mu      sync.Mutex
	pending map[string]*pendingBatch
	ready   [][]InboundMessage
	stopped bool

	wake chan struct{}
	done chan struct{}
}

type pendingBatch struct {
	msgs  []InboundMessage
	timer *time.Timer
	gen   uint64
}

// DebounceOption configures an InboundDebouncer.
type DebounceOption func(*InboundDebouncer)

// WithBypass sets a predicate for messages that must not wait in the window.
// A matching message is delivered as a batch of one, right after any batch already
// pending for its key.
func WithBypass(fn func(InboundMessage) bool) DebounceOption {
	return func(d *InboundDebouncer) { d.bypass = fn }
}

// NewInboundDebouncer starts a debouncer. A window <= 0 disables merging: every message
// is flushed on its own as soon as it is pushed.
func NewInboundDebouncer(window time.Duration, flush FlushFunc, opts ...DebounceOption) *InboundDebouncer {
	d := &InboundDebouncer{
		window:  window,
		flush:   flush,
		pending: make(map[string]*pendingBatch),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	go d.run()
	return d
}

// Push adds a message to its key's pending batch and restarts the key's timer.
func (d *InboundDebouncer) Push(msg InboundMessage) {
	key := DebounceKey(msg)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if d.window <= 0 || (d.bypass != nil && d.bypass(msg)) {
		d.releaseLocked(key)
		d.enqueueLocked([]InboundMessage{msg})
		return
	}

	pb, ok := d.pending[key]
	if !ok {
		pb = &pendingBatch{}
		d.pending[key] = pb
	}
	pb.msgs = append(pb.msgs, msg)
	pb.gen++
	if pb.timer != nil {
		pb.timer.Stop()
	}
	gen := pb.gen
	pb.timer = time.AfterFunc(d.window, func() { d.expire(key, gen) })
}

// Drop removes a message that has not been flushed yet, e.g. because it was deleted
// upstream. Returns true when the message was still pending.
func (d *InboundDebouncer) Drop(key, messageID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	pb, ok := d.pending[key]
	if !ok {
		return false
	}
	for i, m := range pb.msgs {
		if m.ID != messageID {
			continue
		}
		pb.msgs = append(pb.msgs[:i], pb.msgs[i+1:]...)
		if len(pb.msgs) == 0 {
			pb.timer.Stop()
			delete(d.pending, key)
		}
		return true
	}
	return false
}

// Pending returns the number of keys with an open batch.
func (d *InboundDebouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop flushes every pending batch, waits for delivery to finish, and rejects further pushes.
func (d *InboundDebouncer) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.stopped = true
	for key := range d.pending {
		d.releaseLocked(key)
	}
	d.mu.Unlock()

	d.signal()
	<-d.done
}

func (d *InboundDebouncer) expire(key string, gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pb, ok := d.pending[key]
	if !ok || pb.gen != gen {
		// superseded by a newer push, or already released
		return
	}
	d.releaseLocked(key)
}

// releaseLocked moves the key's pending batch to the delivery queue.
func (d *InboundDebouncer) releaseLocked(key string) {
	pb, ok := d.pending[key]
	if !ok {
		return
	}
	if pb.timer != nil {
		pb.timer.Stop()
	}
	delete(d.pending, key)
	if len(pb.msgs) > 0 {
		d.enqueueLocked(pb.msgs)
	}
}

func (d *InboundDebouncer) enqueueLocked(batch []InboundMessage) {
	d.ready = append(d.ready, batch)
	d.signal()
}

func (d *InboundDebouncer) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *InboundDebouncer) run() {
	defer close(d.done)
	for range d.wake {
		for {
			d.mu.Lock()
			if len(d.ready) == 0 {
				stopped := d.stopped
				d.mu.Unlock()
				if stopped {
					return
				}
				break
			}
			batch := d.ready[0]
			d.ready[0] = nil
			d.ready = d.ready[1:]
			d.mu.Unlock()

			d.flush(batch)
		}
	}
}
