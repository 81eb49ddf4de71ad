// Package typing keeps a chat "typing" indicator alive while an agent run is in flight.
package typing

import (
	"log/slog"
	"sync"
	"time"
)

// Options configures a Controller.
type Options struct {
	// MaxDuration stops the indicator even if Stop is never called (0 = no limit).
	MaxDuration time.Duration
	// KeepaliveInterval re-sends the start signal; platforms expire typing after a few seconds.
	KeepaliveInterval time.Duration
	StartFn           func() error
	StopFn            func() error
}

// Controller runs one typing indicator. Start and Stop are idempotent.
type Controller struct {
	opts    Options
	mu      sync.Mutex
	started bool
	stopped bool
	expired bool
	stopCh  chan struct{}
	done    chan struct{}
}

// New creates a controller; nothing is sent until Start.
func New(opts Options) *Controller {
	return &Controller{
		opts:   opts,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start sends the first typing signal and begins the keepalive loop.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	c.send(c.opts.StartFn, "start")
	go c.loop()
}

// Stop ends the keepalive loop and sends the stop signal once.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	started := c.started
	close(c.stopCh)
	c.mu.Unlock()

	if !started {
		return
	}
	<-c.done
	c.mu.Lock()
	expired := c.expired
	c.mu.Unlock()
	if !expired {
		c.send(c.opts.StopFn, "stop")
	}
}

func (c *Controller) loop() {
	defer close(c.done)

	var keepalive <-chan time.Time
	if c.opts.KeepaliveInterval > 0 {
		t := time.NewTicker(c.opts.KeepaliveInterval)
		defer t.Stop()
		keepalive = t.C
	}
	var deadline <-chan time.Time
	if c.opts.MaxDuration > 0 {
		t := time.NewTimer(c.opts.MaxDuration)
		defer t.Stop()
		deadline = t.C
	}

	for {
		select {
		case <-c.stopCh:
			return
		case <-deadline:
			slog.Debug("typing indicator reached max duration")
			c.mu.Lock()
			c.expired = true
			c.mu.Unlock()
			c.send(c.opts.StopFn, "stop")
			<-c.stopCh
			return
		case <-keepalive:
			c.send(c.opts.StartFn, "keepalive")
		}
	}
}

func (c *Controller) send(fn func() error, phase string) {
	if fn == nil {
		return
	}
	if err := fn(); err != nil {
		slog.Debug("typing signal failed", "phase", phase, "error", err)
	}
}
