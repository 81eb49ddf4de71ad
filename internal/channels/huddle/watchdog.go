package huddle

import (
	"log/slog"
	"sync"
	"time"
)

// Health is the result of one watchdog check.
type Health int

const (
	HealthOK       Health = iota
	HealthDegraded        // connection installed but disconnected or silent
	HealthDown            // no connection installed
)

// Watchdog periodically checks every tracked account. A degraded connection is rebuilt
// after threshold consecutive failed checks; an account with no connection is rebuilt on
// the tick that finds it. Ticks run on one goroutine, so a slow tick delays the next one
// instead of overlapping it.
type Watchdog struct {
	interval  time.Duration
	threshold int

	accounts func() []string
	check    func(accountID string) Health
	rebuild  func(accountID string)

	mu       sync.Mutex
	failures map[string]int

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// WatchdogOptions configures a Watchdog.
type WatchdogOptions struct {
	Interval  time.Duration
	Threshold int
	Accounts  func() []string
	Check     func(accountID string) Health
	Rebuild   func(accountID string) // called on its own goroutine
}

// NewWatchdog creates a stopped watchdog.
func NewWatchdog(opts WatchdogOptions) *Watchdog {
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	if opts.Threshold <= 0 {
		opts.Threshold = 3
	}
	return &Watchdog{
		interval:  opts.Interval,
		threshold: opts.Threshold,
		accounts:  opts.Accounts,
		check:     opts.Check,
		rebuild:   opts.Rebuild,
		failures:  make(map[string]int),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the tick loop.
func (w *Watchdog) Start() {
	go w.loop()
}

// Stop ends the tick loop and waits for the current tick to finish.
func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.done
}

func (w *Watchdog) loop() {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

// tick visits each account once, in order.
func (w *Watchdog) tick() {
	ids := w.accounts()

	w.mu.Lock()
	defer w.mu.Unlock()

	live := make(map[string]bool, len(ids))
	for _, id := range ids {
		live[id] = true
		switch w.check(id) {
		case HealthOK:
			w.failures[id] = 0
			continue
		case HealthDown:
			w.failures[id] = 0
			slog.Warn("huddle watchdog: no connection, reconnecting", "account", id)
			go w.rebuild(id)
			continue
		}
		w.failures[id]++
		n := w.failures[id]
		slog.Warn("huddle watchdog: connection unhealthy", "account", id, "consecutive_failures", n, "threshold", w.threshold)
		if n >= w.threshold {
			w.failures[id] = 0
			slog.Warn("huddle watchdog: rebuilding connection", "account", id)
			go w.rebuild(id)
		}
	}
	for id := range w.failures {
		if !live[id] {
			delete(w.failures, id)
		}
	}
}

// Failures returns the current consecutive failure count for an account.
func (w *Watchdog) Failures(accountID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failures[accountID]
}
