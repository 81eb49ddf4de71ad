package huddle

import (
	"sync"
	"testing"
)

type healthScript struct {
	mu       sync.Mutex
	health   map[string]Health
	rebuilds map[string]int
}

func (h *healthScript) set(id string, v Health) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.health[id] = v
}

// check reports degraded for accounts the script has not set.
func (h *healthScript) check(id string) Health {
	h.mu.Lock()
	defer h.mu.Unlock()
	if v, ok := h.health[id]; ok {
		return v
	}
	return HealthDegraded
}

func (h *healthScript) rebuild(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rebuilds[id]++
}

func (h *healthScript) count(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rebuilds[id]
}

func newScriptedWatchdog(ids ...string) (*Watchdog, *healthScript) {
	h := &healthScript{health: map[string]Health{}, rebuilds: map[string]int{}}
	w := NewWatchdog(WatchdogOptions{
		Threshold: 3,
		Accounts:  func() []string { return ids },
		Check:     h.check,
		Rebuild:   h.rebuild,
	})
	return w, h
}

func TestWatchdogRebuildsAfterThreshold(t *testing.T) {
	w, h := newScriptedWatchdog("a")

	w.tick()
	w.tick()
	if got := w.Failures("a"); got != 2 {
		t.Fatalf("failures = %d, want 2", got)
	}
	if h.count("a") != 0 {
		t.Fatal("rebuilt before threshold")
	}

	w.tick()
	waitFor(t, "rebuild", func() bool { return h.count("a") == 1 })
	if got := w.Failures("a"); got != 0 {
		t.Errorf("failures after rebuild = %d, want reset to 0", got)
	}

	w.tick()
	w.tick()
	if h.count("a") != 1 {
		t.Errorf("rebuilds = %d, want exactly 1 before the next threshold", h.count("a"))
	}
}

func TestWatchdogHealthyResetsCount(t *testing.T) {
	w, h := newScriptedWatchdog("a", "b")
	h.set("b", HealthOK)

	w.tick()
	w.tick()
	h.set("a", HealthOK)
	w.tick()
	if got := w.Failures("a"); got != 0 {
		t.Errorf("failures = %d, want 0 after a healthy check", got)
	}
	if got := w.Failures("b"); got != 0 {
		t.Errorf("healthy account failures = %d", got)
	}
	if h.count("a")+h.count("b") != 0 {
		t.Error("unexpected rebuild")
	}
}

func TestWatchdogReconnectsMissingConnectionOnNextTick(t *testing.T) {
	w, h := newScriptedWatchdog("a")
	h.set("a", HealthDown)

	w.tick()
	waitFor(t, "reconnect", func() bool { return h.count("a") == 1 })
	if got := w.Failures("a"); got != 0 {
		t.Errorf("failures = %d, a missing connection is not counted", got)
	}

	w.tick()
	waitFor(t, "second reconnect", func() bool { return h.count("a") == 2 })
}

func TestWatchdogPrunesUntrackedAccounts(t *testing.T) {
	var mu sync.Mutex
	ids := []string{"a"}
	w := NewWatchdog(WatchdogOptions{
		Threshold: 5,
		Accounts: func() []string {
			mu.Lock()
			defer mu.Unlock()
			return ids
		},
		Check:   func(string) Health { return HealthDegraded },
		Rebuild: func(string) {},
	})

	w.tick()
	mu.Lock()
	ids = nil
	mu.Unlock()
	w.tick()
	if got := w.Failures("a"); got != 0 {
		t.Errorf("failures for untracked account = %d", got)
	}
}

func TestWatchdogStopIsIdempotent(t *testing.T) {
	w, _ := newScriptedWatchdog()
	w.Start()
	w.Stop()
	w.Stop()
}
