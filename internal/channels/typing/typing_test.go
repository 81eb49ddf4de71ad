package typing

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestControllerKeepaliveAndStop(t *testing.T) {
	var starts, stops atomic.Int32
	c := New(Options{
		KeepaliveInterval: 10 * time.Millisecond,
		StartFn:           func() error { starts.Add(1); return nil },
		StopFn:            func() error { stops.Add(1); return nil },
	})
	c.Start()
	time.Sleep(45 * time.Millisecond)
	c.Stop()
	c.Stop()

	if n := starts.Load(); n < 2 {
		t.Errorf("start signals = %d, want keepalives", n)
	}
	if n := stops.Load(); n != 1 {
		t.Errorf("stop signals = %d, want 1", n)
	}
}

func TestControllerMaxDuration(t *testing.T) {
	var stops atomic.Int32
	c := New(Options{
		MaxDuration: 10 * time.Millisecond,
		StartFn:     func() error { return nil },
		StopFn:      func() error { stops.Add(1); return nil },
	})
	c.Start()
	time.Sleep(40 * time.Millisecond)
	if n := stops.Load(); n != 1 {
		t.Errorf("stop after max duration = %d, want 1", n)
	}
	c.Stop()
	if n := stops.Load(); n != 1 {
		t.Errorf("Stop after expiry sent another stop: %d", n)
	}
}

func TestControllerStopWithoutStart(t *testing.T) {
	var stops atomic.Int32
	c := New(Options{StopFn: func() error { stops.Add(1); return nil }})
	c.Stop()
	c.Start()
	if stops.Load() != 0 {
		t.Error("unstarted controller must not send stop")
	}
}
