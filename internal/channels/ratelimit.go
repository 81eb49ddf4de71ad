package channels

import (
	"sync"
	"time"
)

const (
	// maxTrackedSenders caps the number of tracked keys so a flood of distinct
	// sender IDs cannot grow the map without bound.
	maxTrackedSenders = 4096

	defaultSenderWindow  = 60 * time.Second
	defaultSenderMaxHits = 30
)

type senderWindow struct {
	start time.Time
	count int
}

// SenderRateLimiter is a fixed-window counter per sender key with a hard cap on
// tracked keys. Safe for concurrent use.
type SenderRateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	maxHits int
	entries map[string]*senderWindow
	now     func() time.Time
}

// NewSenderRateLimiter allows maxHits messages per key per minute.
// maxHits == 0 uses the default of 30; maxHits < 0 disables limiting.
func NewSenderRateLimiter(maxHits int) *SenderRateLimiter {
	if maxHits == 0 {
		maxHits = defaultSenderMaxHits
	}
	return &SenderRateLimiter{
		window:  defaultSenderWindow,
		maxHits: maxHits,
		entries: make(map[string]*senderWindow),
		now:     time.Now,
	}
}

// Allow returns true if the key is within its budget for the current window.
func (r *SenderRateLimiter) Allow(key string) bool {
	if r == nil || r.maxHits < 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	if len(r.entries) >= maxTrackedSenders {
		for k, e := range r.entries {
			if now.Sub(e.start) >= r.window {
				delete(r.entries, k)
			}
		}
		// Hard eviction if still at cap
		for len(r.entries) >= maxTrackedSenders {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[key]
	if !ok || now.Sub(e.start) >= r.window {
		r.entries[key] = &senderWindow{start: now, count: 1}
		return true
	}

	e.count++
	return e.count <= r.maxHits
}
