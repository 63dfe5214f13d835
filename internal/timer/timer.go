// Package timer provides single-shot deadline handles on top of an injected
// clock, so deadlines are exact in production and deterministic in tests.
package timer

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Handle is a one-shot deadline. Exactly one of the expiry callback or a
// successful Cancel wins; once the callback has been dispatched a late Cancel
// reports failure and the expiry is authoritative. A Handle is not reusable:
// arm a fresh one after expiry or cancellation.
type Handle struct {
	clock clockwork.Clock

	mu        sync.Mutex
	timer     clockwork.Timer
	deadline  time.Time
	fired     bool
	cancelled bool
}

// Start arms a deadline d from now and invokes fn once when it elapses,
// unless the handle is cancelled first. fn runs on the clock's timer
// goroutine; callers re-enter their own locking discipline inside fn.
func Start(clock clockwork.Clock, d time.Duration, fn func()) *Handle {
	h := &Handle{
		clock:    clock,
		deadline: clock.Now().Add(d),
	}
	h.timer = clock.AfterFunc(d, func() {
		h.mu.Lock()
		if h.cancelled {
			h.mu.Unlock()
			return
		}
		h.fired = true
		h.mu.Unlock()
		fn()
	})
	return h
}

// Cancel stops the deadline. It returns the remaining duration at the moment
// of cancellation and true if cancellation logically preceded expiry; it
// returns 0 and false if the expiry already won (or the handle was already
// cancelled).
func (h *Handle) Cancel() (time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fired || h.cancelled {
		return 0, false
	}
	h.cancelled = true
	h.timer.Stop()
	return h.remainingLocked(), true
}

// Remaining reports the time left before expiry, floored at zero. A fired or
// cancelled handle has no remaining time.
func (h *Handle) Remaining() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fired || h.cancelled {
		return 0
	}
	return h.remainingLocked()
}

// Fired reports whether the expiry callback won.
func (h *Handle) Fired() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fired
}

func (h *Handle) remainingLocked() time.Duration {
	left := h.deadline.Sub(h.clock.Now())
	if left < 0 {
		return 0
	}
	return left
}
