// Package debounce provides the cancel-and-reschedule timer used for
// state-transition damping, silence detection, and auto-action delays.
package debounce

import (
	"sync"
	"time"
)

// Debouncer runs fn once the configured delay has elapsed since the most
// recent Trigger. Re-triggering cancels the pending run — a stale timer
// firing after a newer trigger never executes.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	timer   *time.Timer
	gen     uint64
	pending bool
}

// New creates a Debouncer. fn runs on a timer goroutine; it must do its
// own locking if it touches shared state.
func New(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Trigger schedules (or reschedules) fn to run after the delay.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = true
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.mu.Unlock()

	d.fn()
}

// Stop cancels any pending run without executing it.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
	}
}

// Flush runs fn synchronously if a run is pending, then clears it.
// Used on capture stop so no debounced work is lost.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	wasPending := d.pending
	d.gen++
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()

	if wasPending {
		d.fn()
	}
}

// Pending reports whether a run is currently scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}
