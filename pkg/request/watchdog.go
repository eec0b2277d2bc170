package request

import (
	"sync"
	"time"
)

// Watchdog calls onIdle when Kick has not been called for a full interval.
// Stale timers are ignored by token, so a Kick racing a firing timer never
// produces a spurious idle callback.
type Watchdog struct {
	interval time.Duration
	onIdle   func()

	mu      sync.Mutex
	timer   *time.Timer
	token   uint64
	stopped bool
}

// NewWatchdog creates a stopped watchdog. Call Kick to arm it.
func NewWatchdog(interval time.Duration, onIdle func()) *Watchdog {
	return &Watchdog{interval: interval, onIdle: onIdle, stopped: true}
}

// Kick re-arms the watchdog.
func (w *Watchdog) Kick() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.stopped = false
	w.token++
	token := w.token
	w.timer = time.AfterFunc(w.interval, func() { w.fire(token) })
}

func (w *Watchdog) fire(token uint64) {
	w.mu.Lock()
	if w.stopped || token != w.token {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.timer = nil
	w.mu.Unlock()

	if w.onIdle != nil {
		w.onIdle()
	}
}

// Stop disarms the watchdog.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	w.token++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// Armed reports whether the watchdog is running.
func (w *Watchdog) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.stopped
}
