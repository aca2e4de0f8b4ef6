// Package cancelwindow models the time-bounded cancellation window as a
// value machine advanced by explicit ticks, so it can be tested without
// real time passing. The owning session schedules and stops the tick
// source (see Countdown).
package cancelwindow

import (
	"github.com/HomePlate/OrderTrack/internal/lifecycle"
)

// Window is either Inactive or Active(remaining seconds). The server-side
// eligibility answer is authoritative; the client window is advisory.
type Window struct {
	remaining int
	active    bool
}

// FromEligibility derives a window from the order's status and the order
// service's remaining-seconds value. Any non-cancellable status forces an
// inactive window.
func FromEligibility(status lifecycle.Status, remainingSeconds int) Window {
	if !status.Cancellable() || remainingSeconds <= 0 {
		return Window{}
	}
	return Window{remaining: remainingSeconds, active: true}
}

// Active reports whether the window is still open.
func (w Window) Active() bool { return w.active }

// RemainingSeconds is never negative.
func (w Window) RemainingSeconds() int { return w.remaining }

// CanCancel reports whether a cancellation request may be dispatched.
func (w Window) CanCancel() bool { return w.active && w.remaining > 0 }

// Tick advances the countdown by one second. Remaining is clamped at zero;
// the transition to Inactive is reported exactly once.
func (w *Window) Tick() (expired bool) {
	if !w.active {
		return false
	}
	if w.remaining > 0 {
		w.remaining--
	}
	if w.remaining == 0 {
		w.active = false
		return true
	}
	return false
}

// Deactivate closes the window without an expiry signal, e.g. when the
// cancellation succeeded or the status left the cancellable range.
func (w *Window) Deactivate() {
	w.active = false
	w.remaining = 0
}
