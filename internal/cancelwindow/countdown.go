package cancelwindow

import (
	"context"
	"sync"
	"time"
)

// Countdown owns a Window and drives it from a one-second ticker. The
// ticker is stopped when the context is cancelled or the window expires,
// so a closed tracking view leaves no dangling timer.
type Countdown struct {
	mu sync.Mutex
	w  Window
}

func NewCountdown(w Window) *Countdown {
	return &Countdown{w: w}
}

// Snapshot returns the current window value.
func (c *Countdown) Snapshot() Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.w
}

// Deactivate closes the window; a running Run loop exits on its next tick.
func (c *Countdown) Deactivate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.w.Deactivate()
}

// Run blocks until the window expires or ctx is cancelled. onExpire fires
// at most once, only on a genuine countdown expiry.
func (c *Countdown) Run(ctx context.Context, onExpire func()) {
	c.mu.Lock()
	active := c.w.Active()
	c.mu.Unlock()
	if !active {
		return
	}

	t := time.NewTicker(time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.mu.Lock()
			expired := c.w.Tick()
			active := c.w.Active()
			c.mu.Unlock()
			if expired {
				if onExpire != nil {
					onExpire()
				}
				return
			}
			if !active {
				return
			}
		}
	}
}
