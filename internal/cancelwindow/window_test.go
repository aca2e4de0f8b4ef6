package cancelwindow

import (
	"context"
	"testing"
	"time"

	"github.com/HomePlate/OrderTrack/internal/lifecycle"
	"github.com/stretchr/testify/require"
)

func TestFromEligibility(t *testing.T) {
	w := FromEligibility(lifecycle.StatusPending, 120)
	require.True(t, w.Active())
	require.Equal(t, 120, w.RemainingSeconds())

	w = FromEligibility(lifecycle.StatusConfirmed, 1)
	require.True(t, w.CanCancel())

	// Non-cancellable statuses force Inactive regardless of the count.
	for _, st := range []lifecycle.Status{
		lifecycle.StatusPreparing, lifecycle.StatusReady,
		lifecycle.StatusOutForDelivery, lifecycle.StatusDelivered,
		lifecycle.StatusCancelled, lifecycle.StatusRefunded,
	} {
		w = FromEligibility(st, 600)
		require.False(t, w.Active(), "status %s", st)
	}

	w = FromEligibility(lifecycle.StatusPending, 0)
	require.False(t, w.Active())
}

func TestWindow_MonotonicCountdown(t *testing.T) {
	const n = 3
	w := FromEligibility(lifecycle.StatusPending, n)

	prev := w.RemainingSeconds()
	expiries := 0
	for i := 0; i < n; i++ {
		if w.Tick() {
			expiries++
		}
		require.LessOrEqual(t, w.RemainingSeconds(), prev)
		require.GreaterOrEqual(t, w.RemainingSeconds(), 0)
		prev = w.RemainingSeconds()
	}

	require.Equal(t, 1, expiries, "expiry fires exactly once")
	require.False(t, w.Active())
	require.Equal(t, 0, w.RemainingSeconds())
	require.False(t, w.CanCancel())

	// Further ticks never go negative and never re-fire.
	for i := 0; i < 5; i++ {
		require.False(t, w.Tick())
		require.Equal(t, 0, w.RemainingSeconds())
	}
}

func TestWindow_Deactivate(t *testing.T) {
	w := FromEligibility(lifecycle.StatusPending, 60)
	w.Deactivate()
	require.False(t, w.Active())
	require.False(t, w.Tick(), "deactivation is not an expiry")
}

func TestCountdown_RunExpires(t *testing.T) {
	c := NewCountdown(FromEligibility(lifecycle.StatusPending, 1))

	done := make(chan struct{})
	go c.Run(context.Background(), func() { close(done) })

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("countdown did not expire")
	}
	require.False(t, c.Snapshot().Active())
}

func TestCountdown_RunStopsOnCancel(t *testing.T) {
	c := NewCountdown(FromEligibility(lifecycle.StatusPending, 600))
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		c.Run(ctx, func() { t.Error("must not expire") })
		close(stopped)
	}()

	cancel()
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("countdown did not stop on context cancel")
	}
}

func TestCountdown_RunNoopWhenInactive(t *testing.T) {
	c := NewCountdown(Window{})
	// Returns immediately, no timer started.
	c.Run(context.Background(), func() { t.Error("must not expire") })
}
