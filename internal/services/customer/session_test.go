package customer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/HomePlate/OrderTrack/internal/geo"
	apifake "github.com/HomePlate/OrderTrack/internal/integrations/orderapi/fake"
	"github.com/HomePlate/OrderTrack/internal/lifecycle"
	"github.com/HomePlate/OrderTrack/internal/models"
)

func seedPending(api *apifake.FakeClient, remaining time.Duration) {
	deadline := time.Now().UTC().Add(remaining)
	api.Seed(&models.Order{
		ID:                   1,
		Number:               "ORD-a1b2c3d4",
		Status:               lifecycle.StatusPending,
		DeliveryLocation:     models.Location{Coord: &geo.Coordinate{Lat: 6.9344, Lng: 79.8428}},
		CancellationDeadline: &deadline,
	})
}

func TestSession_LoadDerivesWindow(t *testing.T) {
	ctx := context.Background()
	api := apifake.New()
	seedPending(api, 90*time.Second)

	s := NewSession(api, geo.ModeDriving)
	require.NoError(t, s.Load(ctx, 1))

	w := s.Window()
	require.True(t, w.Active())
	require.Equal(t, 90, w.RemainingSeconds())
	require.Equal(t, 16, s.Progress())
}

func TestSession_LoadExpiredWindowInactive(t *testing.T) {
	ctx := context.Background()
	api := apifake.New()
	seedPending(api, -time.Minute)

	s := NewSession(api, geo.ModeDriving)
	require.NoError(t, s.Load(ctx, 1))

	require.False(t, s.Window().Active())
	require.ErrorIs(t, s.Cancel(ctx), ErrCancelNotAvailable)
}

func TestSession_CancelSuccess(t *testing.T) {
	ctx := context.Background()
	api := apifake.New()
	seedPending(api, 90*time.Second)

	s := NewSession(api, geo.ModeDriving)
	require.NoError(t, s.Load(ctx, 1))
	require.NoError(t, s.Cancel(ctx))

	o, ok := s.Order()
	require.True(t, ok)
	require.Equal(t, lifecycle.StatusCancelled, o.Status)
	require.False(t, s.Window().Active())
	require.Equal(t, -1, s.Progress())

	got, err := api.GetOrder(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, lifecycle.StatusCancelled, got.Status)
}

func TestSession_CancelFailureKeepsWindowOpen(t *testing.T) {
	ctx := context.Background()
	api := apifake.New()
	seedPending(api, 90*time.Second)

	s := NewSession(api, geo.ModeDriving)
	require.NoError(t, s.Load(ctx, 1))

	api.NextErr = errors.New("backend down")
	require.Error(t, s.Cancel(ctx))

	// window still open, retry works
	require.True(t, s.Window().CanCancel())
	require.NoError(t, s.Cancel(ctx))
}

// slowCancelClient parks RequestCancellation so a second Cancel can race it.
type slowCancelClient struct {
	*apifake.FakeClient
	enter   chan struct{}
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func (c *slowCancelClient) RequestCancellation(ctx context.Context, orderID uint64) error {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	close(c.enter)
	<-c.release
	return c.FakeClient.RequestCancellation(ctx, orderID)
}

func TestSession_CancelSingleInFlight(t *testing.T) {
	ctx := context.Background()
	inner := apifake.New()
	seedPending(inner, 90*time.Second)
	api := &slowCancelClient{FakeClient: inner, enter: make(chan struct{}), release: make(chan struct{})}

	s := NewSession(api, geo.ModeDriving)
	require.NoError(t, s.Load(ctx, 1))

	done := make(chan error, 1)
	go func() { done <- s.Cancel(ctx) }()

	<-api.enter
	require.ErrorIs(t, s.Cancel(ctx), ErrCancelInFlight)

	close(api.release)
	require.NoError(t, <-done)

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Equal(t, 1, api.calls)
}

func TestSession_RefreshClosesWindowWhenConfirmedMovesOn(t *testing.T) {
	ctx := context.Background()
	api := apifake.New()
	seedPending(api, 90*time.Second)

	s := NewSession(api, geo.ModeDriving)
	require.NoError(t, s.Load(ctx, 1))

	_, err := api.AdvanceStatus(ctx, 1, lifecycle.StatusConfirmed, lifecycle.RoleChef)
	require.NoError(t, err)
	_, err = api.AdvanceStatus(ctx, 1, lifecycle.StatusPreparing, lifecycle.RoleChef)
	require.NoError(t, err)

	require.NoError(t, s.Refresh(ctx))
	require.False(t, s.Window().Active())
	require.ErrorIs(t, s.Cancel(ctx), ErrCancelNotAvailable)
	require.Equal(t, 50, s.Progress())
}

func TestSession_TripNilWithoutPosition(t *testing.T) {
	ctx := context.Background()
	api := apifake.New()
	seedPending(api, 90*time.Second)

	s := NewSession(api, geo.ModeDriving)
	require.NoError(t, s.Load(ctx, 1))

	m, err := s.Trip()
	require.NoError(t, err)
	require.Nil(t, m)
}
