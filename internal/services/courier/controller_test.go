package courier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/HomePlate/OrderTrack/internal/geo"
	"github.com/HomePlate/OrderTrack/internal/integrations/location"
	locfake "github.com/HomePlate/OrderTrack/internal/integrations/location/fake"
	apifake "github.com/HomePlate/OrderTrack/internal/integrations/orderapi/fake"
	"github.com/HomePlate/OrderTrack/internal/lifecycle"
	"github.com/HomePlate/OrderTrack/internal/models"
)

func readyOrder() *models.Order {
	return &models.Order{
		ID:     1,
		Number: "ORD-a1b2c3d4",
		Status: lifecycle.StatusReady,
		PickupLocation: models.Location{
			Coord:   &geo.Coordinate{Lat: 6.9271, Lng: 79.8612},
			Address: "Galle Road kitchen",
		},
		DeliveryLocation: models.Location{
			Coord:   &geo.Coordinate{Lat: 6.9344, Lng: 79.8428},
			Address: "Marine Drive",
		},
	}
}

func newReadyController(t *testing.T) (*Controller, *apifake.FakeClient) {
	t.Helper()
	api := apifake.New()
	o := readyOrder()
	api.Seed(o)
	loc := locfake.New(geo.Coordinate{Lat: 6.9270, Lng: 79.8610})
	c := NewController(api, loc, geo.ModeDriving, o)
	require.NoError(t, c.RefreshPosition(context.Background()))
	return c, api
}

func TestController_HappyPath(t *testing.T) {
	ctx := context.Background()
	c, api := newReadyController(t)

	require.Equal(t, PhaseAwaitingPickup, c.Phase())

	require.NoError(t, c.StartPickup(ctx))
	require.Equal(t, PhasePickupInProgress, c.Phase())

	require.NoError(t, c.CompletePickup(ctx))
	require.Equal(t, PhasePickupComplete, c.Phase())
	require.Equal(t, lifecycle.StatusOutForDelivery, c.Order().Status)

	require.NoError(t, c.StartDelivery(ctx))
	require.Equal(t, PhaseDeliveryInProgress, c.Phase())

	require.NoError(t, c.CompleteDelivery(ctx))
	require.Equal(t, PhaseDeliveryComplete, c.Phase())
	require.Equal(t, lifecycle.StatusDelivered, c.Order().Status)

	got, err := api.GetOrder(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, lifecycle.StatusDelivered, got.Status)
	require.NotNil(t, got.PickedUpAt)
	require.NotNil(t, got.DeliveredAt)
}

func TestController_PhaseGates(t *testing.T) {
	ctx := context.Background()
	c, _ := newReadyController(t)

	require.ErrorIs(t, c.CompletePickup(ctx), ErrActionNotAllowed)
	require.ErrorIs(t, c.StartDelivery(ctx), ErrActionNotAllowed)
	require.ErrorIs(t, c.CompleteDelivery(ctx), ErrActionNotAllowed)

	require.NoError(t, c.StartPickup(ctx))
	require.ErrorIs(t, c.StartPickup(ctx), ErrActionNotAllowed)
}

func TestController_StartPickup_RequiresPosition(t *testing.T) {
	ctx := context.Background()
	api := apifake.New()
	o := readyOrder()
	api.Seed(o)
	loc := locfake.New(geo.Coordinate{})
	loc.SetError(location.ErrPermissionDenied)

	c := NewController(api, loc, geo.ModeDriving, o)
	require.ErrorIs(t, c.RefreshPosition(ctx), location.ErrPermissionDenied)
	require.Nil(t, c.Position())

	require.ErrorIs(t, c.StartPickup(ctx), ErrPositionRequired)
	require.Equal(t, PhaseAwaitingPickup, c.Phase())
}

func TestController_FailureLeavesPhase(t *testing.T) {
	ctx := context.Background()
	c, api := newReadyController(t)
	require.NoError(t, c.StartPickup(ctx))

	backendErr := errors.New("backend down")
	api.NextErr = backendErr

	err := c.CompletePickup(ctx)
	require.Error(t, err)
	var sf *ServiceFailure
	require.ErrorAs(t, err, &sf)
	require.Equal(t, ActionCompletePickup, sf.Action)
	require.ErrorIs(t, err, backendErr)

	// still in the pickup leg, retry succeeds
	require.Equal(t, PhasePickupInProgress, c.Phase())
	require.NoError(t, c.CompletePickup(ctx))
	require.Equal(t, PhasePickupComplete, c.Phase())
}

// blockingClient parks MarkPickedUp until released, so a second caller can
// race against an in-flight action.
type blockingClient struct {
	*apifake.FakeClient
	enter   chan struct{}
	release chan struct{}
	calls   int
	mu      sync.Mutex
}

func (b *blockingClient) MarkPickedUp(ctx context.Context, orderID uint64, position *geo.Coordinate) (*models.Order, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	close(b.enter)
	<-b.release
	return b.FakeClient.MarkPickedUp(ctx, orderID, position)
}

func TestController_SingleInFlight(t *testing.T) {
	ctx := context.Background()
	inner := apifake.New()
	o := readyOrder()
	inner.Seed(o)
	api := &blockingClient{FakeClient: inner, enter: make(chan struct{}), release: make(chan struct{})}
	loc := locfake.New(geo.Coordinate{Lat: 6.9270, Lng: 79.8610})

	c := NewController(api, loc, geo.ModeDriving, o)
	require.NoError(t, c.RefreshPosition(ctx))
	require.NoError(t, c.StartPickup(ctx))

	done := make(chan error, 1)
	go func() { done <- c.CompletePickup(ctx) }()

	<-api.enter
	// first call is parked inside the backend; a second attempt must be
	// rejected, not queued
	require.ErrorIs(t, c.CompletePickup(ctx), ErrActionInFlight)

	close(api.release)
	require.NoError(t, <-done)

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Equal(t, 1, api.calls)
}

func TestController_CancelledOrderBlocksActions(t *testing.T) {
	ctx := context.Background()
	api := apifake.New()
	o := readyOrder()
	o.Status = lifecycle.StatusPending
	deadline := time.Now().UTC().Add(10 * time.Minute)
	o.CancellationDeadline = &deadline
	api.Seed(o)
	loc := locfake.New(geo.Coordinate{Lat: 6.9270, Lng: 79.8610})

	view := *o
	view.Status = lifecycle.StatusReady
	c := NewController(api, loc, geo.ModeDriving, &view)
	require.NoError(t, c.RefreshPosition(ctx))

	require.NoError(t, api.RequestCancellation(ctx, 1))
	require.NoError(t, c.Reload(ctx))

	require.ErrorIs(t, c.StartPickup(ctx), ErrOrderCancelled)
	require.ErrorIs(t, c.CompleteDelivery(ctx), ErrOrderCancelled)
}

func TestController_TripFollowsActiveLeg(t *testing.T) {
	ctx := context.Background()
	c, _ := newReadyController(t)

	m, err := c.Trip()
	require.NoError(t, err)
	require.NotNil(t, m)
	require.Less(t, m.DistanceKm, 0.1) // courier is next to the kitchen

	require.NoError(t, c.StartPickup(ctx))
	require.NoError(t, c.CompletePickup(ctx))

	m, err = c.Trip()
	require.NoError(t, err)
	require.InDelta(t, 2.2, m.DistanceKm, 0.5)
	require.Equal(t, 4, m.EstimatedMinutes)
}

func TestController_NavigationLink(t *testing.T) {
	c, _ := newReadyController(t)

	link, err := c.NavigationLink()
	require.NoError(t, err)
	require.Contains(t, link, "destination=6.927100,79.861200")

	o := readyOrder()
	o.PickupLocation = models.Location{Address: "No 5, Temple Road, Colombo 03"}
	c2 := NewController(apifake.New(), locfake.New(geo.Coordinate{}), geo.ModeDriving, o)
	link, err = c2.NavigationLink()
	require.NoError(t, err)
	require.Contains(t, link, "destination=No+5%2C+Temple+Road%2C+Colombo+03")

	o.PickupLocation = models.Location{}
	c3 := NewController(apifake.New(), locfake.New(geo.Coordinate{}), geo.ModeDriving, o)
	_, err = c3.NavigationLink()
	require.ErrorIs(t, err, ErrLocationNotAvailable)
}
