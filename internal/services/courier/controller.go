package courier

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/pkg/errors"

	"github.com/HomePlate/OrderTrack/internal/geo"
	"github.com/HomePlate/OrderTrack/internal/integrations/location"
	"github.com/HomePlate/OrderTrack/internal/integrations/orderapi"
	"github.com/HomePlate/OrderTrack/internal/lifecycle"
	"github.com/HomePlate/OrderTrack/internal/models"
	"github.com/HomePlate/OrderTrack/internal/trip"
)

// Phase is the courier's view of an assignment. It is finer-grained than the
// order status: the backend only learns about the pickup when it completes.
type Phase string

const (
	PhaseAwaitingPickup     Phase = "awaiting_pickup"
	PhasePickupInProgress   Phase = "pickup_in_progress"
	PhasePickupComplete     Phase = "pickup_complete"
	PhaseDeliveryInProgress Phase = "delivery_in_progress"
	PhaseDeliveryComplete   Phase = "delivery_complete"
)

type Action string

const (
	ActionStartPickup      Action = "start_pickup"
	ActionCompletePickup   Action = "complete_pickup"
	ActionStartDelivery    Action = "start_delivery"
	ActionCompleteDelivery Action = "complete_delivery"
)

var (
	ErrActionInFlight       = errors.New("another action is already in flight")
	ErrActionNotAllowed     = errors.New("action not allowed in current phase")
	ErrOrderCancelled       = errors.New("order has been cancelled")
	ErrPositionRequired     = errors.New("courier position is not known")
	ErrLocationNotAvailable = errors.New("target location is not available")
)

// ServiceFailure wraps a backend error so the caller can tell which action
// failed. The local phase is left unchanged on failure.
type ServiceFailure struct {
	Action Action
	Err    error
}

func (e *ServiceFailure) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Action, e.Err)
}

func (e *ServiceFailure) Unwrap() error { return e.Err }

// Controller drives one assignment through its pickup and delivery legs.
// All methods are safe for concurrent use; at most one backend-mutating
// action runs at a time.
type Controller struct {
	api  orderapi.Client
	loc  location.Provider
	mode geo.TravelMode

	mu       sync.Mutex
	order    *models.Order
	phase    Phase
	position *geo.Coordinate
	inFlight bool
}

func NewController(api orderapi.Client, loc location.Provider, mode geo.TravelMode, order *models.Order) *Controller {
	cp := *order
	return &Controller{
		api:   api,
		loc:   loc,
		mode:  mode,
		order: &cp,
		phase: phaseFor(order),
	}
}

func phaseFor(o *models.Order) Phase {
	switch o.Status {
	case lifecycle.StatusDelivered:
		return PhaseDeliveryComplete
	case lifecycle.StatusOutForDelivery:
		return PhasePickupComplete
	default:
		return PhaseAwaitingPickup
	}
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) Order() models.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.order
}

func (c *Controller) Position() *geo.Coordinate {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.position == nil {
		return nil
	}
	cp := *c.position
	return &cp
}

// RefreshPosition asks the platform for the current position. On failure the
// previous position is kept; a courier who never granted permission simply
// has none, which in turn blocks StartPickup.
func (c *Controller) RefreshPosition(ctx context.Context) error {
	pos, err := c.loc.CurrentPosition(ctx)
	if err != nil {
		return err
	}
	if err := pos.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.position = &pos
	c.mu.Unlock()
	return nil
}

// Reload syncs the local order from the backend. If the order was cancelled
// while the courier was en route, the assignment is over.
func (c *Controller) Reload(ctx context.Context) error {
	o, err := c.api.GetOrder(ctx, c.orderID())
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.order = o
	// on cancellation the phase is kept so the UI can show where the courier was
	if o.Status != lifecycle.StatusCancelled && o.Status != lifecycle.StatusRefunded {
		c.phase = mergePhase(c.phase, o)
	}
	c.mu.Unlock()
	return nil
}

// mergePhase keeps local in-progress detail unless the backend moved past it.
func mergePhase(local Phase, o *models.Order) Phase {
	remote := phaseFor(o)
	switch {
	case remote == PhaseDeliveryComplete:
		return PhaseDeliveryComplete
	case remote == PhasePickupComplete && (local == PhaseAwaitingPickup || local == PhasePickupInProgress):
		return PhasePickupComplete
	default:
		return local
	}
}

func (c *Controller) orderID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.ID
}

// begin validates the phase gate and claims the single in-flight slot.
func (c *Controller) begin(from Phase) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.order.Status == lifecycle.StatusCancelled || c.order.Status == lifecycle.StatusRefunded {
		return 0, ErrOrderCancelled
	}
	if c.inFlight {
		return 0, ErrActionInFlight
	}
	if c.phase != from {
		return 0, ErrActionNotAllowed
	}
	c.inFlight = true
	return c.order.ID, nil
}

func (c *Controller) finish(apply func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false
	if apply != nil {
		apply()
	}
}

// StartPickup begins live tracking and moves the assignment into the pickup
// leg. It requires a known position: the backend needs a starting point for
// the trip it shows the customer.
func (c *Controller) StartPickup(ctx context.Context) error {
	c.mu.Lock()
	pos := c.position
	c.mu.Unlock()
	if pos == nil {
		return ErrPositionRequired
	}

	id, err := c.begin(PhaseAwaitingPickup)
	if err != nil {
		return err
	}

	if err := c.api.StartTracking(ctx, id, *pos); err != nil {
		c.finish(nil)
		return &ServiceFailure{Action: ActionStartPickup, Err: err}
	}

	c.finish(func() { c.phase = PhasePickupInProgress })
	return nil
}

// CompletePickup reports the pickup to the backend. The local phase advances
// only after the backend confirms; a failed call leaves the assignment in the
// pickup leg so the courier can retry.
func (c *Controller) CompletePickup(ctx context.Context) error {
	id, err := c.begin(PhasePickupInProgress)
	if err != nil {
		return err
	}

	c.mu.Lock()
	pos := c.position
	c.mu.Unlock()

	o, err := c.api.MarkPickedUp(ctx, id, pos)
	if err != nil {
		c.finish(nil)
		return &ServiceFailure{Action: ActionCompletePickup, Err: err}
	}

	c.finish(func() {
		c.order = o
		c.phase = PhasePickupComplete
	})
	return nil
}

// StartDelivery switches the active leg to the delivery target. The order is
// already out_for_delivery, so this is a local transition.
func (c *Controller) StartDelivery(ctx context.Context) error {
	_, err := c.begin(PhasePickupComplete)
	if err != nil {
		return err
	}
	c.finish(func() { c.phase = PhaseDeliveryInProgress })
	return nil
}

// CompleteDelivery marks the order delivered.
func (c *Controller) CompleteDelivery(ctx context.Context) error {
	id, err := c.begin(PhaseDeliveryInProgress)
	if err != nil {
		return err
	}

	o, err := c.api.AdvanceStatus(ctx, id, lifecycle.StatusDelivered, lifecycle.RoleCourier)
	if err != nil {
		c.finish(nil)
		return &ServiceFailure{Action: ActionCompleteDelivery, Err: err}
	}

	c.finish(func() {
		c.order = o
		c.phase = PhaseDeliveryComplete
	})
	return nil
}

// activeTarget is the location of the current leg: the pickup point until the
// pickup completes, the delivery point after.
func (c *Controller) activeTarget() models.Location {
	switch c.phase {
	case PhaseAwaitingPickup, PhasePickupInProgress:
		return c.order.PickupLocation
	default:
		return c.order.DeliveryLocation
	}
}

// Trip returns distance and ETA from the courier's position to the active
// leg's target, or nil when either side is unknown.
func (c *Controller) Trip() (*trip.Metrics, error) {
	c.mu.Lock()
	pos := c.position
	target := c.activeTarget().Coord
	mode := c.mode
	c.mu.Unlock()
	return trip.Compute(pos, target, mode)
}

// NavigationLink builds a Google Maps directions URL for the active leg.
// Coordinates win over the address; with neither there is nothing to open.
func (c *Controller) NavigationLink() (string, error) {
	c.mu.Lock()
	target := c.activeTarget()
	c.mu.Unlock()

	switch {
	case target.Coord != nil:
		return fmt.Sprintf("https://www.google.com/maps/dir/?api=1&destination=%f,%f", target.Coord.Lat, target.Coord.Lng), nil
	case target.Address != "":
		return "https://www.google.com/maps/dir/?api=1&destination=" + url.QueryEscape(target.Address), nil
	default:
		return "", ErrLocationNotAvailable
	}
}
