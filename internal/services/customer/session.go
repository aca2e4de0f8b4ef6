package customer

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/HomePlate/OrderTrack/internal/cancelwindow"
	"github.com/HomePlate/OrderTrack/internal/geo"
	"github.com/HomePlate/OrderTrack/internal/integrations/orderapi"
	"github.com/HomePlate/OrderTrack/internal/lifecycle"
	"github.com/HomePlate/OrderTrack/internal/models"
	"github.com/HomePlate/OrderTrack/internal/trip"
)

var (
	ErrNotLoaded          = errors.New("no order loaded")
	ErrCancelNotAvailable = errors.New("order can no longer be cancelled")
	ErrCancelInFlight     = errors.New("cancellation request already in flight")
)

// Session is one customer's live view of one order: the current status, the
// cancellation countdown and the courier trip. The server-side eligibility
// answer is authoritative; the local countdown only drives the UI.
type Session struct {
	api  orderapi.Client
	mode geo.TravelMode

	mu        sync.Mutex
	order     *models.Order
	countdown *cancelwindow.Countdown
	inFlight  bool
}

func NewSession(api orderapi.Client, mode geo.TravelMode) *Session {
	return &Session{api: api, mode: mode}
}

// Load fetches the order and derives the cancellation window from the
// backend's eligibility answer.
func (s *Session) Load(ctx context.Context, orderID uint64) error {
	o, err := s.api.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	el, err := s.api.GetCancellationEligibility(ctx, orderID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.order = o
	s.countdown = cancelwindow.NewCountdown(cancelwindow.FromEligibility(o.Status, el.RemainingSeconds))
	s.mu.Unlock()
	return nil
}

// Refresh re-reads the order. The window is re-derived only when it would
// shrink or close; a local countdown never gets extended behind the
// customer's back.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.order == nil {
		s.mu.Unlock()
		return ErrNotLoaded
	}
	id := s.order.ID
	s.mu.Unlock()

	o, err := s.api.GetOrder(ctx, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.order = o
	if !o.Status.Cancellable() {
		s.countdown.Deactivate()
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) Order() (models.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.order == nil {
		return models.Order{}, false
	}
	return *s.order, true
}

func (s *Session) Window() cancelwindow.Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countdown == nil {
		return cancelwindow.Window{}
	}
	return s.countdown.Snapshot()
}

// RunCountdown drives the one-second countdown until expiry or ctx
// cancellation. Call it from its own goroutine.
func (s *Session) RunCountdown(ctx context.Context, onExpire func()) {
	s.mu.Lock()
	cd := s.countdown
	s.mu.Unlock()
	if cd == nil {
		return
	}
	cd.Run(ctx, onExpire)
}

// Cancel dispatches the cancellation request. At most one request is in
// flight; a failed request leaves the window open so the customer can retry
// while time remains.
func (s *Session) Cancel(ctx context.Context) error {
	s.mu.Lock()
	if s.order == nil {
		s.mu.Unlock()
		return ErrNotLoaded
	}
	if s.inFlight {
		s.mu.Unlock()
		return ErrCancelInFlight
	}
	if !s.countdown.Snapshot().CanCancel() {
		s.mu.Unlock()
		return ErrCancelNotAvailable
	}
	id := s.order.ID
	s.inFlight = true
	s.mu.Unlock()

	err := s.api.RequestCancellation(ctx, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	if err != nil {
		return errors.Wrap(err, "request cancellation")
	}
	s.order.Status = lifecycle.StatusCancelled
	s.order.CancellationDeadline = nil
	s.countdown.Deactivate()
	return nil
}

// Progress is the order's position on the tracking bar in percent, or -1
// for cancelled and refunded orders.
func (s *Session) Progress() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.order == nil {
		return 0
	}
	return lifecycle.Progress(s.order.Status)
}

// Trip returns the courier's distance and ETA toward the active leg, or nil
// while there is no live position.
func (s *Session) Trip() (*trip.Metrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.order == nil {
		return nil, ErrNotLoaded
	}
	target := s.order.PickupLocation.Coord
	if s.order.PickedUpAt != nil {
		target = s.order.DeliveryLocation.Coord
	}
	return trip.Compute(s.order.AgentPosition, target, s.mode)
}
