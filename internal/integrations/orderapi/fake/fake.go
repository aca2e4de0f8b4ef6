package fake

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/HomePlate/OrderTrack/internal/geo"
	"github.com/HomePlate/OrderTrack/internal/integrations/orderapi"
	"github.com/HomePlate/OrderTrack/internal/lifecycle"
	"github.com/HomePlate/OrderTrack/internal/models"
)

var ErrNotFound = errors.New("orderapi fake: order not found")

// FakeClient is an in-memory order backend. It enforces the same status
// transition rules as the real service, so flows built against it behave the
// same way against order-api.
type FakeClient struct {
	mu     sync.Mutex
	orders map[uint64]*models.Order
	now    func() time.Time

	// NextErr, when set, fails the next mutating call and resets.
	NextErr error
}

func New() *FakeClient {
	return &FakeClient{
		orders: make(map[uint64]*models.Order),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (f *FakeClient) SetNow(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

func (f *FakeClient) Seed(o *models.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *o
	f.orders[o.ID] = &cp
}

func (f *FakeClient) takeErr() error {
	err := f.NextErr
	f.NextErr = nil
	return err
}

func (f *FakeClient) GetOrder(ctx context.Context, orderID uint64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *FakeClient) GetCancellationEligibility(ctx context.Context, orderID uint64) (orderapi.Eligibility, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return orderapi.Eligibility{}, ErrNotFound
	}
	if !o.Status.Cancellable() || o.CancellationDeadline == nil {
		return orderapi.Eligibility{}, nil
	}
	remaining := int(o.CancellationDeadline.Sub(f.now()).Seconds())
	if remaining <= 0 {
		return orderapi.Eligibility{}, nil
	}
	return orderapi.Eligibility{CanCancel: true, RemainingSeconds: remaining}, nil
}

func (f *FakeClient) RequestCancellation(ctx context.Context, orderID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return err
	}
	o, ok := f.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	next, err := lifecycle.Transition(o.Status, lifecycle.StatusCancelled, lifecycle.RoleCustomer)
	if err != nil {
		return err
	}
	o.Status = next
	o.CancellationDeadline = nil
	return nil
}

func (f *FakeClient) AdvanceStatus(ctx context.Context, orderID uint64, to lifecycle.Status, role lifecycle.Role) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return nil, err
	}
	o, ok := f.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	next, err := lifecycle.Transition(o.Status, to, role)
	if err != nil {
		return nil, err
	}
	o.Status = next
	now := f.now()
	switch next {
	case lifecycle.StatusOutForDelivery:
		o.PickedUpAt = &now
	case lifecycle.StatusDelivered:
		o.DeliveredAt = &now
	}
	cp := *o
	return &cp, nil
}

func (f *FakeClient) MarkPickedUp(ctx context.Context, orderID uint64, position *geo.Coordinate) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return nil, err
	}
	o, ok := f.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	next, err := lifecycle.Transition(o.Status, lifecycle.StatusOutForDelivery, lifecycle.RoleCourier)
	if err != nil {
		return nil, err
	}
	now := f.now()
	o.Status = next
	o.PickedUpAt = &now
	if position != nil {
		pos := *position
		o.AgentPosition = &pos
		o.AgentPositionAt = &now
	}
	cp := *o
	return &cp, nil
}

func (f *FakeClient) StartTracking(ctx context.Context, orderID uint64, position geo.Coordinate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return err
	}
	o, ok := f.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	now := f.now()
	pos := position
	o.AgentPosition = &pos
	o.AgentPositionAt = &now
	return nil
}
