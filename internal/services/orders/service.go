package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/HomePlate/OrderTrack/internal/broker/messages"
	"github.com/HomePlate/OrderTrack/internal/cache"
	"github.com/HomePlate/OrderTrack/internal/geo"
	"github.com/HomePlate/OrderTrack/internal/lifecycle"
	"github.com/HomePlate/OrderTrack/internal/models"
	"github.com/HomePlate/OrderTrack/internal/storage/pgorders"
	"github.com/HomePlate/OrderTrack/internal/trip"
)

type Repository interface {
	CreateOrder(ctx context.Context, in models.OrderCreateInput, number string, deadline time.Time) (*models.Order, error)
	GetOrderByID(ctx context.Context, id uint64) (*models.Order, error)
	ListStatusHistory(ctx context.Context, orderID uint64, limit, offset int) ([]*models.StatusEvent, error)
	ApplyStatusChange(ctx context.Context, ch pgorders.StatusChange) error
	UpdateAgentPosition(ctx context.Context, orderID uint64, pos geo.Coordinate, at time.Time) error
}

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

var (
	ErrInvalidInput = errors.New("invalid order input")
	ErrWindowClosed = errors.New("cancellation window has closed")
)

// Eligibility reports whether an order can still be cancelled by the
// customer and how many seconds remain.
type Eligibility struct {
	CanCancel        bool `json:"can_cancel"`
	RemainingSeconds int  `json:"remaining_seconds"`
}

type Service struct {
	repo  Repository
	cache cache.BytesCache
	pub   Publisher

	currentTTL   time.Duration
	cancelWindow time.Duration
	updatedTopic string

	now func() time.Time
}

func New(repo Repository, c cache.BytesCache, pub Publisher, currentTTL, cancelWindow time.Duration, updatedTopic string) *Service {
	return &Service{
		repo:         repo,
		cache:        c,
		pub:          pub,
		currentTTL:   currentTTL,
		cancelWindow: cancelWindow,
		updatedTopic: updatedTopic,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) PlaceOrder(ctx context.Context, in models.OrderCreateInput) (*models.Order, error) {
	if !in.DeliveryLocation.Known() {
		return nil, errors.Wrap(ErrInvalidInput, "delivery location is required")
	}
	for _, loc := range []models.Location{in.PickupLocation, in.DeliveryLocation} {
		if loc.Coord != nil {
			if err := loc.Coord.Validate(); err != nil {
				return nil, err
			}
		}
	}

	now := s.now()
	number := "ORD-" + uuid.NewString()[:8]
	return s.repo.CreateOrder(ctx, in, number, now.Add(s.cancelWindow))
}

func (s *Service) GetOrder(ctx context.Context, orderID uint64) (*models.Order, error) {
	if orderID == 0 {
		return nil, errors.New("orderId is required")
	}

	// Best-effort read-through cache; the DB row stays authoritative.
	if s.cache != nil && s.currentTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, currentKey(orderID)); err == nil && ok {
			var o models.Order
			if json.Unmarshal(b, &o) == nil {
				return &o, nil
			}
		}
	}

	o, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.cacheOrder(ctx, o)
	return o, nil
}

func (s *Service) ListHistory(ctx context.Context, orderID uint64, limit, offset int) ([]*models.StatusEvent, error) {
	if orderID == 0 {
		return nil, errors.New("orderId is required")
	}
	return s.repo.ListStatusHistory(ctx, orderID, limit, offset)
}

func (s *Service) CancellationEligibility(ctx context.Context, orderID uint64) (Eligibility, error) {
	o, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return Eligibility{}, err
	}
	if !o.Status.Cancellable() || o.CancellationDeadline == nil {
		return Eligibility{}, nil
	}
	remaining := int(o.CancellationDeadline.Sub(s.now()).Seconds())
	if remaining <= 0 {
		return Eligibility{}, nil
	}
	return Eligibility{CanCancel: true, RemainingSeconds: remaining}, nil
}

func (s *Service) RequestCancellation(ctx context.Context, orderID uint64) (*models.Order, error) {
	o, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.CancellationDeadline == nil || !s.now().Before(*o.CancellationDeadline) {
		return nil, ErrWindowClosed
	}
	return s.changeStatus(ctx, o, lifecycle.StatusCancelled, lifecycle.RoleCustomer, "cancelled by customer", nil)
}

func (s *Service) AdvanceStatus(ctx context.Context, orderID uint64, to lifecycle.Status, role lifecycle.Role) (*models.Order, error) {
	o, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.changeStatus(ctx, o, to, role, "", nil)
}

func (s *Service) MarkPickedUp(ctx context.Context, orderID uint64, position *geo.Coordinate) (*models.Order, error) {
	o, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	upd, err := s.changeStatus(ctx, o, lifecycle.StatusOutForDelivery, lifecycle.RoleCourier, "picked up", position)
	if err != nil {
		return nil, err
	}
	if position != nil {
		if err := s.repo.UpdateAgentPosition(ctx, orderID, *position, s.now()); err != nil {
			return nil, err
		}
	}
	return upd, nil
}

func (s *Service) StartTracking(ctx context.Context, orderID uint64, position geo.Coordinate) error {
	if err := position.Validate(); err != nil {
		return err
	}
	if err := s.repo.UpdateAgentPosition(ctx, orderID, position, s.now()); err != nil {
		return err
	}
	s.invalidate(ctx, orderID)
	return nil
}

// ApplyAgentPosition consumes a position sample published by the courier app.
func (s *Service) ApplyAgentPosition(ctx context.Context, msg messages.AgentPositionUpdated) error {
	if msg.OrderID == 0 {
		return errors.New("order_id is required")
	}
	pos := geo.Coordinate{Lat: msg.Lat, Lng: msg.Lng}
	if err := pos.Validate(); err != nil {
		return err
	}
	at := msg.RecordedAt
	if at.IsZero() {
		at = s.now()
	}
	if err := s.repo.UpdateAgentPosition(ctx, msg.OrderID, pos, at); err != nil {
		return err
	}
	s.invalidate(ctx, msg.OrderID)
	return nil
}

// TripSnapshot computes distance and travel time from the courier's last
// known position to the active leg's target: the pickup point until the
// order is picked up, the delivery point after.
func (s *Service) TripSnapshot(ctx context.Context, orderID uint64, mode geo.TravelMode) (*trip.Metrics, error) {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	target := o.PickupLocation.Coord
	if o.PickedUpAt != nil {
		target = o.DeliveryLocation.Coord
	}
	return trip.Compute(o.AgentPosition, target, mode)
}

func (s *Service) changeStatus(ctx context.Context, o *models.Order, to lifecycle.Status, role lifecycle.Role, note string, position *geo.Coordinate) (*models.Order, error) {
	next, err := lifecycle.Transition(o.Status, to, role)
	if err != nil {
		return nil, err
	}

	at := s.now()
	err = s.repo.ApplyStatusChange(ctx, pgorders.StatusChange{
		OrderID:       o.ID,
		From:          o.Status,
		To:            next,
		Actor:         role,
		Note:          note,
		Position:      position,
		ClearDeadline: !next.Cancellable(),
		ChangedAt:     at,
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, o.ID)
	s.publishUpdated(ctx, o, next, role, note, at)

	return s.repo.GetOrderByID(ctx, o.ID)
}

func (s *Service) publishUpdated(ctx context.Context, o *models.Order, next lifecycle.Status, role lifecycle.Role, note string, at time.Time) {
	if s.pub == nil || s.updatedTopic == "" {
		return
	}
	b, err := json.Marshal(messages.OrderUpdated{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		OldStatus:   o.Status,
		NewStatus:   next,
		Actor:       role,
		Note:        note,
		ChangedAt:   at,
	})
	if err != nil {
		return
	}
	// Publishing is best-effort: the status change is already committed.
	_ = s.pub.Publish(ctx, s.updatedTopic, []byte(fmt.Sprintf("%d", o.ID)), b)
}

func (s *Service) cacheOrder(ctx context.Context, o *models.Order) {
	if s.cache == nil || s.currentTTL <= 0 {
		return
	}
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, currentKey(o.ID), b, s.currentTTL)
}

func (s *Service) invalidate(ctx context.Context, orderID uint64) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Del(ctx, currentKey(orderID))
}

func currentKey(id uint64) string {
	return fmt.Sprintf("order:%d:current", id)
}
