package orderapi

import (
	"context"

	"github.com/HomePlate/OrderTrack/internal/geo"
	"github.com/HomePlate/OrderTrack/internal/lifecycle"
	"github.com/HomePlate/OrderTrack/internal/models"
)

// Eligibility is the backend's answer on whether an order can still be
// cancelled and how long the customer has left.
type Eligibility struct {
	CanCancel        bool
	RemainingSeconds int
}

// Client is the order backend as seen by the customer and courier flows.
type Client interface {
	GetOrder(ctx context.Context, orderID uint64) (*models.Order, error)
	GetCancellationEligibility(ctx context.Context, orderID uint64) (Eligibility, error)
	RequestCancellation(ctx context.Context, orderID uint64) error
	AdvanceStatus(ctx context.Context, orderID uint64, to lifecycle.Status, role lifecycle.Role) (*models.Order, error)
	MarkPickedUp(ctx context.Context, orderID uint64, position *geo.Coordinate) (*models.Order, error)
	StartTracking(ctx context.Context, orderID uint64, position geo.Coordinate) error
}
