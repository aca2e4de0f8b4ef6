package models

import (
	"time"

	"github.com/HomePlate/OrderTrack/internal/geo"
	"github.com/HomePlate/OrderTrack/internal/lifecycle"
)

// Location is a delivery endpoint: precise coordinates when known, with a
// free-text address fallback. Immutable once the order is created.
type Location struct {
	Coord   *geo.Coordinate `json:"coord,omitempty"`
	Address string          `json:"address,omitempty"`
}

// Known reports whether the location can be targeted at all.
func (l Location) Known() bool {
	return l.Coord != nil || l.Address != ""
}

type Order struct {
	ID     uint64
	Number string
	Status lifecycle.Status

	PickupLocation   Location
	DeliveryLocation Location

	// CancellationDeadline is set by the order service while the status is
	// cancellable and cleared once it no longer is.
	CancellationDeadline *time.Time

	// Live courier position, refreshed externally. Not owned by the order.
	AgentPosition   *geo.Coordinate
	AgentPositionAt *time.Time

	PickedUpAt  *time.Time
	DeliveredAt *time.Time

	// SweepFailCount counts failed auto-cancel attempts; drives the
	// sweeper's retry backoff.
	SweepFailCount int32

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StatusEvent is one row of the order's status history.
type StatusEvent struct {
	ID        uint64
	OrderID   uint64
	Status    lifecycle.Status
	Actor     lifecycle.Role
	Note      string
	Position  *geo.Coordinate
	CreatedAt time.Time
}

type OrderCreateInput struct {
	PickupLocation   Location
	DeliveryLocation Location
}
