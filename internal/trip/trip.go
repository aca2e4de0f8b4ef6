// Package trip derives live travel metrics for the active delivery leg.
package trip

import (
	"github.com/HomePlate/OrderTrack/internal/geo"
)

// Metrics is the remaining-travel snapshot for one leg. Derived only,
// never persisted.
type Metrics struct {
	DistanceKm       float64 `json:"distanceKm"`
	EstimatedMinutes int     `json:"estimatedMinutes"`
}

// Compute returns metrics for travelling from current to target, or nil
// when either side is unknown (position denied, address still pending
// lookup). Same inputs always produce the same output.
func Compute(current, target *geo.Coordinate, mode geo.TravelMode) (*Metrics, error) {
	if current == nil || target == nil {
		return nil, nil
	}
	d, err := geo.Distance(*current, *target)
	if err != nil {
		return nil, err
	}
	return &Metrics{
		DistanceKm:       d,
		EstimatedMinutes: geo.EstimateTravelTime(d, mode),
	}, nil
}
