package geo

import (
	"fmt"
	"math"
)

// EarthRadiusKm is Earth's radius in kilometers for the haversine formula.
const EarthRadiusKm = 6371.0

// Coordinate is a WGS84 point.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// InvalidCoordinateError reports a coordinate outside the valid range.
// Out-of-range input is rejected, never clamped.
type InvalidCoordinateError struct {
	Lat float64
	Lng float64
}

func (e *InvalidCoordinateError) Error() string {
	return fmt.Sprintf("invalid coordinate: lat=%v lng=%v", e.Lat, e.Lng)
}

// Validate checks that the coordinate is within |lat|<=90, |lng|<=180.
func (c Coordinate) Validate() error {
	if math.Abs(c.Lat) > 90 || math.Abs(c.Lng) > 180 {
		return &InvalidCoordinateError{Lat: c.Lat, Lng: c.Lng}
	}
	return nil
}

// Distance returns the great-circle distance between a and b in kilometers.
// Symmetric, and zero iff a == b.
func Distance(a, b Coordinate) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}
	if a == b {
		return 0, nil
	}
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := lat2 - lat1
	dLng := toRadians(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h)), nil
}

func toRadians(v float64) float64 {
	return v * math.Pi / 180
}

// TravelMode selects the average speed profile for ETA estimates.
type TravelMode string

const (
	ModeDriving TravelMode = "driving"
	ModeCycling TravelMode = "cycling"
	ModeWalking TravelMode = "walking"
)

// Average speeds in km/h for a dense urban delivery context.
func (m TravelMode) speedKmh() float64 {
	switch m {
	case ModeCycling:
		return 15
	case ModeWalking:
		return 5
	default:
		return 30
	}
}

// EstimateTravelTime converts a distance into whole minutes for the given
// mode, rounding to the nearest minute. Any nonzero distance yields at
// least one minute.
func EstimateTravelTime(distanceKm float64, mode TravelMode) int {
	if distanceKm <= 0 {
		return 0
	}
	minutes := int(math.Round(distanceKm / mode.speedKmh() * 60))
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}
