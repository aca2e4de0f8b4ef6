package fees

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/HomePlate/OrderTrack/internal/geo"
)

type OrderType string

const (
	OrderTypeRegular OrderType = "regular"
	OrderTypeBulk    OrderType = "bulk"
)

const (
	// bulk orders pay a flat multiple of the base fee
	bulkMultiplier = 5.0
	// each started kilometre beyond the base distance adds 30% of the base fee
	extraKmRate = 0.30
	// night and rain each add 10% on top of the distance subtotal
	nightSurchargeRate = 0.10
	rainSurchargeRate  = 0.10

	nightStartHour = 18
	nightEndHour   = 5
)

// Breakdown itemises a delivery fee quote.
type Breakdown struct {
	DistanceKm     float64 `json:"distance_km"`
	BaseFee        float64 `json:"base_fee"`
	DistanceFee    float64 `json:"distance_fee"`
	NightSurcharge float64 `json:"night_surcharge"`
	RainSurcharge  float64 `json:"rain_surcharge"`
	Total          float64 `json:"total"`
	Currency       string  `json:"currency"`
}

// Calculator prices deliveries: a base fee covers the first few kilometres,
// longer trips pay per started extra kilometre, and night or rainy-weather
// deliveries carry percentage surcharges.
type Calculator struct {
	basePrice      float64
	currency       string
	baseDistanceKm float64
	loc            *time.Location
}

func New(basePrice float64, currency string, baseDistanceKm float64, timezone string) (*Calculator, error) {
	if basePrice <= 0 {
		return nil, errors.New("base price must be positive")
	}
	if baseDistanceKm <= 0 {
		return nil, errors.New("base distance must be positive")
	}
	if currency == "" {
		currency = "LKR"
	}
	if timezone == "" {
		timezone = "Asia/Colombo"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, errors.Wrap(err, "load timezone")
	}
	return &Calculator{
		basePrice:      basePrice,
		currency:       currency,
		baseDistanceKm: baseDistanceKm,
		loc:            loc,
	}, nil
}

func (c *Calculator) Quote(orderType OrderType, origin, dest geo.Coordinate, at time.Time, rainy bool) (*Breakdown, error) {
	dist, err := geo.Distance(origin, dest)
	if err != nil {
		return nil, err
	}

	base := c.basePrice
	if orderType == OrderTypeBulk {
		base = c.basePrice * bulkMultiplier
	}

	var distanceFee float64
	if dist > c.baseDistanceKm {
		extraKm := math.Ceil(dist - c.baseDistanceKm)
		distanceFee = extraKm * extraKmRate * c.basePrice
	}

	subtotal := base + distanceFee

	var night, rain float64
	if c.isNight(at) {
		night = subtotal * nightSurchargeRate
	}
	if rainy {
		rain = subtotal * rainSurchargeRate
	}

	b := &Breakdown{
		DistanceKm:     round2(dist),
		BaseFee:        round2(base),
		DistanceFee:    round2(distanceFee),
		NightSurcharge: round2(night),
		RainSurcharge:  round2(rain),
		Currency:       c.currency,
	}
	b.Total = round2(subtotal + night + rain)
	return b, nil
}

// isNight reports whether the local time falls inside the 18:00-05:00 band.
func (c *Calculator) isNight(at time.Time) bool {
	h := at.In(c.loc).Hour()
	return h >= nightStartHour || h < nightEndHour
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
