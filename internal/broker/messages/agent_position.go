package messages

import "time"

// AgentPositionUpdated carries a delivery agent position sample. Samples may
// arrive out of order; RecordedAt lets the consumer drop stale ones.
type AgentPositionUpdated struct {
	OrderID    uint64    `json:"order_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	RecordedAt time.Time `json:"recorded_at"`
}
