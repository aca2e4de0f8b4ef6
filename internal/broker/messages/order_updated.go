package messages

import (
	"time"

	"github.com/HomePlate/OrderTrack/internal/lifecycle"
)

// OrderUpdated is published after a status change has been committed.
// Consumers (notification fan-out, dashboards) treat it as informational;
// the orders table stays the source of truth.
type OrderUpdated struct {
	OrderID     uint64           `json:"order_id"`
	OrderNumber string           `json:"order_number"`
	OldStatus   lifecycle.Status `json:"old_status"`
	NewStatus   lifecycle.Status `json:"new_status"`
	Actor       lifecycle.Role   `json:"actor"`
	Note        string           `json:"note,omitempty"`
	ChangedAt   time.Time        `json:"changed_at"`
}
