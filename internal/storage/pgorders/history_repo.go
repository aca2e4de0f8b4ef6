package pgorders

import (
	"context"

	"github.com/HomePlate/OrderTrack/internal/geo"
	"github.com/HomePlate/OrderTrack/internal/models"
	"github.com/pkg/errors"
)

func (s *Storage) ListStatusHistory(ctx context.Context, orderID uint64, limit, offset int) ([]*models.StatusEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT id, order_id, status, actor, note, lat, lng, created_at
FROM order_status_history
WHERE order_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3
`, orderID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select status history")
	}
	defer rows.Close()

	var out []*models.StatusEvent
	for rows.Next() {
		var e models.StatusEvent
		var lat, lng *float64
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Status, &e.Actor, &e.Note, &lat, &lng, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan status event")
		}
		if lat != nil && lng != nil {
			e.Position = &geo.Coordinate{Lat: *lat, Lng: *lng}
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
