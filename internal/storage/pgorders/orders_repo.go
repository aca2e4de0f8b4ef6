package pgorders

import (
	"context"
	"time"

	"github.com/HomePlate/OrderTrack/internal/geo"
	"github.com/HomePlate/OrderTrack/internal/lifecycle"
	"github.com/HomePlate/OrderTrack/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// ErrStatusConflict means the order's stored status no longer matches the
// expected one; the caller must reload and re-validate.
var ErrStatusConflict = errors.New("order status conflict")

const orderColumns = `
  id, number, status,
  pickup_lat, pickup_lng, pickup_address,
  delivery_lat, delivery_lng, delivery_address,
  cancellation_deadline,
  agent_lat, agent_lng, agent_position_at,
  picked_up_at, delivered_at,
  sweep_fail_count,
  created_at, updated_at`

func (s *Storage) CreateOrder(ctx context.Context, in models.OrderCreateInput, number string, deadline time.Time) (*models.Order, error) {
	now := time.Now().UTC()

	var pickupLat, pickupLng, deliveryLat, deliveryLng *float64
	if in.PickupLocation.Coord != nil {
		pickupLat, pickupLng = &in.PickupLocation.Coord.Lat, &in.PickupLocation.Coord.Lng
	}
	if in.DeliveryLocation.Coord != nil {
		deliveryLat, deliveryLng = &in.DeliveryLocation.Coord.Lat, &in.DeliveryLocation.Coord.Lng
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id uint64
	err = tx.QueryRow(ctx, `
INSERT INTO orders (
  number, status,
  pickup_lat, pickup_lng, pickup_address,
  delivery_lat, delivery_lng, delivery_address,
  cancellation_deadline, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
RETURNING id
`, number, lifecycle.StatusPending,
		pickupLat, pickupLng, in.PickupLocation.Address,
		deliveryLat, deliveryLng, in.DeliveryLocation.Address,
		deadline.UTC(), now).Scan(&id)
	if err != nil {
		return nil, errors.Wrap(err, "insert order")
	}

	_, err = tx.Exec(ctx, `
INSERT INTO order_status_history (order_id, status, actor, note, created_at)
VALUES ($1,$2,$3,$4,$5)
`, id, lifecycle.StatusPending, lifecycle.RoleCustomer, "order placed", now)
	if err != nil {
		return nil, errors.Wrap(err, "insert placed event")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	return s.GetOrderByID(ctx, id)
}

func (s *Storage) GetOrderByID(ctx context.Context, id uint64) (*models.Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err == pgx.ErrNoRows {
		return nil, errors.Wrapf(pgx.ErrNoRows, "order %d", id)
	}
	return o, err
}

// StatusChange records a confirmed transition together with its history row.
// The update is optimistic: it only applies while the stored status still
// equals From.
type StatusChange struct {
	OrderID uint64
	From    lifecycle.Status
	To      lifecycle.Status
	Actor   lifecycle.Role
	Note    string

	// Courier position context, when supplied with the action.
	Position *geo.Coordinate

	// ClearDeadline drops the cancellation deadline when the order leaves
	// the cancellable range.
	ClearDeadline bool

	ChangedAt time.Time
}

func (s *Storage) ApplyStatusChange(ctx context.Context, ch StatusChange) error {
	at := ch.ChangedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	set := `status = $3, updated_at = $4`
	if ch.ClearDeadline {
		set += `, cancellation_deadline = NULL`
	}
	switch ch.To {
	case lifecycle.StatusOutForDelivery:
		set += `, picked_up_at = $4`
	case lifecycle.StatusDelivered:
		set += `, delivered_at = $4`
	}

	res, err := tx.Exec(ctx, `UPDATE orders SET `+set+` WHERE id = $1 AND status = $2`,
		ch.OrderID, ch.From, ch.To, at.UTC())
	if err != nil {
		return errors.Wrap(err, "update order status")
	}
	if res.RowsAffected() == 0 {
		return errors.Wrapf(ErrStatusConflict, "order %d: expected %s", ch.OrderID, ch.From)
	}

	var lat, lng *float64
	if ch.Position != nil {
		lat, lng = &ch.Position.Lat, &ch.Position.Lng
	}
	_, err = tx.Exec(ctx, `
INSERT INTO order_status_history (order_id, status, actor, note, lat, lng, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, ch.OrderID, ch.To, ch.Actor, ch.Note, lat, lng, at.UTC())
	if err != nil {
		return errors.Wrap(err, "insert status event")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func (s *Storage) UpdateAgentPosition(ctx context.Context, orderID uint64, pos geo.Coordinate, at time.Time) error {
	// Stale updates (older than the stored position) are dropped by the
	// WHERE clause.
	_, err := s.db.Exec(ctx, `
UPDATE orders
SET agent_lat = $2, agent_lng = $3, agent_position_at = $4, updated_at = now()
WHERE id = $1
  AND (agent_position_at IS NULL OR agent_position_at <= $4)
`, orderID, pos.Lat, pos.Lng, at.UTC())
	return errors.Wrap(err, "update agent position")
}

// ClaimOverduePending locks a batch of pending orders whose cancellation
// deadline has lapsed and leases them so concurrent sweepers do not pick
// them up twice. Uses SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimOverduePending(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Order, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT `+orderColumns+`
FROM orders
WHERE status = $1
  AND cancellation_deadline IS NOT NULL
  AND cancellation_deadline <= $2
  AND (next_sweep_at IS NULL OR next_sweep_at <= $2)
ORDER BY cancellation_deadline ASC
LIMIT $3
FOR UPDATE SKIP LOCKED
`, lifecycle.StatusPending, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select overdue orders")
	}

	var picked []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		picked = append(picked, o)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	leaseUntil := now.UTC().Add(lease)
	for _, o := range picked {
		_, err := tx.Exec(ctx, `UPDATE orders SET next_sweep_at = $2, updated_at = now() WHERE id = $1`, o.ID, leaseUntil)
		if err != nil {
			return nil, errors.Wrap(err, "lease order")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

// DeferSweep pushes a failed auto-cancel attempt into the future and bumps
// the failure counter.
func (s *Storage) DeferSweep(ctx context.Context, orderID uint64, until time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE orders
SET next_sweep_at = $2, sweep_fail_count = sweep_fail_count + 1, updated_at = now()
WHERE id = $1
`, orderID, until.UTC())
	return errors.Wrap(err, "defer sweep")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	var pickupLat, pickupLng, deliveryLat, deliveryLng, agentLat, agentLng *float64
	if err := row.Scan(
		&o.ID, &o.Number, &o.Status,
		&pickupLat, &pickupLng, &o.PickupLocation.Address,
		&deliveryLat, &deliveryLng, &o.DeliveryLocation.Address,
		&o.CancellationDeadline,
		&agentLat, &agentLng, &o.AgentPositionAt,
		&o.PickedUpAt, &o.DeliveredAt,
		&o.SweepFailCount,
		&o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, errors.Wrap(err, "scan order")
	}
	if pickupLat != nil && pickupLng != nil {
		o.PickupLocation.Coord = &geo.Coordinate{Lat: *pickupLat, Lng: *pickupLng}
	}
	if deliveryLat != nil && deliveryLng != nil {
		o.DeliveryLocation.Coord = &geo.Coordinate{Lat: *deliveryLat, Lng: *deliveryLng}
	}
	if agentLat != nil && agentLng != nil {
		o.AgentPosition = &geo.Coordinate{Lat: *agentLat, Lng: *agentLng}
	}
	return &o, nil
}
