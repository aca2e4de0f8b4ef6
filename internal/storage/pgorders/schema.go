package pgorders

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS orders (
  id BIGSERIAL PRIMARY KEY,
  number TEXT NOT NULL,
  status TEXT NOT NULL,
  pickup_lat DOUBLE PRECISION NULL,
  pickup_lng DOUBLE PRECISION NULL,
  pickup_address TEXT NOT NULL DEFAULT '',
  delivery_lat DOUBLE PRECISION NULL,
  delivery_lng DOUBLE PRECISION NULL,
  delivery_address TEXT NOT NULL DEFAULT '',
  cancellation_deadline TIMESTAMPTZ NULL,
  agent_lat DOUBLE PRECISION NULL,
  agent_lng DOUBLE PRECISION NULL,
  agent_position_at TIMESTAMPTZ NULL,
  picked_up_at TIMESTAMPTZ NULL,
  delivered_at TIMESTAMPTZ NULL,
  sweep_fail_count INT NOT NULL DEFAULT 0,
  next_sweep_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (number)
)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status_deadline ON orders(status, cancellation_deadline)`,
		`
CREATE TABLE IF NOT EXISTS order_status_history (
  id BIGSERIAL PRIMARY KEY,
  order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  status TEXT NOT NULL,
  actor TEXT NOT NULL,
  note TEXT NOT NULL DEFAULT '',
  lat DOUBLE PRECISION NULL,
  lng DOUBLE PRECISION NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_order_status_history_order_id ON order_status_history(order_id, created_at DESC)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
