package pgdelivery

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS delivery_windows (
  id BIGSERIAL PRIMARY KEY,
  day_of_week TEXT NOT NULL,
  start_time TEXT NOT NULL,
  end_time TEXT NOT NULL,
  capacity INT NOT NULL,
  UNIQUE (day_of_week, start_time, end_time)
)`,
		`
CREATE TABLE IF NOT EXISTS delivery_appointments (
  id BIGSERIAL PRIMARY KEY,
  user_id TEXT NOT NULL,
  delivery_date TEXT NOT NULL,
  window_id BIGINT NOT NULL REFERENCES delivery_windows(id),
  address_id TEXT NOT NULL DEFAULT '',
  notes TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (user_id, delivery_date)
)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_window_date ON delivery_appointments(window_id, delivery_date)`,
		`
CREATE TABLE IF NOT EXISTS driver_locations (
  id BIGSERIAL PRIMARY KEY,
  driver_id TEXT NOT NULL,
  route_id TEXT NOT NULL,
  lat DOUBLE PRECISION NOT NULL,
  lng DOUBLE PRECISION NOT NULL,
  heading DOUBLE PRECISION NULL,
  speed DOUBLE PRECISION NULL,
  accuracy DOUBLE PRECISION NULL,
  recorded_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (driver_id, route_id)
)`,
		`CREATE INDEX IF NOT EXISTS idx_driver_locations_route_recorded ON driver_locations(route_id, recorded_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS delivery_stops (
  id BIGSERIAL PRIMARY KEY,
  route_id TEXT NOT NULL,
  seq INT NOT NULL,
  address TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  completed_at TIMESTAMPTZ NULL,
  lat DOUBLE PRECISION NULL,
  lng DOUBLE PRECISION NULL,
  estimated_arrival TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (route_id, seq)
)`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_stops_route_seq ON delivery_stops(route_id, seq)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
