package pgdelivery

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/min-hinthar/mealroute/internal/models"
)

func (s *Storage) CreateStops(ctx context.Context, items []models.StopCreateInput) ([]*models.DeliveryStop, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]uint64, 0, len(items))
	for _, it := range items {
		var id uint64
		err := tx.QueryRow(ctx, `
INSERT INTO delivery_stops (
  route_id, seq, address, status, lat, lng, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
ON CONFLICT (route_id, seq)
DO UPDATE SET
  address = EXCLUDED.address,
  lat = EXCLUDED.lat,
  lng = EXCLUDED.lng,
  updated_at = EXCLUDED.updated_at
RETURNING id
`, it.RouteID, it.Seq, it.Address, models.StopStatusPending, it.Lat, it.Lng, now).Scan(&id)
		if err != nil {
			return nil, errors.Wrap(err, "insert stop")
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	return s.getStopsByIDs(ctx, ids)
}

func (s *Storage) getStopsByIDs(ctx context.Context, ids []uint64) ([]*models.DeliveryStop, error) {
	if len(ids) == 0 {
		return []*models.DeliveryStop{}, nil
	}

	rows, err := s.db.Query(ctx, `
SELECT
  id, route_id, seq, address, status,
  completed_at, lat, lng, estimated_arrival,
  created_at, updated_at
FROM delivery_stops
WHERE id = ANY($1)
ORDER BY seq
`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "select stops")
	}
	defer rows.Close()

	return scanStops(rows, len(ids))
}

// ListRouteStops возвращает остановки маршрута строго в порядке seq —
// порядок объезда, в котором водитель их посещает.
func (s *Storage) ListRouteStops(ctx context.Context, routeID string) ([]*models.DeliveryStop, error) {
	rows, err := s.db.Query(ctx, `
SELECT
  id, route_id, seq, address, status,
  completed_at, lat, lng, estimated_arrival,
  created_at, updated_at
FROM delivery_stops
WHERE route_id = $1
ORDER BY seq
`, routeID)
	if err != nil {
		return nil, errors.Wrap(err, "select route stops")
	}
	defer rows.Close()

	return scanStops(rows, 8)
}

func scanStops(rows pgx.Rows, capHint int) ([]*models.DeliveryStop, error) {
	out := make([]*models.DeliveryStop, 0, capHint)
	for rows.Next() {
		var st models.DeliveryStop
		if err := rows.Scan(
			&st.ID, &st.RouteID, &st.Seq, &st.Address, &st.Status,
			&st.CompletedAt, &st.Lat, &st.Lng, &st.EstimatedArrival,
			&st.CreatedAt, &st.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan stop")
		}
		out = append(out, &st)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) SetStopETA(ctx context.Context, stopID uint64, eta time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE delivery_stops
SET estimated_arrival = $2, updated_at = now()
WHERE id = $1
`, stopID, eta)
	return errors.Wrap(err, "set stop eta")
}

func (s *Storage) CompleteStop(ctx context.Context, stopID uint64, at time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE delivery_stops
SET status = $2, completed_at = $3, updated_at = now()
WHERE id = $1
`, stopID, models.StopStatusCompleted, at)
	return errors.Wrap(err, "complete stop")
}
