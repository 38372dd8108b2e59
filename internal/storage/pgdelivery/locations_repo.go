package pgdelivery

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/min-hinthar/mealroute/internal/models"
)

// UpsertDriverLocation держит одну актуальную точку на пару (driver, route).
// История пингов не нужна — для ETA важна только последняя позиция.
// Точка старее уже записанной игнорируется: пинги могут приходить не по порядку.
func (s *Storage) UpsertDriverLocation(ctx context.Context, loc *models.DriverLocation) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(ctx, `
INSERT INTO driver_locations (
  driver_id, route_id, lat, lng, heading, speed, accuracy, recorded_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (driver_id, route_id)
DO UPDATE SET
  lat = EXCLUDED.lat,
  lng = EXCLUDED.lng,
  heading = EXCLUDED.heading,
  speed = EXCLUDED.speed,
  accuracy = EXCLUDED.accuracy,
  recorded_at = EXCLUDED.recorded_at,
  updated_at = EXCLUDED.updated_at
WHERE EXCLUDED.recorded_at >= driver_locations.recorded_at
`, loc.DriverID, loc.RouteID, loc.Lat, loc.Lng, loc.Heading, loc.Speed, loc.Accuracy, loc.RecordedAt, now)
	return errors.Wrap(err, "upsert driver location")
}

// LatestDriverLocation возвращает (nil, nil), если по маршруту ещё не было
// ни одного пинга — вызывающий различает "нет данных" и "ошибка базы".
func (s *Storage) LatestDriverLocation(ctx context.Context, routeID string) (*models.DriverLocation, error) {
	var l models.DriverLocation
	err := s.db.QueryRow(ctx, `
SELECT id, driver_id, route_id, lat, lng, heading, speed, accuracy, recorded_at, updated_at
FROM driver_locations
WHERE route_id = $1
ORDER BY recorded_at DESC
LIMIT 1
`, routeID).Scan(
		&l.ID, &l.DriverID, &l.RouteID, &l.Lat, &l.Lng,
		&l.Heading, &l.Speed, &l.Accuracy, &l.RecordedAt, &l.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select driver location")
	}
	return &l, nil
}

// ListActiveRoutes — маршруты со свежими пингами, кандидаты на периодический
// пересчёт ETA.
func (s *Storage) ListActiveRoutes(ctx context.Context, now time.Time, staleAfter time.Duration) ([]string, error) {
	rows, err := s.db.Query(ctx, `
SELECT DISTINCT route_id
FROM driver_locations
WHERE recorded_at > $1
ORDER BY route_id
`, now.Add(-staleAfter))
	if err != nil {
		return nil, errors.Wrap(err, "select active routes")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan route id")
		}
		out = append(out, id)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
