package pgdelivery

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/min-hinthar/mealroute/internal/models"
)

var (
	ErrWindowFull     = errors.New("delivery window is full")
	ErrWindowNotFound = errors.New("delivery window not found")
)

// AppointmentUpsert — параметры бронирования окна на неделю доставки.
type AppointmentUpsert struct {
	UserID       string
	DeliveryDate string
	WindowID     uint64
	AddressID    string
	Notes        string
}

func (s *Storage) ListWindows(ctx context.Context) ([]*models.DeliveryWindow, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, day_of_week, start_time, end_time, capacity
FROM delivery_windows
ORDER BY id
`)
	if err != nil {
		return nil, errors.Wrap(err, "select windows")
	}
	defer rows.Close()

	var out []*models.DeliveryWindow
	for rows.Next() {
		var w models.DeliveryWindow
		if err := rows.Scan(&w.ID, &w.DayOfWeek, &w.StartTime, &w.EndTime, &w.Capacity); err != nil {
			return nil, errors.Wrap(err, "scan window")
		}
		out = append(out, &w)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) CreateWindow(ctx context.Context, w *models.DeliveryWindow) (uint64, error) {
	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO delivery_windows (day_of_week, start_time, end_time, capacity)
VALUES ($1,$2,$3,$4)
ON CONFLICT (day_of_week, start_time, end_time)
DO UPDATE SET capacity = EXCLUDED.capacity
RETURNING id
`, w.DayOfWeek, w.StartTime, w.EndTime, w.Capacity).Scan(&id)
	return id, errors.Wrap(err, "insert window")
}

func (s *Storage) GetAppointment(ctx context.Context, userID, deliveryDate string) (*models.DeliveryAppointment, error) {
	var a models.DeliveryAppointment
	err := s.db.QueryRow(ctx, `
SELECT id, user_id, delivery_date, window_id, address_id, notes, status, created_at, updated_at
FROM delivery_appointments
WHERE user_id = $1 AND delivery_date = $2
`, userID, deliveryDate).Scan(
		&a.ID, &a.UserID, &a.DeliveryDate, &a.WindowID,
		&a.AddressID, &a.Notes, &a.Status, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select appointment")
	}
	return &a, nil
}

func (s *Storage) CountWindowAppointments(ctx context.Context, windowID uint64, deliveryDate string) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `
SELECT COUNT(*)
FROM delivery_appointments
WHERE window_id = $1 AND delivery_date = $2 AND status = $3
`, windowID, deliveryDate, models.AppointmentStatusScheduled).Scan(&n)
	return n, errors.Wrap(err, "count appointments")
}

// UpsertAppointment бронирует окно атомарно: проверка вместимости и запись
// идут в одной транзакции под FOR UPDATE на строке окна, так что два
// конкурентных бронирования последнего места не пройдут оба.
// Перенос своей же брони в то же окно место не потребляет.
func (s *Storage) UpsertAppointment(ctx context.Context, in AppointmentUpsert) (*models.DeliveryAppointment, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var capacity int32
	err = tx.QueryRow(ctx, `
SELECT capacity FROM delivery_windows WHERE id = $1 FOR UPDATE
`, in.WindowID).Scan(&capacity)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWindowNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock window")
	}

	var taken int64
	err = tx.QueryRow(ctx, `
SELECT COUNT(*)
FROM delivery_appointments
WHERE window_id = $1 AND delivery_date = $2 AND status = $3 AND user_id <> $4
`, in.WindowID, in.DeliveryDate, models.AppointmentStatusScheduled, in.UserID).Scan(&taken)
	if err != nil {
		return nil, errors.Wrap(err, "count taken")
	}
	if taken >= int64(capacity) {
		return nil, ErrWindowFull
	}

	var a models.DeliveryAppointment
	err = tx.QueryRow(ctx, `
INSERT INTO delivery_appointments (
  user_id, delivery_date, window_id, address_id, notes, status, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
ON CONFLICT (user_id, delivery_date)
DO UPDATE SET
  window_id = EXCLUDED.window_id,
  address_id = EXCLUDED.address_id,
  notes = EXCLUDED.notes,
  status = EXCLUDED.status,
  updated_at = EXCLUDED.updated_at
RETURNING id, user_id, delivery_date, window_id, address_id, notes, status, created_at, updated_at
`, in.UserID, in.DeliveryDate, in.WindowID, in.AddressID, in.Notes, models.AppointmentStatusScheduled, now).Scan(
		&a.ID, &a.UserID, &a.DeliveryDate, &a.WindowID,
		&a.AddressID, &a.Notes, &a.Status, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "upsert appointment")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return &a, nil
}

func (s *Storage) CancelAppointment(ctx context.Context, userID, deliveryDate string) error {
	_, err := s.db.Exec(ctx, `
UPDATE delivery_appointments
SET status = $3, updated_at = now()
WHERE user_id = $1 AND delivery_date = $2
`, userID, deliveryDate, models.AppointmentStatusCancelled)
	return errors.Wrap(err, "cancel appointment")
}
