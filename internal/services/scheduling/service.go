package scheduling

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/min-hinthar/mealroute/internal/calendar"
	"github.com/min-hinthar/mealroute/internal/models"
	"github.com/min-hinthar/mealroute/internal/storage/pgdelivery"
)

// ErrCutoffPassed — бронь после пятничной отсечки недели. Для обычных
// пользователей это отказ; админская правка проходит с AdminOverride.
var ErrCutoffPassed = errors.New("cutoff passed for delivery week")

type Repository interface {
	ListWindows(ctx context.Context) ([]*models.DeliveryWindow, error)
	GetAppointment(ctx context.Context, userID, deliveryDate string) (*models.DeliveryAppointment, error)
	UpsertAppointment(ctx context.Context, in pgdelivery.AppointmentUpsert) (*models.DeliveryAppointment, error)
	CancelAppointment(ctx context.Context, userID, deliveryDate string) error
}

// WeekOption — суббота доставки с её отсечкой, как она отдаётся клиенту.
type WeekOption struct {
	Date       string    `json:"date"`
	CutoffAt   time.Time `json:"cutoff_at"`
	PastCutoff bool      `json:"past_cutoff"`
}

type AppointmentInput struct {
	UserID        string
	Week          string
	WindowID      uint64
	AddressID     string
	Notes         string
	AdminOverride bool
}

type Service struct {
	repo       Repository
	cal        *calendar.Engine
	weeksCount int
	now        func() time.Time
}

func New(repo Repository, cal *calendar.Engine, weeksCount int) *Service {
	if weeksCount <= 0 {
		weeksCount = 4
	}
	return &Service{
		repo:       repo,
		cal:        cal,
		weeksCount: weeksCount,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// SelectableWeeks — ближайшие недели доставки с флагом прошедшей отсечки.
// Прошедшие отсечку недели из списка не выкидываем: клиент показывает их
// задизейбленными.
func (s *Service) SelectableWeeks(ctx context.Context) []WeekOption {
	now := s.now()
	weeks := s.cal.UpcomingWeeks(s.weeksCount, now)

	out := make([]WeekOption, 0, len(weeks))
	for _, w := range weeks {
		cutoff := s.cal.Cutoff(w)
		out = append(out, WeekOption{
			Date:       w.String(),
			CutoffAt:   cutoff,
			PastCutoff: now.After(cutoff),
		})
	}
	return out
}

func (s *Service) ListWindows(ctx context.Context) ([]*models.DeliveryWindow, error) {
	return s.repo.ListWindows(ctx)
}

func (s *Service) UpsertAppointment(ctx context.Context, in AppointmentInput) (*models.DeliveryAppointment, error) {
	if in.UserID == "" {
		return nil, errors.New("userID is required")
	}
	if in.WindowID == 0 {
		return nil, errors.New("windowID is required")
	}

	week, err := s.cal.ParseWeek(in.Week)
	if err != nil {
		return nil, err
	}

	if !in.AdminOverride && s.cal.IsPastCutoff(week, s.now()) {
		return nil, ErrCutoffPassed
	}

	return s.repo.UpsertAppointment(ctx, pgdelivery.AppointmentUpsert{
		UserID:       in.UserID,
		DeliveryDate: week.String(),
		WindowID:     in.WindowID,
		AddressID:    in.AddressID,
		Notes:        in.Notes,
	})
}

func (s *Service) GetAppointment(ctx context.Context, userID, weekStr string) (*models.DeliveryAppointment, error) {
	week, err := s.cal.ParseWeek(weekStr)
	if err != nil {
		return nil, err
	}
	return s.repo.GetAppointment(ctx, userID, week.String())
}

func (s *Service) CancelAppointment(ctx context.Context, userID, weekStr string, adminOverride bool) error {
	week, err := s.cal.ParseWeek(weekStr)
	if err != nil {
		return err
	}
	if !adminOverride && s.cal.IsPastCutoff(week, s.now()) {
		return ErrCutoffPassed
	}
	return s.repo.CancelAppointment(ctx, userID, week.String())
}
