package models

import "time"

// Статусы остановок маршрута. Статусы меняет приложение водителя,
// ETA-пересчёт их только читает.
const (
	StopStatusPending    = "pending"
	StopStatusInProgress = "in_progress"
	StopStatusCompleted  = "completed"
	StopStatusDelivered  = "delivered"
	StopStatusIssue      = "issue"
)

// Статусы записи на доставку.
const (
	AppointmentStatusScheduled = "scheduled"
	AppointmentStatusCancelled = "cancelled"
)

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DriverLocation — последняя GPS-точка водителя на маршруте.
// Одна логическая строка на пару (driver, route), перезаписывается каждым пингом.
type DriverLocation struct {
	ID         uint64
	DriverID   string
	RouteID    string
	Lat        float64
	Lng        float64
	Heading    *float64
	Speed      *float64
	Accuracy   *float64
	RecordedAt time.Time
	UpdatedAt  time.Time
}

type DeliveryStop struct {
	ID               uint64
	RouteID          string
	Seq              int32
	Address          string
	Status           string
	CompletedAt      *time.Time
	Lat              *float64
	Lng              *float64
	EstimatedArrival *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Incomplete — водитель ещё не обслужил остановку.
func (s *DeliveryStop) Incomplete() bool {
	if s.CompletedAt != nil {
		return false
	}
	return s.Status != StopStatusCompleted && s.Status != StopStatusDelivered
}

func (s *DeliveryStop) HasCoordinates() bool {
	return s.Lat != nil && s.Lng != nil
}

type DeliveryWindow struct {
	ID        uint64
	DayOfWeek string
	StartTime string // "10:00"
	EndTime   string // "12:00"
	Capacity  int32
}

// DeliveryAppointment — запись пользователя на неделю доставки.
// DeliveryDate — суббота недели в кухонной таймзоне, формат "2006-01-02".
type DeliveryAppointment struct {
	ID           uint64
	UserID       string
	DeliveryDate string
	WindowID     uint64
	AddressID    string
	Notes        string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type StopCreateInput struct {
	RouteID string
	Seq     int32
	Address string
	Lat     *float64
	Lng     *float64
}
