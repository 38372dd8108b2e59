package messages

import "time"

// LocationUpdated — событие о новой GPS-точке водителя. Публикуется API
// после записи локации в базу, воркер по нему пересчитывает ETA маршрута.
type LocationUpdated struct {
	RouteID    string    `json:"route_id"`
	DriverID   string    `json:"driver_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Heading    *float64  `json:"heading,omitempty"`
	Speed      *float64  `json:"speed,omitempty"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}
