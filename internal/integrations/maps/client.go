package maps

import (
	"context"

	"github.com/min-hinthar/mealroute/internal/models"
)

// Element — один элемент матрицы расстояний: позиция водителя -> остановка.
// OK=false означает, что провайдер не построил маршрут до этой точки
// (status NOT_FOUND / ZERO_RESULTS); это не ошибка всего запроса.
type Element struct {
	OK                     bool
	Status                 string
	DurationSeconds        int64
	TrafficDurationSeconds int64
	DistanceMeters         int64
}

// TravelSeconds — время в пути с учётом пробок, если провайдер его дал.
func (e Element) TravelSeconds() int64 {
	if e.TrafficDurationSeconds > 0 {
		return e.TrafficDurationSeconds
	}
	return e.DurationSeconds
}

// Client — провайдер матрицы расстояний. Один origin, много destinations,
// элементы возвращаются в порядке destinations.
type Client interface {
	DistanceMatrix(ctx context.Context, origin models.LatLng, dests []models.LatLng) ([]Element, error)
}
