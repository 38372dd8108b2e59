package fake

import (
	"context"
	"math"

	"github.com/min-hinthar/mealroute/internal/integrations/maps"
	"github.com/min-hinthar/mealroute/internal/models"
)

const (
	earthRadiusMeters = 6371000.0
	// Средняя городская скорость курьера, м/с (~29 км/ч).
	speedMetersPerSecond = 8.0
	// Пробочный множитель, чтобы traffic-ветка кода тоже гонялась в тестах.
	trafficFactor = 1.2
)

// Client — детерминированная заглушка матрицы расстояний для локальной
// разработки и тестов: расстояние по большому кругу, фиксированная скорость.
type Client struct{}

func New() *Client {
	return &Client{}
}

func (c *Client) DistanceMatrix(_ context.Context, origin models.LatLng, dests []models.LatLng) ([]maps.Element, error) {
	out := make([]maps.Element, 0, len(dests))
	for _, d := range dests {
		meters := haversine(origin, d)
		base := int64(math.Round(meters / speedMetersPerSecond))
		out = append(out, maps.Element{
			OK:                     true,
			Status:                 "OK",
			DurationSeconds:        base,
			TrafficDurationSeconds: int64(math.Round(float64(base) * trafficFactor)),
			DistanceMeters:         int64(math.Round(meters)),
		})
	}
	return out, nil
}

func haversine(a, b models.LatLng) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}
