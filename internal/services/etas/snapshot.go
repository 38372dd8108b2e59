package etas

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/min-hinthar/mealroute/internal/cache"
)

// StopETA — одна строка снапшота для выдачи наружу без похода в базу.
type StopETA struct {
	StopID           uint64    `json:"stop_id"`
	Seq              int32     `json:"seq"`
	EstimatedArrival time.Time `json:"estimated_arrival"`
}

type RouteSnapshot struct {
	RouteID      string    `json:"route_id"`
	CalculatedAt time.Time `json:"calculated_at"`
	Stops        []StopETA `json:"stops"`
}

// SnapshotStore кэширует последний пересчёт маршрута. Лучшее усилие:
// промах или ошибка кэша не влияют на сам пересчёт.
type SnapshotStore struct {
	cache cache.BytesCache
	ttl   time.Duration
}

func NewSnapshotStore(c cache.BytesCache, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{cache: c, ttl: ttl}
}

func snapshotKey(routeID string) string {
	return fmt.Sprintf("route:%s:etas", routeID)
}

func (s *SnapshotStore) Save(ctx context.Context, snap RouteSnapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, snapshotKey(snap.RouteID), b, s.ttl)
}

func (s *SnapshotStore) Load(ctx context.Context, routeID string) (*RouteSnapshot, error) {
	b, ok, err := s.cache.Get(ctx, snapshotKey(routeID))
	if err != nil || !ok {
		return nil, err
	}
	var snap RouteSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
