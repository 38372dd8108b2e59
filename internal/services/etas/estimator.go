package etas

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/min-hinthar/mealroute/internal/integrations/maps"
	"github.com/min-hinthar/mealroute/internal/models"
)

const defaultStopMinutes = 6.0

// Причины, по которым пересчёт корректно завершился без обновлений.
// Это не ошибки: отсутствие данных — штатная ситуация.
const (
	ReasonMissingDriverLocation = "missing_driver_location"
	ReasonMissingStopCoords     = "missing_stop_coordinates"
	ReasonNoIncompleteStops     = "no_incomplete_stops"
)

type Repository interface {
	LatestDriverLocation(ctx context.Context, routeID string) (*models.DriverLocation, error)
	ListRouteStops(ctx context.Context, routeID string) ([]*models.DeliveryStop, error)
	SetStopETA(ctx context.Context, stopID uint64, eta time.Time) error
}

// Result — итог пересчёта. Updated=false с непустым Reason — штатный исход,
// Updated=false при err=nil и пустом Reason не бывает.
type Result struct {
	Updated      bool   `json:"updated"`
	Reason       string `json:"reason,omitempty"`
	UpdatedCount int    `json:"updated_count"`
}

type Estimator struct {
	repo        Repository
	maps        maps.Client
	snapshots   *SnapshotStore
	stopMinutes float64
	timeFactors bool
	loc         *time.Location
	now         func() time.Time
}

func New(repo Repository, mapsClient maps.Client, snapshots *SnapshotStore) *Estimator {
	return &Estimator{
		repo:        repo,
		maps:        mapsClient,
		snapshots:   snapshots,
		stopMinutes: defaultStopMinutes,
		loc:         time.UTC,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (e *Estimator) WithStopMinutes(m float64) *Estimator {
	if m > 0 {
		e.stopMinutes = m
	}
	return e
}

// WithTimeFactors включает поправки на час дня и день недели; loc — зона,
// в которой определяется локальный час.
func (e *Estimator) WithTimeFactors(loc *time.Location) *Estimator {
	e.timeFactors = true
	if loc != nil {
		e.loc = loc
	}
	return e
}

func (e *Estimator) WithNow(now func() time.Time) *Estimator {
	if now != nil {
		e.now = now
	}
	return e
}

// Recalculate пересчитывает ETA всех незавершённых остановок маршрута.
//
// Один батчевый запрос матрицы на весь маршрут: destinations идут в порядке
// объезда, элементы ответа позиционно соответствуют остановкам. Поверх
// времени в пути накапливается dwell — время обслуживания незавершённых
// остановок, стоящих раньше по маршруту. Завершённые остановки участвуют
// в порядке объезда, но ETA не получают и dwell не накапливают.
func (e *Estimator) Recalculate(ctx context.Context, routeID string) (Result, error) {
	loc, err := e.repo.LatestDriverLocation(ctx, routeID)
	if err != nil {
		return Result{}, err
	}
	if loc == nil {
		return Result{Updated: false, Reason: ReasonMissingDriverLocation}, nil
	}

	stops, err := e.repo.ListRouteStops(ctx, routeID)
	if err != nil {
		return Result{}, err
	}

	withCoords := make([]*models.DeliveryStop, 0, len(stops))
	for _, st := range stops {
		if st.HasCoordinates() {
			withCoords = append(withCoords, st)
		}
	}
	if len(withCoords) == 0 {
		return Result{Updated: false, Reason: ReasonMissingStopCoords}, nil
	}

	incomplete := 0
	for _, st := range withCoords {
		if st.Incomplete() {
			incomplete++
		}
	}
	if incomplete == 0 {
		return Result{Updated: false, Reason: ReasonNoIncompleteStops}, nil
	}

	dests := make([]models.LatLng, 0, len(withCoords))
	for _, st := range withCoords {
		dests = append(dests, models.LatLng{Lat: *st.Lat, Lng: *st.Lng})
	}

	els, err := e.maps.DistanceMatrix(ctx, models.LatLng{Lat: loc.Lat, Lng: loc.Lng}, dests)
	if err != nil {
		return Result{}, errors.Wrap(err, "distance matrix")
	}
	if len(els) != len(withCoords) {
		return Result{}, errors.Errorf("distance matrix returned %d elements, want %d", len(els), len(withCoords))
	}

	now := e.now()
	dwellSecs := e.stopSeconds(now)

	snap := RouteSnapshot{RouteID: routeID, CalculatedAt: now}
	var firstWriteErr error
	updated := 0
	incompleteBefore := 0

	for i, st := range withCoords {
		el := els[i]
		if !el.OK {
			// Провайдер не построил маршрут до точки: остановку пропускаем
			// целиком, её старый ETA остаётся как был.
			slog.Warn("distance matrix element failed",
				"route_id", routeID, "stop_id", st.ID, "status", el.Status)
			continue
		}
		if !st.Incomplete() {
			continue
		}

		dwell := time.Duration(float64(incompleteBefore) * dwellSecs * float64(time.Second))
		eta := now.Add(time.Duration(el.TravelSeconds()) * time.Second).Add(dwell)
		incompleteBefore++

		if err := e.repo.SetStopETA(ctx, st.ID, eta); err != nil {
			// Пишем остальные остановки дальше, отката нет.
			slog.Error("set stop eta failed", "route_id", routeID, "stop_id", st.ID, "err", err)
			if firstWriteErr == nil {
				firstWriteErr = err
			}
			continue
		}
		updated++
		snap.Stops = append(snap.Stops, StopETA{StopID: st.ID, Seq: st.Seq, EstimatedArrival: eta})
	}

	if firstWriteErr != nil {
		return Result{Updated: false, UpdatedCount: updated}, firstWriteErr
	}

	// Все элементы матрицы по незавершённым остановкам могли оказаться
	// битыми: ни одного ETA не посчитано, обновлять нечего. Пустой
	// снапшот при этом не пишем — он бы затёр прошлый удачный пересчёт.
	if updated == 0 {
		return Result{Updated: false, Reason: ReasonNoIncompleteStops}, nil
	}

	if e.snapshots != nil {
		if err := e.snapshots.Save(ctx, snap); err != nil {
			slog.Warn("save eta snapshot failed", "route_id", routeID, "err", err)
		}
	}

	return Result{Updated: true, UpdatedCount: updated}, nil
}
