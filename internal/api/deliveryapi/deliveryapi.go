package deliveryapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/min-hinthar/mealroute/internal/broker/messages"
	"github.com/min-hinthar/mealroute/internal/metrics"
	"github.com/min-hinthar/mealroute/internal/models"
	"github.com/min-hinthar/mealroute/internal/services/etas"
	"github.com/min-hinthar/mealroute/internal/services/scheduling"
	"github.com/min-hinthar/mealroute/internal/storage/pgdelivery"
)

type LocationRepository interface {
	UpsertDriverLocation(ctx context.Context, loc *models.DriverLocation) error
	ListRouteStops(ctx context.Context, routeID string) ([]*models.DeliveryStop, error)
	CreateStops(ctx context.Context, items []models.StopCreateInput) ([]*models.DeliveryStop, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Scheduler interface {
	SelectableWeeks(ctx context.Context) []scheduling.WeekOption
	ListWindows(ctx context.Context) ([]*models.DeliveryWindow, error)
	UpsertAppointment(ctx context.Context, in scheduling.AppointmentInput) (*models.DeliveryAppointment, error)
	GetAppointment(ctx context.Context, userID, week string) (*models.DeliveryAppointment, error)
	CancelAppointment(ctx context.Context, userID, week string, adminOverride bool) error
}

// SnapshotLoader отдаёт последний посчитанный снапшот ETA маршрута.
type SnapshotLoader interface {
	Load(ctx context.Context, routeID string) (*etas.RouteSnapshot, error)
}

type API struct {
	repo      LocationRepository
	sched     Scheduler
	producer  Producer
	topic     string
	snapshots SnapshotLoader
}

func New(repo LocationRepository, sched Scheduler, producer Producer, topic string) *API {
	return &API{repo: repo, sched: sched, producer: producer, topic: topic}
}

// WithSnapshots включает выдачу ETA из кэша на GET stops.
func (a *API) WithSnapshots(s SnapshotLoader) *API {
	a.snapshots = s
	return a
}

func (a *API) Routes(r chi.Router) {
	r.Post("/v1/routes/{routeID}/location", a.postLocation)
	r.Get("/v1/routes/{routeID}/stops", a.getRouteStops)
	r.Post("/v1/routes/{routeID}/stops", a.postRouteStops)
	r.Get("/v1/delivery-weeks", a.getDeliveryWeeks)
	r.Get("/v1/delivery-windows", a.getDeliveryWindows)
	r.Post("/v1/appointments", a.postAppointment)
	r.Get("/v1/appointments/{userID}/{week}", a.getAppointment)
	r.Delete("/v1/appointments/{userID}/{week}", a.deleteAppointment)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": code, "message": msg})
}

type locationRequest struct {
	DriverID   string    `json:"driver_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Heading    *float64  `json:"heading,omitempty"`
	Speed      *float64  `json:"speed,omitempty"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// postLocation принимает GPS-пинг водителя: пишет локацию в базу и публикует
// событие для воркера. 202: обработка асинхронная, пересчёт ETA случится
// позже. Отказ Kafka пинг не валит — локация уже сохранена, периодический
// цикл воркера её подхватит.
func (a *API) postLocation(w http.ResponseWriter, r *http.Request) {
	routeID := chi.URLParam(r, "routeID")

	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	if req.DriverID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "driver_id is required")
		return
	}
	if req.Lat < -90 || req.Lat > 90 || req.Lng < -180 || req.Lng > 180 {
		writeError(w, http.StatusBadRequest, "bad_request", "lat/lng out of range")
		return
	}
	if req.RecordedAt.IsZero() {
		req.RecordedAt = time.Now().UTC()
	}

	loc := &models.DriverLocation{
		DriverID:   req.DriverID,
		RouteID:    routeID,
		Lat:        req.Lat,
		Lng:        req.Lng,
		Heading:    req.Heading,
		Speed:      req.Speed,
		Accuracy:   req.Accuracy,
		RecordedAt: req.RecordedAt,
	}
	if err := a.repo.UpsertDriverLocation(r.Context(), loc); err != nil {
		slog.Error("upsert driver location", "route_id", routeID, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal", "failed to store location")
		return
	}
	metrics.IncPing()

	msg := messages.LocationUpdated{
		RouteID:    routeID,
		DriverID:   req.DriverID,
		Lat:        req.Lat,
		Lng:        req.Lng,
		Heading:    req.Heading,
		Speed:      req.Speed,
		Accuracy:   req.Accuracy,
		RecordedAt: req.RecordedAt,
	}
	b, _ := json.Marshal(msg)
	if err := a.producer.Publish(r.Context(), a.topic, []byte(routeID), b); err != nil {
		slog.Warn("publish location event", "route_id", routeID, "error", err.Error())
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

// getRouteStops отдаёт остановки маршрута. Если для маршрута ещё жив
// снапшот последнего пересчёта, его ETA накладываются поверх строк из базы
// и в ответ попадает etas_calculated_at. Ошибка кэша ответ не валит.
func (a *API) getRouteStops(w http.ResponseWriter, r *http.Request) {
	routeID := chi.URLParam(r, "routeID")

	stops, err := a.repo.ListRouteStops(r.Context(), routeID)
	if err != nil {
		slog.Error("list route stops", "route_id", routeID, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal", "failed to list stops")
		return
	}

	resp := map[string]any{"route_id": routeID, "stops": stops}
	if a.snapshots != nil {
		snap, err := a.snapshots.Load(r.Context(), routeID)
		if err != nil {
			slog.Warn("load eta snapshot", "route_id", routeID, "error", err.Error())
		}
		if snap != nil {
			byID := make(map[uint64]time.Time, len(snap.Stops))
			for _, se := range snap.Stops {
				byID[se.StopID] = se.EstimatedArrival
			}
			for _, st := range stops {
				if eta, ok := byID[st.ID]; ok {
					t := eta
					st.EstimatedArrival = &t
				}
			}
			resp["etas_calculated_at"] = snap.CalculatedAt
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type stopsRequest struct {
	Stops []struct {
		Seq     int32    `json:"seq"`
		Address string   `json:"address"`
		Lat     *float64 `json:"lat,omitempty"`
		Lng     *float64 `json:"lng,omitempty"`
	} `json:"stops"`
}

func (a *API) postRouteStops(w http.ResponseWriter, r *http.Request) {
	routeID := chi.URLParam(r, "routeID")

	var req stopsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	if len(req.Stops) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "stops is empty")
		return
	}

	items := make([]models.StopCreateInput, 0, len(req.Stops))
	for _, st := range req.Stops {
		if st.Seq <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "seq must be positive")
			return
		}
		items = append(items, models.StopCreateInput{
			RouteID: routeID, Seq: st.Seq, Address: st.Address, Lat: st.Lat, Lng: st.Lng,
		})
	}

	created, err := a.repo.CreateStops(r.Context(), items)
	if err != nil {
		slog.Error("create stops", "route_id", routeID, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal", "failed to create stops")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"route_id": routeID, "stops": created})
}

func (a *API) getDeliveryWeeks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"weeks": a.sched.SelectableWeeks(r.Context())})
}

func (a *API) getDeliveryWindows(w http.ResponseWriter, r *http.Request) {
	windows, err := a.sched.ListWindows(r.Context())
	if err != nil {
		slog.Error("list delivery windows", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal", "failed to list windows")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"windows": windows})
}

type appointmentRequest struct {
	UserID        string `json:"user_id"`
	Week          string `json:"week"`
	WindowID      uint64 `json:"window_id"`
	AddressID     string `json:"address_id,omitempty"`
	Notes         string `json:"notes,omitempty"`
	AdminOverride bool   `json:"admin_override,omitempty"`
}

func (a *API) postAppointment(w http.ResponseWriter, r *http.Request) {
	var req appointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}

	appt, err := a.sched.UpsertAppointment(r.Context(), scheduling.AppointmentInput{
		UserID:        req.UserID,
		Week:          req.Week,
		WindowID:      req.WindowID,
		AddressID:     req.AddressID,
		Notes:         req.Notes,
		AdminOverride: req.AdminOverride,
	})
	switch {
	case errors.Is(err, scheduling.ErrCutoffPassed):
		metrics.IncBooking("cutoff_passed")
		writeError(w, http.StatusConflict, "cutoff_passed", "ordering cutoff has passed for this delivery week")
		return
	case errors.Is(err, pgdelivery.ErrWindowFull):
		metrics.IncBooking("window_full")
		writeError(w, http.StatusConflict, "window_full", "delivery window has no remaining capacity")
		return
	case errors.Is(err, pgdelivery.ErrWindowNotFound):
		writeError(w, http.StatusNotFound, "window_not_found", "delivery window does not exist")
		return
	case err != nil:
		slog.Error("upsert appointment", "user_id", req.UserID, "error", err.Error())
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	metrics.IncBooking("scheduled")
	writeJSON(w, http.StatusOK, appt)
}

func (a *API) getAppointment(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	week := chi.URLParam(r, "week")

	appt, err := a.sched.GetAppointment(r.Context(), userID, week)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if appt == nil {
		writeError(w, http.StatusNotFound, "not_found", "no appointment for this week")
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (a *API) deleteAppointment(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	week := chi.URLParam(r, "week")
	adminOverride := r.URL.Query().Get("admin_override") == "true"

	err := a.sched.CancelAppointment(r.Context(), userID, week, adminOverride)
	switch {
	case errors.Is(err, scheduling.ErrCutoffPassed):
		writeError(w, http.StatusConflict, "cutoff_passed", "ordering cutoff has passed for this delivery week")
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	metrics.IncBooking("cancelled")
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": true})
}
