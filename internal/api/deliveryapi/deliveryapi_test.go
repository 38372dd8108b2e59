package deliveryapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/min-hinthar/mealroute/internal/models"
	"github.com/min-hinthar/mealroute/internal/services/etas"
	"github.com/min-hinthar/mealroute/internal/services/scheduling"
	"github.com/min-hinthar/mealroute/internal/storage/pgdelivery"
)

type fakeLocRepo struct {
	loc       *models.DriverLocation
	upsertErr error
	stops     []*models.DeliveryStop
	createdIn []models.StopCreateInput
}

func (f *fakeLocRepo) UpsertDriverLocation(ctx context.Context, loc *models.DriverLocation) error {
	f.loc = loc
	return f.upsertErr
}

func (f *fakeLocRepo) ListRouteStops(ctx context.Context, routeID string) ([]*models.DeliveryStop, error) {
	return f.stops, nil
}

func (f *fakeLocRepo) CreateStops(ctx context.Context, items []models.StopCreateInput) ([]*models.DeliveryStop, error) {
	f.createdIn = items
	out := make([]*models.DeliveryStop, 0, len(items))
	for i, it := range items {
		out = append(out, &models.DeliveryStop{ID: uint64(i + 1), RouteID: it.RouteID, Seq: it.Seq, Status: models.StopStatusPending})
	}
	return out, nil
}

type fakeProducer struct {
	topic string
	key   []byte
	value []byte
	calls int
	err   error
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.calls++
	p.topic, p.key, p.value = topic, key, value
	return p.err
}

type fakeScheduler struct {
	weeks     []scheduling.WeekOption
	windows   []*models.DeliveryWindow
	upsertOut *models.DeliveryAppointment
	upsertErr error
	getOut    *models.DeliveryAppointment
	getErr    error
	cancelErr error
}

func (f *fakeScheduler) SelectableWeeks(ctx context.Context) []scheduling.WeekOption {
	return f.weeks
}

func (f *fakeScheduler) ListWindows(ctx context.Context) ([]*models.DeliveryWindow, error) {
	return f.windows, nil
}

func (f *fakeScheduler) UpsertAppointment(ctx context.Context, in scheduling.AppointmentInput) (*models.DeliveryAppointment, error) {
	return f.upsertOut, f.upsertErr
}

func (f *fakeScheduler) GetAppointment(ctx context.Context, userID, week string) (*models.DeliveryAppointment, error) {
	return f.getOut, f.getErr
}

func (f *fakeScheduler) CancelAppointment(ctx context.Context, userID, week string, adminOverride bool) error {
	return f.cancelErr
}

func newTestRouter(repo *fakeLocRepo, sched *fakeScheduler, prod *fakeProducer) http.Handler {
	r := chi.NewRouter()
	New(repo, sched, prod, "driver-location-updated").Routes(r)
	return r
}

func TestPostLocation_AcceptedAndPublished(t *testing.T) {
	repo := &fakeLocRepo{}
	prod := &fakeProducer{}
	h := newTestRouter(repo, &fakeScheduler{}, prod)

	body := `{"driver_id":"d1","lat":37.7,"lng":-122.4,"recorded_at":"2025-06-14T10:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/routes/r1/location", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, repo.loc)
	require.Equal(t, "r1", repo.loc.RouteID)
	require.Equal(t, "d1", repo.loc.DriverID)

	require.Equal(t, 1, prod.calls)
	require.Equal(t, "driver-location-updated", prod.topic)
	require.Equal(t, []byte("r1"), prod.key)
	require.Contains(t, string(prod.value), `"route_id":"r1"`)
}

func TestPostLocation_PublishFailureStillAccepted(t *testing.T) {
	repo := &fakeLocRepo{}
	prod := &fakeProducer{err: errors.New("kafka down")}
	h := newTestRouter(repo, &fakeScheduler{}, prod)

	body := `{"driver_id":"d1","lat":37.7,"lng":-122.4}`
	req := httptest.NewRequest(http.MethodPost, "/v1/routes/r1/location", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	// Локация сохранена, событие доедет через периодический цикл воркера.
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, repo.loc)
	require.False(t, repo.loc.RecordedAt.IsZero())
}

func TestPostLocation_Validation(t *testing.T) {
	h := newTestRouter(&fakeLocRepo{}, &fakeScheduler{}, &fakeProducer{})

	cases := []string{
		`not json`,
		`{"lat":37.7,"lng":-122.4}`,
		`{"driver_id":"d1","lat":91,"lng":0}`,
		`{"driver_id":"d1","lat":0,"lng":-181}`,
	}
	for _, body := range cases {
		req := httptest.NewRequest(http.MethodPost, "/v1/routes/r1/location", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestGetRouteStops(t *testing.T) {
	eta := time.Date(2025, time.June, 14, 10, 30, 0, 0, time.UTC)
	repo := &fakeLocRepo{stops: []*models.DeliveryStop{
		{ID: 1, RouteID: "r1", Seq: 1, Status: models.StopStatusPending, EstimatedArrival: &eta},
	}}
	h := newTestRouter(repo, &fakeScheduler{}, &fakeProducer{})

	req := httptest.NewRequest(http.MethodGet, "/v1/routes/r1/stops", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		RouteID string                 `json:"route_id"`
		Stops   []*models.DeliveryStop `json:"stops"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "r1", resp.RouteID)
	require.Len(t, resp.Stops, 1)
	require.NotNil(t, resp.Stops[0].EstimatedArrival)
}

type fakeSnapshots struct {
	snap *etas.RouteSnapshot
	err  error
}

func (f *fakeSnapshots) Load(ctx context.Context, routeID string) (*etas.RouteSnapshot, error) {
	return f.snap, f.err
}

func TestGetRouteStops_SnapshotOverlay(t *testing.T) {
	stale := time.Date(2025, time.June, 14, 10, 0, 0, 0, time.UTC)
	fresh := time.Date(2025, time.June, 14, 10, 42, 0, 0, time.UTC)
	repo := &fakeLocRepo{stops: []*models.DeliveryStop{
		{ID: 1, RouteID: "r1", Seq: 1, Status: models.StopStatusPending, EstimatedArrival: &stale},
		{ID: 2, RouteID: "r1", Seq: 2, Status: models.StopStatusPending},
	}}
	snaps := &fakeSnapshots{snap: &etas.RouteSnapshot{
		RouteID:      "r1",
		CalculatedAt: fresh,
		Stops:        []etas.StopETA{{StopID: 2, Seq: 2, EstimatedArrival: fresh.Add(9 * time.Minute)}},
	}}

	r := chi.NewRouter()
	New(repo, &fakeScheduler{}, &fakeProducer{}, "driver-location-updated").WithSnapshots(snaps).Routes(r)

	req := httptest.NewRequest(http.MethodGet, "/v1/routes/r1/stops", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Stops            []*models.DeliveryStop `json:"stops"`
		EtasCalculatedAt time.Time              `json:"etas_calculated_at"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Stops, 2)
	// остановка вне снапшота остаётся со своим ETA из базы
	require.NotNil(t, resp.Stops[0].EstimatedArrival)
	require.True(t, stale.Equal(*resp.Stops[0].EstimatedArrival))
	require.NotNil(t, resp.Stops[1].EstimatedArrival)
	require.True(t, fresh.Add(9*time.Minute).Equal(*resp.Stops[1].EstimatedArrival))
	require.True(t, fresh.Equal(resp.EtasCalculatedAt))

	// ошибка кэша — деградация до чистой выдачи из базы
	r2 := chi.NewRouter()
	New(repo, &fakeScheduler{}, &fakeProducer{}, "driver-location-updated").
		WithSnapshots(&fakeSnapshots{err: errors.New("redis down")}).Routes(r2)
	rec = httptest.NewRecorder()
	r2.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/routes/r1/stops", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "etas_calculated_at")
}

func TestPostRouteStops(t *testing.T) {
	repo := &fakeLocRepo{}
	h := newTestRouter(repo, &fakeScheduler{}, &fakeProducer{})

	body := `{"stops":[{"seq":1,"address":"100 Main St","lat":37.71,"lng":-122.41},{"seq":2,"address":"200 Oak Ave"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/routes/r1/stops", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, repo.createdIn, 2)
	require.Equal(t, "r1", repo.createdIn[0].RouteID)

	// seq обязан быть положительным
	req = httptest.NewRequest(http.MethodPost, "/v1/routes/r1/stops", bytes.NewBufferString(`{"stops":[{"seq":0}]}`))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetDeliveryWeeks(t *testing.T) {
	cut := time.Date(2025, time.June, 14, 0, 0, 0, 0, time.UTC)
	sched := &fakeScheduler{weeks: []scheduling.WeekOption{
		{Date: "2025-06-14", CutoffAt: cut, PastCutoff: false},
		{Date: "2025-06-21", CutoffAt: cut.AddDate(0, 0, 7), PastCutoff: false},
	}}
	h := newTestRouter(&fakeLocRepo{}, sched, &fakeProducer{})

	req := httptest.NewRequest(http.MethodGet, "/v1/delivery-weeks", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "2025-06-14")
	require.Contains(t, rec.Body.String(), "cutoff_at")
}

func TestPostAppointment_ConflictMapping(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{"cutoff", scheduling.ErrCutoffPassed, http.StatusConflict, "cutoff_passed"},
		{"full", pgdelivery.ErrWindowFull, http.StatusConflict, "window_full"},
		{"missing window", pgdelivery.ErrWindowNotFound, http.StatusNotFound, "window_not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestRouter(&fakeLocRepo{}, &fakeScheduler{upsertErr: tc.err}, &fakeProducer{})

			body := `{"user_id":"u1","week":"2025-06-14","window_id":3}`
			req := httptest.NewRequest(http.MethodPost, "/v1/appointments", bytes.NewBufferString(body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.Equal(t, tc.wantCode, rec.Code)
			require.Contains(t, rec.Body.String(), tc.wantBody)
		})
	}
}

func TestPostAppointment_OK(t *testing.T) {
	sched := &fakeScheduler{upsertOut: &models.DeliveryAppointment{
		ID: 7, UserID: "u1", DeliveryDate: "2025-06-14", WindowID: 3,
		Status: models.AppointmentStatusScheduled,
	}}
	h := newTestRouter(&fakeLocRepo{}, sched, &fakeProducer{})

	body := `{"user_id":"u1","week":"2025-06-14","window_id":3}`
	req := httptest.NewRequest(http.MethodPost, "/v1/appointments", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var appt models.DeliveryAppointment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &appt))
	require.Equal(t, uint64(7), appt.ID)
	require.Equal(t, models.AppointmentStatusScheduled, appt.Status)
}

func TestGetAppointment_NotFound(t *testing.T) {
	h := newTestRouter(&fakeLocRepo{}, &fakeScheduler{getOut: nil}, &fakeProducer{})

	req := httptest.NewRequest(http.MethodGet, "/v1/appointments/u1/2025-06-14", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteAppointment(t *testing.T) {
	h := newTestRouter(&fakeLocRepo{}, &fakeScheduler{}, &fakeProducer{})

	req := httptest.NewRequest(http.MethodDelete, "/v1/appointments/u1/2025-06-14", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	h2 := newTestRouter(&fakeLocRepo{}, &fakeScheduler{cancelErr: scheduling.ErrCutoffPassed}, &fakeProducer{})
	req = httptest.NewRequest(http.MethodDelete, "/v1/appointments/u1/2025-06-14", nil)
	rec = httptest.NewRecorder()
	h2.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
}
