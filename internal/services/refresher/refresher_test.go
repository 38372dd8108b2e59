package refresher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/min-hinthar/mealroute/internal/services/etas"
)

type fakeEstimator struct {
	mu     sync.Mutex
	routes []string
	res    etas.Result
	err    error
}

func (f *fakeEstimator) Recalculate(ctx context.Context, routeID string) (etas.Result, error) {
	f.mu.Lock()
	f.routes = append(f.routes, routeID)
	f.mu.Unlock()
	return f.res, f.err
}

func (f *fakeEstimator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.routes)
}

type fakeRoutesRepo struct {
	mu     sync.Mutex
	routes []string
	err    error
	nCalls int
}

func (f *fakeRoutesRepo) ListActiveRoutes(ctx context.Context, now time.Time, staleAfter time.Duration) ([]string, error) {
	f.mu.Lock()
	f.nCalls++
	f.mu.Unlock()
	return f.routes, f.err
}

type fakeRL struct {
	allowed bool
	count   int64
	err     error
	lastKey string
}

func (r *fakeRL) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	r.lastKey = key
	return r.allowed, r.count, r.err
}

func TestRefresher_Refresh_OK(t *testing.T) {
	est := &fakeEstimator{res: etas.Result{Updated: true, UpdatedCount: 3}}
	r := New(est, &fakeRoutesRepo{}, &fakeRL{allowed: true})

	require.NoError(t, r.Refresh(context.Background(), "r1"))
	require.Equal(t, 1, est.calls())
	require.Equal(t, int64(1), r.Stats().TotalRefreshed)
}

func TestRefresher_Refresh_RateLimited(t *testing.T) {
	est := &fakeEstimator{}
	rl := &fakeRL{allowed: false, count: 5}
	r := New(est, &fakeRoutesRepo{}, rl)

	require.NoError(t, r.Refresh(context.Background(), "r1"))
	require.Zero(t, est.calls())
	require.Equal(t, int64(1), r.Stats().TotalSkipped)
	require.Contains(t, rl.lastKey, "rl:route:r1:")
}

func TestRefresher_Refresh_NoLimiter(t *testing.T) {
	est := &fakeEstimator{res: etas.Result{Updated: false, Reason: etas.ReasonNoIncompleteStops}}
	r := New(est, &fakeRoutesRepo{}, nil)

	require.NoError(t, r.Refresh(context.Background(), "r1"))
	require.Equal(t, 1, est.calls())
}

func TestRefresher_Refresh_EstimatorError(t *testing.T) {
	want := errors.New("matrix down")
	est := &fakeEstimator{err: want}
	r := New(est, &fakeRoutesRepo{}, &fakeRL{allowed: true})

	require.ErrorIs(t, r.Refresh(context.Background(), "r1"), want)
	st := r.Stats()
	require.Equal(t, int64(1), st.TotalErrors)
	require.Contains(t, st.LastError, "matrix down")
}

func TestRefresher_WithSettings(t *testing.T) {
	r := New(&fakeEstimator{}, &fakeRoutesRepo{}, nil).
		WithSettings(5*time.Second, 7*time.Minute, 9, 13)
	require.Equal(t, 5*time.Second, r.refreshInterval)
	require.Equal(t, 7*time.Minute, r.locationStale)
	require.Equal(t, 9, r.concurrency)
	require.Equal(t, int64(13), r.rateLimitPerMinute)
}

func TestRefresher_Run_StopsOnContextCancel(t *testing.T) {
	repo := &fakeRoutesRepo{routes: []string{"r1", "r2"}}
	est := &fakeEstimator{res: etas.Result{Updated: true}}
	r := New(est, repo, nil).WithSettings(5*time.Millisecond, time.Minute, 2, 0)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(25 * time.Millisecond)
		cancel()
	}()

	err := r.Run(ctx)
	require.Error(t, err)
	require.GreaterOrEqual(t, est.calls(), 2)
}

func TestRefresher_Trigger(t *testing.T) {
	repo := &fakeRoutesRepo{routes: []string{"r1"}}
	est := &fakeEstimator{res: etas.Result{Updated: true}}
	r := New(est, repo, nil).WithSettings(time.Hour, time.Minute, 1, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	r.Trigger()
	require.Eventually(t, func() bool { return est.calls() >= 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	require.NotNil(t, r.Stats().LastTriggerAt)
}
