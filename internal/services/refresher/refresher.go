package refresher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/min-hinthar/mealroute/internal/metrics"
	"github.com/min-hinthar/mealroute/internal/services/etas"
)

type Estimator interface {
	Recalculate(ctx context.Context, routeID string) (etas.Result, error)
}

type Repository interface {
	ListActiveRoutes(ctx context.Context, now time.Time, staleAfter time.Duration) ([]string, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Refresher периодически пересчитывает ETA активных маршрутов и обрабатывает
// событийные пересчёты от консьюмера. Rate limit общий для обоих путей:
// маршрут пересчитывается не чаще N раз в минуту, остальные срабатывания
// просто пропускаются — следующее всё равно скоро придёт.
type Refresher struct {
	est  Estimator
	repo Repository
	rl   RateLimiter

	refreshInterval    time.Duration
	locationStale      time.Duration
	concurrency        int
	rateLimitPerMinute int64

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalRefreshed      atomic.Int64
	totalSkipped        atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(est Estimator, repo Repository, rl RateLimiter) *Refresher {
	return &Refresher{
		est:                est,
		repo:               repo,
		rl:                 rl,
		refreshInterval:    60 * time.Second,
		locationStale:      15 * time.Minute,
		concurrency:        4,
		rateLimitPerMinute: 4,
		triggerCh:          make(chan struct{}, 1),
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func (r *Refresher) WithSettings(refreshInterval, locationStale time.Duration, concurrency int, rlPerMin int64) *Refresher {
	if refreshInterval > 0 {
		r.refreshInterval = refreshInterval
	}
	if locationStale > 0 {
		r.locationStale = locationStale
	}
	if concurrency > 0 {
		r.concurrency = concurrency
	}
	if rlPerMin > 0 {
		r.rateLimitPerMinute = rlPerMin
	}
	return r
}

// Trigger forces an immediate refresh cycle (best-effort, non-blocking).
func (r *Refresher) Trigger() {
	r.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalRefreshed int64      `json:"totalRefreshed"`
	TotalSkipped   int64      `json:"totalSkipped"`
	TotalErrors    int64      `json:"totalErrors"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (r *Refresher) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, r.startedAtUnixNano).UTC(),
		TotalRefreshed: r.totalRefreshed.Load(),
		TotalSkipped:   r.totalSkipped.Load(),
		TotalErrors:    r.totalErrors.Load(),
		InFlight:       r.inFlight.Load(),
	}
	if n := r.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := r.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	r.lastErrorMu.Lock()
	st.LastError = r.lastError
	r.lastErrorMu.Unlock()
	return st
}

func (r *Refresher) Run(ctx context.Context) error {
	t := time.NewTicker(r.refreshInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			r.runOnce(ctx)
		case <-r.triggerCh:
			r.runOnce(ctx)
		}
	}
}

func (r *Refresher) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	r.lastCycleUnixNano.Store(now.UnixNano())

	routes, err := r.repo.ListActiveRoutes(ctx, now, r.locationStale)
	if err != nil {
		slog.Error("list active routes", "error", err.Error())
		r.setLastError(err)
		return
	}

	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup
	for _, routeID := range routes {
		sem <- struct{}{}
		wg.Add(1)
		id := routeID
		r.inFlight.Add(1)
		go func() {
			defer func() {
				r.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := r.Refresh(ctx, id); err != nil {
				slog.Error("refresh route etas", "route_id", id, "error", err.Error())
			}
		}()
	}
	wg.Wait()
}

// Refresh пересчитывает один маршрут с учётом rate limit. Вызывается и из
// периодического цикла, и консьюмером на каждое событие локации.
func (r *Refresher) Refresh(ctx context.Context, routeID string) error {
	now := time.Now().UTC()

	if r.rl != nil && r.rateLimitPerMinute > 0 {
		minuteKey := fmt.Sprintf("rl:route:%s:%s", routeID, now.Format("200601021504"))
		allowed, n, err := r.rl.Allow(ctx, minuteKey, r.rateLimitPerMinute, 70*time.Second)
		if err != nil {
			r.totalErrors.Add(1)
			r.setLastError(err)
			return err
		}
		if !allowed {
			slog.Debug("route refresh rate limited", "route_id", routeID, "count", n)
			r.totalSkipped.Add(1)
			metrics.IncRecalc("rate_limited")
			return nil
		}
	}

	res, err := r.est.Recalculate(ctx, routeID)
	if err != nil {
		r.totalErrors.Add(1)
		r.setLastError(err)
		metrics.IncRecalc("error")
		return err
	}

	r.totalRefreshed.Add(1)
	if res.Updated {
		metrics.IncRecalc("updated")
		slog.Info("route etas updated", "route_id", routeID, "stops", res.UpdatedCount)
	} else {
		metrics.IncRecalc(res.Reason)
		slog.Debug("route etas not updated", "route_id", routeID, "reason", res.Reason)
	}
	return nil
}

func (r *Refresher) setLastError(err error) {
	r.lastErrorMu.Lock()
	r.lastError = err.Error()
	r.lastErrorMu.Unlock()
}
