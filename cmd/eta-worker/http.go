package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/min-hinthar/mealroute/config"
	"github.com/min-hinthar/mealroute/internal/metrics"
	"github.com/min-hinthar/mealroute/internal/services/refresher"
)

const defaultKitchenTZ = "America/Los_Angeles"

func swaggerPathFromEnv() string {
	return os.Getenv("swaggerPath")
}

type workerHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	refresher *refresher.Refresher
	cfg       *config.Config
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}
	if opts.swaggerPath == "" {
		return fmt.Errorf("worker swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("worker swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	metrics.Register()

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.refresher == nil {
			_, _ = w.Write([]byte(`{"error":"refresher not wired"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(opts.refresher.Stats())
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.cfg == nil {
			_, _ = w.Write([]byte(`{"error":"config not wired"}`))
			return
		}
		// Секреты не показываем, только операционные настройки воркера.
		out := map[string]any{
			"refreshIntervalSeconds":     opts.cfg.MealRoute.WorkerRefreshIntervalSeconds,
			"locationStaleSeconds":       opts.cfg.MealRoute.WorkerLocationStaleSeconds,
			"concurrency":                opts.cfg.MealRoute.WorkerConcurrency,
			"rateLimitPerRoutePerMinute": opts.cfg.MealRoute.WorkerRateLimitPerRoutePerMinute,
			"averageStopMinutes":         opts.cfg.MealRoute.AverageStopMinutes,
			"timeFactorsEnabled":         opts.cfg.MealRoute.TimeFactorsEnabled,
			"kitchenTimeZone":            opts.cfg.MealRoute.KitchenTimeZone,
			"mapsMode":                   opts.cfg.MealRoute.MapsMode,
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.refresher == nil {
			_, _ = w.Write([]byte(`{"error":"refresher not wired"}`))
			return
		}
		opts.refresher.Trigger()
		_, _ = w.Write([]byte(`{"triggered":true}`))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, opts.swaggerPath)
	})

	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(opts.swaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	slog.Info("worker HTTP listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return ctx.Err()
}
