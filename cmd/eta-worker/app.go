package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/min-hinthar/mealroute/config"
	"github.com/min-hinthar/mealroute/internal/broker/kafka"
	"github.com/min-hinthar/mealroute/internal/broker/messages"
	"github.com/min-hinthar/mealroute/internal/cache"
	"github.com/min-hinthar/mealroute/internal/cache/rediscache"
	"github.com/min-hinthar/mealroute/internal/integrations/maps"
	"github.com/min-hinthar/mealroute/internal/integrations/maps/fake"
	"github.com/min-hinthar/mealroute/internal/integrations/maps/googlehttp"
	"github.com/min-hinthar/mealroute/internal/services/etas"
	"github.com/min-hinthar/mealroute/internal/services/refresher"
	"github.com/min-hinthar/mealroute/internal/storage/pgdelivery"
)

type workerStorage interface {
	etas.Repository
	refresher.Repository
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
	Close() error
}

type workerFactories struct {
	newStorage     func(cfg *config.Config) (st workerStorage, closeFn func(), err error)
	newConsumer    func(cfg *config.Config, topic string) kafkaConsumer
	newRateLimiter func(cfg *config.Config) refresher.RateLimiter
	newCache       func(cfg *config.Config) cache.BytesCache
	newMapsClient  func(cfg *config.Config) maps.Client
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerStorage, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgdelivery.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newConsumer: func(cfg *config.Config, topic string) kafkaConsumer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			group := cfg.MealRoute.KafkaConsumerGroup
			if group == "" {
				group = "eta-worker"
			}
			return kafka.NewConsumer(brokers, topic, group)
		},
		newRateLimiter: func(cfg *config.Config) refresher.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newCache: func(cfg *config.Config) cache.BytesCache {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.New(redisAddr)
		},
		newMapsClient: func(cfg *config.Config) maps.Client {
			// Google только с явным режимом и ключом, иначе локальный fake —
			// дешёвая детерминированная матрица для демо и разработки.
			if cfg.MealRoute.MapsMode == "google" && cfg.MealRoute.MapsAPIKey != "" {
				return googlehttp.New(cfg.MealRoute.MapsBaseURL, cfg.MealRoute.MapsAPIKey)
			}
			return fake.New()
		},
	}
}

func RunEtaWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	topic := cfg.Kafka.LocationUpdatedTopicName
	if topic == "" {
		topic = "driver-location-updated"
	}
	tz := cfg.MealRoute.KitchenTimeZone
	if tz == "" {
		tz = defaultKitchenTZ
	}

	refreshInterval := time.Duration(cfg.MealRoute.WorkerRefreshIntervalSeconds) * time.Second
	if refreshInterval <= 0 {
		refreshInterval = 60 * time.Second
	}
	locationStale := time.Duration(cfg.MealRoute.WorkerLocationStaleSeconds) * time.Second
	if locationStale <= 0 {
		locationStale = 15 * time.Minute
	}
	concurrency := cfg.MealRoute.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	rlPerMin := int64(cfg.MealRoute.WorkerRateLimitPerRoutePerMinute)
	if rlPerMin <= 0 {
		rlPerMin = 4
	}
	snapshotTTL := time.Duration(cfg.MealRoute.EtaSnapshotTTLSeconds) * time.Second
	if snapshotTTL <= 0 {
		snapshotTTL = 10 * time.Minute
	}

	st, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	mapsClient := f.newMapsClient(cfg)
	snapshots := etas.NewSnapshotStore(f.newCache(cfg), snapshotTTL)

	est := etas.New(st, mapsClient, snapshots).
		WithStopMinutes(cfg.MealRoute.AverageStopMinutes)
	if cfg.MealRoute.TimeFactorsEnabled {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("load kitchen time zone %q: %w", tz, err)
		}
		est = est.WithTimeFactors(loc)
	}

	ref := refresher.New(est, st, f.newRateLimiter(cfg)).
		WithSettings(refreshInterval, locationStale, concurrency, rlPerMin)

	consumer := f.newConsumer(cfg, topic)
	defer func() { _ = consumer.Close() }()

	consumerErr := make(chan error, 1)
	go func() {
		slog.Info("kafka consumer started", "topic", topic)
		consumerErr <- consumer.Consume(ctx, func(key, value []byte) error {
			var m messages.LocationUpdated
			if err := json.Unmarshal(value, &m); err != nil {
				// Битое сообщение: логируем и коммитим, повтор его не починит.
				slog.Error("unmarshal location event", "error", err.Error())
				return nil
			}
			if err := ref.Refresh(ctx, m.RouteID); err != nil {
				// Ошибка пересчёта offset не блокирует: периодический цикл
				// доберёт маршрут позже.
				slog.Error("refresh on location event", "route_id", m.RouteID, "error", err.Error())
			}
			return nil
		})
	}()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    cfg.MealRoute.WorkerHTTPAddr,
			swaggerPath: swaggerPathFromEnv(),
			refresher:   ref,
			cfg:         cfg,
		})
	}()

	refErr := make(chan error, 1)
	go func() { refErr <- ref.Run(ctx) }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-consumerErr:
		return err
	case err := <-httpErr:
		return err
	case err := <-refErr:
		return err
	}
}
