package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/min-hinthar/mealroute/config"
	"github.com/min-hinthar/mealroute/internal/api/deliveryapi"
	"github.com/min-hinthar/mealroute/internal/broker/kafka"
	"github.com/min-hinthar/mealroute/internal/cache/rediscache"
	"github.com/min-hinthar/mealroute/internal/calendar"
	"github.com/min-hinthar/mealroute/internal/services/etas"
	"github.com/min-hinthar/mealroute/internal/services/scheduling"
	"github.com/min-hinthar/mealroute/internal/storage/pgdelivery"
)

const defaultKitchenTZ = "America/Los_Angeles"

type deliveryAPIApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   deliveryAPIOpts

	api      *deliveryapi.API
	storage  *pgdelivery.Storage
	producer *kafka.Producer
	redis    *rediscache.RedisCache
}

func mustBootstrapDeliveryAPI() *deliveryAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.MealRoute.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	topic := cfg.Kafka.LocationUpdatedTopicName
	if topic == "" {
		topic = "driver-location-updated"
	}
	tz := cfg.MealRoute.KitchenTimeZone
	if tz == "" {
		tz = defaultKitchenTZ
	}
	weeksCount := cfg.MealRoute.SelectableWeeksCount
	if weeksCount <= 0 {
		weeksCount = 4
	}

	cal, err := calendar.NewEngine(tz)
	if err != nil {
		panic(fmt.Sprintf("невалидная таймзона кухни %q: %v", tz, err))
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	sched := scheduling.New(st, cal, weeksCount)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)

	snapshotTTL := time.Duration(cfg.MealRoute.EtaSnapshotTTLSeconds) * time.Second
	if snapshotTTL <= 0 {
		snapshotTTL = 10 * time.Minute
	}
	rc := rediscache.New(fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port))
	snapshots := etas.NewSnapshotStore(rc, snapshotTTL)

	api := deliveryapi.New(st, sched, producer, topic).WithSnapshots(snapshots)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &deliveryAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: deliveryAPIOpts{
			httpAddr:    httpAddr,
			swaggerPath: swaggerPath,
		},
		api:      api,
		storage:  st,
		producer: producer,
		redis:    rc,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgdelivery.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgdelivery.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *deliveryAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.producer != nil {
		_ = a.producer.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.storage != nil {
		a.storage.Close()
	}
}

func (a *deliveryAPIApp) Run() error {
	return runDeliveryAPI(a.ctx, a.opts, a.api, a.storage)
}
