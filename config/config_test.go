package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  location_updated_topic_name: "driver-location-updated"
redis:
  host: "localhost"
  port: 6379
mealroute:
  http_addr: ":8080"
  kafka_consumer_group: "eta-worker"
  eta_snapshot_ttl_seconds: 600
  kitchen_time_zone: "America/Los_Angeles"
  selectable_weeks_count: 4
  average_stop_minutes: 6
  time_factors_enabled: true
  maps_mode: "fake"
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "driver-location-updated", cfg.Kafka.LocationUpdatedTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":8080", cfg.MealRoute.HTTPAddr)
	require.Equal(t, "America/Los_Angeles", cfg.MealRoute.KitchenTimeZone)
	require.InDelta(t, 6.0, cfg.MealRoute.AverageStopMinutes, 1e-9)
	require.True(t, cfg.MealRoute.TimeFactorsEnabled)
	require.Equal(t, "fake", cfg.MealRoute.MapsMode)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
