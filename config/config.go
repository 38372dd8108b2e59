package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	MealRoute MealRouteConfig `yaml:"mealroute"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	LocationUpdatedTopicName string `yaml:"location_updated_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type MealRouteConfig struct {
	HTTPAddr              string `yaml:"http_addr"`
	KafkaConsumerGroup    string `yaml:"kafka_consumer_group"`
	EtaSnapshotTTLSeconds int    `yaml:"eta_snapshot_ttl_seconds"`

	// Часовой пояс кухни. Все отсечки и недели доставки считаются в нём.
	KitchenTimeZone      string `yaml:"kitchen_time_zone"`
	SelectableWeeksCount int    `yaml:"selectable_weeks_count"`

	AverageStopMinutes float64 `yaml:"average_stop_minutes"`
	TimeFactorsEnabled bool    `yaml:"time_factors_enabled"`

	WorkerRefreshIntervalSeconds     int `yaml:"worker_refresh_interval_seconds"`
	WorkerLocationStaleSeconds       int `yaml:"worker_location_stale_seconds"`
	WorkerConcurrency                int `yaml:"worker_concurrency"`
	WorkerRateLimitPerRoutePerMinute int `yaml:"worker_rate_limit_per_route_per_minute"`

	WorkerHTTPAddr string `yaml:"worker_http_addr"`

	MapsBaseURL string `yaml:"maps_base_url"`
	MapsMode    string `yaml:"maps_mode"` // "google" | "fake"
	MapsAPIKey  string `yaml:"maps_api_key"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
