package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Compute  ComputeConfig  `yaml:"compute"`
	Web      WebConfig      `yaml:"web"`
	Events   EventsConfig   `yaml:"events"`
	Health   HealthConfig   `yaml:"health"`
}

type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ComputeConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type WebConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	SessionSecret string `yaml:"session_secret"`
	// ReadRequestsPerMinute is the per-identity budget for the list endpoints.
	ReadRequestsPerMinute int `yaml:"read_requests_per_minute"`
}

type EventsConfig struct {
	Kafka         KafkaConfig   `yaml:"kafka"`
	Topic         string        `yaml:"topic"`
	DrainInterval time.Duration `yaml:"drain_interval"`
	QueueSize     int           `yaml:"queue_size"`
	Keepalive     time.Duration `yaml:"keepalive"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

type HealthConfig struct {
	Interval     time.Duration `yaml:"interval"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	Parallelism  int           `yaml:"parallelism"`
}

func Defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "petrivelte.db"},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "petrivelte",
				User:     "petrivelte",
				Password: "",
				SSLMode:  "disable",
			},
		},
		Redis: RedisConfig{
			Address:  "localhost:6379",
			Password: "",
			DB:       0,
		},
		Compute: ComputeConfig{
			BaseURL: "http://localhost:8090",
			Timeout: 10 * time.Second,
		},
		Web: WebConfig{
			Host:                  "0.0.0.0",
			Port:                  8084,
			SessionSecret:         "change-me-in-production",
			ReadRequestsPerMinute: 30,
		},
		Events: EventsConfig{
			Kafka: KafkaConfig{
				Brokers: []string{"localhost:9092"},
				GroupID: "petrivelte",
			},
			Topic:         "petrivelte.events",
			DrainInterval: 2 * time.Second,
			QueueSize:     64,
			Keepalive:     30 * time.Second,
		},
		Health: HealthConfig{
			Interval:     60 * time.Second,
			ProbeTimeout: 5 * time.Second,
			Parallelism:  20,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
