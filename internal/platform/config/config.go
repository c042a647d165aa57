package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures daemon-level configuration.
type Config struct {
	// OpsAddr is the listen address for the metrics/health endpoint.
	OpsAddr string

	// DatabaseURL selects the postgres stores; empty runs on memory stores.
	DatabaseURL string

	Redis RedisConfig
	Kafka KafkaConfig

	// SweepSchedule and BacklogSchedule are cron expressions.
	SweepSchedule   string
	BacklogSchedule string

	// ExpiryAlertHorizonDays is how far ahead the sweeper looks for
	// soon-to-expire units.
	ExpiryAlertHorizonDays int

	// LowStockThreshold is the default per-group floor before a low-stock
	// alert is raised.
	LowStockThreshold int

	// AvailabilityCacheTTL bounds staleness of the cached availability report.
	AvailabilityCacheTTL time.Duration
}

// RedisConfig configures the optional availability cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the optional event publisher.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		OpsAddr:     envOr("BLOODBANK_OPS_ADDR", ":9090"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envIntOr("REDIS_POOL_SIZE", 10),
			MinIdleConns: envIntOr("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers: splitNonEmpty(os.Getenv("KAFKA_BROKERS")),
			Topic:   envOr("KAFKA_EVENTS_TOPIC", "bloodbank.events"),
		},
		SweepSchedule:          envOr("SWEEP_SCHEDULE", "0 2 * * *"),
		BacklogSchedule:        envOr("BACKLOG_SCHEDULE", "*/5 * * * *"),
		ExpiryAlertHorizonDays: envIntOr("EXPIRY_ALERT_HORIZON_DAYS", 7),
		LowStockThreshold:      envIntOr("LOW_STOCK_THRESHOLD", 10),
		AvailabilityCacheTTL:   envDurationOr("AVAILABILITY_CACHE_TTL", 5*time.Minute),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
