package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Port     string
	LogLevel logrus.Level

	StoreDriver string
	PostgresDSN string
	SQLitePath  string

	ProductServiceURL  string
	LookupTimeout      time.Duration
	EnrichConcurrency  int
	BreakerMaxFailures int
	BreakerTimeout     time.Duration

	KafkaBrokers []string
	EventsTopic  string

	NotifierPort   string
	ConsumerGroup  string
	CatalogPort    string
	DLQReplay      bool
	DLQReplayDelay time.Duration

	// mock catalog only
	CatalogMaxLatency  time.Duration
	CatalogFailureRate float64
}

// Load reads the environment, first merging a .env file from the working
// directory when one exists. Variables already set win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	cfg := Config{
		Port:     getEnv("ORDER_SERVICE_PORT", "8081"),
		LogLevel: level,

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", "postgres")),
		PostgresDSN: fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_PORT", "5432"),
			getEnv("DB_USER", "orderservice"),
			getEnv("DB_PASSWORD", "orderservice"),
			getEnv("DB_NAME", "orders")),
		SQLitePath: getEnv("SQLITE_PATH", "orders.db"),

		ProductServiceURL: strings.TrimRight(getEnv("PRODUCT_SERVICE_URL", "http://localhost:8083"), "/"),
		EventsTopic:       getEnv("ORDER_EVENTS_TOPIC", "order.events"),
		KafkaBrokers:      splitCSV(os.Getenv("KAFKA_BROKERS")),

		NotifierPort:  getEnv("ORDER_NOTIFIER_PORT", "8082"),
		ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "order-notifier"),
		CatalogPort:   getEnv("PRODUCT_SERVICE_PORT", "8083"),
	}

	if cfg.LookupTimeout, err = getDurationMS("PRODUCT_LOOKUP_TIMEOUT_MS", 2000); err != nil {
		return Config{}, err
	}
	if cfg.BreakerTimeout, err = getDurationMS("BREAKER_TIMEOUT_MS", 30000); err != nil {
		return Config{}, err
	}
	if cfg.EnrichConcurrency, err = getInt("ENRICH_CONCURRENCY", 8); err != nil {
		return Config{}, err
	}
	if cfg.BreakerMaxFailures, err = getInt("BREAKER_MAX_FAILURES", 5); err != nil {
		return Config{}, err
	}
	if cfg.DLQReplayDelay, err = getDurationMS("DLQ_REPLAY_DELAY_MS", 5000); err != nil {
		return Config{}, err
	}
	if cfg.CatalogMaxLatency, err = getDurationMS("CATALOG_MAX_LATENCY_MS", 50); err != nil {
		return Config{}, err
	}
	if raw := os.Getenv("CATALOG_FAILURE_RATE"); raw != "" {
		if cfg.CatalogFailureRate, err = strconv.ParseFloat(raw, 64); err != nil || cfg.CatalogFailureRate < 0 || cfg.CatalogFailureRate > 1 {
			return Config{}, fmt.Errorf("CATALOG_FAILURE_RATE must be between 0 and 1, got %q", raw)
		}
	}
	if raw := os.Getenv("DLQ_REPLAY"); raw != "" {
		if cfg.DLQReplay, err = strconv.ParseBool(raw); err != nil {
			return Config{}, fmt.Errorf("invalid DLQ_REPLAY: %w", err)
		}
	}

	switch cfg.StoreDriver {
	case "postgres", "sqlite", "memory":
	default:
		return Config{}, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}
	if cfg.EnrichConcurrency <= 0 {
		return Config{}, fmt.Errorf("ENRICH_CONCURRENCY must be positive, got %d", cfg.EnrichConcurrency)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getDurationMS(key string, defaultMS int) (time.Duration, error) {
	ms, err := getInt(key, defaultMS)
	if err != nil {
		return 0, err
	}
	if ms <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
