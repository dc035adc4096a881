package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerPort  string
	DatabaseURL string
	RedisURL    string

	// Shared secret for the pull/sync API (X-API-Key header).
	APIKey string

	// Instant delivery target. An empty endpoint disables the push path;
	// events are then only available to pull consumers.
	DeliveryEndpoint    string
	DeliverySecret      string
	DeliveryTimeout     time.Duration
	DeliveryMaxAttempts int
	DeliveryBaseDelay   time.Duration
	DeliveryMaxDelay    time.Duration
	DeliveryWorkers     int
	DeliveryQueueSize   int

	// Maintenance windows. PurgeAfter must be >= ArchiveAfter so an event
	// is never deleted while a slow pull consumer could still need it.
	ArchiveAfter        time.Duration
	PurgeAfter          time.Duration
	DeadLetterRetention time.Duration
	CursorRetention     time.Duration // cursors idle longer than this are dropped
	SweepInterval       time.Duration // 0 disables the internal ticker
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		APIKey:      os.Getenv("WEBHOOK_API_KEY"),

		DeliveryEndpoint: os.Getenv("DELIVERY_ENDPOINT_URL"),
		DeliverySecret:   os.Getenv("DELIVERY_SIGNING_SECRET"),
	}

	var err error
	if cfg.DeliveryTimeout, err = getDuration("DELIVERY_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.DeliveryBaseDelay, err = getDuration("DELIVERY_BASE_DELAY", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.DeliveryMaxDelay, err = getDuration("DELIVERY_MAX_DELAY", time.Hour); err != nil {
		return nil, err
	}
	if cfg.DeliveryMaxAttempts, err = getInt("DELIVERY_MAX_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.DeliveryWorkers, err = getInt("DELIVERY_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.DeliveryQueueSize, err = getInt("DELIVERY_QUEUE_SIZE", 1024); err != nil {
		return nil, err
	}
	if cfg.ArchiveAfter, err = getDuration("ARCHIVE_AFTER", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.PurgeAfter, err = getDuration("PURGE_AFTER", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.DeadLetterRetention, err = getDuration("DEADLETTER_RETENTION", 90*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.CursorRetention, err = getDuration("CURSOR_RETENTION", 90*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getDuration("SWEEP_INTERVAL", time.Hour); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("WEBHOOK_API_KEY is required")
	}
	if cfg.DeliveryMaxAttempts < 1 {
		return nil, errors.New("DELIVERY_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.DeliveryWorkers < 1 {
		return nil, errors.New("DELIVERY_WORKERS must be at least 1")
	}
	if cfg.PurgeAfter < cfg.ArchiveAfter {
		return nil, errors.New("PURGE_AFTER must be greater than or equal to ARCHIVE_AFTER")
	}

	return cfg, nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s format: %w", key, err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s format: %w", key, err)
	}
	return n, nil
}
