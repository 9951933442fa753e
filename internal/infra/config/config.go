package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application.
type AppConfig struct {
	TelegramToken   string
	DatabaseURL     string
	MigrationsPath  string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	AdminTelegramID int64
	LogLevel        string
	Environment     string

	// Cron specs (6-field, seconds included) for the worker ticks.
	CronSpecDispatch string // due-reminder dispatch
	CronSpecDelivery string // outbox delivery
	CronSpecDigest   string // daily digest / payment-due / operational digest
	CronSpecSweep    string // stuck-processing reclaim

	// Pipeline knobs.
	OutboxMaxAttempts           int
	OutboxBackoffBaseSeconds    int
	OutboxBackoffMaxSeconds     int
	OutboxDedupeTTLSeconds      int
	SchedulerPollSeconds        int
	MaxReminderLookaheadMinutes int
	DueProcessingTimeoutMinutes int
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables; a missing .env
	// file is not an error.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is not set")
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.MigrationsPath = envOrDefault("MIGRATIONS_PATH", "migrations")

	cfg.RedisAddr = envOrDefault("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if cfg.RedisDB, err = intEnv("REDIS_DB", 0); err != nil {
		return nil, err
	}

	adminIDStr := os.Getenv("ADMIN_TELEGRAM_ID")
	if adminIDStr == "" {
		return nil, fmt.Errorf("ADMIN_TELEGRAM_ID is not set")
	}
	cfg.AdminTelegramID, err = strconv.ParseInt(adminIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
	}

	cfg.LogLevel = strings.ToLower(envOrDefault("LOG_LEVEL", "info"))
	cfg.Environment = strings.ToLower(envOrDefault("ENVIRONMENT", "development"))

	cfg.CronSpecDispatch = envOrDefault("CRON_SPEC_DISPATCH", "0 * * * * *")    // every minute
	cfg.CronSpecDelivery = envOrDefault("CRON_SPEC_DELIVERY", "*/30 * * * * *") // every 30s
	cfg.CronSpecDigest = envOrDefault("CRON_SPEC_DIGEST", "0 */5 * * * *")      // every 5 minutes
	cfg.CronSpecSweep = envOrDefault("CRON_SPEC_SWEEP", "15 */5 * * * *")       // every 5 minutes, offset from digest

	if cfg.OutboxMaxAttempts, err = intEnv("OUTBOX_MAX_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.OutboxBackoffBaseSeconds, err = intEnv("OUTBOX_BACKOFF_BASE_SECONDS", 30); err != nil {
		return nil, err
	}
	if cfg.OutboxBackoffMaxSeconds, err = intEnv("OUTBOX_BACKOFF_MAX_SECONDS", 1800); err != nil {
		return nil, err
	}
	if cfg.OutboxDedupeTTLSeconds, err = intEnv("OUTBOX_DEDUPE_TTL_SECONDS", 86400); err != nil {
		return nil, err
	}
	if cfg.SchedulerPollSeconds, err = intEnv("SCHEDULER_POLL_SECONDS", 60); err != nil {
		return nil, err
	}
	if cfg.MaxReminderLookaheadMinutes, err = intEnv("MAX_REMINDER_LOOKAHEAD_MINUTES", 120); err != nil {
		return nil, err
	}
	if cfg.DueProcessingTimeoutMinutes, err = intEnv("DUE_PROCESSING_TIMEOUT_MINUTES", 10); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
