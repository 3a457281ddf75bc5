package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	StoragePath    string
	StorageBaseURL string

	ReplicateAPIToken string
	ReplicateModel    string
	ReplicateBaseURL  string
	ProviderTimeout   time.Duration

	MaxRetries  int
	BackoffBase int
	BackoffMax  time.Duration

	WorkerConcurrency int
	QueuePollInterval time.Duration
	QueueVisibility   time.Duration

	WebhookTimeout         time.Duration
	WebhookNotifyCancelled bool

	CleanupSchedule      string
	CleanupRetentionDays int

	GeoIPDBPath     string
	RateLimitPerMin int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:8080/api/v1/media"),

		ReplicateAPIToken: os.Getenv("REPLICATE_API_TOKEN"),
		ReplicateModel:    getEnv("REPLICATE_MODEL", "stability-ai/sdxl:39ed52f2a78e934b3ba6e2a89f5b1c712de7dfea535525255b1aa35c5565e08b"),
		ReplicateBaseURL:  getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
		ProviderTimeout:   time.Second * time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 300)),

		MaxRetries:  getEnvInt("MAX_RETRIES", 3),
		BackoffBase: getEnvInt("BACKOFF_BASE", 2),
		BackoffMax:  time.Second * time.Duration(getEnvInt("BACKOFF_MAX_SECONDS", 600)),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),
		QueuePollInterval: time.Millisecond * time.Duration(getEnvInt("QUEUE_POLL_INTERVAL_MS", 2000)),
		QueueVisibility:   time.Second * time.Duration(getEnvInt("QUEUE_VISIBILITY_SECONDS", 600)),

		WebhookTimeout:         time.Second * time.Duration(getEnvInt("WEBHOOK_TIMEOUT_SECONDS", 10)),
		WebhookNotifyCancelled: getEnvBool("WEBHOOK_NOTIFY_CANCELLED", false),

		CleanupSchedule:      getEnv("CLEANUP_SCHEDULE", "0 3 * * *"),
		CleanupRetentionDays: getEnvInt("CLEANUP_RETENTION_DAYS", 30),

		GeoIPDBPath:     os.Getenv("GEOIP_DB_PATH"),
		RateLimitPerMin: getEnvInt("RATE_LIMIT_PER_MIN", 30),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("MAX_RETRIES must be >= 0")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
