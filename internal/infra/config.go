package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	VeoAPIKey         string
	VeoBaseURL        string
	VeoModelLandscape string
	VeoModelPortrait  string

	SubmitTimeout     time.Duration
	PollInterval      time.Duration
	PollMaxAttempts   int
	PollRetryAttempt  int
	BatchSizeDefault  int
	BatchDelayDefault time.Duration
	SettingsFile      string

	StaleQueuedAfter   time.Duration
	StaleSweepInterval time.Duration
	CredentialRefresh  time.Duration

	StorageBackend string
	StoragePath    string
	StorageBaseURL string
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool
	MinIOPublicURL string

	OTelExporter string
	OTelEndpoint string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        port,
		DatabaseURL: os.Getenv("DATABASE_URL"),

		VeoAPIKey:         strings.TrimSpace(os.Getenv("VEO_API_KEY")),
		VeoBaseURL:        getEnv("VEO_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		VeoModelLandscape: getEnv("VEO_MODEL_LANDSCAPE", "veo-3.0-fast-generate-001"),
		VeoModelPortrait:  getEnv("VEO_MODEL_PORTRAIT", "veo-3.0-fast-generate-portrait-001"),

		SubmitTimeout:     getEnvSeconds("SUBMIT_TIMEOUT_SECONDS", 30),
		PollInterval:      getEnvSeconds("POLL_INTERVAL_SECONDS", 2),
		PollMaxAttempts:   getEnvInt("POLL_MAX_ATTEMPTS", 120),
		PollRetryAttempt:  getEnvInt("POLL_RETRY_ATTEMPT", 60),
		BatchSizeDefault:  getEnvInt("BATCH_SIZE_DEFAULT", 5),
		BatchDelayDefault: getEnvSeconds("BATCH_DELAY_SECONDS_DEFAULT", 20),
		SettingsFile:      os.Getenv("SETTINGS_FILE"),

		StaleQueuedAfter:   time.Minute * time.Duration(getEnvInt("STALE_QUEUED_MINUTES", 10)),
		StaleSweepInterval: getEnvSeconds("STALE_SWEEP_SECONDS", 120),
		CredentialRefresh:  getEnvSeconds("CREDENTIAL_REFRESH_SECONDS", 60),

		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", "file")),
		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", fmt.Sprintf("http://localhost:%s/static", port)),
		MinIOEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinIOAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinIOSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinIOBucket:    getEnv("MINIO_BUCKET", "mediagen-artifacts"),
		MinIOUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinIOPublicURL: os.Getenv("MINIO_PUBLIC_URL"),

		OTelExporter: strings.ToLower(getEnv("OTEL_EXPORTER", "none")),
		OTelEndpoint: os.Getenv("OTEL_ENDPOINT"),

		HTTPReadTimeout:  getEnvSeconds("HTTP_READ_TIMEOUT_SECONDS", 15),
		HTTPWriteTimeout: getEnvSeconds("HTTP_WRITE_TIMEOUT_SECONDS", 30),
		HTTPIdleTimeout:  getEnvSeconds("HTTP_IDLE_TIMEOUT_SECONDS", 60),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	switch cfg.StorageBackend {
	case "file":
	case "minio":
		if cfg.MinIOEndpoint == "" {
			return nil, fmt.Errorf("MINIO_ENDPOINT is required when STORAGE_BACKEND=minio")
		}
	default:
		return nil, fmt.Errorf("unsupported STORAGE_BACKEND %q", cfg.StorageBackend)
	}
	if cfg.PollRetryAttempt >= cfg.PollMaxAttempts {
		return nil, fmt.Errorf("POLL_RETRY_ATTEMPT must be below POLL_MAX_ATTEMPTS")
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

func getEnvSeconds(key string, fallback int) time.Duration {
	return time.Second * time.Duration(getEnvInt(key, fallback))
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
