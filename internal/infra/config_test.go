package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("PORT", "")
	t.Setenv("STORAGE_BASE_URL", "")
	t.Setenv("STORAGE_BACKEND", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StorageBaseURL != "http://localhost:8080/static" {
		t.Fatalf("StorageBaseURL = %q", cfg.StorageBaseURL)
	}
	if cfg.SubmitTimeout != 30*time.Second {
		t.Fatalf("SubmitTimeout = %s, want 30s", cfg.SubmitTimeout)
	}
	if cfg.PollInterval != 2*time.Second || cfg.PollMaxAttempts != 120 || cfg.PollRetryAttempt != 60 {
		t.Fatalf("poll defaults = %s/%d/%d", cfg.PollInterval, cfg.PollMaxAttempts, cfg.PollRetryAttempt)
	}
	if cfg.BatchSizeDefault != 5 || cfg.BatchDelayDefault != 20*time.Second {
		t.Fatalf("batch defaults = %d/%s", cfg.BatchSizeDefault, cfg.BatchDelayDefault)
	}
	if cfg.StaleQueuedAfter != 10*time.Minute || cfg.StaleSweepInterval != 2*time.Minute {
		t.Fatalf("sweep defaults = %s/%s", cfg.StaleQueuedAfter, cfg.StaleSweepInterval)
	}
	if cfg.StorageBackend != "file" {
		t.Fatalf("StorageBackend = %q, want file", cfg.StorageBackend)
	}
}

func TestLoadConfigInheritsPortInStorageBaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("PORT", "1919")
	t.Setenv("STORAGE_BASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StorageBaseURL != "http://localhost:1919/static" {
		t.Fatalf("StorageBaseURL mismatch: got %q", cfg.StorageBaseURL)
	}
}

func TestLoadConfigRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}

func TestLoadConfigMinIORequiresEndpoint(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("STORAGE_BACKEND", "minio")
	t.Setenv("MINIO_ENDPOINT", "")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for minio backend without endpoint")
	}

	t.Setenv("MINIO_ENDPOINT", "localhost:9000")
	t.Setenv("MINIO_USE_SSL", "true")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if !cfg.MinIOUseSSL {
		t.Fatal("expected MinIOUseSSL to be parsed")
	}
}

func TestLoadConfigRejectsRetryAfterHorizon(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("STORAGE_BACKEND", "")
	t.Setenv("POLL_MAX_ATTEMPTS", "10")
	t.Setenv("POLL_RETRY_ATTEMPT", "10")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when retry attempt is not below the horizon")
	}
}
