package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joho/godotenv"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("USE_MOCK_INFERENCE", "true")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.QueueBackend != QueueInProcess {
		t.Fatalf("queue backend = %s, want %s", cfg.QueueBackend, QueueInProcess)
	}
	if cfg.QueueWorkers != 1 {
		t.Fatalf("workers = %d, want 1", cfg.QueueWorkers)
	}
	if cfg.StageMaxAttempts != 5 || cfg.StageRetryDelay != 5*time.Second {
		t.Fatalf("retry = %d/%s, want 5/5s", cfg.StageMaxAttempts, cfg.StageRetryDelay)
	}
	if cfg.AttributionPolicy != "overlap" {
		t.Fatalf("policy = %s, want overlap", cfg.AttributionPolicy)
	}
}

func TestFromEnvRejectsUnknownQueueBackend(t *testing.T) {
	t.Setenv("USE_MOCK_INFERENCE", "true")
	t.Setenv("QUEUE_BACKEND", "celery")

	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error for unsupported queue backend")
	}
}

func TestFromEnvRequiresInferenceURL(t *testing.T) {
	t.Setenv("USE_MOCK_INFERENCE", "false")
	t.Setenv("INFERENCE_URL", "")

	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error when INFERENCE_URL is missing")
	}
}

func TestFromEnvRejectsBadNumbers(t *testing.T) {
	t.Setenv("USE_MOCK_INFERENCE", "true")
	t.Setenv("QUEUE_WORKERS", "many")
	t.Setenv("STAGE_RETRY_DELAY", "soon")

	if _, err := FromEnv(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFromEnvS3RequiresBucket(t *testing.T) {
	t.Setenv("USE_MOCK_INFERENCE", "true")
	t.Setenv("BLOB_BACKEND", "s3")
	t.Setenv("S3_BUCKET", "")

	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error without S3_BUCKET")
	}

	t.Setenv("S3_BUCKET", "uploads")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.BlobBackend != BlobS3 || cfg.S3.Bucket != "uploads" {
		t.Fatalf("unexpected s3 config: %+v", cfg.S3)
	}
}

func TestDotEnvValuesAreRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("QUEUE_WORKERS=3\nUSE_MOCK_INFERENCE=true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	env, err := godotenv.Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for k, v := range env {
		t.Setenv(k, v)
	}

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.QueueWorkers != 3 {
		t.Fatalf("workers = %d, want 3", cfg.QueueWorkers)
	}
}
